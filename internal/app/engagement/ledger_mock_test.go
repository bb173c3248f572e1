package engagement_test

import (
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coachpoints/coachpoints/internal/app/engagement"
	"github.com/coachpoints/coachpoints/internal/domain"
	"github.com/coachpoints/coachpoints/internal/infra/sqlite"
	"github.com/coachpoints/coachpoints/internal/infra/userlock"
)

// A storage failure mid-unit rolls back everything and surfaces as
// ErrPersistence; nothing after the failed insert runs.
func TestRecordActivity_RollbackOnPersistenceFailure(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	ledger := engagement.NewLedger(sqlite.New(conn), userlock.New())

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, role, teacher_id, timezone, created_at FROM users`).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "role", "teacher_id", "timezone", "created_at"}).
			AddRow("s1", "student", "t1", "", int64(0)))
	mock.ExpectQuery(`FROM gamification_settings WHERE teacher_id = \?`).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"x"}))
	mock.ExpectQuery(`FROM gamification_settings WHERE teacher_id = \?`).
		WithArgs("").
		WillReturnRows(sqlmock.NewRows([]string{"x"}))
	mock.ExpectQuery(`FROM user_points WHERE user_id = \?`).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"x"}))
	mock.ExpectQuery(`SELECT SUM\(points_earned\) FROM activity_events`).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(nil))
	mock.ExpectExec(`INSERT INTO activity_events`).
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	_, err = ledger.RecordActivity(ctx, student, engagement.Activity{UserID: "s1", Type: domain.ActivityWorkout})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.Contains(t, err.Error(), "disk I/O error")

	assert.NoError(t, mock.ExpectationsWereMet(), "points row must not be written")
}

func TestRecordActivity_BeginFailure(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	ledger := engagement.NewLedger(sqlite.New(conn), userlock.New())
	mock.ExpectBegin().WillReturnError(errors.New("database is locked"))

	_, err = ledger.RecordActivity(ctx, student, engagement.Activity{UserID: "s1", Type: domain.ActivityCheckin})
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.NoError(t, mock.ExpectationsWereMet())
}
