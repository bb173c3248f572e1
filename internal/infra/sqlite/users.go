package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/coachpoints/coachpoints/internal/domain"
)

// ─── User Registry ──────────────────────────────────────────────────────────

// InsertUser registers a user. Returns domain.ErrUserExists on a duplicate id.
func (q *Queries) InsertUser(ctx context.Context, u domain.User) error {
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO users (id, role, teacher_id, timezone, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, string(u.Role), u.TeacherID, u.Timezone, unixMilli(u.CreatedAt),
	)
	if err != nil && isUniqueViolation(err) {
		return domain.ErrUserExists
	}
	return err
}

// GetUser retrieves a user by id. Returns domain.ErrUserNotFound if absent.
func (q *Queries) GetUser(ctx context.Context, id string) (domain.User, error) {
	row := q.q.QueryRowContext(ctx,
		`SELECT id, role, teacher_id, timezone, created_at FROM users WHERE id = ?`, id)

	var u domain.User
	var createdAt int64
	err := row.Scan(&u.ID, &u.Role, &u.TeacherID, &u.Timezone, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return u, domain.ErrUserNotFound
	}
	if err != nil {
		return u, fmt.Errorf("scan user: %w", err)
	}
	u.CreatedAt = fromMilli(createdAt)
	return u, nil
}

// ListStudents returns the students registered under a teacher.
func (q *Queries) ListStudents(ctx context.Context, teacherID string) ([]domain.User, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT id, role, teacher_id, timezone, created_at FROM users
		 WHERE teacher_id = ? AND role = ? ORDER BY id`,
		teacherID, string(domain.RoleStudent))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var u domain.User
		var createdAt int64
		if err := rows.Scan(&u.ID, &u.Role, &u.TeacherID, &u.Timezone, &createdAt); err != nil {
			return nil, err
		}
		u.CreatedAt = fromMilli(createdAt)
		users = append(users, u)
	}
	return users, rows.Err()
}

// isUniqueViolation matches SQLite constraint failures without importing
// driver internals.
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}
