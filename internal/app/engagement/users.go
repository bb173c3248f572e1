package engagement

import (
	"context"
	"time"

	"github.com/coachpoints/coachpoints/internal/domain"
	"github.com/coachpoints/coachpoints/internal/infra/sqlite"
)

// Directory is the tenant membership registry. Identity itself is
// external; only role, teacher and timezone are recorded.
type Directory struct {
	db  *sqlite.DB
	now func() time.Time
}

// NewDirectory creates a user registry.
func NewDirectory(db *sqlite.DB) *Directory {
	return &Directory{db: db, now: time.Now}
}

// RegisterUser records u. Admins register anyone; teachers register
// students under themselves.
func (d *Directory) RegisterUser(ctx context.Context, actor domain.Actor, u domain.User) (domain.User, error) {
	if u.ID == "" {
		return u, domain.Invalid("user id is required")
	}
	if !u.Role.Valid() {
		return u, domain.Invalid("role %q", u.Role)
	}
	switch u.Role {
	case domain.RoleStudent:
		if u.TeacherID == "" {
			return u, domain.Invalid("student requires teacher_id")
		}
	default:
		u.TeacherID = ""
	}
	if u.Timezone != "" {
		if _, err := time.LoadLocation(u.Timezone); err != nil {
			return u, domain.Invalid("timezone %q", u.Timezone)
		}
	}

	if !actor.IsAdmin() {
		if actor.Role != domain.RoleTeacher || u.Role != domain.RoleStudent || u.TeacherID != actor.UserID {
			return u, domain.ErrForbidden
		}
	}

	u.CreatedAt = d.now()
	err := d.db.Tx(ctx, func(q *sqlite.Queries) error {
		if u.Role == domain.RoleStudent {
			t, err := q.GetUser(ctx, u.TeacherID)
			if err != nil {
				return err
			}
			if t.Role != domain.RoleTeacher {
				return domain.Invalid("%s is not a teacher", u.TeacherID)
			}
		}
		return q.InsertUser(ctx, u)
	})
	return u, domain.Persistence(err)
}

// User returns a registered user.
func (d *Directory) User(ctx context.Context, id string) (domain.User, error) {
	u, err := d.db.GetUser(ctx, id)
	return u, domain.Persistence(err)
}

// Students lists a teacher's students.
func (d *Directory) Students(ctx context.Context, teacherID string) ([]domain.User, error) {
	users, err := d.db.ListStudents(ctx, teacherID)
	return users, domain.Persistence(err)
}
