package attendance

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"campusattend/internal/apperr"
)

// UserInput registers a student or faculty member.
type UserInput struct {
	UserID     string `json:"id" validate:"required,max=64"`
	Name       string `json:"name" validate:"required,max=64"`
	Role       string `json:"role" validate:"required,oneof=student faculty"`
	Email      string `json:"email" validate:"required,email,max=120"`
	Year       string `json:"year" validate:"max=20"`
	Branch     string `json:"branch" validate:"max=64"`
	Department string `json:"department" validate:"max=64"`
}

// Directory registers and looks up users.
type Directory struct {
	store UserStore
	log   *zap.Logger
}

func NewDirectory(store UserStore, log *zap.Logger) *Directory {
	if log == nil {
		log = zap.NewNop()
	}
	return &Directory{store: store, log: log}
}

// Register creates a user. Students need year and branch, faculty need a
// department.
func (d *Directory) Register(ctx context.Context, in UserInput) (User, error) {
	in.UserID = strings.TrimSpace(in.UserID)
	in.Name = strings.TrimSpace(in.Name)
	in.Role = strings.ToLower(strings.TrimSpace(in.Role))
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := validateRequest(in); err != nil {
		return User{}, err
	}

	u := User{UserID: in.UserID, Name: in.Name, Role: Role(in.Role), Email: in.Email, Department: in.Department}
	switch u.Role {
	case RoleStudent:
		if in.Year == "" || in.Branch == "" {
			return User{}, apperr.Validation("year and branch are required for students")
		}
		u.Year, u.Branch = in.Year, in.Branch
	case RoleFaculty:
		if in.Department == "" {
			return User{}, apperr.Validation("department is required for faculty")
		}
	}

	created, err := d.store.CreateUser(ctx, u)
	if errors.Is(err, ErrDuplicate) {
		return User{}, apperr.Validation("user id or email already registered")
	}
	if err != nil {
		return User{}, storageFailure(d.log, "register", err)
	}
	return created, nil
}

// Get returns the user with the given external id.
func (d *Directory) Get(ctx context.Context, userID string) (User, error) {
	u, err := d.store.GetUser(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return User{}, apperr.NotFound("user %s not found", userID)
	}
	if err != nil {
		return User{}, storageFailure(d.log, "get_user", err)
	}
	return u, nil
}
