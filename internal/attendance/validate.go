package attendance

import (
	"context"
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"campusattend/internal/apperr"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// validateRequest checks v's struct tags and reports failing fields by their
// JSON names.
func validateRequest(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperr.Validation("invalid request")
	}
	details := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[fe.Field()] = fe.Tag()
	}
	return apperr.Invalid("invalid request", details)
}

// RequireFaculty loads actor and fails with an authorization error unless
// the user exists and has the faculty role.
func RequireFaculty(ctx context.Context, users UserStore, actor string) (User, error) {
	u, err := users.GetUser(ctx, actor)
	if errors.Is(err, ErrNotFound) {
		return User{}, apperr.Forbidden("only faculty may perform this operation")
	}
	if err != nil {
		return User{}, apperr.Persistence(err)
	}
	if !u.IsFaculty() {
		return User{}, apperr.Forbidden("only faculty may perform this operation")
	}
	return u, nil
}

// storageFailure logs the raw cause and returns the opaque error shown to
// callers.
func storageFailure(log *zap.Logger, op string, err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae
	}
	log.Error("storage failure", zap.String("op", op), zap.Error(err))
	return apperr.Persistence(err)
}
