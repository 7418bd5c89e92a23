package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
)

type (
	UserNotFound struct {
		Login string
	}

	DuplicateUser struct {
		Field string
	}

	InvalidRole struct {
		Role Role
	}
)

func (u UserNotFound) Error() string {
	return fmt.Sprintf("user %v not found", u.Login)
}

// Is matches any UserNotFound regardless of the login
func (u UserNotFound) Is(target error) bool {
	_, ok := target.(UserNotFound)
	return ok
}

func (d DuplicateUser) Error() string {
	return fmt.Sprintf("another user already uses the same %v", d.Field)
}

func (i InvalidRole) Error() string {
	return fmt.Sprintf("role %q is not one of admin, editor or viewer", string(i.Role))
}

// asDuplicateUser converts unique constraint failures on the users table
// into DuplicateUser errors, returning nil for anything else.
func asDuplicateUser(err error) error {
	var sqerr sqlite3.Error
	if !errors.As(err, &sqerr) || sqerr.ExtendedCode != sqlite3.ErrConstraintUnique {
		return nil
	}
	msg := sqerr.Error()
	switch {
	case strings.Contains(msg, "users.email"):
		return DuplicateUser{Field: "email"}
	case strings.Contains(msg, "users.username"):
		return DuplicateUser{Field: "username"}
	case strings.Contains(msg, "users.user_id"):
		return DuplicateUser{Field: "id"}
	}
	return nil
}
