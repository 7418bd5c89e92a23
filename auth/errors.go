package auth

import "fmt"

type (
	// ValidationFailure reports missing or malformed input
	ValidationFailure struct {
		Field  string
		Reason string
	}

	// InvalidCredentials is returned for unknown users, wrong passwords
	// and inactive users alike.
	InvalidCredentials struct{}

	// InsufficientPermissions means the session is valid but the user's
	// role does not allow the action.
	InsufficientPermissions struct{}

	// InvalidSession covers every reason a token is not accepted:
	// bad signature, expiry, logout, revocation or an inactive user.
	InvalidSession struct{}

	// ServiceFailure hides infrastructure errors from callers, the cause
	// is logged where the failure happens.
	ServiceFailure struct {
		cause error
	}
)

const (
	MsgInvalidCredentials      = "Invalid credentials"
	MsgInsufficientPermissions = "Insufficient permissions"
	MsgInvalidSession          = "Invalid or expired session"
	MsgServiceFailure          = "Authentication service error"
)

func (v ValidationFailure) Error() string {
	return v.Reason
}

// Is matches any ValidationFailure when target has no field,
// otherwise only failures on the same field.
func (v ValidationFailure) Is(target error) bool {
	t, ok := target.(ValidationFailure)
	return ok && (t.Field == "" || t.Field == v.Field)
}

func (InvalidCredentials) Error() string {
	return MsgInvalidCredentials
}

func (InsufficientPermissions) Error() string {
	return MsgInsufficientPermissions
}

func (InvalidSession) Error() string {
	return MsgInvalidSession
}

func (ServiceFailure) Error() string {
	return MsgServiceFailure
}

func (s ServiceFailure) Is(target error) bool {
	_, ok := target.(ServiceFailure)
	return ok
}

// Cause returns the underlying infrastructure error, for logging only.
func (s ServiceFailure) Cause() error {
	return s.cause
}

func validation(field, format string, args ...interface{}) error {
	return ValidationFailure{Field: field, Reason: fmt.Sprintf(format, args...)}
}
