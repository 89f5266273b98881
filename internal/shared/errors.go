package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrTokenMissing occurs when a request carries no bearer token.
	ErrTokenMissing = errors.New("bearer token missing")
	// ErrTokenInvalid occurs when a bearer token is unknown or expired.
	ErrTokenInvalid = errors.New("bearer token invalid")
)

// UserSafeMessage returns an error message suitable for operators.
// Infrastructure errors collapse to a generic message.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "Record not found"
	case errors.Is(err, ErrInvalidCredentials):
		return "Email or password is incorrect"
	case errors.Is(err, ErrTokenMissing), errors.Is(err, ErrTokenInvalid):
		return "Session expired, please sign in again"
	default:
		return err.Error()
	}
}
