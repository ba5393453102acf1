package auth

import "errors"

var (
	ErrMissingToken  = errors.New("missing token")
	ErrTokenExpired  = errors.New("token expired")
	ErrInvalidToken  = errors.New("invalid token")
	ErrMissingUserID = errors.New("missing userId in token")
	ErrEmptySecret   = errors.New("jwt secret must not be empty")
)

// StatusText returns the body sent with a 401 for err.
func StatusText(err error) string {
	switch {
	case errors.Is(err, ErrMissingToken):
		return "Unauthorized"
	case errors.Is(err, ErrTokenExpired):
		return "Token expired"
	case errors.Is(err, ErrMissingUserID):
		return "Missing userId in token"
	default:
		return "Invalid token"
	}
}

// Reason returns a short metrics label for err.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrMissingToken):
		return "missing_token"
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrMissingUserID):
		return "missing_user"
	default:
		return "invalid"
	}
}
