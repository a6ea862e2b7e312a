package session

import "errors"

// Domain failure kinds. The HTTP layer owns the kind-to-status mapping;
// nothing below it deals in status codes.
var (
	ErrInvalidRole        = errors.New("invalid role")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDeactivated = errors.New("account deactivated")
	// ErrInvalidRefreshToken deliberately covers expired, malformed and
	// badly signed refresh tokens alike, so the refresh endpoint cannot be
	// used to probe token or account state.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrUserNotFound        = errors.New("user not found")
	ErrUnavailable         = errors.New("storage unavailable")
)
