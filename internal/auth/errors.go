package auth

import "errors"

// Sentinel errors for the auth package.
var (
	ErrInvalidCredentials = errors.New("invalid domain or client secret")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrTokenExpired       = errors.New("token has expired")
	ErrWrongTokenType     = errors.New("token type is not accepted on this route")
	ErrDualToken          = errors.New("request presented both an agent token and an admin token")
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInactiveSite       = errors.New("site is deactivated")
	ErrAdminRoleMissing   = errors.New("token does not carry the required admin role claim")
)
