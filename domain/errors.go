package domain

import "errors"

// ErrPermissionDenied indicates the server refused the command for the
// current user.
var ErrPermissionDenied = errors.New("permission denied")

// ErrSessionExpired indicates the bearer credential is no longer accepted.
var ErrSessionExpired = errors.New("session expired")
