package store

import "errors"

// ErrUserNotFound is returned by lookups for a user id with no record when
// the operation has no create-on-demand path. It is surfaced to the caller
// and never retried automatically.
var ErrUserNotFound = errors.New("user not found")
