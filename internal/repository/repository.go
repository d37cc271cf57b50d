package repository

import "errors"

// ErrNotFound is returned by lookups for rows that do not exist. Handlers map
// it to 404; services map it to domain NotFound results.
var ErrNotFound = errors.New("repository: not found")
