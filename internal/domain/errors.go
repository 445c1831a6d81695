package domain

import "errors"

// ErrThreadNotFound is returned by thread storage when no thread exists for
// the requested id. Wrapped errors must remain matchable with errors.Is.
var ErrThreadNotFound = errors.New("chat thread not found")
