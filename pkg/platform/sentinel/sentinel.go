package sentinel

import "errors"

// ErrConflict is returned by stores when a uniqueness rule rejects a write,
// such as a second pending job for the same candidate and lookup type.
// Services translate it into a lookup outcome; validation failures belong in
// pkg/domain-errors.
var ErrConflict = errors.New("conflict")
