package workflow

import "errors"

// ErrUnknownAction marks a queued task that can never succeed.
var ErrUnknownAction = errors.New("unknown post-action")
