package queue

import "errors"

// ErrClosed is returned by callers that need an error for a rejected enqueue.
var ErrClosed = errors.New("queue closed")
