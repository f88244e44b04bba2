package pool

import "errors"

const Namespace = "pool"

var (
	ErrBadSizing   = errors.New(Namespace + ": capacity must be at least 1")
	ErrNullHandle  = errors.New(Namespace + ": null buffer handle")
	ErrShutdown    = errors.New(Namespace + ": shutdown signal")
	ErrInterrupted = errors.New(Namespace + ": wait interrupted")
)
