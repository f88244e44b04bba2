package stages

import (
	"errors"

	"github.com/ygrebnov/stages/pool"
)

const Namespace = "stages"

var (
	ErrBadArgumentFormat = errors.New(Namespace + ": bad start argument format")
	ErrBadArgumentType   = errors.New(Namespace + ": start argument of wrong type")
	ErrInvalidState      = errors.New(Namespace + ": operation not allowed in current pipeline state")
	ErrInvalidConfig     = errors.New(Namespace + ": invalid configuration")
	ErrStageNotFound     = errors.New(Namespace + ": stage not found")
	ErrUnitPanicked      = errors.New(Namespace + ": unit execution panicked")
	ErrUnitStart         = errors.New(Namespace + ": unit start failed")
	ErrCloneUnsupported  = errors.New(Namespace + ": unit does not support cloning")
	ErrClosed            = errors.New(Namespace + ": pipeline closed")

	ErrBadSizing  = pool.ErrBadSizing
	ErrNullHandle = pool.ErrNullHandle
	ErrShutdown   = pool.ErrShutdown
)
