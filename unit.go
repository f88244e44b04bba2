package stages

import (
	"context"
	"fmt"
	"reflect"
)

// Unit is the work a stage performs on every buffer passing through it.
//
// Every worker instance of a stage owns one Unit value: instance 0 uses the
// unit the stage was registered with, other instances use Clone. Start runs
// once per instance before its first buffer and again whenever the stage is
// respawned after a topology change. Stop runs once when the instance ends.
//
// Process mutates v in place and must not retain it after returning;
// the buffer is handed on to the next stage whatever Process returns.
type Unit[T any] interface {
	Start(args Args) error
	Process(ctx context.Context, v T) error
	Stop()
	// Clone returns an independent copy for another instance, or false when the
	// unit cannot be duplicated. In that case all instances share one value and
	// Process must protect its own state.
	Clone() (Unit[T], bool)
}

// UnitFunc adapts a stateless function to Unit. Start and Stop are no-ops and
// clones share the function.
func UnitFunc[T any](fn func(ctx context.Context, v T) error) Unit[T] {
	return &funcUnit[T]{fn: fn}
}

type funcUnit[T any] struct {
	fn func(context.Context, T) error
}

func (u *funcUnit[T]) Start(Args) error                       { return nil }
func (u *funcUnit[T]) Process(ctx context.Context, v T) error { return u.fn(ctx, v) }
func (u *funcUnit[T]) Stop()                                  {}
func (u *funcUnit[T]) Clone() (Unit[T], bool)                 { return u, true }

// passThrough replaces the unit of a deleted stage.
type passThrough[T any] struct{}

func (passThrough[T]) Start(Args) error                 { return nil }
func (passThrough[T]) Process(context.Context, T) error { return nil }
func (passThrough[T]) Stop()                            {}
func (p passThrough[T]) Clone() (Unit[T], bool)         { return p, true }

// process runs u.Process, turning a panic into ErrUnitPanicked.
func process[T any](ctx context.Context, u Unit[T], v T) (err error) {
	defer func() {
		if ePanic := recover(); ePanic != nil {
			err = fmt.Errorf("%w: %v", ErrUnitPanicked, ePanic)
		}
	}()
	return u.Process(ctx, v)
}

// start runs u.Start, turning a panic into ErrUnitPanicked.
func start[T any](u Unit[T], args Args) (err error) {
	defer func() {
		if ePanic := recover(); ePanic != nil {
			err = fmt.Errorf("%w: %v", ErrUnitPanicked, ePanic)
		}
	}()
	return u.Start(args)
}

// sameUnit reports whether a and b are the same unit value. Units of
// non-comparable dynamic types never match.
func sameUnit[T any](a, b Unit[T]) bool {
	if a == nil || b == nil {
		return false
	}
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}
