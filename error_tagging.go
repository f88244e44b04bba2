package stages

import (
	"errors"
	"fmt"
)

// StageMetaError exposes correlation metadata for a failure inside a stage.
type StageMetaError interface {
	error
	Unwrap() error
	StageID() (int, bool)
	Instance() (int, bool)
}

type stageTaggedError struct {
	err      error
	stageID  int
	instance int
}

func newStageTaggedError(err error, stageID, instance int) error {
	if err == nil {
		return nil
	}
	return &stageTaggedError{err: err, stageID: stageID, instance: instance}
}

func (e *stageTaggedError) Error() string { return e.err.Error() }
func (e *stageTaggedError) Unwrap() error { return e.err }

func (e *stageTaggedError) StageID() (int, bool)  { return e.stageID, true }
func (e *stageTaggedError) Instance() (int, bool) { return e.instance, true }

func (e *stageTaggedError) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			_, _ = fmt.Fprintf(s, "stage(id=%d,instance=%d): %+v", e.stageID, e.instance, e.err)
			return
		}
		fallthrough
	case 's':
		_, _ = fmt.Fprint(s, e.Error())
	case 'q':
		_, _ = fmt.Fprintf(s, "%q", e.Error())
	}
}

// ExtractStageID returns the id of the stage that produced err, if present.
func ExtractStageID(err error) (int, bool) {
	var sme StageMetaError
	if errors.As(err, &sme) {
		return sme.StageID()
	}
	return 0, false
}

// ExtractInstance returns the worker instance index that produced err, if present.
func ExtractInstance(err error) (int, bool) {
	var sme StageMetaError
	if errors.As(err, &sme) {
		return sme.Instance()
	}
	return 0, false
}
