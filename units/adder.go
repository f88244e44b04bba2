package units

import (
	"context"

	"github.com/ygrebnov/errorc"

	"github.com/ygrebnov/stages"
)

// Adder adds a delta to the payload. The delta is start argument 0 (an
// integer) and defaults to 1.
type Adder struct {
	delta int
}

func NewAdder() *Adder { return &Adder{delta: 1} }

func (a *Adder) Start(args stages.Args) error {
	if args.Len() == 0 {
		a.delta = 1
		return nil
	}
	d, ok := args.Int(0)
	if !ok {
		return errorc.With(stages.ErrBadArgumentType, errorc.String("unit", "adder"))
	}
	a.delta = int(d)
	return nil
}

func (a *Adder) Process(_ context.Context, v Item) error {
	v.SetPayload(v.Payload() + a.delta)
	return nil
}

func (a *Adder) Stop() {}

func (a *Adder) Clone() (stages.Unit[Item], bool) { return NewAdder(), true }
