package units

import (
	"context"
	"time"

	"github.com/ygrebnov/errorc"

	"github.com/ygrebnov/stages"
)

// Sleeper holds every buffer for a fixed time. Start argument 0 is either a
// duration string ("250ms") or an integer number of milliseconds; without it
// the sleeper waits one second. The wait ends early when ctx is done.
type Sleeper struct {
	d time.Duration
}

func NewSleeper() *Sleeper { return &Sleeper{d: time.Second} }

func (s *Sleeper) Start(args stages.Args) error {
	if args.Len() == 0 {
		return nil
	}
	if ms, ok := args.Int(0); ok {
		s.d = time.Duration(ms) * time.Millisecond
		return nil
	}
	if str, ok := args.String(0); ok {
		d, err := time.ParseDuration(str)
		if err != nil {
			return errorc.With(stages.ErrBadArgumentType, errorc.String("duration", str))
		}
		s.d = d
		return nil
	}
	return errorc.With(stages.ErrBadArgumentType, errorc.String("unit", "sleeper"))
}

func (s *Sleeper) Process(ctx context.Context, _ Item) error {
	t := time.NewTimer(s.d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Sleeper) Stop() {}

func (s *Sleeper) Clone() (stages.Unit[Item], bool) { return &Sleeper{d: s.d}, true }
