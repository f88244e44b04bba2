package units

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/ygrebnov/stages"
)

// Printer writes every payload to w, one line per buffer. Clones share w and
// serialize their writes.
type Printer struct {
	w  io.Writer
	mu *sync.Mutex
}

func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, mu: &sync.Mutex{}}
}

func (p *Printer) Start(stages.Args) error { return nil }

func (p *Printer) Process(_ context.Context, v Item) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintf(p.w, "Data contained: %d\n", v.Payload())
	return err
}

func (p *Printer) Stop() {}

func (p *Printer) Clone() (stages.Unit[Item], bool) {
	return &Printer{w: p.w, mu: p.mu}, true
}
