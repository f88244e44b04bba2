package units

import (
	"context"
	"sync"

	"github.com/ygrebnov/stages"
)

// Indexer counts how many times it has seen each buffer identity (the int
// stored under IDKey) and records the count under IndexKey, starting at 0.
// The table is shared by all instances of the stage, so Indexer cannot be cloned.
type Indexer struct {
	mu     sync.Mutex
	counts map[int]int
}

func NewIndexer() *Indexer { return &Indexer{} }

func (x *Indexer) Start(stages.Args) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.counts == nil {
		x.counts = make(map[int]int)
	}
	return nil
}

func (x *Indexer) Process(_ context.Context, v Item) error {
	id, ok := stages.ExtraAs[int](v, IDKey)
	if !ok {
		return ErrMissingID
	}

	x.mu.Lock()
	n, seen := x.counts[id]
	if seen {
		n++
	}
	x.counts[id] = n
	x.mu.Unlock()

	v.DeleteExtra(IndexKey)
	v.PushExtra(IndexKey, n)
	return nil
}

func (x *Indexer) Stop() {}

func (x *Indexer) Clone() (stages.Unit[Item], bool) { return nil, false }
