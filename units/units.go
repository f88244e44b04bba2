// Package units holds ready-made stage units working on integer envelopes.
package units

import (
	"context"
	"errors"

	"github.com/ygrebnov/stages"
)

// Item is the buffer type every unit in this package processes.
type Item = *stages.Envelope[int]

// IDKey is the side-channel key Indexer reads buffer identities from.
const IDKey = "id"

// IndexKey is the side-channel key Indexer writes visit counts to.
const IndexKey = "index"

var ErrMissingID = errors.New("units: envelope has no " + IDKey)

// Nop does nothing with the buffers it receives.
type Nop struct{}

func (Nop) Start(stages.Args) error             { return nil }
func (Nop) Process(context.Context, Item) error { return nil }
func (Nop) Stop()                               {}
func (n Nop) Clone() (stages.Unit[Item], bool)  { return n, true }
