package pool

// NewFilled creates a pool that owns its buffers: capacity buffers are
// produced by newFn and placed on the input queue, so the pool starts drained.
func NewFilled[T any](capacity int, newFn func() T, opts ...Option) (*BufferPool[T], error) {
	p, err := New[T](capacity, opts...)
	if err != nil {
		return nil, err
	}
	for i := 0; i < capacity; i++ {
		p.Load(newFn())
	}
	return p, nil
}

// NewBytes creates a filled pool of capacity byte buffers of the given size.
func NewBytes(capacity, size int, opts ...Option) (*BufferPool[[]byte], error) {
	if size < 1 {
		return nil, ErrBadSizing
	}
	p, err := NewFilled(capacity, func() []byte { return make([]byte, size) }, opts...)
	if err != nil {
		return nil, err
	}
	p.size = size
	return p, nil
}
