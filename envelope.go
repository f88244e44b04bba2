package stages

// DefaultExtraKey is the key used by Envelope.Append.
const DefaultExtraKey = "DEFAULT"

type extra struct {
	key   string
	value any
}

// Envelope wraps a payload together with keyed side-channel values added by
// upstream stages. An Envelope is owned by whichever stage currently holds it
// and is not safe for concurrent use.
type Envelope[P any] struct {
	payload P
	extras  []extra
	index   int
}

// NewEnvelope returns an envelope around payload.
func NewEnvelope[P any](payload P) *Envelope[P] {
	return &Envelope[P]{payload: payload}
}

func (e *Envelope[P]) Payload() P     { return e.payload }
func (e *Envelope[P]) SetPayload(p P) { e.payload = p }

// Index is a caller-assigned position of the envelope, typically its seed order.
func (e *Envelope[P]) Index() int     { return e.index }
func (e *Envelope[P]) SetIndex(i int) { e.index = i }

// PushExtra appends a keyed value. Keys need not be unique.
func (e *Envelope[P]) PushExtra(key string, v any) {
	e.extras = append(e.extras, extra{key: key, value: v})
}

// Append pushes v under DefaultExtraKey.
func (e *Envelope[P]) Append(v any) { e.PushExtra(DefaultExtraKey, v) }

// Extra returns the first value pushed under key.
func (e *Envelope[P]) Extra(key string) (any, bool) {
	for _, x := range e.extras {
		if x.key == key {
			return x.value, true
		}
	}
	return nil, false
}

// ExtraAt returns the key and value at position i in insertion order.
func (e *Envelope[P]) ExtraAt(i int) (string, any, bool) {
	if i < 0 || i >= len(e.extras) {
		return "", nil, false
	}
	return e.extras[i].key, e.extras[i].value, true
}

// DeleteExtra removes every value pushed under key and returns how many were removed.
func (e *Envelope[P]) DeleteExtra(key string) int {
	kept := e.extras[:0]
	for _, x := range e.extras {
		if x.key != key {
			kept = append(kept, x)
		}
	}
	n := len(e.extras) - len(kept)
	clear(e.extras[len(kept):])
	e.extras = kept
	return n
}

// ResetExtras drops all side-channel values.
func (e *Envelope[P]) ResetExtras() { e.extras = nil }

// Len returns the number of side-channel values.
func (e *Envelope[P]) Len() int { return len(e.extras) }

// ExtraAs returns the first value under key if it has type V.
func ExtraAs[V any, P any](e *Envelope[P], key string) (V, bool) {
	var zero V
	raw, ok := e.Extra(key)
	if !ok {
		return zero, false
	}
	v, ok := raw.(V)
	if !ok {
		return zero, false
	}
	return v, true
}
