package machine

import "encoding/json"

// JSONCodec is the default Codec for any State that round-trips through
// encoding/json. Domain machines define their state struct with exported
// fields and embed a bool (or compute one) to satisfy Changed.
type JSONCodec[S State] struct {
	// New constructs a zero value of S for Decode to unmarshal into.
	New func() S
}

func (c JSONCodec[S]) Encode(s S) ([]byte, error) {
	return json.Marshal(s)
}

func (c JSONCodec[S]) Decode(b []byte) (S, error) {
	s := c.New()
	if err := json.Unmarshal(b, &s); err != nil {
		var zero S
		return zero, err
	}
	return s, nil
}
