package eventbus

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// MsgpackCodec is the default Codec. MessagePack round-trips []byte blobs,
// time.Time values, and the full numeric range without the float64
// coercion and base64 inflation plain encoding/json would impose on the
// same Envelope.Data payload.
type MsgpackCodec struct{}

func (MsgpackCodec) Encode(env Envelope) (string, error) {
	b, err := msgpack.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("eventbus: encode envelope: %w", err)
	}
	return string(b), nil
}

func (MsgpackCodec) Decode(raw string) (Envelope, error) {
	var env Envelope
	if err := msgpack.Unmarshal([]byte(raw), &env); err != nil {
		return Envelope{}, fmt.Errorf("eventbus: decode envelope: %w", err)
	}
	return env, nil
}

var _ Codec = MsgpackCodec{}
