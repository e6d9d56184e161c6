package eventbus

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// newInstanceID returns a fresh, collision-resistant identifier with no
// dashes, as required for both unicast addressing and the stream-key
// suffixes derived from it.
func newInstanceID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}
