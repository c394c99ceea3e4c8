package probeserver

import (
	"math/rand"

	"github.com/NodePath81/fbspeed/internal/protocol"
)

// newPayload returns one ChunkSize block of pseudorandom bytes. Download
// responses repeat it until the requested size is reached.
func newPayload(seed int64) []byte {
	buf := make([]byte, protocol.ChunkSize)
	rng := rand.New(rand.NewSource(seed))
	_, _ = rng.Read(buf)
	return buf
}
