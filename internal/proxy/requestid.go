package proxy

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// NewRequestID mints a request correlation id, preferring a hex-encoded
// nanosecond timestamp (cheap, sortable, no allocation beyond the encode)
// and falling back to a UUIDv4 suffix for collision safety under bursts
// within the same nanosecond.
func NewRequestID() string {
	ts := time.Now().UnixNano()
	buf := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		buf[i] = byte(ts)
		ts >>= 8
	}
	return "req_" + hex.EncodeToString(buf) + "_" + uuid.NewString()[:8]
}
