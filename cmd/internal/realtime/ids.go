package realtime

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewEnvelopeID returns a ULID used as the id of outbound frames.
// ULIDs sort by time, which keeps client-originated frames traceable in
// server logs.
func NewEnvelopeID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
