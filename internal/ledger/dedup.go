package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/janekbaraniewski/costledger/internal/core"
)

// timestampLayout is fixed-width so lexical order of stored timestamps equals
// chronological order.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// Key is an event's dedup signature.
type Key string

// KeyOf computes the dedup signature from (timestamp, model, input tokens).
// Session id is not part of the signature.
func KeyOf(ev core.UsageEvent) Key {
	return Key(hashStrings(
		formatTimestamp(ev.Timestamp),
		ev.Model,
		strconv.FormatInt(ev.InputTokens, 10),
	))
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(s string) (time.Time, error) {
	return time.Parse(timestampLayout, s)
}

func hashStrings(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// index is the in-memory set of dedup keys kept consistent with usage_events.
type index map[Key]struct{}

func (ix index) has(k Key) bool {
	_, ok := ix[k]
	return ok
}

func (ix index) add(k Key) {
	ix[k] = struct{}{}
}
