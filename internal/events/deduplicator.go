package events

import (
	"crypto/sha256"
	"encoding/binary"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/wilfranr/control-id-miid/internal/reconcile"
)

// Deduplicator suppresses outcomes identical to one seen within the window.
// Trace ids, timestamps and durations are not part of the identity.
type Deduplicator struct {
	window time.Duration
	seen   *cache.Cache
}

// NewDeduplicator creates a deduplicator. A zero window disables it.
func NewDeduplicator(window time.Duration) *Deduplicator {
	if window <= 0 {
		return &Deduplicator{}
	}
	return &Deduplicator{
		window: window,
		seen:   cache.New(window, window),
	}
}

// ShouldProcess reports whether outcome is new within the window
func (d *Deduplicator) ShouldProcess(outcome *reconcile.Outcome) bool {
	if d == nil || d.seen == nil {
		return true
	}
	// Add fails while an unexpired entry exists
	return d.seen.Add(fingerprint(outcome), struct{}{}, d.window) == nil
}

func fingerprint(o *reconcile.Outcome) string {
	h := sha256.New()
	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}

	write(o.Environment)
	write(o.Document)
	write(string(o.Action))
	write(o.Reason)
	write(strconv.FormatInt(o.UserID, 10))
	write(strconv.FormatBool(o.GroupAssigned))
	write(strconv.FormatBool(o.PhotoAssigned))
	write(strconv.FormatBool(o.PhotoRejected))
	write(strconv.FormatInt(o.ConflictUserID, 10))
	for _, issue := range o.Issues {
		write(issue.String())
	}

	sum := h.Sum(nil)
	return strconv.FormatUint(binary.BigEndian.Uint64(sum[:8]), 16)
}
