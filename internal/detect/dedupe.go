package detect

import (
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Dedupe bounds.
const (
	dedupeTTL      = 10 * time.Minute
	dedupeCleanup  = 1 * time.Minute
	dedupeMaxItems = 1000
)

// Deduper drops repeats of recently detected claims. A normalized key is
// remembered for dedupeTTL; repeats within that window are rejected. Not
// safe for concurrent use; the run owner is the only caller.
type Deduper struct {
	index *gocache.Cache
}

// NewDeduper creates an empty dedupe index.
func NewDeduper() *Deduper {
	return &Deduper{
		index: gocache.New(dedupeTTL, dedupeCleanup),
	}
}

// Seen records text and reports whether it was already present. The original
// expiry is kept on repeats so a claim cannot stay suppressed forever by
// being re-spoken.
func (d *Deduper) Seen(text string) bool {
	key := NormalizeKey(text)
	if key == "" {
		return false
	}
	if _, found := d.index.Get(key); found {
		return true
	}
	d.evictIfFull()
	d.index.SetDefault(key, struct{}{})
	return false
}

// Reset clears the index, used when a new run starts.
func (d *Deduper) Reset() {
	d.index.Flush()
}

// evictIfFull keeps the index at or under dedupeMaxItems by purging expired
// entries first and then the entry closest to expiry.
func (d *Deduper) evictIfFull() {
	if d.index.ItemCount() < dedupeMaxItems {
		return
	}
	d.index.DeleteExpired()
	for d.index.ItemCount() >= dedupeMaxItems {
		var oldestKey string
		var oldestExp int64
		for key, item := range d.index.Items() {
			if oldestKey == "" || item.Expiration < oldestExp {
				oldestKey = key
				oldestExp = item.Expiration
			}
		}
		if oldestKey == "" {
			return
		}
		d.index.Delete(oldestKey)
	}
}

// NormalizeKey lowercases text and collapses every non-alphanumeric run to a
// single space.
func NormalizeKey(text string) string {
	lower := strings.ToLower(text)
	var b strings.Builder
	b.Grow(len(lower))
	lastSpace := true
	for _, r := range lower {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
			lastSpace = false
		} else if !lastSpace {
			b.WriteByte(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}
