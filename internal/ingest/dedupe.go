package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"sidekick/internal/model"
)

// DedupeCache remembers recently seen keys so a snapshot delivered over
// more than one transport is only accepted once.
type DedupeCache struct {
	mu    sync.Mutex
	items map[string]time.Time
}

func NewDedupeCache() *DedupeCache {
	return &DedupeCache{items: make(map[string]time.Time)}
}

func (d *DedupeCache) Seen(key string, now time.Time, ttl time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ts, ok := d.items[key]; ok {
		if now.Sub(ts) <= ttl {
			return true
		}
	}
	d.items[key] = now
	if len(d.items) > 10000 {
		d.compact(now, ttl)
	}
	return false
}

func (d *DedupeCache) compact(now time.Time, ttl time.Duration) {
	for k, ts := range d.items {
		if now.Sub(ts) > ttl {
			delete(d.items, k)
		}
	}
}

// SignalKey hashes the snapshot content. The transport source is ignored.
func SignalKey(sig model.Signal) string {
	var body []byte
	switch {
	case sig.Facial != nil:
		body, _ = json.Marshal(sig.Facial)
	case sig.Usage != nil:
		body, _ = json.Marshal(sig.Usage)
	}
	h := sha256.New()
	h.Write([]byte(sig.Kind))
	h.Write([]byte{'|'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
