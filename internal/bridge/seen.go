package bridge

import (
	"sync"

	"github.com/elliotchance/orderedmap/v3"
)

const defaultSeenWindow = 1024

// seenWindow remembers the most recent event keys so a redelivered event is
// handled once. The oldest key is evicted when the window is full.
type seenWindow struct {
	mu   sync.Mutex
	max  int
	keys *orderedmap.OrderedMap[string, struct{}]
}

func newSeenWindow(max int) *seenWindow {
	if max <= 0 {
		max = defaultSeenWindow
	}
	return &seenWindow{max: max, keys: orderedmap.NewOrderedMap[string, struct{}]()}
}

// Seen records key and reports whether it had already been recorded.
func (w *seenWindow) Seen(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.keys.Get(key); ok {
		return true
	}
	w.keys.Set(key, struct{}{})
	for w.keys.Len() > w.max {
		oldest := w.keys.Front()
		if oldest == nil {
			break
		}
		w.keys.Delete(oldest.Key)
	}
	return false
}
