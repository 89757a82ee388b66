package chat

import "github.com/elliotchance/orderedmap/v3"

const appliedWindow = 4096

// appliedIDs is a bounded record of confirmed message ids already folded into
// the counters. Guarded by Store.mu.
type appliedIDs struct {
	max int
	ids *orderedmap.OrderedMap[string, struct{}]
}

func newAppliedIDs(max int) *appliedIDs {
	if max <= 0 {
		max = appliedWindow
	}
	return &appliedIDs{max: max, ids: orderedmap.NewOrderedMap[string, struct{}]()}
}

// Seen records id and reports whether it was already recorded.
// Empty ids are never remembered.
func (a *appliedIDs) Seen(id string) bool {
	if id == "" {
		return false
	}
	if _, ok := a.ids.Get(id); ok {
		return true
	}
	a.ids.Set(id, struct{}{})
	for a.ids.Len() > a.max {
		oldest := a.ids.Front()
		if oldest == nil {
			break
		}
		a.ids.Delete(oldest.Key)
	}
	return false
}
