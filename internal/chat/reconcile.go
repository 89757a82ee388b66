package chat

import (
	"sort"

	"github.com/supportchat/internal/model"
)

// Outcome says how an authoritative message landed in a timeline.
type Outcome int

const (
	// Appended: nothing matched, the message went to the end.
	Appended Outcome = iota
	// ReplacedPlaceholder: an optimistic entry was promoted in place.
	ReplacedPlaceholder
	// ReplacedExisting: the confirmed id was already present (redelivery).
	ReplacedExisting
)

// match finds the timeline slot an authoritative message belongs to.
// Order of preference: same confirmed id, same client id on a pending entry,
// then the most recent pending entry with equal text and sender.
func match(timeline []model.Message, m model.Message) (int, Outcome) {
	for i := range timeline {
		if timeline[i].ID == m.ID {
			return i, ReplacedExisting
		}
	}
	if m.ClientID != "" {
		for i := len(timeline) - 1; i >= 0; i-- {
			t := &timeline[i]
			if !t.Confirmed() && t.ClientID == m.ClientID {
				return i, ReplacedPlaceholder
			}
		}
	}
	for i := len(timeline) - 1; i >= 0; i-- {
		t := &timeline[i]
		if !t.Confirmed() && t.Text == m.Text && t.Sender.ID == m.Sender.ID {
			return i, ReplacedPlaceholder
		}
	}
	return -1, Appended
}

// Reconcile folds a confirmed message into the timeline. A matching entry is
// replaced at the same position, so confirmation latency never reorders the
// timeline; otherwise the message is appended.
func Reconcile(timeline []model.Message, m model.Message) ([]model.Message, Outcome) {
	timeline, outcome, _ := reconcile(timeline, m)
	return timeline, outcome
}

// reconcile is Reconcile that also hands back the entry it replaced.
func reconcile(timeline []model.Message, m model.Message) ([]model.Message, Outcome, *model.Message) {
	i, outcome := match(timeline, m)
	if i < 0 {
		return append(timeline, m), Appended, nil
	}
	prev := timeline[i]
	timeline[i] = m
	return timeline, outcome, &prev
}

// MergeLatest folds a freshly fetched newest page into the timeline. Known and
// pending entries are replaced in place; unknown ones are inserted by timestamp.
// Older pages already loaded are kept.
func MergeLatest(timeline []model.Message, fetched []model.Message) []model.Message {
	page := model.CloneMessages(fetched)
	sort.SliceStable(page, func(i, j int) bool { return page[i].CreatedAt.Before(page[j].CreatedAt) })
	for _, m := range page {
		if i, _ := match(timeline, m); i >= 0 {
			timeline[i] = m
			continue
		}
		timeline = insertOrdered(timeline, m)
	}
	return timeline
}

func insertOrdered(timeline []model.Message, m model.Message) []model.Message {
	i := sort.Search(len(timeline), func(i int) bool { return timeline[i].CreatedAt.After(m.CreatedAt) })
	timeline = append(timeline, model.Message{})
	copy(timeline[i+1:], timeline[i:])
	timeline[i] = m
	return timeline
}
