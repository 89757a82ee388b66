package chat

import (
	"sort"

	"github.com/supportchat/internal/model"
)

const DefaultPageSize = 30

// Paginator holds the cursor arithmetic for backward pagination. Older pages
// are only ever prepended; loaded messages are never dropped or reordered.
type Paginator struct {
	size int
}

func NewPaginator(size int) Paginator {
	if size <= 0 {
		size = DefaultPageSize
	}
	return Paginator{size: size}
}

func (p Paginator) Size() int { return p.size }

// Next returns the page to request after c, or false once every page is loaded.
func (p Paginator) Next(c model.Cursor) (int, bool) {
	if c.Exhausted() {
		return 0, false
	}
	return c.CurrentPage + 1, true
}

// First builds the cursor for a freshly loaded newest page.
func (p Paginator) First(pg model.Pagination) model.Cursor {
	return p.merge(model.Cursor{}, pg, 1)
}

// Advance records that page loaded was fetched.
func (p Paginator) Advance(c model.Cursor, pg model.Pagination, loaded int) model.Cursor {
	return p.merge(c, pg, loaded)
}

// Refresh updates totals after the newest page was re-fetched without moving
// the position of the cursor.
func (p Paginator) Refresh(c model.Cursor, pg model.Pagination) model.Cursor {
	cur := c.CurrentPage
	if cur < 1 {
		cur = 1
	}
	return p.merge(c, pg, cur)
}

func (p Paginator) merge(c model.Cursor, pg model.Pagination, current int) model.Cursor {
	c.Total = pg.Total
	c.PageCount = pg.Pages
	if c.PageCount == 0 && pg.Total > 0 {
		c.PageCount = (pg.Total + p.size - 1) / p.size
	}
	if current > c.CurrentPage {
		c.CurrentPage = current
	}
	return c
}

// Prepend places older messages in front of the timeline, skipping any id
// that is already loaded.
func (p Paginator) Prepend(timeline, older []model.Message) []model.Message {
	seen := make(map[string]struct{}, len(timeline))
	for _, m := range timeline {
		seen[m.ID] = struct{}{}
	}
	fresh := make([]model.Message, 0, len(older))
	for _, m := range older {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		fresh = append(fresh, m.Clone())
	}
	sort.SliceStable(fresh, func(i, j int) bool { return fresh[i].CreatedAt.Before(fresh[j].CreatedAt) })
	return append(fresh, timeline...)
}
