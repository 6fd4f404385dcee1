package automation

import (
	"context"
	"time"
)

// CategoryLookup resolves the category hierarchy for transitive matching.
// Children returns the direct child ids of a category.
type CategoryLookup interface {
	Children(ctx context.Context, id uint) ([]uint, error)
}

// Facts wraps a ticket for one evaluation pass. Derived data (descendant
// closures, the tag set) is computed once and reused when the same ticket is
// checked against many rules in a trigger cycle.
type Facts struct {
	Ticket *TicketState
	Now    time.Time

	categories  CategoryLookup
	descendants map[uint][]uint
	tagSet      map[string]bool
}

// NewFacts builds the evaluation context for one ticket.
func NewFacts(t *TicketState, categories CategoryLookup) *Facts {
	return &Facts{
		Ticket:     t,
		Now:        time.Now(),
		categories: categories,
	}
}

// TagSet returns the ticket's normalized tag set.
func (f *Facts) TagSet() map[string]bool {
	if f.tagSet == nil {
		f.tagSet = make(map[string]bool, len(f.Ticket.Tags))
		for _, tag := range f.Ticket.Tags {
			if n := NormalizeTag(tag); n != "" {
				f.tagSet[n] = true
			}
		}
	}
	return f.tagSet
}

// InCategory reports whether the ticket belongs to the target category,
// optionally unioning the target with all of its descendants.
func (f *Facts) InCategory(ctx context.Context, target uint, includeDescendants bool) (bool, error) {
	if f.Ticket.HasCategory(target) {
		return true, nil
	}
	if !includeDescendants {
		return false, nil
	}
	desc, err := f.Descendants(ctx, target)
	if err != nil {
		return false, err
	}
	for _, id := range desc {
		if f.Ticket.HasCategory(id) {
			return true, nil
		}
	}
	return false, nil
}

// Descendants returns every category below the target, breadth-first. The
// walk keeps a visited set so a corrupted hierarchy with a cycle terminates
// with whatever was collected. Results are memoized per target.
func (f *Facts) Descendants(ctx context.Context, target uint) ([]uint, error) {
	if f.categories == nil {
		return nil, nil
	}
	if f.descendants == nil {
		f.descendants = make(map[uint][]uint)
	}
	if cached, ok := f.descendants[target]; ok {
		return cached, nil
	}

	var result []uint
	visited := map[uint]bool{target: true}
	queue := []uint{target}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		children, err := f.categories.Children(ctx, current)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			if visited[child] {
				continue
			}
			visited[child] = true
			result = append(result, child)
			queue = append(queue, child)
		}
	}
	f.descendants[target] = result
	return result, nil
}

// MinutesSinceCreated is the ticket age in minutes at evaluation time.
func (f *Facts) MinutesSinceCreated() float64 {
	return f.Now.Sub(f.Ticket.OpenedAt).Minutes()
}

// MinutesSinceLastActivity is the idle time in minutes at evaluation time.
func (f *Facts) MinutesSinceLastActivity() float64 {
	return f.Now.Sub(f.Ticket.LastActivityAt()).Minutes()
}
