package automation

import (
	"strings"
	"time"
)

// TicketState is the narrow mutable record the engine evaluates and mutates.
// The host loads it from its own storage and persists whatever the engine
// handed back. No ORM types cross this boundary.
type TicketState struct {
	ID                 uint
	Type               string
	Status             string
	Priority           string
	OpenerID           uint
	AssigneeID         *uint
	TeamID             *uint
	OpenedAt           time.Time
	UpdatedAt          time.Time
	FirstResponseDueAt *time.Time
	ResolutionDueAt    *time.Time

	// Relations, loaded once by the host per trigger invocation.
	CategoryIDs         []uint
	Tags                []string
	LastPublicCommentAt *time.Time
	Metadata            map[string]any
}

// Assigned reports whether the ticket has an assignee.
func (t *TicketState) Assigned() bool { return t.AssigneeID != nil }

// HasCategory reports direct membership of the given category.
func (t *TicketState) HasCategory(id uint) bool {
	for _, c := range t.CategoryIDs {
		if c == id {
			return true
		}
	}
	return false
}

// AddCategory appends a category id if not already present.
func (t *TicketState) AddCategory(id uint) {
	if !t.HasCategory(id) {
		t.CategoryIDs = append(t.CategoryIDs, id)
	}
}

// HasTag reports membership of the given tag, case-insensitively.
func (t *TicketState) HasTag(tag string) bool {
	tag = NormalizeTag(tag)
	for _, existing := range t.Tags {
		if NormalizeTag(existing) == tag {
			return true
		}
	}
	return false
}

// AddTags appends the given tags, normalized and deduplicated.
func (t *TicketState) AddTags(tags []string) {
	for _, tag := range tags {
		tag = NormalizeTag(tag)
		if tag == "" || t.HasTag(tag) {
			continue
		}
		t.Tags = append(t.Tags, tag)
	}
}

// RemoveTags drops the given tags, case-insensitively.
func (t *TicketState) RemoveTags(tags []string) {
	drop := make(map[string]bool, len(tags))
	for _, tag := range tags {
		drop[NormalizeTag(tag)] = true
	}
	kept := t.Tags[:0]
	for _, tag := range t.Tags {
		if !drop[NormalizeTag(tag)] {
			kept = append(kept, tag)
		}
	}
	t.Tags = kept
}

// SetMetadata writes a metadata field, allocating the map on first use.
func (t *TicketState) SetMetadata(field string, value any) {
	if t.Metadata == nil {
		t.Metadata = make(map[string]any)
	}
	t.Metadata[field] = value
}

// MetadataValue reads a metadata field.
func (t *TicketState) MetadataValue(field string) (any, bool) {
	if t.Metadata == nil {
		return nil, false
	}
	v, ok := t.Metadata[field]
	return v, ok
}

// LastActivityAt is the latest public comment timestamp, falling back to the
// record's last update.
func (t *TicketState) LastActivityAt() time.Time {
	if t.LastPublicCommentAt != nil {
		return *t.LastPublicCommentAt
	}
	return t.UpdatedAt
}

// NormalizeTag lowercases and trims a tag name.
func NormalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}
