package automation

import (
	"context"
	"strings"

	"deskify/internal/models"
)

// Built-in condition types.
const (
	CondTicketType            = "ticket_type"
	CondStatus                = "status"
	CondPriority              = "priority"
	CondHasCategory           = "has_category"
	CondHasTags               = "has_tags"
	CondTimeSinceCreated      = "time_since_created"
	CondTimeSinceLastActivity = "time_since_last_activity"
	CondIsAssigned            = "is_assigned"
	CondMetadata              = "metadata"
)

func (e *Evaluator) registerBuiltins() {
	e.Register(CondTicketType, e.predTicketType)
	e.Register(CondStatus, e.predStatus)
	e.Register(CondPriority, e.predPriority)
	e.Register(CondHasCategory, e.predHasCategory)
	e.Register(CondHasTags, e.predHasTags)
	e.Register(CondTimeSinceCreated, e.predTimeSinceCreated)
	e.Register(CondTimeSinceLastActivity, e.predTimeSinceLastActivity)
	e.Register(CondIsAssigned, e.predIsAssigned)
	e.Register(CondMetadata, e.predMetadata)
}

// equalityCheck covers the equals/not_equals leaves. A missing operator
// defaults to equals.
func equalityCheck(op, actual, expected string) bool {
	switch op {
	case OpEquals, "":
		return actual == expected
	case OpNotEquals:
		return actual != expected
	}
	return false
}

func (e *Evaluator) predTicketType(_ context.Context, spec ConditionSpec, f *Facts) bool {
	return equalityCheck(spec.Operator(), f.Ticket.Type, spec.String("value"))
}

func (e *Evaluator) predStatus(_ context.Context, spec ConditionSpec, f *Facts) bool {
	return equalityCheck(spec.Operator(), f.Ticket.Status, spec.String("value"))
}

// predPriority compares priorities by ordinal: low < normal < high < urgent.
func (e *Evaluator) predPriority(_ context.Context, spec ConditionSpec, f *Facts) bool {
	actual := models.PriorityRank(f.Ticket.Priority)
	expected := models.PriorityRank(spec.String("value"))
	if actual < 0 || expected < 0 {
		return false
	}
	switch op := spec.Operator(); op {
	case OpEquals, "":
		return actual == expected
	case OpNotEquals:
		return actual != expected
	default:
		return compareNumeric(op, float64(actual), float64(expected))
	}
}

func (e *Evaluator) predHasCategory(ctx context.Context, spec ConditionSpec, f *Facts) bool {
	target, ok := spec.Uint("category_id")
	if !ok || target == 0 {
		return false
	}
	matched, err := f.InCategory(ctx, target, spec.Bool("include_descendants"))
	if err != nil {
		e.logger.Warnf("automation: category lookup for %d failed: %v", target, err)
		return false
	}
	return matched
}

// predHasTags applies any/all/none set semantics over the ticket's tag set.
// An empty target list fails closed.
func (e *Evaluator) predHasTags(_ context.Context, spec ConditionSpec, f *Facts) bool {
	targets := spec.Strings("tags")
	if len(targets) == 0 {
		return false
	}
	set := f.TagSet()
	match := spec.String("match")
	if match == "" {
		match = MatchAny
	}
	switch match {
	case MatchAny:
		for _, tag := range targets {
			if set[NormalizeTag(tag)] {
				return true
			}
		}
		return false
	case MatchAll:
		for _, tag := range targets {
			if !set[NormalizeTag(tag)] {
				return false
			}
		}
		return true
	case MatchNone:
		for _, tag := range targets {
			if set[NormalizeTag(tag)] {
				return false
			}
		}
		return true
	}
	return false
}

func (e *Evaluator) predTimeSinceCreated(_ context.Context, spec ConditionSpec, f *Facts) bool {
	threshold, ok := spec.Number("value")
	if !ok {
		return false
	}
	return compareNumeric(spec.Operator(), f.MinutesSinceCreated(), threshold)
}

func (e *Evaluator) predTimeSinceLastActivity(_ context.Context, spec ConditionSpec, f *Facts) bool {
	threshold, ok := spec.Number("value")
	if !ok {
		return false
	}
	return compareNumeric(spec.Operator(), f.MinutesSinceLastActivity(), threshold)
}

// predIsAssigned checks assignment presence; value defaults to true.
func (e *Evaluator) predIsAssigned(_ context.Context, spec ConditionSpec, f *Facts) bool {
	want := true
	if v, ok := spec["value"]; ok {
		want = boolValue(v)
	}
	return f.Ticket.Assigned() == want
}

// predMetadata compares one metadata field. Values are compared in their
// stringified form; an absent field stringifies to "".
func (e *Evaluator) predMetadata(_ context.Context, spec ConditionSpec, f *Facts) bool {
	field := spec.String("field")
	if field == "" {
		return false
	}
	actualRaw, present := f.Ticket.MetadataValue(field)
	actual := ""
	if present {
		actual = Stringify(actualRaw)
	}
	switch spec.Operator() {
	case OpEmpty:
		return actual == ""
	case OpNotEmpty:
		return actual != ""
	case OpEquals, "":
		return actual == Stringify(spec.Value())
	case OpNotEquals:
		return actual != Stringify(spec.Value())
	case OpContains:
		return strings.Contains(actual, Stringify(spec.Value()))
	case OpNotContains:
		return !strings.Contains(actual, Stringify(spec.Value()))
	}
	return false
}
