package automation

import (
	"context"
	"testing"
	"time"
)

type fakeCategoryLookup struct {
	children map[uint][]uint
	calls    int
}

func (f *fakeCategoryLookup) Children(_ context.Context, id uint) ([]uint, error) {
	f.calls++
	return f.children[id], nil
}

func testTicket() *TicketState {
	opened := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	updated := opened.Add(30 * time.Minute)
	return &TicketState{
		ID:          42,
		Type:        "incident",
		Status:      "open",
		Priority:    "high",
		OpenerID:    7,
		OpenedAt:    opened,
		UpdatedAt:   updated,
		CategoryIDs: []uint{4},
		Tags:        []string{"billing", "vip"},
		Metadata:    map[string]any{"region": "emea", "attempts": float64(3)},
	}
}

func testFacts(t *TicketState, lookup CategoryLookup, now time.Time) *Facts {
	f := NewFacts(t, lookup)
	f.Now = now
	return f
}

func TestEvaluateEmptyTree(t *testing.T) {
	e := NewEvaluator(nil)
	f := testFacts(testTicket(), nil, time.Now())

	if !e.Evaluate(context.Background(), nil, f) {
		t.Error("nil tree should match vacuously")
	}
	if !e.Evaluate(context.Background(), &ConditionTree{Operator: OperatorAnd}, f) {
		t.Error("tree without rules should match vacuously")
	}
}

func TestEvaluateAndOr(t *testing.T) {
	e := NewEvaluator(nil)
	f := testFacts(testTicket(), nil, time.Now())

	statusIs := func(v string) ConditionSpec {
		return ConditionSpec{"type": CondStatus, "operator": OpEquals, "value": v}
	}
	cases := []struct {
		name string
		tree *ConditionTree
		want bool
	}{
		{"and all true", &ConditionTree{Operator: OperatorAnd, Rules: []ConditionSpec{statusIs("open"), statusIs("open")}}, true},
		{"and one false", &ConditionTree{Operator: OperatorAnd, Rules: []ConditionSpec{statusIs("open"), statusIs("closed")}}, false},
		{"or one true", &ConditionTree{Operator: OperatorOr, Rules: []ConditionSpec{statusIs("closed"), statusIs("open")}}, true},
		{"or all false", &ConditionTree{Operator: OperatorOr, Rules: []ConditionSpec{statusIs("closed"), statusIs("resolved")}}, false},
		{"unknown operator", &ConditionTree{Operator: "xor", Rules: []ConditionSpec{statusIs("open")}}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := e.Evaluate(context.Background(), c.tree, f); got != c.want {
				t.Errorf("Evaluate() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestEvaluateUnregisteredType(t *testing.T) {
	e := NewEvaluator(nil)
	f := testFacts(testTicket(), nil, time.Now())
	tree := &ConditionTree{Operator: OperatorAnd, Rules: []ConditionSpec{
		{"type": "moon_phase", "operator": OpEquals, "value": "full"},
	}}
	if e.Evaluate(context.Background(), tree, f) {
		t.Error("unregistered condition type should fail the leaf")
	}
}

func TestEvaluateShortCircuit(t *testing.T) {
	e := NewEvaluator(nil)
	f := testFacts(testTicket(), nil, time.Now())

	calls := 0
	e.Register("counted", func(_ context.Context, _ ConditionSpec, _ *Facts) bool {
		calls++
		return true
	})

	andTree := &ConditionTree{Operator: OperatorAnd, Rules: []ConditionSpec{
		{"type": CondStatus, "operator": OpEquals, "value": "closed"},
		{"type": "counted"},
	}}
	if e.Evaluate(context.Background(), andTree, f) {
		t.Fatal("and tree with false first leaf should not match")
	}
	if calls != 0 {
		t.Errorf("and should short-circuit, second leaf evaluated %d times", calls)
	}

	orTree := &ConditionTree{Operator: OperatorOr, Rules: []ConditionSpec{
		{"type": CondStatus, "operator": OpEquals, "value": "open"},
		{"type": "counted"},
	}}
	if !e.Evaluate(context.Background(), orTree, f) {
		t.Fatal("or tree with true first leaf should match")
	}
	if calls != 0 {
		t.Errorf("or should short-circuit, second leaf evaluated %d times", calls)
	}
}

func TestEvaluateNestedGroups(t *testing.T) {
	e := NewEvaluator(nil)
	f := testFacts(testTicket(), nil, time.Now())

	// status=open AND (priority=urgent OR has vip tag)
	tree := &ConditionTree{Operator: OperatorAnd, Rules: []ConditionSpec{
		{"type": CondStatus, "operator": OpEquals, "value": "open"},
		{"operator": OperatorOr, "rules": []any{
			map[string]any{"type": CondPriority, "operator": OpEquals, "value": "urgent"},
			map[string]any{"type": CondHasTags, "tags": []any{"vip"}, "match": MatchAny},
		}},
	}}
	if !e.Evaluate(context.Background(), tree, f) {
		t.Error("nested or group should have matched via the vip tag")
	}
}

func TestPriorityOrdinal(t *testing.T) {
	e := NewEvaluator(nil)
	f := testFacts(testTicket(), nil, time.Now()) // priority high

	cases := []struct {
		operator string
		value    string
		want     bool
	}{
		{OpEquals, "high", true},
		{OpEquals, "urgent", false},
		{OpNotEquals, "low", true},
		{OpGreaterThan, "normal", true},
		{OpGreaterThan, "high", false},
		{OpGreaterThan, "urgent", false},
		{OpLessThan, "urgent", true},
		{OpLessThan, "high", false},
		{OpGreaterOrEqual, "high", true},
		{OpGreaterOrEqual, "urgent", false},
		{OpLessOrEqual, "high", true},
		{OpLessOrEqual, "normal", false},
		{OpGreaterThan, "chartreuse", false}, // unknown priority value
	}
	for _, c := range cases {
		tree := &ConditionTree{Operator: OperatorAnd, Rules: []ConditionSpec{
			{"type": CondPriority, "operator": c.operator, "value": c.value},
		}}
		if got := e.Evaluate(context.Background(), tree, f); got != c.want {
			t.Errorf("priority %s %s = %v, want %v", c.operator, c.value, got, c.want)
		}
	}
}

func TestHasCategoryDescendants(t *testing.T) {
	lookup := &fakeCategoryLookup{children: map[uint][]uint{
		1: {2, 3},
		2: {4},
	}}
	e := NewEvaluator(nil)
	f := testFacts(testTicket(), lookup, time.Now()) // ticket in category 4

	leaf := func(target uint, includeDescendants bool) *ConditionTree {
		return &ConditionTree{Operator: OperatorAnd, Rules: []ConditionSpec{
			{"type": CondHasCategory, "category_id": float64(target), "include_descendants": includeDescendants},
		}}
	}
	if !e.Evaluate(context.Background(), leaf(4, false), f) {
		t.Error("direct membership should match without descendants")
	}
	if e.Evaluate(context.Background(), leaf(1, false), f) {
		t.Error("ancestor should not match when include_descendants is unset")
	}
	if !e.Evaluate(context.Background(), leaf(1, true), f) {
		t.Error("ancestor should match through descendants")
	}
	if e.Evaluate(context.Background(), leaf(3, true), f) {
		t.Error("sibling branch should not match")
	}
}

func TestHasCategoryCycleTerminates(t *testing.T) {
	lookup := &fakeCategoryLookup{children: map[uint][]uint{
		1: {2},
		2: {1},
	}}
	e := NewEvaluator(nil)
	f := testFacts(testTicket(), lookup, time.Now())

	tree := &ConditionTree{Operator: OperatorAnd, Rules: []ConditionSpec{
		{"type": CondHasCategory, "category_id": float64(1), "include_descendants": true},
	}}
	if e.Evaluate(context.Background(), tree, f) {
		t.Error("ticket outside the cyclic branch should not match")
	}
}

func TestDescendantsMemoizedPerPass(t *testing.T) {
	lookup := &fakeCategoryLookup{children: map[uint][]uint{1: {2}, 2: {}}}
	e := NewEvaluator(nil)
	f := testFacts(testTicket(), lookup, time.Now())

	tree := &ConditionTree{Operator: OperatorAnd, Rules: []ConditionSpec{
		{"type": CondHasCategory, "category_id": float64(1), "include_descendants": true},
	}}
	e.Evaluate(context.Background(), tree, f)
	first := lookup.calls
	e.Evaluate(context.Background(), tree, f)
	if lookup.calls != first {
		t.Errorf("descendant walk ran again within one pass: %d -> %d calls", first, lookup.calls)
	}
}

func TestHasTags(t *testing.T) {
	e := NewEvaluator(nil)
	f := testFacts(testTicket(), nil, time.Now()) // tags: billing, vip

	cases := []struct {
		name  string
		match string
		tags  []any
		want  bool
	}{
		{"any hit", MatchAny, []any{"vip", "unknown"}, true},
		{"any miss", MatchAny, []any{"unknown"}, false},
		{"all hit", MatchAll, []any{"vip", "billing"}, true},
		{"all miss", MatchAll, []any{"vip", "unknown"}, false},
		{"none hit", MatchNone, []any{"unknown", "other"}, true},
		{"none miss", MatchNone, []any{"vip"}, false},
		{"default is any", "", []any{"billing"}, true},
		{"case-insensitive", MatchAny, []any{"VIP"}, true},
		{"empty target list fails closed", MatchAny, []any{}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			spec := ConditionSpec{"type": CondHasTags, "tags": c.tags}
			if c.match != "" {
				spec["match"] = c.match
			}
			tree := &ConditionTree{Operator: OperatorAnd, Rules: []ConditionSpec{spec}}
			if got := e.Evaluate(context.Background(), tree, f); got != c.want {
				t.Errorf("has_tags %s %v = %v, want %v", c.match, c.tags, got, c.want)
			}
		})
	}
}

func TestTimeSinceCreated(t *testing.T) {
	e := NewEvaluator(nil)
	tkt := testTicket()
	now := tkt.OpenedAt.Add(130 * time.Minute)
	f := testFacts(tkt, nil, now)

	cases := []struct {
		operator string
		value    float64
		want     bool
	}{
		{OpGreaterThan, 120, true},
		{OpGreaterThan, 130, false},
		{OpGreaterOrEqual, 130, true},
		{OpLessThan, 200, true},
		{OpLessOrEqual, 130, true},
		{OpLessThan, 130, false},
		{OpEquals, 130, false}, // only the four relational operators apply
	}
	for _, c := range cases {
		tree := &ConditionTree{Operator: OperatorAnd, Rules: []ConditionSpec{
			{"type": CondTimeSinceCreated, "operator": c.operator, "value": c.value},
		}}
		if got := e.Evaluate(context.Background(), tree, f); got != c.want {
			t.Errorf("time_since_created %s %v = %v, want %v", c.operator, c.value, got, c.want)
		}
	}
}

func TestTimeSinceLastActivity(t *testing.T) {
	e := NewEvaluator(nil)
	tkt := testTicket()
	now := tkt.UpdatedAt.Add(60 * time.Minute)
	f := testFacts(tkt, nil, now)

	tree := func(op string, minutes float64) *ConditionTree {
		return &ConditionTree{Operator: OperatorAnd, Rules: []ConditionSpec{
			{"type": CondTimeSinceLastActivity, "operator": op, "value": minutes},
		}}
	}

	// No public comment: falls back to UpdatedAt, 60 minutes ago.
	if !e.Evaluate(context.Background(), tree(OpGreaterThan, 45), f) {
		t.Error("idle time from UpdatedAt should exceed 45 minutes")
	}

	// A later public comment resets the activity clock.
	comment := now.Add(-10 * time.Minute)
	tkt.LastPublicCommentAt = &comment
	f = testFacts(tkt, nil, now)
	if e.Evaluate(context.Background(), tree(OpGreaterThan, 45), f) {
		t.Error("public comment 10 minutes ago should cap idle time below 45 minutes")
	}
	if !e.Evaluate(context.Background(), tree(OpLessOrEqual, 10), f) {
		t.Error("idle time should be at most 10 minutes after the comment")
	}
}

func TestIsAssigned(t *testing.T) {
	e := NewEvaluator(nil)
	tkt := testTicket()
	f := testFacts(tkt, nil, time.Now())

	unassignedLeaf := &ConditionTree{Operator: OperatorAnd, Rules: []ConditionSpec{
		{"type": CondIsAssigned, "value": false},
	}}
	defaultLeaf := &ConditionTree{Operator: OperatorAnd, Rules: []ConditionSpec{
		{"type": CondIsAssigned},
	}}

	if e.Evaluate(context.Background(), defaultLeaf, f) {
		t.Error("unassigned ticket should not pass the default presence check")
	}
	if !e.Evaluate(context.Background(), unassignedLeaf, f) {
		t.Error("unassigned ticket should pass value=false")
	}

	assignee := uint(9)
	tkt.AssigneeID = &assignee
	f = testFacts(tkt, nil, time.Now())
	if !e.Evaluate(context.Background(), defaultLeaf, f) {
		t.Error("assigned ticket should pass the default presence check")
	}
	if e.Evaluate(context.Background(), unassignedLeaf, f) {
		t.Error("assigned ticket should fail value=false")
	}
}

func TestMetadataPredicate(t *testing.T) {
	e := NewEvaluator(nil)
	f := testFacts(testTicket(), nil, time.Now()) // region=emea, attempts=3

	cases := []struct {
		name     string
		field    string
		operator string
		value    any
		want     bool
	}{
		{"equals", "region", OpEquals, "emea", true},
		{"equals miss", "region", OpEquals, "apac", false},
		{"not_equals", "region", OpNotEquals, "apac", true},
		{"numeric equals string form", "attempts", OpEquals, float64(3), true},
		{"contains", "region", OpContains, "me", true},
		{"not_contains", "region", OpNotContains, "us", true},
		{"empty on absent field", "missing", OpEmpty, nil, true},
		{"not_empty on absent field", "missing", OpNotEmpty, nil, false},
		{"not_empty on present field", "region", OpNotEmpty, nil, true},
		{"equals on absent field", "missing", OpEquals, "x", false},
		{"not_equals on absent field", "missing", OpNotEquals, "x", true},
		{"unknown operator", "region", "resembles", "emea", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			spec := ConditionSpec{"type": CondMetadata, "field": c.field, "operator": c.operator}
			if c.value != nil {
				spec["value"] = c.value
			}
			tree := &ConditionTree{Operator: OperatorAnd, Rules: []ConditionSpec{spec}}
			if got := e.Evaluate(context.Background(), tree, f); got != c.want {
				t.Errorf("metadata %s %s %v = %v, want %v", c.field, c.operator, c.value, got, c.want)
			}
		})
	}
}

func TestParseConditions(t *testing.T) {
	tree, err := ParseConditions(`{"operator":"and","rules":[{"type":"status","operator":"equals","value":"open"}]}`)
	if err != nil {
		t.Fatalf("ParseConditions: %v", err)
	}
	if tree.Operator != OperatorAnd || len(tree.Rules) != 1 {
		t.Fatalf("unexpected tree: %+v", tree)
	}
	if tree.Rules[0].Type() != CondStatus {
		t.Errorf("leaf type = %q, want status", tree.Rules[0].Type())
	}

	for _, raw := range []string{"", "null", "{}", "   "} {
		tree, err := ParseConditions(raw)
		if err != nil {
			t.Errorf("ParseConditions(%q) error: %v", raw, err)
		}
		if !tree.Empty() {
			t.Errorf("ParseConditions(%q) should yield an empty tree", raw)
		}
	}

	if _, err := ParseConditions(`{"operator":`); err == nil {
		t.Error("malformed JSON should error")
	}
}
