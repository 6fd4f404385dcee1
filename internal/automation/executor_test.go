package automation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type fakeDirectory struct {
	members   map[uint][]uint
	leastBusy map[uint]uint
}

func (f *fakeDirectory) Members(_ context.Context, teamID uint) ([]uint, error) {
	return f.members[teamID], nil
}

func (f *fakeDirectory) LeastBusy(_ context.Context, teamID uint) (uint, error) {
	id, ok := f.leastBusy[teamID]
	if !ok {
		return 0, ErrEmptyRing
	}
	return id, nil
}

type fakeWebhook struct {
	status  int
	err     error
	methods []string
	urls    []string
	bodies  []map[string]any
}

func (f *fakeWebhook) Call(_ context.Context, method, url string, payload map[string]any) (int, error) {
	f.methods = append(f.methods, method)
	f.urls = append(f.urls, url)
	f.bodies = append(f.bodies, payload)
	return f.status, f.err
}

func newTestExecutor(teams TeamDirectory, webhooks WebhookCaller) *Executor {
	return NewExecutor(teams, NewMemoryCursorStore(), nil, webhooks, nil)
}

func TestExecuteStopsAtFirstFailure(t *testing.T) {
	x := newTestExecutor(nil, nil)
	tkt := testTicket()

	actions := []ActionSpec{
		{"type": ActAddTags, "tags": []any{"urgent-review"}},
		{"type": "summon_wizard"},
		{"type": ActChangePriority, "priority": "low"},
	}
	_, err := x.Execute(context.Background(), actions, tkt)
	if err == nil {
		t.Fatal("unregistered action should fail the list")
	}
	if !errors.Is(err, ErrUnregisteredAction) {
		t.Errorf("error = %v, want ErrUnregisteredAction", err)
	}
	if !tkt.HasTag("urgent-review") {
		t.Error("first action's mutation should remain applied")
	}
	if tkt.Priority != "high" {
		t.Errorf("action after the failure ran: priority = %s", tkt.Priority)
	}
}

func TestExecutePanicRecovered(t *testing.T) {
	x := newTestExecutor(nil, nil)
	x.Register("explode", func(_ context.Context, _ ActionSpec, _ *TicketState) ([]Effect, error) {
		panic("boom")
	})
	tkt := testTicket()

	actions := []ActionSpec{
		{"type": ActSetMetadata, "field": "before", "value": "yes"},
		{"type": "explode"},
	}
	_, err := x.Execute(context.Background(), actions, tkt)
	if err == nil {
		t.Fatal("panicking handler should report failure")
	}
	if v, _ := tkt.MetadataValue("before"); v != "yes" {
		t.Error("mutation before the panic should remain applied")
	}
}

func TestChangeStatusKeepsFirstMutationOnIllegalSecond(t *testing.T) {
	x := newTestExecutor(nil, nil)
	tkt := testTicket() // status open

	actions := []ActionSpec{
		{"type": ActChangeStatus, "status": "closed"},
		{"type": ActChangeStatus, "status": "open"},
	}
	_, err := x.Execute(context.Background(), actions, tkt)
	if err == nil {
		t.Fatal("closed -> open should be rejected")
	}
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("error = %v, want ErrInvalidTransition", err)
	}
	if tkt.Status != "closed" {
		t.Errorf("status = %s, want closed (first mutation retained, no rollback)", tkt.Status)
	}
}

func TestEscalateBumpsPriorityAndStampsMetadata(t *testing.T) {
	x := newTestExecutor(nil, nil)
	tkt := testTicket() // priority high

	effects, err := x.Execute(context.Background(), []ActionSpec{
		{"type": ActEscalate, "level": float64(1)},
	}, tkt)
	if err != nil {
		t.Fatalf("escalate failed: %v", err)
	}
	if tkt.Priority != "urgent" {
		t.Errorf("priority = %s, want urgent", tkt.Priority)
	}
	if v, ok := tkt.MetadataValue("escalation_level"); !ok || v != 1 {
		t.Errorf("escalation_level = %v, want 1", v)
	}
	if _, ok := tkt.MetadataValue("escalated_at"); !ok {
		t.Error("escalated_at metadata missing")
	}
	if len(effects) != 1 {
		t.Fatalf("effects = %d, want 1 escalation", len(effects))
	}
	esc, ok := effects[0].(EscalationEffect)
	if !ok {
		t.Fatalf("effect type = %T, want EscalationEffect", effects[0])
	}
	if esc.FromPriority != "high" || esc.ToPriority != "urgent" || esc.Level != 1 {
		t.Errorf("unexpected escalation effect: %+v", esc)
	}
}

func TestEscalateAtUrgentStaysUrgent(t *testing.T) {
	x := newTestExecutor(nil, nil)
	tkt := testTicket()
	tkt.Priority = "urgent"

	if _, err := x.Execute(context.Background(), []ActionSpec{{"type": ActEscalate}}, tkt); err != nil {
		t.Fatalf("escalate at urgent should still succeed: %v", err)
	}
	if tkt.Priority != "urgent" {
		t.Errorf("priority = %s, want urgent", tkt.Priority)
	}
}

func TestAssignUser(t *testing.T) {
	x := newTestExecutor(nil, nil)
	tkt := testTicket()

	if _, err := x.Execute(context.Background(), []ActionSpec{
		{"type": ActAssignUser, "user_id": float64(12)},
	}, tkt); err != nil {
		t.Fatalf("assign_user failed: %v", err)
	}
	if tkt.AssigneeID == nil || *tkt.AssigneeID != 12 {
		t.Errorf("assignee = %v, want 12", tkt.AssigneeID)
	}

	if _, err := x.Execute(context.Background(), []ActionSpec{{"type": ActAssignUser}}, tkt); err == nil {
		t.Error("assign_user without user_id should fail")
	}
}

func TestAssignTeamRoundRobinWrapsAroundRing(t *testing.T) {
	teams := &fakeDirectory{members: map[uint][]uint{5: {11, 12, 13}}}
	x := newTestExecutor(teams, nil)

	var picks []uint
	for i := 0; i < 4; i++ {
		tkt := testTicket()
		if _, err := x.Execute(context.Background(), []ActionSpec{
			{"type": ActAssignTeam, "team_id": float64(5), "strategy": StrategyRoundRobin},
		}, tkt); err != nil {
			t.Fatalf("round %d: %v", i+1, err)
		}
		picks = append(picks, *tkt.AssigneeID)
	}
	want := []uint{11, 12, 13, 11}
	for i := range want {
		if picks[i] != want[i] {
			t.Fatalf("picks = %v, want %v (call N+1 repeats call 1)", picks, want)
		}
	}
}

func TestAssignTeamLeastBusy(t *testing.T) {
	teams := &fakeDirectory{leastBusy: map[uint]uint{5: 22}}
	x := newTestExecutor(teams, nil)
	tkt := testTicket()

	if _, err := x.Execute(context.Background(), []ActionSpec{
		{"type": ActAssignTeam, "team_id": float64(5), "strategy": StrategyLeastBusy},
	}, tkt); err != nil {
		t.Fatalf("least_busy failed: %v", err)
	}
	if tkt.AssigneeID == nil || *tkt.AssigneeID != 22 {
		t.Errorf("assignee = %v, want 22", tkt.AssigneeID)
	}
	if tkt.TeamID == nil || *tkt.TeamID != 5 {
		t.Errorf("team = %v, want 5", tkt.TeamID)
	}
}

func TestAssignTeamRandomPicksAMember(t *testing.T) {
	teams := &fakeDirectory{members: map[uint][]uint{5: {11, 12, 13}}}
	x := newTestExecutor(teams, nil)
	tkt := testTicket()

	if _, err := x.Execute(context.Background(), []ActionSpec{
		{"type": ActAssignTeam, "team_id": float64(5), "strategy": StrategyRandom},
	}, tkt); err != nil {
		t.Fatalf("random failed: %v", err)
	}
	switch *tkt.AssigneeID {
	case 11, 12, 13:
	default:
		t.Errorf("assignee = %d, want a team member", *tkt.AssigneeID)
	}
}

func TestAssignTeamEmptyTeamFails(t *testing.T) {
	teams := &fakeDirectory{members: map[uint][]uint{}}
	x := newTestExecutor(teams, nil)

	for _, strategy := range []string{StrategyRoundRobin, StrategyRandom} {
		tkt := testTicket()
		_, err := x.Execute(context.Background(), []ActionSpec{
			{"type": ActAssignTeam, "team_id": float64(5), "strategy": strategy},
		}, tkt)
		if !errors.Is(err, ErrEmptyRing) {
			t.Errorf("strategy %s: error = %v, want ErrEmptyRing", strategy, err)
		}
	}
}

func TestAddRemoveTags(t *testing.T) {
	x := newTestExecutor(nil, nil)
	tkt := testTicket() // billing, vip

	if _, err := x.Execute(context.Background(), []ActionSpec{
		{"type": ActAddTags, "tags": []any{"VIP", "Escalated", "escalated"}},
	}, tkt); err != nil {
		t.Fatalf("add_tags failed: %v", err)
	}
	if len(tkt.Tags) != 3 {
		t.Errorf("tags = %v, want billing, vip, escalated", tkt.Tags)
	}
	if !tkt.HasTag("escalated") {
		t.Error("escalated tag missing")
	}

	if _, err := x.Execute(context.Background(), []ActionSpec{
		{"type": ActRemoveTags, "tags": []any{"BILLING"}},
	}, tkt); err != nil {
		t.Fatalf("remove_tags failed: %v", err)
	}
	if tkt.HasTag("billing") {
		t.Error("billing tag should be removed case-insensitively")
	}
}

func TestAddCategoryDeduplicates(t *testing.T) {
	x := newTestExecutor(nil, nil)
	tkt := testTicket() // category 4

	for i := 0; i < 2; i++ {
		if _, err := x.Execute(context.Background(), []ActionSpec{
			{"type": ActAddCategory, "category_id": float64(4)},
		}, tkt); err != nil {
			t.Fatalf("add_category failed: %v", err)
		}
	}
	if len(tkt.CategoryIDs) != 1 {
		t.Errorf("categories = %v, want just 4", tkt.CategoryIDs)
	}
}

func TestNotifyProducesEffect(t *testing.T) {
	x := newTestExecutor(nil, nil)
	tkt := testTicket()

	effects, err := x.Execute(context.Background(), []ActionSpec{
		{"type": ActNotify, "recipient": RecipientOpener, "subject": "heads up", "message": "your ticket moved"},
	}, tkt)
	if err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	if len(effects) != 1 {
		t.Fatalf("effects = %d, want 1", len(effects))
	}
	n, ok := effects[0].(NotifyEffect)
	if !ok || n.Recipient != RecipientOpener || n.Message != "your ticket moved" {
		t.Errorf("unexpected notify effect: %+v", effects[0])
	}

	if _, err := x.Execute(context.Background(), []ActionSpec{
		{"type": ActNotify, "recipient": "the_void"},
	}, tkt); err == nil {
		t.Error("unknown recipient should fail")
	}
}

func TestAddNoteProducesEffect(t *testing.T) {
	x := newTestExecutor(nil, nil)
	tkt := testTicket()

	effects, err := x.Execute(context.Background(), []ActionSpec{
		{"type": ActAddNote, "body": "auto-triaged by rule"},
	}, tkt)
	if err != nil {
		t.Fatalf("add_note failed: %v", err)
	}
	if n, ok := effects[0].(NoteEffect); !ok || n.Body != "auto-triaged by rule" {
		t.Errorf("unexpected note effect: %+v", effects[0])
	}

	if _, err := x.Execute(context.Background(), []ActionSpec{
		{"type": ActAddNote, "body": "   "},
	}, tkt); err == nil {
		t.Error("blank note body should fail")
	}
}

func TestAdjustSLAOffsetsFromOpenedAt(t *testing.T) {
	x := newTestExecutor(nil, nil)
	tkt := testTicket()

	if _, err := x.Execute(context.Background(), []ActionSpec{
		{"type": ActAdjustSLA, "first_response_mins": float64(30), "resolution_mins": float64(240)},
	}, tkt); err != nil {
		t.Fatalf("adjust_sla failed: %v", err)
	}
	wantFirst := tkt.OpenedAt.Add(30 * time.Minute)
	wantRes := tkt.OpenedAt.Add(240 * time.Minute)
	if tkt.FirstResponseDueAt == nil || !tkt.FirstResponseDueAt.Equal(wantFirst) {
		t.Errorf("first response due = %v, want %v", tkt.FirstResponseDueAt, wantFirst)
	}
	if tkt.ResolutionDueAt == nil || !tkt.ResolutionDueAt.Equal(wantRes) {
		t.Errorf("resolution due = %v, want %v", tkt.ResolutionDueAt, wantRes)
	}

	if _, err := x.Execute(context.Background(), []ActionSpec{{"type": ActAdjustSLA}}, tkt); err == nil {
		t.Error("adjust_sla without offsets should fail")
	}
}

func TestSetMetadata(t *testing.T) {
	x := newTestExecutor(nil, nil)
	tkt := testTicket()

	if _, err := x.Execute(context.Background(), []ActionSpec{
		{"type": ActSetMetadata, "field": "triage_lane", "value": "fastpath"},
	}, tkt); err != nil {
		t.Fatalf("set_metadata failed: %v", err)
	}
	if v, _ := tkt.MetadataValue("triage_lane"); v != "fastpath" {
		t.Errorf("triage_lane = %v, want fastpath", v)
	}
}

func TestWebhookSuccessAndFailure(t *testing.T) {
	hook := &fakeWebhook{status: 204}
	x := newTestExecutor(nil, hook)
	tkt := testTicket()

	if _, err := x.Execute(context.Background(), []ActionSpec{
		{"type": ActWebhook, "url": "https://example.com/hook", "payload": map[string]any{"source": "deskify"}},
	}, tkt); err != nil {
		t.Fatalf("webhook 204 should succeed: %v", err)
	}
	if hook.methods[0] != "POST" {
		t.Errorf("method = %s, want default POST", hook.methods[0])
	}
	if hook.bodies[0]["ticket_id"] != tkt.ID || hook.bodies[0]["source"] != "deskify" {
		t.Errorf("payload not merged: %+v", hook.bodies[0])
	}

	hook.status = 500
	if _, err := x.Execute(context.Background(), []ActionSpec{
		{"type": ActWebhook, "url": "https://example.com/hook"},
	}, tkt); err == nil {
		t.Error("non-2xx status should fail the action")
	}

	hook.status = 0
	hook.err = fmt.Errorf("connection refused")
	if _, err := x.Execute(context.Background(), []ActionSpec{
		{"type": ActWebhook, "url": "https://example.com/hook"},
	}, tkt); err == nil {
		t.Error("transport error should fail the action")
	}
}

func TestScheduleFollowUpProducesEffect(t *testing.T) {
	x := newTestExecutor(nil, nil)
	tkt := testTicket()

	effects, err := x.Execute(context.Background(), []ActionSpec{
		{"type": ActScheduleFollowUp, "delay_minutes": float64(45), "note": "check back"},
	}, tkt)
	if err != nil {
		t.Fatalf("schedule_followup failed: %v", err)
	}
	fu, ok := effects[0].(FollowUpEffect)
	if !ok || fu.DelayMinutes != 45 || fu.Note != "check back" {
		t.Errorf("unexpected follow-up effect: %+v", effects[0])
	}

	if _, err := x.Execute(context.Background(), []ActionSpec{
		{"type": ActScheduleFollowUp},
	}, tkt); err == nil {
		t.Error("missing delay should fail")
	}
}

func TestEffectsFromSucceededActionsSurviveLaterFailure(t *testing.T) {
	x := newTestExecutor(nil, nil)
	tkt := testTicket()

	effects, err := x.Execute(context.Background(), []ActionSpec{
		{"type": ActNotify, "recipient": RecipientAssignee, "message": "done"},
		{"type": "summon_wizard"},
	}, tkt)
	if err == nil {
		t.Fatal("second action should fail the list")
	}
	if len(effects) != 1 {
		t.Errorf("effects = %d, want the notify effect from the succeeded action", len(effects))
	}
}
