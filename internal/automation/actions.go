package automation

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"deskify/internal/models"
)

// Built-in action types.
const (
	ActAssignUser       = "assign_user"
	ActAssignTeam       = "assign_team"
	ActChangeStatus     = "change_status"
	ActChangePriority   = "change_priority"
	ActAddTags          = "add_tags"
	ActRemoveTags       = "remove_tags"
	ActAddCategory      = "add_category"
	ActNotify           = "notify"
	ActAddNote          = "add_note"
	ActEscalate         = "escalate"
	ActAdjustSLA        = "adjust_sla"
	ActSetMetadata      = "set_metadata"
	ActWebhook          = "webhook"
	ActScheduleFollowUp = "schedule_followup"
)

// Team assignment strategies.
const (
	StrategyLeastBusy  = "least_busy"
	StrategyRoundRobin = "round_robin"
	StrategyRandom     = "random"
)

func (x *Executor) registerBuiltins() {
	x.Register(ActAssignUser, x.actAssignUser)
	x.Register(ActAssignTeam, x.actAssignTeam)
	x.Register(ActChangeStatus, x.actChangeStatus)
	x.Register(ActChangePriority, x.actChangePriority)
	x.Register(ActAddTags, x.actAddTags)
	x.Register(ActRemoveTags, x.actRemoveTags)
	x.Register(ActAddCategory, x.actAddCategory)
	x.Register(ActNotify, x.actNotify)
	x.Register(ActAddNote, x.actAddNote)
	x.Register(ActEscalate, x.actEscalate)
	x.Register(ActAdjustSLA, x.actAdjustSLA)
	x.Register(ActSetMetadata, x.actSetMetadata)
	x.Register(ActWebhook, x.actWebhook)
	x.Register(ActScheduleFollowUp, x.actScheduleFollowUp)
}

func (x *Executor) actAssignUser(_ context.Context, spec ActionSpec, t *TicketState) ([]Effect, error) {
	userID, ok := spec.Uint("user_id")
	if !ok || userID == 0 {
		return nil, fmt.Errorf("assign_user requires user_id")
	}
	t.AssigneeID = &userID
	return nil, nil
}

// actAssignTeam sets the team and picks a member by strategy. The default
// strategy is least_busy.
func (x *Executor) actAssignTeam(ctx context.Context, spec ActionSpec, t *TicketState) ([]Effect, error) {
	teamID, ok := spec.Uint("team_id")
	if !ok || teamID == 0 {
		return nil, fmt.Errorf("assign_team requires team_id")
	}
	if x.teams == nil {
		return nil, fmt.Errorf("team directory not configured")
	}
	strategy := spec.String("strategy")
	if strategy == "" {
		strategy = StrategyLeastBusy
	}

	var userID uint
	switch strategy {
	case StrategyLeastBusy:
		id, err := x.teams.LeastBusy(ctx, teamID)
		if err != nil {
			return nil, fmt.Errorf("least_busy pick for team %d: %w", teamID, err)
		}
		userID = id
	case StrategyRoundRobin:
		if x.cursors == nil {
			return nil, fmt.Errorf("cursor store not configured")
		}
		members, err := x.teams.Members(ctx, teamID)
		if err != nil {
			return nil, fmt.Errorf("load members of team %d: %w", teamID, err)
		}
		if len(members) == 0 {
			return nil, ErrEmptyRing
		}
		idx, err := x.cursors.Next(ctx, fmt.Sprintf("team:%d", teamID), len(members))
		if err != nil {
			return nil, fmt.Errorf("advance cursor for team %d: %w", teamID, err)
		}
		userID = members[idx]
	case StrategyRandom:
		members, err := x.teams.Members(ctx, teamID)
		if err != nil {
			return nil, fmt.Errorf("load members of team %d: %w", teamID, err)
		}
		if len(members) == 0 {
			return nil, ErrEmptyRing
		}
		userID = members[rand.Intn(len(members))]
	default:
		return nil, fmt.Errorf("unknown assignment strategy %q", strategy)
	}

	t.TeamID = &teamID
	t.AssigneeID = &userID
	return nil, nil
}

// actChangeStatus validates the move against the status machine. An illegal
// target fails the action, it is not fatal to the host.
func (x *Executor) actChangeStatus(_ context.Context, spec ActionSpec, t *TicketState) ([]Effect, error) {
	to := spec.String("status")
	if to == "" {
		return nil, fmt.Errorf("change_status requires status")
	}
	if !x.canTransition(t.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
	}
	t.Status = to
	return nil, nil
}

func (x *Executor) actChangePriority(_ context.Context, spec ActionSpec, t *TicketState) ([]Effect, error) {
	priority := spec.String("priority")
	if !models.ValidPriority(priority) {
		return nil, fmt.Errorf("change_priority: unknown priority %q", priority)
	}
	t.Priority = priority
	return nil, nil
}

func (x *Executor) actAddTags(_ context.Context, spec ActionSpec, t *TicketState) ([]Effect, error) {
	tags := spec.Strings("tags")
	if len(tags) == 0 {
		return nil, fmt.Errorf("add_tags requires tags")
	}
	t.AddTags(tags)
	return nil, nil
}

func (x *Executor) actRemoveTags(_ context.Context, spec ActionSpec, t *TicketState) ([]Effect, error) {
	tags := spec.Strings("tags")
	if len(tags) == 0 {
		return nil, fmt.Errorf("remove_tags requires tags")
	}
	t.RemoveTags(tags)
	return nil, nil
}

func (x *Executor) actAddCategory(_ context.Context, spec ActionSpec, t *TicketState) ([]Effect, error) {
	categoryID, ok := spec.Uint("category_id")
	if !ok || categoryID == 0 {
		return nil, fmt.Errorf("add_category requires category_id")
	}
	t.AddCategory(categoryID)
	return nil, nil
}

func (x *Executor) actNotify(_ context.Context, spec ActionSpec, t *TicketState) ([]Effect, error) {
	recipient := spec.String("recipient")
	switch recipient {
	case RecipientAssignee, RecipientOpener, RecipientSubscribers:
	default:
		return nil, fmt.Errorf("notify: unknown recipient %q", recipient)
	}
	return []Effect{NotifyEffect{
		Recipient: recipient,
		Subject:   spec.String("subject"),
		Message:   spec.String("message"),
	}}, nil
}

func (x *Executor) actAddNote(_ context.Context, spec ActionSpec, t *TicketState) ([]Effect, error) {
	body := spec.String("body")
	if strings.TrimSpace(body) == "" {
		return nil, fmt.Errorf("add_note requires body")
	}
	return []Effect{NoteEffect{Body: body}}, nil
}

// actEscalate bumps the priority toward urgent by the given level, optionally
// reassigns, and stamps escalation metadata. An already-urgent ticket stays
// urgent and still records the escalation.
func (x *Executor) actEscalate(_ context.Context, spec ActionSpec, t *TicketState) ([]Effect, error) {
	rank := models.PriorityRank(t.Priority)
	if rank < 0 {
		return nil, fmt.Errorf("escalate: ticket has unknown priority %q", t.Priority)
	}
	level := 1
	if n, ok := spec.Number("level"); ok && n > 0 {
		level = int(n)
	}
	from := t.Priority
	t.Priority = models.PriorityByRank(rank + level)

	if assignTo, ok := spec.Uint("assign_to"); ok && assignTo != 0 {
		t.AssigneeID = &assignTo
	}
	t.SetMetadata("escalation_level", level)
	t.SetMetadata("escalated_at", x.now().UTC().Format(time.RFC3339))

	return []Effect{EscalationEffect{
		Level:        level,
		FromPriority: from,
		ToPriority:   t.Priority,
	}}, nil
}

// actAdjustSLA rewrites the due timestamps as offsets from the opened time.
func (x *Executor) actAdjustSLA(_ context.Context, spec ActionSpec, t *TicketState) ([]Effect, error) {
	firstResponse, frOK := spec.Number("first_response_mins")
	resolution, resOK := spec.Number("resolution_mins")
	if !frOK && !resOK {
		return nil, fmt.Errorf("adjust_sla requires first_response_mins or resolution_mins")
	}
	if frOK {
		due := t.OpenedAt.Add(time.Duration(firstResponse) * time.Minute)
		t.FirstResponseDueAt = &due
	}
	if resOK {
		due := t.OpenedAt.Add(time.Duration(resolution) * time.Minute)
		t.ResolutionDueAt = &due
	}
	return nil, nil
}

func (x *Executor) actSetMetadata(_ context.Context, spec ActionSpec, t *TicketState) ([]Effect, error) {
	field := spec.String("field")
	if field == "" {
		return nil, fmt.Errorf("set_metadata requires field")
	}
	t.SetMetadata(field, spec["value"])
	return nil, nil
}

// actWebhook calls out synchronously; a transport error or a non-2xx status
// fails the action.
func (x *Executor) actWebhook(ctx context.Context, spec ActionSpec, t *TicketState) ([]Effect, error) {
	url := spec.String("url")
	if url == "" {
		return nil, fmt.Errorf("webhook requires url")
	}
	if x.webhooks == nil {
		return nil, fmt.Errorf("webhook caller not configured")
	}
	method := strings.ToUpper(spec.String("method"))
	if method == "" {
		method = "POST"
	}

	payload := map[string]any{
		"event":     "ticket.automation",
		"ticket_id": t.ID,
		"type":      t.Type,
		"status":    t.Status,
		"priority":  t.Priority,
	}
	for k, v := range spec.Map("payload") {
		payload[k] = v
	}

	status, err := x.webhooks.Call(ctx, method, url, payload)
	if err != nil {
		return nil, fmt.Errorf("webhook %s %s: %w", method, url, err)
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("webhook %s %s returned status %d", method, url, status)
	}
	return nil, nil
}

func (x *Executor) actScheduleFollowUp(_ context.Context, spec ActionSpec, t *TicketState) ([]Effect, error) {
	delay, ok := spec.Number("delay_minutes")
	if !ok || delay <= 0 {
		return nil, fmt.Errorf("schedule_followup requires a positive delay_minutes")
	}
	return []Effect{FollowUpEffect{
		DelayMinutes: int(delay),
		Note:         spec.String("note"),
	}}, nil
}
