package automation

// Notification recipient groups.
const (
	RecipientAssignee    = "assignee"
	RecipientOpener      = "opener"
	RecipientSubscribers = "subscribers"
)

// Effect is a side effect requested by an action. The executor accumulates
// effects instead of dispatching them itself; the host delivers them after
// the rule run, so delivery stays testable and under host control.
type Effect interface {
	Kind() string
}

// NotifyEffect asks the host to notify a recipient group about the ticket.
type NotifyEffect struct {
	Recipient string // assignee, opener, subscribers
	Subject   string
	Message   string
}

func (NotifyEffect) Kind() string { return "notify" }

// NoteEffect appends an internal (non-public) comment to the ticket.
type NoteEffect struct {
	Body string
}

func (NoteEffect) Kind() string { return "note" }

// EscalationEffect signals that the ticket was escalated.
type EscalationEffect struct {
	Level        int
	FromPriority string
	ToPriority   string
}

func (EscalationEffect) Kind() string { return "escalation" }

// FollowUpEffect schedules a delayed follow-up task for the ticket.
type FollowUpEffect struct {
	DelayMinutes int
	Note         string
}

func (FollowUpEffect) Kind() string { return "followup" }
