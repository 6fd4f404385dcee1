package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"deskify/internal/models"
)

// TeamDirectory resolves team membership and workload for assignment
// actions. Members must return user ids in a stable order so the round-robin
// cursor walks the same ring on every call.
type TeamDirectory interface {
	Members(ctx context.Context, teamID uint) ([]uint, error)
	LeastBusy(ctx context.Context, teamID uint) (uint, error)
}

// TransitionValidator decides whether a status move is legal.
type TransitionValidator func(from, to string) bool

// WebhookCaller performs the webhook action's outbound HTTP call and returns
// the response status code. Timeout policy belongs to the implementation.
type WebhookCaller interface {
	Call(ctx context.Context, method, url string, payload map[string]any) (int, error)
}

// ActionHandler applies one action spec to the ticket. Returned effects are
// delivered by the host after the rule run; a non-nil error fails the action
// and stops the list.
type ActionHandler func(ctx context.Context, spec ActionSpec, t *TicketState) ([]Effect, error)

// Executor runs action lists in order, stopping at the first failure.
// Mutations applied before a failure stay applied; there is no rollback.
type Executor struct {
	handlers      map[string]ActionHandler
	teams         TeamDirectory
	cursors       CursorStore
	canTransition TransitionValidator
	webhooks      WebhookCaller
	logger        *logrus.Logger
	now           func() time.Time
}

// NewExecutor builds an executor with the built-in action set. A nil
// validator falls back to the default ticket status machine; teams, cursors
// and webhooks may be nil when the corresponding actions are unused.
func NewExecutor(teams TeamDirectory, cursors CursorStore, validate TransitionValidator, webhooks WebhookCaller, logger *logrus.Logger) *Executor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if validate == nil {
		validate = models.CanTransition
	}
	x := &Executor{
		handlers:      make(map[string]ActionHandler),
		teams:         teams,
		cursors:       cursors,
		canTransition: validate,
		webhooks:      webhooks,
		logger:        logger,
		now:           time.Now,
	}
	x.registerBuiltins()
	return x
}

// Register adds or replaces an action handler. Hosts may register their own
// action types alongside the built-ins.
func (x *Executor) Register(name string, fn ActionHandler) {
	x.handlers[name] = fn
}

// Registered reports whether an action type is known.
func (x *Executor) Registered(name string) bool {
	_, ok := x.handlers[name]
	return ok
}

// Execute applies the actions in list order. The first failing action stops
// the list and the error names the action; effects collected from succeeded
// actions are still returned so the host can deliver them. Panics inside a
// handler are recovered and reported as that action failing.
func (x *Executor) Execute(ctx context.Context, actions []ActionSpec, t *TicketState) ([]Effect, error) {
	var effects []Effect
	for i, spec := range actions {
		stepEffects, err := x.runAction(ctx, spec, t)
		if err != nil {
			x.logger.Warnf("automation: action %d (%s) on ticket %d failed: %v", i+1, spec.Type(), t.ID, err)
			return effects, fmt.Errorf("action %d (%s): %w", i+1, spec.Type(), err)
		}
		effects = append(effects, stepEffects...)
	}
	return effects, nil
}

func (x *Executor) runAction(ctx context.Context, spec ActionSpec, t *TicketState) (effects []Effect, err error) {
	defer func() {
		if r := recover(); r != nil {
			effects = nil
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	handler, ok := x.handlers[spec.Type()]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnregisteredAction, spec.Type())
	}
	return handler(ctx, spec, t)
}
