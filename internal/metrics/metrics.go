package metrics

import (
	"sync"
	"sync/atomic"
)

// rateLimitStats holds counters for rate limit drops (HTTP 429).
// Safe for concurrent use from middlewares and the exposition handler.
type rateLimitStats struct {
	total    uint64
	mu       sync.Mutex
	byPrefix map[string]uint64
}

var rl rateLimitStats

// IncRateLimitDrop increments drop counters for the given prefix.
// Use prefix "global" for global limiter rejections.
func IncRateLimitDrop(prefix string) {
	if prefix == "" {
		prefix = "global"
	}
	atomic.AddUint64(&rl.total, 1)
	rl.mu.Lock()
	if rl.byPrefix == nil {
		rl.byPrefix = make(map[string]uint64)
	}
	rl.byPrefix[prefix]++
	rl.mu.Unlock()
}

// RateLimitSnapshot returns a copy of the current counters.
func RateLimitSnapshot() (total uint64, by map[string]uint64) {
	total = atomic.LoadUint64(&rl.total)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	by = make(map[string]uint64, len(rl.byPrefix))
	for k, v := range rl.byPrefix {
		by[k] = v
	}
	return total, by
}

// automationStats counts rule engine activity. Plain counters use atomics;
// the per-trigger and per-effect-kind maps take the mutex.
type automationStats struct {
	evaluated   uint64
	matched     uint64
	failed      uint64
	actions     uint64
	webhookOK   uint64
	webhookFail uint64
	mu          sync.Mutex
	byTrigger   map[string]uint64
	effects     map[string]uint64
}

var auto automationStats

// AutomationCounters is a point-in-time copy of the automation counters.
type AutomationCounters struct {
	RulesEvaluated  uint64
	RulesMatched    uint64
	RulesFailed     uint64
	ActionsExecuted uint64
	WebhooksOK      uint64
	WebhooksFailed  uint64
	ByTrigger       map[string]uint64
	EffectsByKind   map[string]uint64
}

// IncRuleEvaluated counts one rule run for the given trigger.
func IncRuleEvaluated(trigger string) {
	atomic.AddUint64(&auto.evaluated, 1)
	auto.mu.Lock()
	if auto.byTrigger == nil {
		auto.byTrigger = make(map[string]uint64)
	}
	auto.byTrigger[trigger]++
	auto.mu.Unlock()
}

// IncRuleMatched counts a rule whose conditions held.
func IncRuleMatched() {
	atomic.AddUint64(&auto.matched, 1)
}

// IncRuleFailed counts a rule whose action list reported a failure.
func IncRuleFailed() {
	atomic.AddUint64(&auto.failed, 1)
}

// AddActionsExecuted counts successfully executed actions.
func AddActionsExecuted(n int) {
	if n <= 0 {
		return
	}
	atomic.AddUint64(&auto.actions, uint64(n))
}

// IncEffectDelivered counts one delivered side effect by kind.
func IncEffectDelivered(kind string) {
	auto.mu.Lock()
	if auto.effects == nil {
		auto.effects = make(map[string]uint64)
	}
	auto.effects[kind]++
	auto.mu.Unlock()
}

// IncWebhookCall counts an outbound webhook attempt by outcome.
func IncWebhookCall(ok bool) {
	if ok {
		atomic.AddUint64(&auto.webhookOK, 1)
	} else {
		atomic.AddUint64(&auto.webhookFail, 1)
	}
}

// AutomationSnapshot returns a copy of the current automation counters.
func AutomationSnapshot() AutomationCounters {
	out := AutomationCounters{
		RulesEvaluated:  atomic.LoadUint64(&auto.evaluated),
		RulesMatched:    atomic.LoadUint64(&auto.matched),
		RulesFailed:     atomic.LoadUint64(&auto.failed),
		ActionsExecuted: atomic.LoadUint64(&auto.actions),
		WebhooksOK:      atomic.LoadUint64(&auto.webhookOK),
		WebhooksFailed:  atomic.LoadUint64(&auto.webhookFail),
	}
	auto.mu.Lock()
	defer auto.mu.Unlock()
	out.ByTrigger = make(map[string]uint64, len(auto.byTrigger))
	for k, v := range auto.byTrigger {
		out.ByTrigger[k] = v
	}
	out.EffectsByKind = make(map[string]uint64, len(auto.effects))
	for k, v := range auto.effects {
		out.EffectsByKind[k] = v
	}
	return out
}
