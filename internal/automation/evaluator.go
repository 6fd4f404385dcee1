package automation

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Comparison operators shared by predicate leaves.
const (
	OpEquals         = "equals"
	OpNotEquals      = "not_equals"
	OpGreaterThan    = "greater_than"
	OpLessThan       = "less_than"
	OpGreaterOrEqual = "greater_or_equal"
	OpLessOrEqual    = "less_or_equal"
	OpContains       = "contains"
	OpNotContains    = "not_contains"
	OpEmpty          = "empty"
	OpNotEmpty       = "not_empty"
)

// Tag match modes for has_tags.
const (
	MatchAny  = "any"
	MatchAll  = "all"
	MatchNone = "none"
)

// PredicateFunc evaluates one condition leaf against the ticket facts.
// Predicates are pure: they read facts, never mutate the ticket.
type PredicateFunc func(ctx context.Context, spec ConditionSpec, f *Facts) bool

// Evaluator dispatches condition leaves to registered predicates and folds
// them through the and/or tree. A zero-value tree never matches; an empty
// tree always does.
type Evaluator struct {
	predicates map[string]PredicateFunc
	logger     *logrus.Logger
}

// NewEvaluator builds an evaluator with the built-in predicate set.
func NewEvaluator(logger *logrus.Logger) *Evaluator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	e := &Evaluator{
		predicates: make(map[string]PredicateFunc),
		logger:     logger,
	}
	e.registerBuiltins()
	return e
}

// Register adds or replaces a predicate. Hosts may register their own leaf
// types alongside the built-ins.
func (e *Evaluator) Register(name string, fn PredicateFunc) {
	e.predicates[name] = fn
}

// Registered reports whether a predicate type is known.
func (e *Evaluator) Registered(name string) bool {
	_, ok := e.predicates[name]
	return ok
}

// Evaluate folds the condition tree over the ticket facts. An empty or nil
// tree matches vacuously; an unknown operator never matches. "and"
// short-circuits on the first false leaf, "or" on the first true one.
func (e *Evaluator) Evaluate(ctx context.Context, tree *ConditionTree, f *Facts) bool {
	if tree.Empty() {
		return true
	}
	switch tree.Operator {
	case OperatorAnd:
		for _, rule := range tree.Rules {
			if !e.evalNode(ctx, rule, f) {
				return false
			}
		}
		return true
	case OperatorOr:
		for _, rule := range tree.Rules {
			if e.evalNode(ctx, rule, f) {
				return true
			}
		}
		return false
	default:
		e.logger.Warnf("automation: unknown condition operator %q", tree.Operator)
		return false
	}
}

// evalNode evaluates one tree entry: a nested group recurses, a leaf
// dispatches on its type. Unregistered types fail the leaf.
func (e *Evaluator) evalNode(ctx context.Context, spec ConditionSpec, f *Facts) bool {
	if sub := spec.Subtree(); sub != nil {
		return e.Evaluate(ctx, sub, f)
	}
	typ := spec.Type()
	pred, ok := e.predicates[typ]
	if !ok {
		e.logger.Warnf("automation: unregistered condition type %q", typ)
		return false
	}
	return pred(ctx, spec, f)
}

// compareNumeric applies one of the four relational operators. Any other
// operator fails the comparison.
func compareNumeric(op string, lhs, rhs float64) bool {
	switch op {
	case OpGreaterThan:
		return lhs > rhs
	case OpLessThan:
		return lhs < rhs
	case OpGreaterOrEqual:
		return lhs >= rhs
	case OpLessOrEqual:
		return lhs <= rhs
	}
	return false
}
