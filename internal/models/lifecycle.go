package models

// 工单状态
const (
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusOnHold     = "on_hold"
	StatusResolved   = "resolved"
	StatusClosed     = "closed"
)

// 工单优先级
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// 工单类型
const (
	TypeQuestion = "question"
	TypeIncident = "incident"
	TypeProblem  = "problem"
	TypeTask     = "task"
)

// statusTransitions 定义合法的状态流转，closed 为终态。
var statusTransitions = map[string][]string{
	StatusOpen:       {StatusInProgress, StatusOnHold, StatusResolved, StatusClosed},
	StatusInProgress: {StatusOpen, StatusOnHold, StatusResolved, StatusClosed},
	StatusOnHold:     {StatusOpen, StatusInProgress, StatusResolved, StatusClosed},
	StatusResolved:   {StatusOpen, StatusClosed},
	StatusClosed:     {},
}

var priorityRank = map[string]int{
	PriorityLow:    0,
	PriorityNormal: 1,
	PriorityHigh:   2,
	PriorityUrgent: 3,
}

var priorityByRank = []string{PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent}

// CanTransition 校验 from→to 是否为合法状态流转。
func CanTransition(from, to string) bool {
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidStatus 判断状态值是否合法。
func ValidStatus(s string) bool {
	_, ok := statusTransitions[s]
	return ok
}

// PriorityRank 返回优先级序号（low=0 < normal=1 < high=2 < urgent=3），未知优先级返回 -1。
func PriorityRank(p string) int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return -1
}

// PriorityByRank 返回序号对应的优先级，越界时夹取到边界值。
func PriorityByRank(rank int) string {
	if rank < 0 {
		rank = 0
	}
	if rank >= len(priorityByRank) {
		rank = len(priorityByRank) - 1
	}
	return priorityByRank[rank]
}

// ValidPriority 判断优先级值是否合法。
func ValidPriority(p string) bool {
	_, ok := priorityRank[p]
	return ok
}

// ValidTicketType 判断工单类型是否合法。
func ValidTicketType(t string) bool {
	switch t {
	case TypeQuestion, TypeIncident, TypeProblem, TypeTask:
		return true
	}
	return false
}

// TerminalStatus 判断状态是否为终态（不再允许流出）。
func TerminalStatus(s string) bool {
	next, ok := statusTransitions[s]
	return ok && len(next) == 0
}

// OpenStatuses 返回计入客服负载的未完结状态。
func OpenStatuses() []string {
	return []string{StatusOpen, StatusInProgress, StatusOnHold}
}
