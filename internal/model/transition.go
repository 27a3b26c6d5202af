package model

// transitions is the lifecycle graph. Expired is derived from time and never
// entered by a transition.
var transitions = map[Status][]Status{
	StatusDraft:   {StatusPending},
	StatusPending: {StatusSigned, StatusCancelled},
	StatusSigned:  {StatusActive, StatusCancelled},
	StatusActive:  {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether the graph has an edge from -> to.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// NextStatus returns the status an agreement holds after action succeeds.
// Actions that leave the primary status alone (pay_deposit, dispute, and a
// first signature) return the current status.
func NextStatus(a *Agreement, action Action) Status {
	switch action {
	case ActionSign:
		if a.FullySigned() {
			return StatusSigned
		}
	case ActionDeploy:
		return StatusActive
	case ActionComplete:
		return StatusCompleted
	case ActionCancel:
		return StatusCancelled
	}
	return a.Status
}

// rank orders statuses along draft -> pending -> signed -> active.
// Completed ranks with active; cancelled and expired have no rank.
func (s Status) rank() int {
	switch s {
	case StatusDraft:
		return 0
	case StatusPending:
		return 1
	case StatusSigned:
		return 2
	case StatusActive, StatusCompleted:
		return 3
	}
	return -1
}

// ReachedActive reports whether the agreement has been activated on the
// ledger at some point, judged by its status and ledger reference.
func (a *Agreement) ReachedActive() bool {
	if a.Status == StatusCancelled {
		return a.LedgerAddress != ""
	}
	return a.Status.rank() >= StatusActive.rank()
}
