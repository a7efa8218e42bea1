package contracts

import (
	"time"

	"github.com/kioskops/kioskops/internal/audit"
	"github.com/kioskops/kioskops/internal/kiosks"
)

type transitionKey struct {
	from Status
	to   Status
}

// sideEffects describes what a legal transition does besides changing status.
type sideEffects struct {
	action      string
	description string
	kioskStatus kiosks.Status
	activate    bool
	terminate   bool
	render      bool
	notify      bool
}

// transitions is the complete table of legal contract status changes.
var transitions = map[transitionKey]sideEffects{
	{StatusDraft, StatusPending}: {
		action:      audit.ActionSubmitted,
		description: "Contract submitted for confirmation",
	},
	{StatusPending, StatusConfirmed}: {
		action:      audit.ActionConfirmed,
		description: "Contract confirmed by admin",
		render:      true,
	},
	{StatusConfirmed, StatusActive}: {
		action:      audit.ActionActivated,
		description: "Contract signed and activated",
		kioskStatus: kiosks.StatusOccupied,
		activate:    true,
		render:      true,
		notify:      true,
	},
	{StatusActive, StatusExpired}: {
		action:      audit.ActionExpired,
		description: "Contract expired",
		kioskStatus: kiosks.StatusAvailable,
	},
	{StatusActive, StatusTerminated}: {
		action:      audit.ActionTerminated,
		description: "Contract terminated",
		kioskStatus: kiosks.StatusAvailable,
		terminate:   true,
	},
	{StatusDraft, StatusCancelled}: {
		action:      audit.ActionCancelled,
		description: "Contract cancelled",
		kioskStatus: kiosks.StatusAvailable,
	},
	{StatusPending, StatusCancelled}: {
		action:      audit.ActionCancelled,
		description: "Contract cancelled",
		kioskStatus: kiosks.StatusAvailable,
	},
	{StatusConfirmed, StatusCancelled}: {
		action:      audit.ActionCancelled,
		description: "Contract cancelled",
		kioskStatus: kiosks.StatusAvailable,
	},
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to Status) bool {
	_, ok := transitions[transitionKey{from, to}]
	return ok
}

// NextStatuses lists the statuses reachable from s.
func NextStatuses(s Status) []Status {
	var out []Status
	for _, candidate := range []Status{
		StatusPending, StatusConfirmed, StatusActive, StatusExpired, StatusTerminated, StatusCancelled,
	} {
		if CanTransition(s, candidate) {
			out = append(out, candidate)
		}
	}
	return out
}

func effectsFor(from, to Status) (sideEffects, bool) {
	eff, ok := transitions[transitionKey{from, to}]
	return eff, ok
}

// AddMonths adds calendar months to t. When the target month is shorter the
// result is clamped to its last day, so Jan 31 + 1 month is Feb 28 (or 29).
func AddMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	firstOfTarget := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	lastDay := firstOfTarget.AddDate(0, 1, -1).Day()
	if d > lastDay {
		d = lastDay
	}
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}
