package domain

import "strings"

type Status string

const (
	StatusBooked    Status = "booked"
	StatusCompleted Status = "completed"
	StatusCanceled  Status = "canceled"
	StatusNoShow    Status = "no-show"
)

// transitions lists the targets reachable from each status. no-show is terminal.
var transitions = map[Status]map[Status]struct{}{
	StatusBooked: {
		StatusCompleted: {},
		StatusCanceled:  {},
		StatusNoShow:    {},
	},
	StatusCompleted: {
		StatusBooked: {},
	},
	StatusCanceled: {
		StatusBooked: {},
	},
	StatusNoShow: {},
}

func (s Status) String() string {
	return string(s)
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// ParseStatus normalizes the spellings older backend versions emit.
func ParseStatus(raw string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "booked", "scheduled", "confirmed":
		return StatusBooked, true
	case "completed", "done":
		return StatusCompleted, true
	case "canceled", "cancelled":
		return StatusCanceled, true
	case "no-show", "no_show", "noshow":
		return StatusNoShow, true
	default:
		return "", false
	}
}

func CanTransition(from, to Status) bool {
	targets, ok := transitions[from]
	if !ok {
		return false
	}
	_, ok = targets[to]
	return ok
}

// AllowedTransitions returns the targets reachable from s in a stable order.
func AllowedTransitions(s Status) []Status {
	order := []Status{StatusBooked, StatusCompleted, StatusCanceled, StatusNoShow}
	out := make([]Status, 0, len(order))
	for _, t := range order {
		if CanTransition(s, t) {
			out = append(out, t)
		}
	}
	return out
}
