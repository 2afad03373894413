package appointments

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusBooked     Status = "booked"
	StatusConfirmed  Status = "confirmed"
	StatusCheckedIn  Status = "checked_in"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no_show"
)

// transitions is the authoritative edge set. Anything absent here is an
// invalid transition regardless of who asks.
var transitions = map[Status][]Status{
	StatusBooked:     {StatusConfirmed, StatusCheckedIn, StatusCancelled, StatusNoShow},
	StatusConfirmed:  {StatusCheckedIn, StatusInProgress, StatusCancelled, StatusNoShow},
	StatusCheckedIn:  {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
	StatusCompleted:  {},
	StatusCancelled:  {},
	StatusNoShow:     {},
}

// CanTransition reports whether from → to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions.
func IsTerminal(s Status) bool {
	return len(transitions[s]) == 0
}

// allowedSources returns every status a transition to `to` may start from.
// Compare-and-set updates pass this as the guard set.
func allowedSources(to Status) []Status {
	var out []Status
	for from, nexts := range transitions {
		for _, next := range nexts {
			if next == to {
				out = append(out, from)
				break
			}
		}
	}
	return out
}

// preVisitStatuses are the states in which the visit has not started.
// Check-in, no-show marking and guest reschedule all operate on this class.
var preVisitStatuses = []Status{StatusBooked, StatusConfirmed}

func isPreVisit(s Status) bool {
	return s == StatusBooked || s == StatusConfirmed
}

// nonTerminalStatuses is the guard set for cancellation.
var nonTerminalStatuses = []Status{StatusBooked, StatusConfirmed, StatusCheckedIn, StatusInProgress}
