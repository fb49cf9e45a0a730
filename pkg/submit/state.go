package submit

import "fmt"

// State is the stage a submission has reached.
//
//	Built → Signed → Submitted → Confirmed
//	                           ↘ Rejected
//	                           ↘ TimedOut
//
// A transaction failing preflight simulation goes from Submitted straight to
// Rejected.
type State int

const (
	StateBuilt State = iota
	StateSigned
	StateSubmitted
	StateConfirmed
	StateRejected
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateBuilt:
		return "built"
	case StateSigned:
		return "signed"
	case StateSubmitted:
		return "submitted"
	case StateConfirmed:
		return "confirmed"
	case StateRejected:
		return "rejected"
	case StateTimedOut:
		return "timed_out"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// Terminal reports whether no further transitions follow s.
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateRejected || s == StateTimedOut
}
