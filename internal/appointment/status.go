package appointment

import "fmt"

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusAppointed Status = "appointed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Actor is who asks for a transition.
type Actor string

const (
	ActorPatient Actor = "patient"
	ActorDoctor  Actor = "doctor"
	ActorAdmin   Actor = "admin"
	// ActorSystem is internal; only prescription issuance and settlement use it.
	ActorSystem Actor = "system"
)

type transition struct {
	from, to Status
}

// transitions is the whole lifecycle. Anything missing is illegal.
var transitions = map[transition]Actor{
	{StatusPending, StatusApproved}:    ActorDoctor,
	{StatusPending, StatusRejected}:    ActorDoctor,
	{StatusPending, StatusCancelled}:   ActorPatient,
	{StatusApproved, StatusAppointed}:  ActorDoctor,
	{StatusApproved, StatusCompleted}:  ActorSystem,
	{StatusAppointed, StatusCompleted}: ActorSystem,
}

// CheckTransition returns ErrInvalidTransition unless actor may move an
// appointment from one status to the other.
func CheckTransition(from, to Status, actor Actor) error {
	allowed, ok := transitions[transition{from, to}]
	if !ok || allowed != actor {
		return fmt.Errorf("%w: %s cannot move appointment from %s to %s", ErrInvalidTransition, actor, from, to)
	}
	return nil
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, s)
	}
	return st, nil
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusAppointed, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusCompleted || s == StatusCancelled
}

// HoldsSlot reports whether an appointment in this status occupies its slot.
func (s Status) HoldsSlot() bool {
	return s != StatusRejected && s != StatusCancelled
}
