package appointment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckTransitionTable(t *testing.T) {
	allowed := []struct {
		from, to Status
		actor    Actor
	}{
		{StatusPending, StatusApproved, ActorDoctor},
		{StatusPending, StatusRejected, ActorDoctor},
		{StatusPending, StatusCancelled, ActorPatient},
		{StatusApproved, StatusAppointed, ActorDoctor},
		{StatusApproved, StatusCompleted, ActorSystem},
		{StatusAppointed, StatusCompleted, ActorSystem},
	}
	for _, tt := range allowed {
		assert.NoError(t, CheckTransition(tt.from, tt.to, tt.actor), "%s -> %s by %s", tt.from, tt.to, tt.actor)
	}

	denied := []struct {
		from, to Status
		actor    Actor
	}{
		{StatusPending, StatusCompleted, ActorSystem},
		{StatusPending, StatusCompleted, ActorDoctor},
		{StatusPending, StatusApproved, ActorPatient},
		{StatusApproved, StatusCancelled, ActorPatient},
		{StatusApproved, StatusCompleted, ActorDoctor},
		{StatusPending, StatusAppointed, ActorDoctor},
		{StatusCompleted, StatusPending, ActorAdmin},
		{StatusRejected, StatusApproved, ActorDoctor},
		{StatusCancelled, StatusPending, ActorPatient},
		{StatusPending, StatusCancelled, ActorDoctor},
	}
	for _, tt := range denied {
		assert.ErrorIs(t, CheckTransition(tt.from, tt.to, tt.actor), ErrInvalidTransition, "%s -> %s by %s", tt.from, tt.to, tt.actor)
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	for tr := range transitions {
		assert.False(t, tr.from.Terminal(), "terminal status %s has an outgoing transition", tr.from)
	}
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("approved")
	assert.NoError(t, err)
	assert.Equal(t, StatusApproved, st)

	_, err = ParseStatus("confirmed")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestHoldsSlot(t *testing.T) {
	assert.True(t, StatusPending.HoldsSlot())
	assert.True(t, StatusCompleted.HoldsSlot())
	assert.False(t, StatusRejected.HoldsSlot())
	assert.False(t, StatusCancelled.HoldsSlot())
}
