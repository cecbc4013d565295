package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convsync/pkg/models"
)

func TestDeliveryTransitions(t *testing.T) {
	cases := []struct {
		from, to models.DeliveryStatus
		ok       bool
	}{
		{models.StatusComposing, models.StatusSending, true},
		{models.StatusSending, models.StatusSent, true},
		{models.StatusSending, models.StatusFailed, true},
		// Echo can win the race against the write acknowledgement.
		{models.StatusSending, models.StatusDelivered, true},
		{models.StatusSent, models.StatusDelivered, true},
		{models.StatusSent, models.StatusRead, true},
		{models.StatusDelivered, models.StatusRead, true},
		{models.StatusFailed, models.StatusSending, true},

		{models.StatusComposing, models.StatusSent, false},
		{models.StatusSent, models.StatusSending, false},
		{models.StatusSent, models.StatusFailed, false},
		{models.StatusDelivered, models.StatusSending, false},
		{models.StatusDelivered, models.StatusFailed, false},
		{models.StatusRead, models.StatusDelivered, false},
		{models.StatusRead, models.StatusFailed, false},
		{models.StatusFailed, models.StatusSent, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestSelfTransitionIsLegal(t *testing.T) {
	for _, st := range []models.DeliveryStatus{
		models.StatusComposing, models.StatusSending, models.StatusSent,
		models.StatusDelivered, models.StatusRead, models.StatusFailed,
	} {
		assert.True(t, CanTransition(st, st), "%s -> %s", st, st)
	}
}

func TestTransitionReturnsErrorAndKeepsState(t *testing.T) {
	got, err := Transition(models.StatusRead, models.StatusSending)
	require.Error(t, err)
	assert.Equal(t, models.StatusRead, got)

	got, err = Transition(models.StatusFailed, models.StatusSending)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSending, got)
}
