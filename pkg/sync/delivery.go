package sync

import (
	"fmt"

	"convsync/pkg/models"
)

// Legal delivery transitions. failed runs parallel to the main chain and
// is reachable only from sending; a retry re-enters sending.
var transitions = map[models.DeliveryStatus][]models.DeliveryStatus{
	models.StatusComposing: {models.StatusSending},
	models.StatusSending:   {models.StatusSent, models.StatusDelivered, models.StatusFailed},
	models.StatusSent:      {models.StatusDelivered, models.StatusRead},
	models.StatusDelivered: {models.StatusRead},
	models.StatusFailed:    {models.StatusSending},
}

// CanTransition reports whether a delivery status change is legal. The
// sending→delivered shortcut covers the echo winning the race against the
// write acknowledgement.
func CanTransition(from, to models.DeliveryStatus) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates and returns the new status.
func Transition(from, to models.DeliveryStatus) (models.DeliveryStatus, error) {
	if !CanTransition(from, to) {
		return from, fmt.Errorf("illegal delivery transition %s -> %s", from, to)
	}
	return to, nil
}
