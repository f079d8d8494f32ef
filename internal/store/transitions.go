package store

import "cityhall/appointment-service/internal/models"

// transitionMap lists the statuses each staff action may start from.
// Anything absent is rejected; terminal statuses appear nowhere.
var transitionMap = map[string][]string{
	"check_in":   {models.StatusPending},
	"call":       {models.StatusCheckedIn},
	"complete":   {models.StatusServing},
	"no_show":    {models.StatusCheckedIn},
	"cancel":     {models.StatusPending},
	"transfer":   {models.StatusPending, models.StatusCheckedIn, models.StatusServing},
	"priority":   {models.StatusPending, models.StatusCheckedIn},
	"reschedule": {models.StatusPending},
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}

// AllowedFrom returns the statuses an action accepts, for error detail.
func AllowedFrom(action string) []string {
	return transitionMap[action]
}
