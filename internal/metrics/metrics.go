// Package metrics computes the live wait and service averages shown on
// staff dashboards. Aggregates are recomputed from whatever window of
// appointments the caller loaded; they never affect queue state.
package metrics

import (
	"math"
	"time"

	"cityhall/appointment-service/internal/models"
)

type Averages struct {
	AvgWaitMinutes    int `json:"avg_wait_minutes"`
	AvgServiceMinutes int `json:"avg_service_minutes"`
	WaitSamples       int `json:"wait_samples"`
	ServiceSamples    int `json:"service_samples"`
}

// Compute averages over the loaded appointments. Wait time spans
// check-in to serving start; service time spans serving start to
// completion. Only rows with both endpoints contribute, and results are
// rounded to whole minutes.
func Compute(appointments []models.Appointment) Averages {
	var waitTotal, serviceTotal time.Duration
	var result Averages

	for _, appt := range appointments {
		if appt.CheckedInAt != nil && appt.ServingStartedAt != nil {
			waitTotal += appt.ServingStartedAt.Sub(*appt.CheckedInAt)
			result.WaitSamples++
		}
		if appt.ServingStartedAt != nil && appt.CompletedAt != nil {
			serviceTotal += appt.CompletedAt.Sub(*appt.ServingStartedAt)
			result.ServiceSamples++
		}
	}

	if result.WaitSamples > 0 {
		result.AvgWaitMinutes = roundMinutes(waitTotal, result.WaitSamples)
	}
	if result.ServiceSamples > 0 {
		result.AvgServiceMinutes = roundMinutes(serviceTotal, result.ServiceSamples)
	}
	return result
}

func roundMinutes(total time.Duration, samples int) int {
	mean := total.Minutes() / float64(samples)
	return int(math.Round(mean))
}
