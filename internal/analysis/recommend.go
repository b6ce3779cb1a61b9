package analysis

import (
	"fmt"
	"time"

	"github.com/maintwatch/pdm-engine/internal/models"
)

// Urgency bands for maintenance recommendations.
type Urgency string

const (
	UrgencyImmediate Urgency = "immediate"
	UrgencySoon      Urgency = "within_48h"
	UrgencyRoutine   Urgency = "routine"
)

// Recommendation is a maintenance action derived from rolling breach frequency.
type Recommendation struct {
	DeviceID        string
	Urgency         Urgency
	BreachFrequency float64
	Action          string
	GeneratedAt     time.Time
}

// Recommender turns breach history into maintenance recommendations.
// Frequency above 0.2 means immediate action, above 0.1 within 48 hours,
// anything else stays on the routine schedule.
type Recommender struct {
	immediateAbove float64
	soonAbove      float64
}

// NewRecommender creates a recommender with the default frequency bands.
func NewRecommender() *Recommender {
	return &Recommender{immediateAbove: 0.2, soonAbove: 0.1}
}

// Recommend evaluates one device's records from the lookback window.
func (r *Recommender) Recommend(deviceID string, records []models.TelemetryRecord, now time.Time) Recommendation {
	rec := Recommendation{
		DeviceID:    deviceID,
		Urgency:     UrgencyRoutine,
		Action:      "Continue scheduled maintenance",
		GeneratedAt: now,
	}

	total := 0
	breaches := 0
	for _, row := range records {
		if row.DeviceID != deviceID {
			continue
		}
		total++
		if row.ThresholdBreach {
			breaches++
		}
	}
	if total == 0 {
		return rec
	}

	rec.BreachFrequency = float64(breaches) / float64(total)
	switch {
	case rec.BreachFrequency > r.immediateAbove:
		rec.Urgency = UrgencyImmediate
		rec.Action = fmt.Sprintf("Dispatch technician to %s immediately", deviceID)
	case rec.BreachFrequency > r.soonAbove:
		rec.Urgency = UrgencySoon
		rec.Action = fmt.Sprintf("Schedule maintenance for %s within 48 hours", deviceID)
	}
	return rec
}
