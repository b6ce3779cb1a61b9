package models

import "time"

// AlertTypePredictive tags alerts emitted by the failure-prediction pipeline.
const AlertTypePredictive = "PREDICTIVE_MAINTENANCE"

// Alert is the structured output of the decision engine. Alerts are
// append-only; acknowledgment is the only permitted mutation.
type Alert struct {
	ID                string
	Timestamp         time.Time
	DeviceID          string
	AlertType         string
	Severity          int
	Message           string
	Probability       float64
	RecommendedAction string
	Acknowledged      bool
	AcknowledgedAt    time.Time
}

// Diagnosis is the heuristic enrichment attached to an alert: candidate
// causes, a single most-likely root cause, and required resources by name.
type Diagnosis struct {
	Causes    []string
	RootCause string
	Resources map[string]int
}

// DeviceTier is the displayed status band for a device.
type DeviceTier string

const (
	TierOperational DeviceTier = "operational"
	TierWarning     DeviceTier = "warning"
	TierCritical    DeviceTier = "critical"
)

// Device carries the metadata the diagnosis layer matches against.
type Device struct {
	ID       string
	Type     string
	Location string
	Status   DeviceTier
}
