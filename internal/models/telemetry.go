package models

import (
	"fmt"
	"math"
	"time"
)

// TelemetryRecord is one raw sensor reading as produced by the ingestion
// layer. Records are immutable once recorded.
type TelemetryRecord struct {
	Timestamp       time.Time
	DeviceID        string
	ComponentType   string
	SensorType      string
	SensorValue     float64
	ThresholdBreach bool
	Location        string
}

// Validate reports the first structural problem with the record. A NaN
// sensor value is legal (missing reading, forward-filled downstream).
func (r TelemetryRecord) Validate() error {
	if r.Timestamp.IsZero() {
		return fmt.Errorf("telemetry record: missing timestamp")
	}
	if r.DeviceID == "" {
		return fmt.Errorf("telemetry record: missing device_id")
	}
	if r.ComponentType == "" {
		return fmt.Errorf("telemetry record: missing component_type")
	}
	if r.SensorType == "" {
		return fmt.Errorf("telemetry record: missing sensor_type")
	}
	if r.Location == "" {
		return fmt.Errorf("telemetry record: missing location")
	}
	if math.IsInf(r.SensorValue, 0) {
		return fmt.Errorf("telemetry record: sensor_value for %s is not finite", r.DeviceID)
	}
	return nil
}

// MissingValue reports whether the sensor reading is absent.
func (r TelemetryRecord) MissingValue() bool {
	return math.IsNaN(r.SensorValue)
}

// EventRecord is one raw device log entry.
type EventRecord struct {
	Timestamp     time.Time
	DeviceID      string
	ComponentType string
	LogType       string
	Message       string
	EventSeverity int
	ErrorCode     string
	Metrics       map[string]float64
}

// Validate reports the first structural problem with the record.
func (e EventRecord) Validate() error {
	if e.Timestamp.IsZero() {
		return fmt.Errorf("event record: missing timestamp")
	}
	if e.DeviceID == "" {
		return fmt.Errorf("event record: missing device_id")
	}
	if e.EventSeverity < 0 {
		return fmt.Errorf("event record: negative severity %d for %s", e.EventSeverity, e.DeviceID)
	}
	return nil
}

// FeatureRow is the engineered counterpart of one telemetry record: scaled
// numerics, per-column categorical codes, and the breach flag as {0,1}.
type FeatureRow struct {
	DeviceID  string
	Timestamp time.Time

	SensorValue float64
	Hour        float64
	DayOfWeek   float64
	Month       float64

	DeviceCode    int
	ComponentCode int
	SensorCode    int
	LocationCode  int

	Breach int
}

// RowFeatureWidth is the number of features contributed by a single row.
const RowFeatureWidth = 8

// EventFeatureWidth is the number of event-derived features broadcast onto
// each timestep of a window.
const EventFeatureWidth = 3

// FeatureWidth is the full per-timestep width consumed by the classifier.
const FeatureWidth = RowFeatureWidth + EventFeatureWidth

// Vector returns the row's features in their canonical order.
func (f FeatureRow) Vector() []float64 {
	return []float64{
		f.SensorValue,
		f.Hour,
		f.DayOfWeek,
		f.Month,
		float64(f.DeviceCode),
		float64(f.ComponentCode),
		float64(f.SensorCode),
		float64(f.LocationCode),
	}
}

// Window is a fixed-length, time-ordered slice of one device's feature rows.
// Label is 1 when the row immediately after the window breached threshold.
// EndsAt is the timestamp of that label row, used for time-ordered splits
// and latest-window selection.
type Window struct {
	DeviceID string
	EndsAt   time.Time
	Label    int
	Features [][]float64
}

// Shape returns (sequence length, feature width) for the window.
func (w Window) Shape() (int, int) {
	if len(w.Features) == 0 {
		return 0, 0
	}
	return len(w.Features), len(w.Features[0])
}
