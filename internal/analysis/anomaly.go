package analysis

import (
	"time"

	"github.com/maintwatch/pdm-engine/internal/models"
)

// Anomaly captures a sensor sample whose z-score exceeds the threshold.
type Anomaly struct {
	Timestamp  time.Time
	DeviceID   string
	SensorType string
	Value      float64
	Score      float64
	Threshold  float64
}

// AnomalyDetector flags outlier sensor readings with a z-score test.
type AnomalyDetector struct{}

// NewAnomalyDetector creates an anomaly detector.
func NewAnomalyDetector() *AnomalyDetector {
	return &AnomalyDetector{}
}

// Detect finds readings whose absolute z-score meets or exceeds the
// threshold. Missing readings are skipped; a flat series yields nothing.
func (d *AnomalyDetector) Detect(records []models.TelemetryRecord, threshold float64) []Anomaly {
	if threshold <= 0 {
		threshold = 2.5
	}

	values := make([]float64, 0, len(records))
	for _, rec := range records {
		if !rec.MissingValue() {
			values = append(values, rec.SensorValue)
		}
	}
	if len(values) < 2 {
		return nil
	}

	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	sd := stddev(values)
	if sd == 0 {
		return nil
	}

	anomalies := make([]Anomaly, 0)
	for _, rec := range records {
		if rec.MissingValue() {
			continue
		}
		score := (rec.SensorValue - mean) / sd
		if score >= threshold || score <= -threshold {
			anomalies = append(anomalies, Anomaly{
				Timestamp:  rec.Timestamp,
				DeviceID:   rec.DeviceID,
				SensorType: rec.SensorType,
				Value:      rec.SensorValue,
				Score:      score,
				Threshold:  threshold,
			})
		}
	}
	return anomalies
}
