package analysis

import (
	"math"
	"sort"

	"github.com/maintwatch/pdm-engine/internal/models"
)

// HealthReport summarizes a device's recent telemetry into a 0-100 score.
type HealthReport struct {
	DeviceID    string
	Score       float64
	BreachRatio float64
	Volatility  float64
	Samples     int
}

// HealthScorer computes rolling device health from raw telemetry.
type HealthScorer struct{}

// NewHealthScorer creates a health scorer.
func NewHealthScorer() *HealthScorer {
	return &HealthScorer{}
}

// Score blends the breach ratio (70%) with normalized sensor volatility (30%).
// Volatility contributes at most half its weight so a noisy but healthy
// sensor cannot drag the score below 85 on its own.
func (s *HealthScorer) Score(deviceID string, records []models.TelemetryRecord) HealthReport {
	report := HealthReport{DeviceID: deviceID, Score: 100}
	if len(records) == 0 {
		return report
	}

	breaches := 0
	values := make([]float64, 0, len(records))
	for _, rec := range records {
		if rec.DeviceID != deviceID {
			continue
		}
		if rec.ThresholdBreach {
			breaches++
		}
		if !rec.MissingValue() {
			values = append(values, rec.SensorValue)
		}
		report.Samples++
	}
	if report.Samples == 0 {
		return report
	}

	report.BreachRatio = float64(breaches) / float64(report.Samples)
	report.Volatility = stddev(values)

	breachComponent := 1 - report.BreachRatio
	volComponent := 1 - math.Min(report.Volatility/100, 0.5)
	report.Score = (0.7*breachComponent + 0.3*volComponent) * 100
	return report
}

// RankDevices scores every device present in records and returns reports
// ordered worst-first, device ID ascending on ties.
func (s *HealthScorer) RankDevices(records []models.TelemetryRecord) []HealthReport {
	byDevice := make(map[string][]models.TelemetryRecord)
	for _, rec := range records {
		byDevice[rec.DeviceID] = append(byDevice[rec.DeviceID], rec)
	}

	reports := make([]HealthReport, 0, len(byDevice))
	for id, recs := range byDevice {
		reports = append(reports, s.Score(id, recs))
	}
	sort.Slice(reports, func(i, j int) bool {
		if reports[i].Score != reports[j].Score {
			return reports[i].Score < reports[j].Score
		}
		return reports[i].DeviceID < reports[j].DeviceID
	})
	return reports
}

func stddev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		variance += math.Pow(v-mean, 2)
	}
	variance /= float64(len(values))
	return math.Sqrt(variance)
}
