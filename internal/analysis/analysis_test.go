package analysis

import (
	"math"
	"testing"
	"time"

	"github.com/maintwatch/pdm-engine/internal/models"
)

func record(device string, value float64, breach bool, offset time.Duration) models.TelemetryRecord {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return models.TelemetryRecord{
		Timestamp:       base.Add(offset),
		DeviceID:        device,
		ComponentType:   "cpu",
		SensorType:      "temperature",
		SensorValue:     value,
		ThresholdBreach: breach,
		Location:        "rack-1",
	}
}

func TestHealthScorePerfectDevice(t *testing.T) {
	scorer := NewHealthScorer()
	records := []models.TelemetryRecord{
		record("device_1", 50, false, 0),
		record("device_1", 50, false, time.Minute),
		record("device_1", 50, false, 2*time.Minute),
	}
	report := scorer.Score("device_1", records)
	if report.Score != 100 {
		t.Fatalf("zero breaches and zero volatility should score 100, got %f", report.Score)
	}
	if report.Samples != 3 {
		t.Fatalf("expected 3 samples, got %d", report.Samples)
	}
}

func TestHealthScoreBreachesLowerScore(t *testing.T) {
	scorer := NewHealthScorer()
	records := []models.TelemetryRecord{
		record("device_1", 50, true, 0),
		record("device_1", 50, true, time.Minute),
		record("device_1", 50, false, 2*time.Minute),
		record("device_1", 50, false, 3*time.Minute),
	}
	report := scorer.Score("device_1", records)
	if report.BreachRatio != 0.5 {
		t.Fatalf("expected breach ratio 0.5, got %f", report.BreachRatio)
	}
	// 0.7*(1-0.5)+0.3*1 = 0.65
	if math.Abs(report.Score-65) > 1e-9 {
		t.Fatalf("expected score 65, got %f", report.Score)
	}
}

func TestHealthScoreVolatilityCapped(t *testing.T) {
	scorer := NewHealthScorer()
	// Huge swings, no breaches. The volatility penalty is capped at half
	// its weight so the score floors at 85.
	records := []models.TelemetryRecord{
		record("device_1", 0, false, 0),
		record("device_1", 1000, false, time.Minute),
		record("device_1", 0, false, 2*time.Minute),
		record("device_1", 1000, false, 3*time.Minute),
	}
	report := scorer.Score("device_1", records)
	if math.Abs(report.Score-85) > 1e-9 {
		t.Fatalf("expected volatility-capped score 85, got %f", report.Score)
	}
}

func TestHealthScoreEmptyInput(t *testing.T) {
	report := NewHealthScorer().Score("device_1", nil)
	if report.Score != 100 || report.Samples != 0 {
		t.Fatalf("empty input should yield the neutral score, got %+v", report)
	}
}

func TestRankDevicesWorstFirst(t *testing.T) {
	scorer := NewHealthScorer()
	records := []models.TelemetryRecord{
		record("device_a", 50, false, 0),
		record("device_a", 50, false, time.Minute),
		record("device_b", 50, true, 0),
		record("device_b", 50, true, time.Minute),
	}
	reports := scorer.RankDevices(records)
	if len(reports) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(reports))
	}
	if reports[0].DeviceID != "device_b" {
		t.Fatalf("worst device should rank first, got %s", reports[0].DeviceID)
	}
}

func TestDetectAnomalies(t *testing.T) {
	detector := NewAnomalyDetector()
	records := []models.TelemetryRecord{
		record("device_1", 50, false, 0),
		record("device_1", 51, false, time.Minute),
		record("device_1", 49, false, 2*time.Minute),
		record("device_1", 50, false, 3*time.Minute),
		record("device_1", 52, false, 4*time.Minute),
		record("device_1", 48, false, 5*time.Minute),
		record("device_1", 50, false, 6*time.Minute),
		record("device_1", 51, false, 7*time.Minute),
		record("device_1", 49, false, 8*time.Minute),
		record("device_1", 200, false, 9*time.Minute),
	}
	anomalies := detector.Detect(records, 2.5)
	if len(anomalies) != 1 {
		t.Fatalf("expected one anomaly, got %d", len(anomalies))
	}
	if anomalies[0].Value != 200 {
		t.Fatalf("expected the spike to be flagged, got %+v", anomalies[0])
	}
	if anomalies[0].Score < 2.5 {
		t.Fatalf("anomaly score below threshold: %f", anomalies[0].Score)
	}
}

func TestDetectFlatSeries(t *testing.T) {
	detector := NewAnomalyDetector()
	records := []models.TelemetryRecord{
		record("device_1", 50, false, 0),
		record("device_1", 50, false, time.Minute),
		record("device_1", 50, false, 2*time.Minute),
	}
	if got := detector.Detect(records, 2.5); got != nil {
		t.Fatalf("flat series should produce no anomalies, got %d", len(got))
	}
}

func TestDetectSkipsMissingValues(t *testing.T) {
	detector := NewAnomalyDetector()
	records := []models.TelemetryRecord{
		record("device_1", 50, false, 0),
		record("device_1", math.NaN(), false, time.Minute),
		record("device_1", 50, false, 2*time.Minute),
	}
	if got := detector.Detect(records, 2.5); got != nil {
		t.Fatalf("missing readings must not be scored, got %d anomalies", len(got))
	}
}

func TestRecommendBands(t *testing.T) {
	rec := NewRecommender()
	now := time.Now()

	mk := func(breaches, total int) []models.TelemetryRecord {
		out := make([]models.TelemetryRecord, 0, total)
		for i := 0; i < total; i++ {
			out = append(out, record("device_1", 50, i < breaches, time.Duration(i)*time.Minute))
		}
		return out
	}

	if got := rec.Recommend("device_1", mk(3, 10), now); got.Urgency != UrgencyImmediate {
		t.Fatalf("30%% breach frequency should be immediate, got %s", got.Urgency)
	}
	if got := rec.Recommend("device_1", mk(15, 100), now); got.Urgency != UrgencySoon {
		t.Fatalf("15%% breach frequency should be within 48h, got %s", got.Urgency)
	}
	if got := rec.Recommend("device_1", mk(5, 100), now); got.Urgency != UrgencyRoutine {
		t.Fatalf("5%% breach frequency should stay routine, got %s", got.Urgency)
	}
	if got := rec.Recommend("device_1", nil, now); got.Urgency != UrgencyRoutine {
		t.Fatalf("no history should stay routine, got %s", got.Urgency)
	}
}
