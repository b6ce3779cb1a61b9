package alerting

import (
	"context"
	"testing"
	"time"

	"github.com/maintwatch/pdm-engine/internal/models"
)

func testOptions() Options {
	return Options{
		Threshold:      0.7,
		CooldownWindow: 300 * time.Second,
		CriticalFloor:  7,
		WarningFloor:   4,
	}
}

func TestDecideQuietAtThreshold(t *testing.T) {
	engine := NewEngine(nil, testOptions(), nil, nil)
	alert, outcome, err := engine.Decide(context.Background(), "device_1", 0.7, time.Now())
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if outcome != OutcomeQuiet || alert != nil {
		t.Fatalf("probability exactly at threshold must not alert")
	}
}

func TestDecideSeverityScaling(t *testing.T) {
	engine := NewEngine(nil, testOptions(), nil, nil)
	alert, outcome, err := engine.Decide(context.Background(), "device_1", 0.95, time.Now())
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if outcome != OutcomeAlerted || alert == nil {
		t.Fatalf("expected an alert for probability 0.95")
	}
	if alert.Severity != 9 {
		t.Fatalf("expected severity 9 for probability 0.95, got %d", alert.Severity)
	}
	if alert.ID == "" || alert.AlertType != models.AlertTypePredictive {
		t.Fatalf("alert missing id or type: %+v", alert)
	}
	if alert.Acknowledged {
		t.Fatalf("new alerts must start unacknowledged")
	}
}

func TestDecideCooldownSuppression(t *testing.T) {
	engine := NewEngine(nil, testOptions(), nil, nil)
	now := time.Now()

	first, outcome, err := engine.Decide(context.Background(), "device_1", 0.9, now)
	if err != nil {
		t.Fatalf("first decide: %v", err)
	}
	if outcome != OutcomeAlerted || first == nil {
		t.Fatalf("expected first cycle to alert")
	}

	second, outcome, err := engine.Decide(context.Background(), "device_1", 0.9, now.Add(200*time.Second))
	if err != nil {
		t.Fatalf("second decide: %v", err)
	}
	if outcome != OutcomeSuppressed || second != nil {
		t.Fatalf("expected suppression inside cooldown window, got outcome %v", outcome)
	}

	third, outcome, err := engine.Decide(context.Background(), "device_1", 0.9, now.Add(301*time.Second))
	if err != nil {
		t.Fatalf("third decide: %v", err)
	}
	if outcome != OutcomeAlerted || third == nil {
		t.Fatalf("expected a fresh alert after the cooldown elapsed")
	}
}

func TestDecideCooldownIsPerDevice(t *testing.T) {
	engine := NewEngine(nil, testOptions(), nil, nil)
	now := time.Now()

	if _, outcome, _ := engine.Decide(context.Background(), "device_1", 0.9, now); outcome != OutcomeAlerted {
		t.Fatalf("device_1 should alert")
	}
	if _, outcome, _ := engine.Decide(context.Background(), "device_2", 0.9, now); outcome != OutcomeAlerted {
		t.Fatalf("device_2 must not share device_1's cooldown")
	}
}

func TestDecideRejectsBadProbability(t *testing.T) {
	engine := NewEngine(nil, testOptions(), nil, nil)
	if _, _, err := engine.Decide(context.Background(), "device_1", 1.5, time.Now()); err == nil {
		t.Fatalf("expected error for probability outside [0,1]")
	}
}

func TestStatusTierFromAlert(t *testing.T) {
	engine := NewEngine(nil, testOptions(), nil, nil)
	now := time.Now()

	if _, _, err := engine.Decide(context.Background(), "device_1", 0.95, now); err != nil {
		t.Fatalf("decide: %v", err)
	}
	if tier := engine.Status().Tier("device_1"); tier != models.TierCritical {
		t.Fatalf("severity 9 should set critical tier, got %s", tier)
	}
	if tier := engine.Status().Tier("device_2"); tier != models.TierOperational {
		t.Fatalf("untouched device should stay operational, got %s", tier)
	}
}

func TestStatusRecomputeIdempotent(t *testing.T) {
	tracker := NewStatusTracker(7, 4)
	alerts := []models.Alert{
		{DeviceID: "device_1", Severity: 9},
		{DeviceID: "device_2", Severity: 5},
		{DeviceID: "device_3", Severity: 2},
	}

	tracker.Recompute(alerts)
	first := map[string]models.DeviceTier{
		"device_1": tracker.Tier("device_1"),
		"device_2": tracker.Tier("device_2"),
		"device_3": tracker.Tier("device_3"),
	}
	tracker.Recompute(alerts)
	for id, tier := range first {
		if tracker.Tier(id) != tier {
			t.Fatalf("recompute not idempotent for %s: %s vs %s", id, tier, tracker.Tier(id))
		}
	}

	if first["device_1"] != models.TierCritical {
		t.Fatalf("expected device_1 critical, got %s", first["device_1"])
	}
	if first["device_2"] != models.TierWarning {
		t.Fatalf("expected device_2 warning, got %s", first["device_2"])
	}
	if first["device_3"] != models.TierOperational {
		t.Fatalf("severity 2 must leave the device in its prior tier, got %s", first["device_3"])
	}
}

func TestStatusNeverDowngradesCritical(t *testing.T) {
	tracker := NewStatusTracker(7, 4)
	tracker.Apply("device_1", 9)
	tracker.Apply("device_1", 5)
	if tracker.Tier("device_1") != models.TierCritical {
		t.Fatalf("a warning-level alert must not downgrade a critical device")
	}
}
