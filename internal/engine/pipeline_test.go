package engine

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/maintwatch/pdm-engine/internal/alerting"
	"github.com/maintwatch/pdm-engine/internal/classifier"
	"github.com/maintwatch/pdm-engine/internal/models"
	"github.com/maintwatch/pdm-engine/internal/preprocess"
	"github.com/maintwatch/pdm-engine/internal/storage"
)

type fakeTelemetry struct {
	records []models.TelemetryRecord
	err     error
}

func (f *fakeTelemetry) Telemetry(_ context.Context, _, _ time.Time) ([]models.TelemetryRecord, error) {
	return f.records, f.err
}

type fakeEvents struct {
	events []models.EventRecord
	err    error
}

func (f *fakeEvents) Events(_ context.Context, _, _ time.Time) ([]models.EventRecord, error) {
	return f.events, f.err
}

func syntheticTelemetry(device string, n int, base time.Time) []models.TelemetryRecord {
	out := make([]models.TelemetryRecord, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, models.TelemetryRecord{
			Timestamp:       base.Add(time.Duration(i) * time.Minute),
			DeviceID:        device,
			ComponentType:   "cpu",
			SensorType:      "temperature",
			SensorValue:     50 + math.Sin(float64(i))*5,
			ThresholdBreach: i%3 == 0,
			Location:        "rack-1",
		})
	}
	return out
}

const testSeqLen = 5

// publishedModel fits a preprocessor on the given records and publishes an
// untrained but predict-capable model into a fresh ref.
func publishedModel(t *testing.T, records []models.TelemetryRecord) *classifier.Ref {
	t.Helper()

	pre := preprocess.New()
	if _, err := pre.FitTransform(records); err != nil {
		t.Fatalf("fit preprocessor: %v", err)
	}
	model, err := classifier.New(classifier.Config{
		SequenceLength: testSeqLen,
		NumFeatures:    models.FeatureWidth,
		HiddenSize:     8,
		Seed:           7,
	})
	if err != nil {
		t.Fatalf("build classifier: %v", err)
	}

	ref := classifier.NewRef()
	ref.Publish(&classifier.Model{Classifier: model, Preprocessor: pre})
	return ref
}

func testPipeline(ref *classifier.Ref, telemetry storage.TelemetrySource, events storage.EventSource, threshold float64, alerts storage.AlertStore) *Pipeline {
	alerter := alerting.NewEngine(nil, alerting.Options{
		Threshold:      threshold,
		CooldownWindow: 300 * time.Second,
		CriticalFloor:  7,
		WarningFloor:   4,
	}, nil, nil)
	return NewPipeline(nil, telemetry, events, nil, ref, alerter, nil, alerts,
		Options{Lookback: 24 * time.Hour})
}

func TestRunCycleSkippedWithoutModel(t *testing.T) {
	pipeline := testPipeline(classifier.NewRef(), &fakeTelemetry{}, nil, 0.7, nil)

	report, scored, err := pipeline.RunCycle(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if !report.Skipped {
		t.Fatalf("cycle without a model must be reported as skipped")
	}
	if len(scored) != 0 {
		t.Fatalf("skipped cycle must not emit alerts")
	}
}

func TestRunCycleAlertPath(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	records := syntheticTelemetry("device_1", 20, base)
	ref := publishedModel(t, records)
	store := storage.NewMemoryAlertStore()

	// Threshold zero so the untrained model's probability always breaches.
	pipeline := testPipeline(ref, &fakeTelemetry{records: records}, nil, 0, store)

	report, scored, err := pipeline.RunCycle(context.Background(), base.Add(time.Hour))
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if report.Devices != 1 || report.Alerted != 1 {
		t.Fatalf("expected one device and one alert, got %+v", report)
	}
	if len(scored) != 1 {
		t.Fatalf("expected one scored alert, got %d", len(scored))
	}
	alert := scored[0].Alert
	if alert.DeviceID != "device_1" || alert.AlertType != models.AlertTypePredictive {
		t.Fatalf("unexpected alert: %+v", alert)
	}
	if len(scored[0].Diagnosis.Causes) == 0 || scored[0].Diagnosis.RootCause == "" {
		t.Fatalf("alert must carry a complete diagnosis: %+v", scored[0].Diagnosis)
	}
	// One in three synthetic rows breaches, so the breach-frequency
	// recommender upgrades the action to immediate dispatch.
	if alert.RecommendedAction != "Dispatch technician to device_1 immediately" {
		t.Fatalf("expected an urgency-upgraded action, got %q", alert.RecommendedAction)
	}

	persisted, err := store.List(context.Background(), "device_1", 0)
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(persisted) != 1 || persisted[0].ID != alert.ID {
		t.Fatalf("alert not persisted: %+v", persisted)
	}
}

func TestRunCycleCooldownAcrossCycles(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	records := syntheticTelemetry("device_1", 20, base)
	ref := publishedModel(t, records)
	pipeline := testPipeline(ref, &fakeTelemetry{records: records}, nil, 0, nil)

	now := base.Add(time.Hour)
	first, _, err := pipeline.RunCycle(context.Background(), now)
	if err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if first.Alerted != 1 {
		t.Fatalf("expected first cycle to alert, got %+v", first)
	}

	second, _, err := pipeline.RunCycle(context.Background(), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if second.Suppressed != 1 || second.Alerted != 0 {
		t.Fatalf("expected cooldown suppression in second cycle, got %+v", second)
	}
}

func TestRunCycleTelemetryFetchError(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	records := syntheticTelemetry("device_1", 20, base)
	ref := publishedModel(t, records)
	pipeline := testPipeline(ref, &fakeTelemetry{err: fmt.Errorf("connection refused")}, nil, 0, nil)

	if _, _, err := pipeline.RunCycle(context.Background(), base.Add(time.Hour)); err == nil {
		t.Fatalf("expected a cycle error when telemetry cannot be fetched")
	}
}

func TestRunCycleToleratesEventFetchError(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	records := syntheticTelemetry("device_1", 20, base)
	ref := publishedModel(t, records)
	events := &fakeEvents{err: fmt.Errorf("event store down")}
	pipeline := testPipeline(ref, &fakeTelemetry{records: records}, events, 0, nil)

	report, _, err := pipeline.RunCycle(context.Background(), base.Add(time.Hour))
	if err != nil {
		t.Fatalf("event failures must not abort the cycle: %v", err)
	}
	if report.Devices != 1 {
		t.Fatalf("expected scoring to continue without events, got %+v", report)
	}
}

func TestRunCycleMultiDevice(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	records := append(
		syntheticTelemetry("device_1", 20, base),
		syntheticTelemetry("device_2", 20, base)...,
	)
	ref := publishedModel(t, records)
	pipeline := testPipeline(ref, &fakeTelemetry{records: records}, nil, 0, nil)

	report, scored, err := pipeline.RunCycle(context.Background(), base.Add(time.Hour))
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if report.Devices != 2 || report.Alerted != 2 {
		t.Fatalf("expected both devices scored and alerted, got %+v", report)
	}
	seen := map[string]bool{}
	for _, s := range scored {
		seen[s.Alert.DeviceID] = true
	}
	if !seen["device_1"] || !seen["device_2"] {
		t.Fatalf("expected alerts for both devices, got %v", seen)
	}
}

type failingCooldowns struct{}

func (failingCooldowns) Last(context.Context, string) (time.Time, bool, error) {
	return time.Time{}, false, fmt.Errorf("cooldown backend down")
}

func (failingCooldowns) Mark(context.Context, string, time.Time) error {
	return fmt.Errorf("cooldown backend down")
}

func TestRunCycleIsolatesDeviceFailures(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	records := append(
		syntheticTelemetry("device_1", 20, base),
		syntheticTelemetry("device_2", 20, base)...,
	)
	ref := publishedModel(t, records)

	alerter := alerting.NewEngine(nil, alerting.Options{
		Threshold:      0,
		CooldownWindow: 300 * time.Second,
		CriticalFloor:  7,
		WarningFloor:   4,
	}, failingCooldowns{}, nil)
	pipeline := NewPipeline(nil, &fakeTelemetry{records: records}, nil, nil, ref, alerter, nil, nil,
		Options{Lookback: 24 * time.Hour})

	report, scored, err := pipeline.RunCycle(context.Background(), base.Add(time.Hour))
	if err != nil {
		t.Fatalf("failing devices must not abort the cycle: %v", err)
	}
	if report.Failures != 2 || report.Alerted != 0 {
		t.Fatalf("expected both devices counted as failures, got %+v", report)
	}
	if len(scored) != 0 {
		t.Fatalf("failed devices must not emit alerts, got %d", len(scored))
	}
}

func TestRunCycleWindowLengthFollowsModel(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	records := syntheticTelemetry("device_1", 8, base)

	// Enough rows for the model's window length of 3 but not for testSeqLen.
	pre := preprocess.New()
	if _, err := pre.FitTransform(records); err != nil {
		t.Fatalf("fit preprocessor: %v", err)
	}
	model, err := classifier.New(classifier.Config{
		SequenceLength: 3,
		NumFeatures:    models.FeatureWidth,
		HiddenSize:     8,
		Seed:           7,
	})
	if err != nil {
		t.Fatalf("build classifier: %v", err)
	}
	ref := classifier.NewRef()
	ref.Publish(&classifier.Model{Classifier: model, Preprocessor: pre})

	pipeline := testPipeline(ref, &fakeTelemetry{records: records}, nil, 0, nil)
	report, _, err := pipeline.RunCycle(context.Background(), base.Add(time.Hour))
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if report.Devices != 1 || report.Failures != 0 {
		t.Fatalf("expected the device scored with the model's window length, got %+v", report)
	}
}

func TestRunCycleShortHistoryScoresNothing(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	fitRecords := syntheticTelemetry("device_1", 20, base)
	ref := publishedModel(t, fitRecords)

	// Fewer rows than a full window plus label row.
	short := syntheticTelemetry("device_1", testSeqLen, base)
	pipeline := testPipeline(ref, &fakeTelemetry{records: short}, nil, 0, nil)

	report, scored, err := pipeline.RunCycle(context.Background(), base.Add(time.Hour))
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if report.Devices != 0 || len(scored) != 0 {
		t.Fatalf("short history must yield no windows, got %+v", report)
	}
}

func TestTrainerRun(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	records := syntheticTelemetry("device_1", 60, base)
	telemetry := &fakeTelemetry{records: records}

	ref := classifier.NewRef()
	trainer := NewTrainer(nil, telemetry, nil, ref)

	artifact := filepath.Join(t.TempDir(), "model.json")
	report, err := trainer.Run(context.Background(), TrainOptions{
		SequenceLength:  testSeqLen,
		HiddenSize:      8,
		LearningRate:    0.01,
		Seed:            7,
		Epochs:          3,
		BatchSize:       8,
		ValidationSplit: 0.2,
		Patience:        2,
		ArtifactPath:    artifact,
		From:            base,
		To:              base.Add(2 * time.Hour),
	})
	if err != nil {
		t.Fatalf("training run: %v", err)
	}
	if report.Windows != 60-testSeqLen {
		t.Fatalf("expected %d windows, got %d", 60-testSeqLen, report.Windows)
	}
	if len(report.History.Loss) == 0 {
		t.Fatalf("training history is empty")
	}

	if _, err := ref.Current(); err != nil {
		t.Fatalf("trainer must publish the model: %v", err)
	}

	loaded, pre, err := classifier.LoadArtifact(artifact)
	if err != nil {
		t.Fatalf("load artifact: %v", err)
	}
	if loaded == nil || pre == nil || !pre.Fitted() {
		t.Fatalf("artifact must restore a fitted model")
	}
}

func TestTrainerRunNoData(t *testing.T) {
	trainer := NewTrainer(nil, &fakeTelemetry{}, nil, classifier.NewRef())
	_, err := trainer.Run(context.Background(), TrainOptions{
		SequenceLength: testSeqLen,
		Epochs:         1,
		From:           time.Now().Add(-time.Hour),
		To:             time.Now(),
	})
	if err == nil {
		t.Fatalf("expected an error when no training windows exist")
	}
}
