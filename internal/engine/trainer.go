package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maintwatch/pdm-engine/internal/analysis"
	"github.com/maintwatch/pdm-engine/internal/classifier"
	"github.com/maintwatch/pdm-engine/internal/metrics"
	"github.com/maintwatch/pdm-engine/internal/models"
	"github.com/maintwatch/pdm-engine/internal/preprocess"
	"github.com/maintwatch/pdm-engine/internal/storage"
)

// TrainOptions fixes one training run.
type TrainOptions struct {
	SequenceLength  int
	HiddenSize      int
	LearningRate    float64
	Seed            int64
	Epochs          int
	BatchSize       int
	ValidationSplit float64
	Patience        int
	ArtifactPath    string
	From            time.Time
	To              time.Time
}

// TrainReport summarizes a completed training run.
type TrainReport struct {
	Windows    int
	History    classifier.History
	Evaluation classifier.Metrics
}

// Trainer runs the offline fit-train-publish flow. A mutex serializes runs;
// scoring keeps reading the previous model until the new one is published.
type Trainer struct {
	logger    *slog.Logger
	telemetry storage.TelemetrySource
	events    storage.EventSource
	ref       *classifier.Ref
	detector  *analysis.AnomalyDetector

	mu sync.Mutex
}

// NewTrainer constructs a trainer publishing into ref.
func NewTrainer(logger *slog.Logger, telemetry storage.TelemetrySource, events storage.EventSource, ref *classifier.Ref) *Trainer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trainer{
		logger:    logger,
		telemetry: telemetry,
		events:    events,
		ref:       ref,
		detector:  analysis.NewAnomalyDetector(),
	}
}

// Run fits a fresh preprocessor, trains a classifier on the labeled windows,
// saves the artifact, and atomically publishes the new model.
func (t *Trainer) Run(ctx context.Context, opts TrainOptions) (TrainReport, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	report := TrainReport{}

	records, err := t.telemetry.Telemetry(ctx, opts.From, opts.To)
	if err != nil {
		metrics.CountTrainingRun(metrics.OutcomeError)
		return report, fmt.Errorf("fetch training telemetry: %w", err)
	}
	var events []models.EventRecord
	if t.events != nil {
		events, err = t.events.Events(ctx, opts.From, opts.To)
		if err != nil {
			metrics.CountTrainingRun(metrics.OutcomeError)
			return report, fmt.Errorf("fetch training events: %w", err)
		}
	}

	if outliers := t.detector.Detect(records, 0); len(outliers) > 0 {
		t.logger.Info("training data contains outlier readings",
			slog.Int("outliers", len(outliers)), slog.Int("records", len(records)))
	}

	pre := preprocess.New()
	rows, err := pre.FitTransform(records)
	if err != nil {
		metrics.CountTrainingRun(metrics.OutcomeError)
		return report, fmt.Errorf("fit preprocessor: %w", err)
	}

	windows, err := pre.MakeWindows(rows, events, opts.SequenceLength, "")
	if err != nil {
		metrics.CountTrainingRun(metrics.OutcomeError)
		return report, fmt.Errorf("build training windows: %w", err)
	}
	report.Windows = len(windows)
	if len(windows) == 0 {
		metrics.CountTrainingRun(metrics.OutcomeError)
		return report, fmt.Errorf("no training windows in [%s, %s)", opts.From, opts.To)
	}

	model, err := classifier.New(classifier.Config{
		SequenceLength: opts.SequenceLength,
		NumFeatures:    models.FeatureWidth,
		HiddenSize:     opts.HiddenSize,
		LearningRate:   opts.LearningRate,
		Seed:           opts.Seed,
	})
	if err != nil {
		metrics.CountTrainingRun(metrics.OutcomeError)
		return report, fmt.Errorf("build classifier: %w", err)
	}

	report.History, err = model.Train(windows, classifier.TrainOptions{
		Epochs:          opts.Epochs,
		BatchSize:       opts.BatchSize,
		ValidationSplit: opts.ValidationSplit,
		Patience:        opts.Patience,
	})
	if err != nil {
		metrics.CountTrainingRun(metrics.OutcomeError)
		return report, fmt.Errorf("train classifier: %w", err)
	}

	report.Evaluation, err = model.Evaluate(windows)
	if err != nil {
		metrics.CountTrainingRun(metrics.OutcomeError)
		return report, fmt.Errorf("evaluate classifier: %w", err)
	}

	if opts.ArtifactPath != "" {
		if err := classifier.SaveArtifact(opts.ArtifactPath, model, pre.State()); err != nil {
			metrics.CountTrainingRun(metrics.OutcomeError)
			return report, fmt.Errorf("save artifact: %w", err)
		}
	}

	t.ref.Publish(&classifier.Model{Classifier: model, Preprocessor: pre})
	metrics.CountTrainingRun(metrics.OutcomeSuccess)

	t.logger.Info("training run complete",
		slog.Int("windows", report.Windows),
		slog.Int("best_epoch", report.History.BestEpoch),
		slog.Bool("early_stopped", report.History.Stopped),
		slog.Float64("accuracy", report.Evaluation.Accuracy),
		slog.Float64("f1", report.Evaluation.F1),
	)
	return report, nil
}
