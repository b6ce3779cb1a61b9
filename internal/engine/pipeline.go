package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maintwatch/pdm-engine/internal/alerting"
	"github.com/maintwatch/pdm-engine/internal/analysis"
	"github.com/maintwatch/pdm-engine/internal/classifier"
	"github.com/maintwatch/pdm-engine/internal/diagnosis"
	"github.com/maintwatch/pdm-engine/internal/metrics"
	"github.com/maintwatch/pdm-engine/internal/models"
	"github.com/maintwatch/pdm-engine/internal/storage"
	"github.com/maintwatch/pdm-engine/internal/utils"
)

// Options fixes the scoring cycle parameters. The window length is not an
// option; it is bound to the published model's artifact.
type Options struct {
	Lookback time.Duration
}

// CycleReport summarizes one scoring cycle.
type CycleReport struct {
	Started    time.Time
	Duration   time.Duration
	Devices    int
	Alerted    int
	Suppressed int
	Failures   int
	Skipped    bool
}

// ScoredAlert is an emitted alert together with its diagnosis.
type ScoredAlert struct {
	Alert     models.Alert
	Diagnosis models.Diagnosis
}

// Pipeline orchestrates one scoring cycle: fetch the lookback window of
// records, run every device's latest window through the current model, and
// hand breaches to the decision engine. Per-device failures are isolated;
// one bad device never aborts the cycle.
type Pipeline struct {
	logger      *slog.Logger
	telemetry   storage.TelemetrySource
	events      storage.EventSource
	devices     storage.DeviceSource
	ref         *classifier.Ref
	alerter     *alerting.Engine
	diagnoser   *diagnosis.Engine
	alerts      storage.AlertStore
	recommender *analysis.Recommender
	scorer      *analysis.HealthScorer
	latency     *utils.LatencyTracker
	opts        Options
}

// NewPipeline constructs a scoring pipeline. devices and alerts may be nil;
// diagnosis then runs with empty device metadata and alerts are not persisted.
func NewPipeline(
	logger *slog.Logger,
	telemetry storage.TelemetrySource,
	events storage.EventSource,
	devices storage.DeviceSource,
	ref *classifier.Ref,
	alerter *alerting.Engine,
	diagnoser *diagnosis.Engine,
	alerts storage.AlertStore,
	opts Options,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if diagnoser == nil {
		diagnoser = diagnosis.NewEngine(logger, nil, nil)
	}
	if opts.Lookback <= 0 {
		opts.Lookback = 24 * time.Hour
	}
	return &Pipeline{
		logger:      logger,
		telemetry:   telemetry,
		events:      events,
		devices:     devices,
		ref:         ref,
		alerter:     alerter,
		diagnoser:   diagnoser,
		alerts:      alerts,
		recommender: analysis.NewRecommender(),
		scorer:      analysis.NewHealthScorer(),
		latency:     utils.NewLatencyTracker(256),
		opts:        opts,
	}
}

// RunCycle scores every device with enough recent history and returns the
// cycle report plus any emitted alerts. A missing model is not an error;
// the cycle is reported as skipped.
func (p *Pipeline) RunCycle(ctx context.Context, now time.Time) (report CycleReport, scored []ScoredAlert, err error) {
	start := time.Now()
	report = CycleReport{Started: now}
	defer func() {
		report.Duration = time.Since(start)
	}()

	model, err := p.ref.Current()
	if err != nil {
		if errors.Is(err, classifier.ErrModelNotReady) {
			p.logger.Info("scoring cycle skipped, no model loaded")
			report.Skipped = true
			metrics.ObserveCycle(time.Since(start), metrics.OutcomeSkipped)
			return report, nil, nil
		}
		metrics.ObserveCycle(time.Since(start), metrics.OutcomeError)
		return report, nil, err
	}

	from := now.Add(-p.opts.Lookback)
	records, err := p.telemetry.Telemetry(ctx, from, now)
	if err != nil {
		metrics.ObserveCycle(time.Since(start), metrics.OutcomeError)
		return report, nil, fmt.Errorf("fetch telemetry: %w", err)
	}
	if len(records) == 0 {
		metrics.ObserveCycle(time.Since(start), metrics.OutcomeSuccess)
		return report, nil, nil
	}

	var events []models.EventRecord
	if p.events != nil {
		events, err = p.events.Events(ctx, from, now)
		if err != nil {
			// Events only enrich windows; score without them.
			p.logger.Warn("event fetch failed, scoring without event features", slog.Any("error", err))
			events = nil
		}
	}

	rows, err := model.Preprocessor.Transform(records)
	if err != nil {
		metrics.ObserveCycle(time.Since(start), metrics.OutcomeError)
		return report, nil, fmt.Errorf("transform telemetry: %w", err)
	}

	// The window length is whatever the model was trained with; a configured
	// length that disagrees with the artifact would fail every shape check.
	windows, err := model.Preprocessor.MakeWindows(rows, events, model.Classifier.Config().SequenceLength, "")
	if err != nil {
		metrics.ObserveCycle(time.Since(start), metrics.OutcomeError)
		return report, nil, fmt.Errorf("build windows: %w", err)
	}
	latest := latestPerDevice(windows)
	if len(latest) == 0 {
		metrics.ObserveCycle(time.Since(start), metrics.OutcomeSuccess)
		return report, nil, nil
	}

	deviceMeta := p.loadDevices(ctx)
	recordsByDevice := make(map[string][]models.TelemetryRecord)
	for _, rec := range records {
		recordsByDevice[rec.DeviceID] = append(recordsByDevice[rec.DeviceID], rec)
	}

	var (
		wg      sync.WaitGroup
		results = make([]deviceResult, len(latest))
	)
	for i, window := range latest {
		wg.Add(1)
		go func(i int, window models.Window) {
			defer wg.Done()
			results[i] = p.scoreDevice(ctx, model, window, now, deviceMeta, recordsByDevice[window.DeviceID])
		}(i, window)
	}
	wg.Wait()

	for _, res := range results {
		report.Devices++
		switch {
		case res.err != nil:
			report.Failures++
			metrics.CountDeviceFailure()
			p.logger.Error("device scoring failed",
				slog.String("device_id", res.deviceID), slog.Any("error", res.err))
		case res.outcome == alerting.OutcomeSuppressed:
			report.Suppressed++
			metrics.CountSuppressed()
		case res.outcome == alerting.OutcomeAlerted:
			report.Alerted++
			metrics.CountAlert()
			scored = append(scored, ScoredAlert{Alert: *res.alert, Diagnosis: res.diagnosis})
		}
	}

	if worst := p.scorer.RankDevices(records); len(worst) > 0 {
		p.logger.Debug("fleet health",
			slog.String("worst_device", worst[0].DeviceID),
			slog.Float64("worst_score", worst[0].Score),
		)
	}

	elapsed := time.Since(start)
	p.latency.Observe(elapsed)
	metrics.ObserveCycle(elapsed, metrics.OutcomeSuccess)
	p.logger.Info("scoring cycle complete",
		slog.Int("devices", report.Devices),
		slog.Int("alerted", report.Alerted),
		slog.Int("suppressed", report.Suppressed),
		slog.Int("failures", report.Failures),
		slog.Duration("p95_cycle", p.latency.Percentile(95)),
	)
	return report, scored, nil
}

type deviceResult struct {
	deviceID  string
	outcome   alerting.Outcome
	alert     *models.Alert
	diagnosis models.Diagnosis
	err       error
}

func (p *Pipeline) scoreDevice(ctx context.Context, model *classifier.Model, window models.Window, now time.Time, deviceMeta map[string]models.Device, history []models.TelemetryRecord) deviceResult {
	res := deviceResult{deviceID: window.DeviceID}

	probs, err := model.Classifier.Predict([]models.Window{window})
	if err != nil {
		res.err = fmt.Errorf("predict: %w", err)
		return res
	}

	alert, outcome, err := p.alerter.Decide(ctx, window.DeviceID, probs[0], now)
	if err != nil {
		res.err = fmt.Errorf("decide: %w", err)
		return res
	}
	res.outcome = outcome
	if outcome != alerting.OutcomeAlerted {
		return res
	}

	// Breach history sharpens the generic action when the device is already
	// failing frequently.
	if rec := p.recommender.Recommend(window.DeviceID, history, now); rec.Urgency != analysis.UrgencyRoutine {
		alert.RecommendedAction = rec.Action
	}

	device := deviceMeta[window.DeviceID]
	if device.ID == "" {
		device.ID = window.DeviceID
	}
	res.alert = alert
	res.diagnosis = p.diagnoser.Diagnose(ctx, *alert, device)

	if p.alerts != nil {
		if err := p.alerts.Append(ctx, *alert); err != nil {
			// The alert was already emitted; log and keep it in the report.
			p.logger.Error("alert persistence failed",
				slog.String("alert_id", alert.ID), slog.Any("error", err))
		}
	}
	return res
}

func (p *Pipeline) loadDevices(ctx context.Context) map[string]models.Device {
	if p.devices == nil {
		return nil
	}
	devices, err := p.devices.Devices(ctx)
	if err != nil {
		p.logger.Warn("device metadata fetch failed", slog.Any("error", err))
		return nil
	}
	meta := make(map[string]models.Device, len(devices))
	for _, d := range devices {
		meta[d.ID] = d
	}
	return meta
}

// latestPerDevice keeps only each device's most recent window, preserving
// device-ascending order.
func latestPerDevice(windows []models.Window) []models.Window {
	index := make(map[string]int)
	out := make([]models.Window, 0)
	for _, w := range windows {
		i, ok := index[w.DeviceID]
		if !ok {
			index[w.DeviceID] = len(out)
			out = append(out, w)
			continue
		}
		if w.EndsAt.After(out[i].EndsAt) {
			out[i] = w
		}
	}
	return out
}
