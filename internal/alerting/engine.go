package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/maintwatch/pdm-engine/internal/models"
)

// Outcome is the result of one scoring decision for one device.
type Outcome int

const (
	// OutcomeQuiet means the probability stayed at or below the threshold.
	OutcomeQuiet Outcome = iota
	// OutcomeSuppressed means the device is inside its cooldown window.
	OutcomeSuppressed
	// OutcomeAlerted means an alert was emitted and the cooldown re-armed.
	OutcomeAlerted
)

// Options fixes the engine's decision parameters.
type Options struct {
	Threshold      float64
	CooldownWindow time.Duration
	CriticalFloor  int
	WarningFloor   int
}

// Engine converts failure probabilities into bounded, de-duplicated alerts.
// Cooldown state lives behind an injected store keyed by device, so the
// engine itself holds no ambient global state.
type Engine struct {
	logger    *slog.Logger
	opts      Options
	cooldowns CooldownStore
	status    *StatusTracker
}

// NewEngine constructs a decision engine.
func NewEngine(logger *slog.Logger, opts Options, cooldowns CooldownStore, status *StatusTracker) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cooldowns == nil {
		cooldowns = NewMemoryCooldownStore()
	}
	if status == nil {
		status = NewStatusTracker(opts.CriticalFloor, opts.WarningFloor)
	}
	return &Engine{logger: logger, opts: opts, cooldowns: cooldowns, status: status}
}

// Status exposes the tracker so callers can read device tiers.
func (e *Engine) Status() *StatusTracker { return e.status }

// Decide applies the threshold, cooldown, and severity scaling for one
// device. A probability exactly at the threshold stays quiet. Suppression
// has no side effects at all. An emitted alert re-arms the cooldown and
// updates the device's status tier.
func (e *Engine) Decide(ctx context.Context, deviceID string, probability float64, now time.Time) (*models.Alert, Outcome, error) {
	if probability < 0 || probability > 1 {
		return nil, OutcomeQuiet, fmt.Errorf("decide %s: probability %f outside [0,1]", deviceID, probability)
	}
	if probability <= e.opts.Threshold {
		return nil, OutcomeQuiet, nil
	}

	last, found, err := e.cooldowns.Last(ctx, deviceID)
	if err != nil {
		return nil, OutcomeQuiet, fmt.Errorf("decide %s: %w", deviceID, err)
	}
	if found && now.Sub(last) < e.opts.CooldownWindow {
		return nil, OutcomeSuppressed, nil
	}

	alert := &models.Alert{
		ID:                uuid.NewString(),
		Timestamp:         now,
		DeviceID:          deviceID,
		AlertType:         models.AlertTypePredictive,
		Severity:          int(math.Floor(probability * 10)),
		Message:           fmt.Sprintf("High probability of device failure detected for %s", deviceID),
		Probability:       probability,
		RecommendedAction: "Schedule maintenance check",
	}

	if err := e.cooldowns.Mark(ctx, deviceID, now); err != nil {
		return nil, OutcomeQuiet, fmt.Errorf("decide %s: %w", deviceID, err)
	}
	e.status.Apply(deviceID, alert.Severity)

	e.logger.Info("alert emitted",
		slog.String("device_id", deviceID),
		slog.Int("severity", alert.Severity),
		slog.Float64("probability", probability),
	)
	return alert, OutcomeAlerted, nil
}
