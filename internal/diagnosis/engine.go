package diagnosis

import (
	"context"
	"log/slog"

	"github.com/maintwatch/pdm-engine/internal/models"
)

// Enricher is the optional external generative-text cause service. The
// engine never depends on it succeeding.
type Enricher interface {
	Analyze(ctx context.Context, alert models.Alert, device models.Device) (models.Diagnosis, error)
}

// Engine attaches a heuristic diagnosis to an alert. It consults the
// enricher first when one is configured and otherwise evaluates the ordered
// keyword rules; every path ends in a non-empty diagnosis.
type Engine struct {
	logger   *slog.Logger
	rules    []Rule
	enricher Enricher
}

// NewEngine constructs a diagnosis engine. rules may be nil to use the
// built-in pack; enricher may be nil to skip external enrichment.
func NewEngine(logger *slog.Logger, rules []Rule, enricher Enricher) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Engine{logger: logger, rules: rules, enricher: enricher}
}

// Diagnose produces candidate causes, a root cause, and required resources
// for the alert. It never returns an empty causes list or resource map.
func (e *Engine) Diagnose(ctx context.Context, alert models.Alert, device models.Device) models.Diagnosis {
	if e.enricher != nil {
		if diag, err := e.enricher.Analyze(ctx, alert, device); err == nil && complete(diag) {
			return diag
		} else if err != nil {
			e.logger.Debug("enrichment unavailable, using rule pack",
				slog.String("device_id", alert.DeviceID), slog.Any("error", err))
		}
	}

	rule, ok := match(e.rules, alert.Message)
	if !ok {
		return Fallback()
	}

	diag := models.Diagnosis{
		Causes:    append([]string(nil), rule.Causes...),
		RootCause: rule.RootCause,
		Resources: make(map[string]int, len(rule.Resources)),
	}
	for name, qty := range rule.Resources {
		diag.Resources[name] = qty
	}

	// A sparse rule still must not propagate empty results.
	fallback := Fallback()
	if len(diag.Causes) == 0 {
		diag.Causes = fallback.Causes
	}
	if diag.RootCause == "" {
		diag.RootCause = fallback.RootCause
	}
	if len(diag.Resources) == 0 {
		diag.Resources = fallback.Resources
	}
	return diag
}

func complete(d models.Diagnosis) bool {
	return len(d.Causes) > 0 && d.RootCause != "" && len(d.Resources) > 0
}
