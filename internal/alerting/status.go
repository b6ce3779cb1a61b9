package alerting

import (
	"sync"

	"github.com/maintwatch/pdm-engine/internal/models"
)

// StatusTracker maps devices to their displayed status tier. Severities at
// or above the critical floor set the critical tier, severities in
// [warning floor, critical floor) set warning, anything lower leaves the
// device in its prior tier.
type StatusTracker struct {
	mu            sync.RWMutex
	criticalFloor int
	warningFloor  int
	tiers         map[string]models.DeviceTier
}

// NewStatusTracker builds a tracker with the configured severity floors.
func NewStatusTracker(criticalFloor, warningFloor int) *StatusTracker {
	return &StatusTracker{
		criticalFloor: criticalFloor,
		warningFloor:  warningFloor,
		tiers:         make(map[string]models.DeviceTier),
	}
}

// Tier returns the device's current tier, defaulting to operational.
func (t *StatusTracker) Tier(deviceID string) models.DeviceTier {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if tier, ok := t.tiers[deviceID]; ok {
		return tier
	}
	return models.TierOperational
}

// Apply folds a single alert's severity into the device's tier.
func (t *StatusTracker) Apply(deviceID string, severity int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.apply(deviceID, severity)
}

func (t *StatusTracker) apply(deviceID string, severity int) {
	switch {
	case severity >= t.criticalFloor:
		t.tiers[deviceID] = models.TierCritical
	case severity >= t.warningFloor:
		// Never downgrade a critical device on a lower-severity alert.
		if t.tiers[deviceID] != models.TierCritical {
			t.tiers[deviceID] = models.TierWarning
		}
	}
}

// Recompute rebuilds tiers from a full alert set. Running it twice with the
// same alerts yields the same result.
func (t *StatusTracker) Recompute(alerts []models.Alert) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tiers = make(map[string]models.DeviceTier, len(t.tiers))
	for _, alert := range alerts {
		t.apply(alert.DeviceID, alert.Severity)
	}
}
