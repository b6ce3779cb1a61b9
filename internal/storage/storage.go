package storage

import (
	"context"
	"time"

	"github.com/maintwatch/pdm-engine/internal/models"
)

// TelemetrySource provides raw sensor readings for a time range.
type TelemetrySource interface {
	Telemetry(ctx context.Context, from, to time.Time) ([]models.TelemetryRecord, error)
}

// EventSource provides raw device log events for a time range.
type EventSource interface {
	Events(ctx context.Context, from, to time.Time) ([]models.EventRecord, error)
}

// DeviceSource resolves device metadata for diagnosis enrichment.
type DeviceSource interface {
	Device(ctx context.Context, deviceID string) (models.Device, error)
	Devices(ctx context.Context) ([]models.Device, error)
}

// AlertStore persists emitted alerts. Alerts are append-only;
// acknowledgment is the only permitted mutation.
type AlertStore interface {
	Append(ctx context.Context, alert models.Alert) error
	Acknowledge(ctx context.Context, alertID string, at time.Time) error
	List(ctx context.Context, deviceID string, limit int) ([]models.Alert, error)
}
