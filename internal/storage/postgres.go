package storage

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	_ "github.com/lib/pq"

	"github.com/maintwatch/pdm-engine/internal/models"
	"github.com/maintwatch/pdm-engine/internal/utils"
)

// PostgresStore backs every source interface with a single Postgres
// connection pool. Tables follow the ingestion schema: telemetry, events,
// devices, alerts.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres opens and pings a Postgres pool from a lib/pq DSN.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, utils.NewAppError("storage.OpenPostgres", "failed to open postgres pool", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, utils.NewAppError("storage.OpenPostgres", "postgres unreachable", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStore wraps an existing pool. Used in tests with sqlmock.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Telemetry implements TelemetrySource.
func (s *PostgresStore) Telemetry(ctx context.Context, from, to time.Time) ([]models.TelemetryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, device_id, component_type, sensor_type, sensor_value, threshold_breach, location
		FROM telemetry
		WHERE ts >= $1 AND ts < $2
		ORDER BY ts, device_id`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query telemetry: %w", err)
	}
	defer rows.Close()

	var out []models.TelemetryRecord
	for rows.Next() {
		var rec models.TelemetryRecord
		var value sql.NullFloat64
		if err := rows.Scan(&rec.Timestamp, &rec.DeviceID, &rec.ComponentType,
			&rec.SensorType, &value, &rec.ThresholdBreach, &rec.Location); err != nil {
			return nil, fmt.Errorf("scan telemetry: %w", err)
		}
		if value.Valid {
			rec.SensorValue = value.Float64
		} else {
			rec.SensorValue = math.NaN()
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read telemetry: %w", err)
	}
	return out, nil
}

// Events implements EventSource.
func (s *PostgresStore) Events(ctx context.Context, from, to time.Time) ([]models.EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, device_id, component_type, log_type, message, event_severity, error_code
		FROM events
		WHERE ts >= $1 AND ts < $2
		ORDER BY ts, device_id`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []models.EventRecord
	for rows.Next() {
		var rec models.EventRecord
		var errorCode sql.NullString
		if err := rows.Scan(&rec.Timestamp, &rec.DeviceID, &rec.ComponentType,
			&rec.LogType, &rec.Message, &rec.EventSeverity, &errorCode); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		rec.ErrorCode = errorCode.String
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return out, nil
}

// Device implements DeviceSource.
func (s *PostgresStore) Device(ctx context.Context, deviceID string) (models.Device, error) {
	var d models.Device
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT device_id, device_type, location, status
		FROM devices WHERE device_id = $1`, deviceID).
		Scan(&d.ID, &d.Type, &d.Location, &status)
	if err != nil {
		return models.Device{}, fmt.Errorf("query device %s: %w", deviceID, err)
	}
	d.Status = models.DeviceTier(status)
	return d, nil
}

// Devices implements DeviceSource.
func (s *PostgresStore) Devices(ctx context.Context) ([]models.Device, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT device_id, device_type, location, status FROM devices ORDER BY device_id`)
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	defer rows.Close()

	var out []models.Device
	for rows.Next() {
		var d models.Device
		var status string
		if err := rows.Scan(&d.ID, &d.Type, &d.Location, &status); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		d.Status = models.DeviceTier(status)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read devices: %w", err)
	}
	return out, nil
}

// Append implements AlertStore.
func (s *PostgresStore) Append(ctx context.Context, alert models.Alert) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (id, ts, device_id, alert_type, severity, message, probability, recommended_action, acknowledged)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE)`,
		alert.ID, alert.Timestamp, alert.DeviceID, alert.AlertType,
		alert.Severity, alert.Message, alert.Probability, alert.RecommendedAction)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// Acknowledge implements AlertStore.
func (s *PostgresStore) Acknowledge(ctx context.Context, alertID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET acknowledged = TRUE, acknowledged_at = $2
		WHERE id = $1 AND acknowledged = FALSE`, alertID, at)
	if err != nil {
		return fmt.Errorf("acknowledge alert: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// Either unknown or already acknowledged; distinguish them.
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM alerts WHERE id = $1)`, alertID).Scan(&exists); err != nil {
			return fmt.Errorf("acknowledge alert: %w", err)
		}
		if !exists {
			return fmt.Errorf("acknowledge alert: %s not found", alertID)
		}
	}
	return nil
}

// List implements AlertStore.
func (s *PostgresStore) List(ctx context.Context, deviceID string, limit int) ([]models.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, device_id, alert_type, severity, message, probability, recommended_action, acknowledged, acknowledged_at
		FROM alerts
		WHERE ($1 = '' OR device_id = $1)
		ORDER BY ts DESC
		LIMIT $2`, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []models.Alert
	for rows.Next() {
		var a models.Alert
		var ackAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.Timestamp, &a.DeviceID, &a.AlertType, &a.Severity,
			&a.Message, &a.Probability, &a.RecommendedAction, &a.Acknowledged, &ackAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		if ackAt.Valid {
			a.AcknowledgedAt = ackAt.Time
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read alerts: %w", err)
	}
	return out, nil
}
