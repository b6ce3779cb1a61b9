package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/maintwatch/pdm-engine/internal/models"
)

func TestPostgresTelemetryNullValue(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	ts := from.Add(time.Hour)

	rows := sqlmock.NewRows([]string{"ts", "device_id", "component_type", "sensor_type", "sensor_value", "threshold_breach", "location"}).
		AddRow(ts, "device_1", "cpu", "temperature", 71.5, true, "rack-1").
		AddRow(ts.Add(time.Minute), "device_1", "cpu", "temperature", nil, false, "rack-1")
	mock.ExpectQuery("SELECT ts, device_id").WithArgs(from, to).WillReturnRows(rows)

	store := NewPostgresStore(db)
	got, err := store.Telemetry(context.Background(), from, to)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, 71.5, got[0].SensorValue)
	require.True(t, got[0].ThresholdBreach)
	require.True(t, got[1].MissingValue(), "NULL sensor_value should scan as a missing reading")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresEvents(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(time.Hour)

	rows := sqlmock.NewRows([]string{"ts", "device_id", "component_type", "log_type", "message", "event_severity", "error_code"}).
		AddRow(from.Add(time.Minute), "device_1", "psu", "error", "voltage drop", 6, "E42").
		AddRow(from.Add(2*time.Minute), "device_1", "psu", "info", "recovered", 1, nil)
	mock.ExpectQuery("SELECT ts, device_id").WithArgs(from, to).WillReturnRows(rows)

	store := NewPostgresStore(db)
	got, err := store.Events(context.Background(), from, to)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "E42", got[0].ErrorCode)
	require.Equal(t, "", got[1].ErrorCode)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppendAlert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	alert := models.Alert{
		ID:                "a-1",
		Timestamp:         time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		DeviceID:          "device_1",
		AlertType:         models.AlertTypePredictive,
		Severity:          8,
		Message:           "High probability of device failure detected for device_1",
		Probability:       0.87,
		RecommendedAction: "Schedule maintenance check",
	}
	mock.ExpectExec("INSERT INTO alerts").
		WithArgs(alert.ID, alert.Timestamp, alert.DeviceID, alert.AlertType,
			alert.Severity, alert.Message, alert.Probability, alert.RecommendedAction).
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewPostgresStore(db)
	require.NoError(t, store.Append(context.Background(), alert))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAcknowledgeUnknownAlert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Now()
	mock.ExpectExec("UPDATE alerts").
		WithArgs("missing", at).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	store := NewPostgresStore(db)
	err = store.Acknowledge(context.Background(), "missing", at)
	require.Error(t, err)
	require.Contains(t, err.Error(), "not found")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAcknowledgeIdempotent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Now()
	mock.ExpectExec("UPDATE alerts").
		WithArgs("a-1", at).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("a-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	store := NewPostgresStore(db)
	require.NoError(t, store.Acknowledge(context.Background(), "a-1", at),
		"acknowledging an already-acknowledged alert is a no-op")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryAlertStore(t *testing.T) {
	store := NewMemoryAlertStore()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.Error(t, store.Append(ctx, models.Alert{}), "missing id must be rejected")

	for i, device := range []string{"device_1", "device_2", "device_1"} {
		require.NoError(t, store.Append(ctx, models.Alert{
			ID:        string(rune('a' + i)),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			DeviceID:  device,
			Severity:  8,
		}))
	}

	all, err := store.List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "c", all[0].ID, "list must be newest-first")

	forDevice, err := store.List(ctx, "device_1", 1)
	require.NoError(t, err)
	require.Len(t, forDevice, 1)
	require.Equal(t, "c", forDevice[0].ID)

	ackAt := base.Add(time.Hour)
	require.NoError(t, store.Acknowledge(ctx, "a", ackAt))
	require.NoError(t, store.Acknowledge(ctx, "a", ackAt.Add(time.Hour)), "second ack is a no-op")
	require.Error(t, store.Acknowledge(ctx, "zzz", ackAt))

	all, err = store.List(ctx, "device_1", 0)
	require.NoError(t, err)
	for _, a := range all {
		if a.ID == "a" {
			require.True(t, a.Acknowledged)
			require.True(t, a.AcknowledgedAt.Equal(ackAt), "first ack timestamp must stick")
		}
	}
}
