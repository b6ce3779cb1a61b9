package storage

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/maintwatch/pdm-engine/internal/models"
	"github.com/maintwatch/pdm-engine/internal/utils"
)

// CSVTelemetrySource reads telemetry from a CSV export for offline
// training runs. Expected header:
// timestamp,device_id,component_type,sensor_type,sensor_value,threshold_breach,location
type CSVTelemetrySource struct {
	path string
}

// NewCSVTelemetrySource creates a source backed by one CSV file.
func NewCSVTelemetrySource(path string) *CSVTelemetrySource {
	return &CSVTelemetrySource{path: path}
}

// Telemetry implements TelemetrySource. Rows outside [from, to) are skipped.
func (s *CSVTelemetrySource) Telemetry(ctx context.Context, from, to time.Time) ([]models.TelemetryRecord, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open telemetry csv: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read telemetry csv header: %w", err)
	}
	col, err := columnIndex(header, "timestamp", "device_id", "component_type",
		"sensor_type", "sensor_value", "threshold_breach", "location")
	if err != nil {
		return nil, fmt.Errorf("telemetry csv %s: %w", s.path, err)
	}

	var out []models.TelemetryRecord
	line := 1
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read telemetry csv line %d: %w", line+1, err)
		}
		line++

		ts, err := utils.ParseRFC3339(row[col["timestamp"]])
		if err != nil {
			return nil, fmt.Errorf("telemetry csv line %d: bad timestamp: %w", line, err)
		}
		if ts.Before(from) || !ts.Before(to) {
			continue
		}

		value := math.NaN()
		if raw := row[col["sensor_value"]]; raw != "" {
			value, err = strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("telemetry csv line %d: bad sensor_value: %w", line, err)
			}
		}
		breach, err := strconv.ParseBool(row[col["threshold_breach"]])
		if err != nil {
			return nil, fmt.Errorf("telemetry csv line %d: bad threshold_breach: %w", line, err)
		}

		out = append(out, models.TelemetryRecord{
			Timestamp:       ts,
			DeviceID:        row[col["device_id"]],
			ComponentType:   row[col["component_type"]],
			SensorType:      row[col["sensor_type"]],
			SensorValue:     value,
			ThresholdBreach: breach,
			Location:        row[col["location"]],
		})
	}
	return out, nil
}

// CSVEventSource reads device log events from a CSV export. Expected header:
// timestamp,device_id,component_type,log_type,message,event_severity,error_code
type CSVEventSource struct {
	path string
}

// NewCSVEventSource creates a source backed by one CSV file.
func NewCSVEventSource(path string) *CSVEventSource {
	return &CSVEventSource{path: path}
}

// Events implements EventSource.
func (s *CSVEventSource) Events(ctx context.Context, from, to time.Time) ([]models.EventRecord, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open events csv: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read events csv header: %w", err)
	}
	col, err := columnIndex(header, "timestamp", "device_id", "component_type",
		"log_type", "message", "event_severity", "error_code")
	if err != nil {
		return nil, fmt.Errorf("events csv %s: %w", s.path, err)
	}

	var out []models.EventRecord
	line := 1
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read events csv line %d: %w", line+1, err)
		}
		line++

		ts, err := utils.ParseRFC3339(row[col["timestamp"]])
		if err != nil {
			return nil, fmt.Errorf("events csv line %d: bad timestamp: %w", line, err)
		}
		if ts.Before(from) || !ts.Before(to) {
			continue
		}
		severity, err := strconv.Atoi(row[col["event_severity"]])
		if err != nil {
			return nil, fmt.Errorf("events csv line %d: bad event_severity: %w", line, err)
		}

		out = append(out, models.EventRecord{
			Timestamp:     ts,
			DeviceID:      row[col["device_id"]],
			ComponentType: row[col["component_type"]],
			LogType:       row[col["log_type"]],
			Message:       row[col["message"]],
			EventSeverity: severity,
			ErrorCode:     row[col["error_code"]],
		})
	}
	return out, nil
}

func columnIndex(header []string, required ...string) (map[string]int, error) {
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, name := range required {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}
	return col, nil
}
