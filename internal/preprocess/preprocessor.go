package preprocess

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/maintwatch/pdm-engine/internal/models"
	"github.com/maintwatch/pdm-engine/internal/utils"
)

// Categorical and numeric column names of the feature table.
const (
	ColDevice    = "device_id"
	ColComponent = "component_type"
	ColSensor    = "sensor_type"
	ColLocation  = "location"

	ColSensorValue = "sensor_value"
	ColHour        = "hour"
	ColDayOfWeek   = "day_of_week"
	ColMonth       = "month"
)

var (
	categoricalColumns = []string{ColDevice, ColComponent, ColSensor, ColLocation}
	numericColumns     = []string{ColSensorValue, ColHour, ColDayOfWeek, ColMonth}
)

// Preprocessor turns raw telemetry records into the feature table consumed
// by the classifier. Encoders and scalers fitted once by FitTransform are
// reused verbatim by Transform so training and inference see identical
// encodings; unseen categories at inference map to UnknownCode.
type Preprocessor struct {
	encoders map[string]*CategoryEncoder
	scalers  map[string]*StandardScaler
	fitted   bool
}

// New returns an unfitted Preprocessor.
func New() *Preprocessor {
	p := &Preprocessor{
		encoders: make(map[string]*CategoryEncoder, len(categoricalColumns)),
		scalers:  make(map[string]*StandardScaler, len(numericColumns)),
	}
	for _, col := range categoricalColumns {
		p.encoders[col] = NewCategoryEncoder()
	}
	for _, col := range numericColumns {
		p.scalers[col] = NewStandardScaler()
	}
	return p
}

// Fitted reports whether FitTransform has run.
func (p *Preprocessor) Fitted() bool { return p.fitted }

// FitTransform fits encoders and scalers on the raw table and returns the
// engineered feature rows. Categorical codes are assigned in first-seen
// order after time sorting, per column. Missing sensor values are
// forward-filled from the most recent prior reading of the same
// device+sensor pair; leading missing values with no prior reading are
// dropped. Empty input yields empty output.
func (p *Preprocessor) FitTransform(records []models.TelemetryRecord) ([]models.FeatureRow, error) {
	cleaned, err := p.clean(records)
	if err != nil {
		return nil, err
	}
	if len(cleaned) == 0 {
		p.fitted = true
		return nil, nil
	}

	for _, rec := range cleaned {
		p.encoders[ColDevice].Fit(rec.DeviceID)
		p.encoders[ColComponent].Fit(rec.ComponentType)
		p.encoders[ColSensor].Fit(rec.SensorType)
		p.encoders[ColLocation].Fit(rec.Location)
	}

	numeric := make(map[string][]float64, len(numericColumns))
	for _, rec := range cleaned {
		hour, dow, month := utils.CalendarFeatures(rec.Timestamp)
		numeric[ColSensorValue] = append(numeric[ColSensorValue], rec.SensorValue)
		numeric[ColHour] = append(numeric[ColHour], hour)
		numeric[ColDayOfWeek] = append(numeric[ColDayOfWeek], dow)
		numeric[ColMonth] = append(numeric[ColMonth], month)
	}
	for col, values := range numeric {
		p.scalers[col].Fit(values)
	}

	p.fitted = true
	return p.buildRows(cleaned), nil
}

// Transform applies previously fitted encoders and scalers without
// refitting. Unseen categorical values map to the reserved unknown code.
func (p *Preprocessor) Transform(records []models.TelemetryRecord) ([]models.FeatureRow, error) {
	if !p.fitted {
		return nil, fmt.Errorf("preprocessor: transform called before fit")
	}
	cleaned, err := p.clean(records)
	if err != nil {
		return nil, err
	}
	return p.buildRows(cleaned), nil
}

// clean validates, time-sorts, and forward-fills the raw table.
func (p *Preprocessor) clean(records []models.TelemetryRecord) ([]models.TelemetryRecord, error) {
	if len(records) == 0 {
		return nil, nil
	}

	sorted := append([]models.TelemetryRecord(nil), records...)
	for i, rec := range sorted {
		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	lastSeen := make(map[string]float64)
	cleaned := make([]models.TelemetryRecord, 0, len(sorted))
	for _, rec := range sorted {
		key := rec.DeviceID + "\x00" + rec.SensorType
		if rec.MissingValue() {
			prior, ok := lastSeen[key]
			if !ok {
				// No prior reading to fill from.
				continue
			}
			rec.SensorValue = prior
		} else {
			lastSeen[key] = rec.SensorValue
		}
		cleaned = append(cleaned, rec)
	}
	return cleaned, nil
}

func (p *Preprocessor) buildRows(records []models.TelemetryRecord) []models.FeatureRow {
	if len(records) == 0 {
		return nil
	}
	rows := make([]models.FeatureRow, 0, len(records))
	for _, rec := range records {
		hour, dow, month := utils.CalendarFeatures(rec.Timestamp)
		breach := 0
		if rec.ThresholdBreach {
			breach = 1
		}
		rows = append(rows, models.FeatureRow{
			DeviceID:      rec.DeviceID,
			Timestamp:     rec.Timestamp,
			SensorValue:   p.scalers[ColSensorValue].Transform(rec.SensorValue),
			Hour:          p.scalers[ColHour].Transform(hour),
			DayOfWeek:     p.scalers[ColDayOfWeek].Transform(dow),
			Month:         p.scalers[ColMonth].Transform(month),
			DeviceCode:    p.encoders[ColDevice].Code(rec.DeviceID),
			ComponentCode: p.encoders[ColComponent].Code(rec.ComponentType),
			SensorCode:    p.encoders[ColSensor].Code(rec.SensorType),
			LocationCode:  p.encoders[ColLocation].Code(rec.Location),
			Breach:        breach,
		})
	}
	return rows
}

// MakeWindows slides a window of sequenceLength consecutive rows over each
// device's time-ordered feature rows and labels it with the breach flag of
// the row immediately after the window. Devices are processed in ascending
// device-ID order; a device with <= sequenceLength rows contributes zero
// windows. Event records of the window's time span contribute three
// aggregate features broadcast to every timestep. deviceFilter, when
// non-empty, restricts output to that device.
func (p *Preprocessor) MakeWindows(rows []models.FeatureRow, events []models.EventRecord, sequenceLength int, deviceFilter string) ([]models.Window, error) {
	if sequenceLength <= 0 {
		return nil, fmt.Errorf("make windows: sequence length must be positive, got %d", sequenceLength)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	byDevice := make(map[string][]models.FeatureRow)
	for _, row := range rows {
		if deviceFilter != "" && row.DeviceID != deviceFilter {
			continue
		}
		byDevice[row.DeviceID] = append(byDevice[row.DeviceID], row)
	}

	eventsByDevice := make(map[string][]models.EventRecord)
	for _, ev := range events {
		eventsByDevice[ev.DeviceID] = append(eventsByDevice[ev.DeviceID], ev)
	}
	for _, devEvents := range eventsByDevice {
		sort.SliceStable(devEvents, func(i, j int) bool {
			return devEvents[i].Timestamp.Before(devEvents[j].Timestamp)
		})
	}

	deviceIDs := make([]string, 0, len(byDevice))
	for id := range byDevice {
		deviceIDs = append(deviceIDs, id)
	}
	sort.Strings(deviceIDs)

	var windows []models.Window
	for _, id := range deviceIDs {
		devRows := byDevice[id]
		sort.SliceStable(devRows, func(i, j int) bool {
			return devRows[i].Timestamp.Before(devRows[j].Timestamp)
		})
		if len(devRows) <= sequenceLength {
			continue
		}

		devEvents := eventsByDevice[id]
		for start := 0; start+sequenceLength < len(devRows); start++ {
			seq := devRows[start : start+sequenceLength]
			labelRow := devRows[start+sequenceLength]

			eventFeats := eventFeatures(devEvents, seq[0].Timestamp, seq[len(seq)-1].Timestamp)
			features := make([][]float64, sequenceLength)
			for t, row := range seq {
				features[t] = append(row.Vector(), eventFeats...)
			}

			windows = append(windows, models.Window{
				DeviceID: id,
				EndsAt:   labelRow.Timestamp,
				Label:    labelRow.Breach,
				Features: features,
			})
		}
	}
	return windows, nil
}

// eventFeatures aggregates the device's events within [start, end] into
// [log1p(count), mean severity / 10, max severity / 10].
func eventFeatures(events []models.EventRecord, start, end time.Time) []float64 {
	count := 0
	sum := 0
	max := 0
	lo := sort.Search(len(events), func(i int) bool {
		return !events[i].Timestamp.Before(start)
	})
	for i := lo; i < len(events) && !events[i].Timestamp.After(end); i++ {
		count++
		sum += events[i].EventSeverity
		if events[i].EventSeverity > max {
			max = events[i].EventSeverity
		}
	}

	mean := 0.0
	if count > 0 {
		mean = float64(sum) / float64(count)
	}
	return []float64{math.Log1p(float64(count)), mean / 10, float64(max) / 10}
}

// State snapshots the fitted encoders and scalers for the model artifact.
type State struct {
	Encoders map[string]EncoderState `json:"encoders"`
	Scalers  map[string]ScalerState  `json:"scalers"`
}

// State returns the serializable encoder/scaler state.
func (p *Preprocessor) State() State {
	state := State{
		Encoders: make(map[string]EncoderState, len(p.encoders)),
		Scalers:  make(map[string]ScalerState, len(p.scalers)),
	}
	for col, enc := range p.encoders {
		state.Encoders[col] = enc.State()
	}
	for col, sc := range p.scalers {
		state.Scalers[col] = sc.State()
	}
	return state
}

// Restore rebuilds a fitted Preprocessor from a snapshot.
func Restore(state State) *Preprocessor {
	p := New()
	for col, enc := range state.Encoders {
		p.encoders[col] = RestoreEncoder(enc)
	}
	for col, sc := range state.Scalers {
		p.scalers[col] = RestoreScaler(sc)
	}
	p.fitted = true
	return p
}
