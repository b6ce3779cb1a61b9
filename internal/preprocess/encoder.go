package preprocess

import "math"

// UnknownCode is the reserved code categorical encoders return for values
// never seen during fitting. Fitted categories start at 1.
const UnknownCode = 0

// CategoryEncoder assigns stable integer codes to string categories in
// first-seen order, scoped to a single column.
type CategoryEncoder struct {
	codes map[string]int
	order []string
}

// NewCategoryEncoder returns an empty encoder.
func NewCategoryEncoder() *CategoryEncoder {
	return &CategoryEncoder{codes: make(map[string]int)}
}

// Fit registers the value if unseen and returns its code.
func (e *CategoryEncoder) Fit(value string) int {
	if code, ok := e.codes[value]; ok {
		return code
	}
	code := len(e.order) + 1
	e.codes[value] = code
	e.order = append(e.order, value)
	return code
}

// Code returns the value's code, or UnknownCode when it was never fitted.
func (e *CategoryEncoder) Code(value string) int {
	if code, ok := e.codes[value]; ok {
		return code
	}
	return UnknownCode
}

// Cardinality returns the number of fitted categories.
func (e *CategoryEncoder) Cardinality() int {
	return len(e.order)
}

// EncoderState is the serializable form of a CategoryEncoder. Categories are
// stored in first-seen order so restoring reproduces identical codes.
type EncoderState struct {
	Categories []string `json:"categories"`
}

// State snapshots the encoder.
func (e *CategoryEncoder) State() EncoderState {
	return EncoderState{Categories: append([]string(nil), e.order...)}
}

// RestoreEncoder rebuilds an encoder from a snapshot.
func RestoreEncoder(state EncoderState) *CategoryEncoder {
	e := NewCategoryEncoder()
	for _, v := range state.Categories {
		e.Fit(v)
	}
	return e
}

// StandardScaler centers a numeric column to zero mean and unit variance.
type StandardScaler struct {
	mean   float64
	stddev float64
	fitted bool
}

// NewStandardScaler returns an unfitted scaler.
func NewStandardScaler() *StandardScaler {
	return &StandardScaler{stddev: 1}
}

// Fit computes mean and standard deviation over the provided values.
// A constant column gets a standard deviation of 1 so transforms stay finite.
func (s *StandardScaler) Fit(values []float64) {
	if len(values) == 0 {
		s.mean, s.stddev, s.fitted = 0, 1, true
		return
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	variance /= float64(len(values))

	s.mean = mean
	s.stddev = math.Sqrt(variance)
	if s.stddev == 0 {
		s.stddev = 1
	}
	s.fitted = true
}

// Transform scales a single value with the fitted parameters.
func (s *StandardScaler) Transform(v float64) float64 {
	return (v - s.mean) / s.stddev
}

// Fitted reports whether Fit has run.
func (s *StandardScaler) Fitted() bool { return s.fitted }

// ScalerState is the serializable form of a StandardScaler.
type ScalerState struct {
	Mean   float64 `json:"mean"`
	Stddev float64 `json:"stddev"`
}

// State snapshots the scaler.
func (s *StandardScaler) State() ScalerState {
	return ScalerState{Mean: s.mean, Stddev: s.stddev}
}

// RestoreScaler rebuilds a scaler from a snapshot.
func RestoreScaler(state ScalerState) *StandardScaler {
	stddev := state.Stddev
	if stddev == 0 {
		stddev = 1
	}
	return &StandardScaler{mean: state.Mean, stddev: stddev, fitted: true}
}
