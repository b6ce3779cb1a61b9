package classifier

import (
	"errors"
	"sync/atomic"

	"github.com/maintwatch/pdm-engine/internal/preprocess"
)

// ErrModelNotReady signals that no artifact has been trained or loaded yet.
// Callers skip scoring for the cycle instead of treating this as fatal.
var ErrModelNotReady = errors.New("classifier: model not ready")

// Model pairs a trained classifier with the preprocessor state it was
// fitted with. The pair must never be mixed across training runs.
type Model struct {
	Classifier   *Classifier
	Preprocessor *preprocess.Preprocessor
}

// Ref holds the current model behind an atomic pointer. Scoring cycles read
// whatever model is current; a completed training run publishes the new
// model after its artifact is saved, without locking the read path.
type Ref struct {
	current atomic.Pointer[Model]
}

// NewRef returns an empty reference.
func NewRef() *Ref { return &Ref{} }

// Current returns the live model or ErrModelNotReady.
func (r *Ref) Current() (*Model, error) {
	m := r.current.Load()
	if m == nil || m.Classifier == nil {
		return nil, ErrModelNotReady
	}
	return m, nil
}

// Publish swaps in a new model. Safe to call while cycles are reading.
func (r *Ref) Publish(m *Model) {
	r.current.Store(m)
}
