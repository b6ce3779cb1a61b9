package classifier

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"

	"github.com/maintwatch/pdm-engine/internal/models"
)

// ErrEmptyBatch is returned when Predict or Evaluate receives no windows.
// Downstream code indexes the first probability, so an empty batch must be
// an explicit error rather than a silent empty slice.
var ErrEmptyBatch = errors.New("classifier: empty batch")

const gradClipNorm = 5.0

// Config fixes the classifier's shape and the training hyperparameters that
// belong to the artifact.
type Config struct {
	SequenceLength int
	NumFeatures    int
	HiddenSize     int
	LearningRate   float64
	Seed           int64
}

func (c *Config) applyDefaults() {
	if c.HiddenSize <= 0 {
		c.HiddenSize = 32
	}
	if c.LearningRate <= 0 {
		c.LearningRate = 0.001
	}
}

// TrainOptions controls one training run.
type TrainOptions struct {
	Epochs          int
	BatchSize       int
	ValidationSplit float64
	Patience        int
}

// History records per-epoch training traces.
type History struct {
	Loss        []float64
	Accuracy    []float64
	ValLoss     []float64
	ValAccuracy []float64
	BestEpoch   int
	Stopped     bool
}

// Classifier is a trainable recurrent binary classifier over fixed-shape
// windows. It is safe for concurrent Predict calls once training finished;
// Train must not run concurrently with itself or with Predict on the same
// instance (the engine trains on a fresh instance and swaps atomically).
type Classifier struct {
	cfg Config
	net *network
	rng *rand.Rand
}

// New constructs a classifier with freshly initialised weights. The seed
// makes weight initialisation and batch shuffling deterministic.
func New(cfg Config) (*Classifier, error) {
	cfg.applyDefaults()
	if cfg.SequenceLength <= 0 {
		return nil, fmt.Errorf("classifier: sequence length must be positive, got %d", cfg.SequenceLength)
	}
	if cfg.NumFeatures <= 0 {
		return nil, fmt.Errorf("classifier: feature count must be positive, got %d", cfg.NumFeatures)
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	return &Classifier{cfg: cfg, net: newNetwork(cfg.NumFeatures, cfg.HiddenSize, rng), rng: rng}, nil
}

// Config returns the classifier's shape configuration.
func (c *Classifier) Config() Config { return c.cfg }

func (c *Classifier) checkShape(w models.Window) error {
	steps, width := w.Shape()
	if steps != c.cfg.SequenceLength || width != c.cfg.NumFeatures {
		return fmt.Errorf("classifier: window for %s has shape (%d,%d), model expects (%d,%d)",
			w.DeviceID, steps, width, c.cfg.SequenceLength, c.cfg.NumFeatures)
	}
	return nil
}

// Train fits the network on the labelled windows. The dataset is split once
// into train/validation by window label time (oldest windows train, newest
// validate) so no future window leaks into validation. Early stopping
// monitors validation loss with the configured patience and restores the
// best weights; with too few windows for a validation slice it monitors
// training loss instead.
func (c *Classifier) Train(windows []models.Window, opts TrainOptions) (History, error) {
	if len(windows) == 0 {
		return History{}, ErrEmptyBatch
	}
	for _, w := range windows {
		if err := c.checkShape(w); err != nil {
			return History{}, err
		}
	}
	if opts.Epochs <= 0 {
		opts.Epochs = 10
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	if opts.Patience <= 0 {
		opts.Patience = 3
	}
	if opts.ValidationSplit < 0 || opts.ValidationSplit >= 1 {
		return History{}, fmt.Errorf("classifier: validation split must be in [0,1), got %f", opts.ValidationSplit)
	}

	ordered := append([]models.Window(nil), windows...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].EndsAt.Before(ordered[j].EndsAt)
	})
	valN := int(float64(len(ordered)) * opts.ValidationSplit)
	train := ordered[:len(ordered)-valN]
	val := ordered[len(ordered)-valN:]

	history := History{}
	best := c.net.clone()
	bestLoss := 0.0
	bestSet := false
	sinceBest := 0

	optimizer := newAdam(c.cfg.NumFeatures, c.cfg.HiddenSize, c.cfg.LearningRate)
	grads := newGradients(c.cfg.NumFeatures, c.cfg.HiddenSize)
	order := make([]int, len(train))
	for i := range order {
		order[i] = i
	}

	for epoch := 0; epoch < opts.Epochs; epoch++ {
		c.rng.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})

		epochLoss := 0.0
		correct := 0
		for start := 0; start < len(order); start += opts.BatchSize {
			end := start + opts.BatchSize
			if end > len(order) {
				end = len(order)
			}
			grads.zero()
			for _, idx := range order[start:end] {
				w := train[idx]
				label := float64(w.Label)
				cache := c.net.forward(w.Features)
				epochLoss += bceLoss(cache.prob, label)
				if (cache.prob > 0.5) == (w.Label == 1) {
					correct++
				}
				c.net.backward(cache, label, grads)
			}
			batchScale := 1.0 / float64(end-start)
			scaleSlice(grads.wx.RawMatrix().Data, batchScale)
			scaleSlice(grads.wh.RawMatrix().Data, batchScale)
			scaleSlice(grads.bh.RawVector().Data, batchScale)
			scaleSlice(grads.wo.RawVector().Data, batchScale)
			grads.bo *= batchScale
			grads.clip(gradClipNorm)
			optimizer.apply(c.net, grads)
		}

		trainLoss := epochLoss / float64(len(train))
		trainAcc := float64(correct) / float64(len(train))
		history.Loss = append(history.Loss, trainLoss)
		history.Accuracy = append(history.Accuracy, trainAcc)

		monitored := trainLoss
		if len(val) > 0 {
			valLoss, valAcc := c.datasetLoss(val)
			history.ValLoss = append(history.ValLoss, valLoss)
			history.ValAccuracy = append(history.ValAccuracy, valAcc)
			monitored = valLoss
		}

		if !bestSet || monitored < bestLoss {
			bestLoss = monitored
			best = c.net.clone()
			bestSet = true
			history.BestEpoch = epoch
			sinceBest = 0
			continue
		}
		sinceBest++
		if sinceBest >= opts.Patience {
			history.Stopped = true
			break
		}
	}

	c.net = best
	return history, nil
}

func (c *Classifier) datasetLoss(windows []models.Window) (loss, accuracy float64) {
	correct := 0
	for _, w := range windows {
		cache := c.net.forward(w.Features)
		loss += bceLoss(cache.prob, float64(w.Label))
		if (cache.prob > 0.5) == (w.Label == 1) {
			correct++
		}
	}
	return loss / float64(len(windows)), float64(correct) / float64(len(windows))
}

// Predict returns one failure probability per window, in input order.
func (c *Classifier) Predict(windows []models.Window) ([]float64, error) {
	if len(windows) == 0 {
		return nil, ErrEmptyBatch
	}
	probs := make([]float64, len(windows))
	for i, w := range windows {
		if err := c.checkShape(w); err != nil {
			return nil, err
		}
		probs[i] = c.net.forward(w.Features).prob
	}
	return probs, nil
}

// Metrics summarises classification quality at the fixed 0.5 boundary.
// Confusion is indexed [actual][predicted].
type Metrics struct {
	Accuracy  float64
	Precision float64
	Recall    float64
	F1        float64
	Confusion [2][2]int
	Report    string
}

// Evaluate scores the labelled windows at a 0.5 decision boundary.
func (c *Classifier) Evaluate(windows []models.Window) (Metrics, error) {
	probs, err := c.Predict(windows)
	if err != nil {
		return Metrics{}, err
	}

	var m Metrics
	for i, p := range probs {
		predicted := 0
		if p > 0.5 {
			predicted = 1
		}
		m.Confusion[windows[i].Label][predicted]++
	}

	tn := float64(m.Confusion[0][0])
	fp := float64(m.Confusion[0][1])
	fn := float64(m.Confusion[1][0])
	tp := float64(m.Confusion[1][1])

	total := tn + fp + fn + tp
	m.Accuracy = (tp + tn) / total
	if tp+fp > 0 {
		m.Precision = tp / (tp + fp)
	}
	if tp+fn > 0 {
		m.Recall = tp / (tp + fn)
	}
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	m.Report = classificationReport(m)
	return m, nil
}

func classificationReport(m Metrics) string {
	var b strings.Builder
	fmt.Fprintf(&b, "accuracy  %.4f\n", m.Accuracy)
	fmt.Fprintf(&b, "precision %.4f\n", m.Precision)
	fmt.Fprintf(&b, "recall    %.4f\n", m.Recall)
	fmt.Fprintf(&b, "f1        %.4f\n", m.F1)
	fmt.Fprintf(&b, "confusion [tn=%d fp=%d fn=%d tp=%d]\n",
		m.Confusion[0][0], m.Confusion[0][1], m.Confusion[1][0], m.Confusion[1][1])
	return b.String()
}
