package classifier

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"github.com/maintwatch/pdm-engine/internal/preprocess"
)

// ArtifactVersion changes when the serialized layout does.
const ArtifactVersion = 1

// Artifact is the immutable snapshot of a trained model: weights plus the
// encoder/scaler state needed to reproduce inference exactly.
type Artifact struct {
	Version        int              `json:"version"`
	SequenceLength int              `json:"sequence_length"`
	NumFeatures    int              `json:"n_features"`
	HiddenSize     int              `json:"hidden_size"`
	Seed           int64            `json:"seed"`
	Weights        weightState      `json:"weights"`
	Preprocess     preprocess.State `json:"preprocess"`
}

type weightState struct {
	Wx []float64 `json:"wx"`
	Wh []float64 `json:"wh"`
	Bh []float64 `json:"bh"`
	Wo []float64 `json:"wo"`
	Bo float64   `json:"bo"`
}

// SaveArtifact writes the classifier and preprocessor state to path. The
// file is written to a temporary sibling and renamed so readers never see a
// partial artifact.
func SaveArtifact(path string, c *Classifier, state preprocess.State) error {
	artifact := Artifact{
		Version:        ArtifactVersion,
		SequenceLength: c.cfg.SequenceLength,
		NumFeatures:    c.cfg.NumFeatures,
		HiddenSize:     c.cfg.HiddenSize,
		Seed:           c.cfg.Seed,
		Weights: weightState{
			Wx: append([]float64(nil), c.net.wx.RawMatrix().Data...),
			Wh: append([]float64(nil), c.net.wh.RawMatrix().Data...),
			Bh: append([]float64(nil), c.net.bh.RawVector().Data...),
			Wo: append([]float64(nil), c.net.wo.RawVector().Data...),
			Bo: c.net.bo,
		},
		Preprocess: state,
	}

	data, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("publish artifact: %w", err)
	}
	return nil
}

// LoadArtifact restores a classifier and its fitted preprocessor from path.
// Prediction after load is numerically identical to prediction before save.
func LoadArtifact(path string) (*Classifier, *preprocess.Preprocessor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read artifact: %w", err)
	}

	var artifact Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, nil, fmt.Errorf("parse artifact: %w", err)
	}
	if artifact.Version != ArtifactVersion {
		return nil, nil, fmt.Errorf("artifact version %d not supported (want %d)", artifact.Version, ArtifactVersion)
	}

	c, err := New(Config{
		SequenceLength: artifact.SequenceLength,
		NumFeatures:    artifact.NumFeatures,
		HiddenSize:     artifact.HiddenSize,
		Seed:           artifact.Seed,
	})
	if err != nil {
		return nil, nil, err
	}

	hidden := artifact.HiddenSize
	features := artifact.NumFeatures
	if len(artifact.Weights.Wx) != hidden*features ||
		len(artifact.Weights.Wh) != hidden*hidden ||
		len(artifact.Weights.Bh) != hidden ||
		len(artifact.Weights.Wo) != hidden {
		return nil, nil, fmt.Errorf("artifact weight shapes inconsistent with declared dimensions")
	}

	c.net.wx = mat.NewDense(hidden, features, append([]float64(nil), artifact.Weights.Wx...))
	c.net.wh = mat.NewDense(hidden, hidden, append([]float64(nil), artifact.Weights.Wh...))
	c.net.bh = mat.NewVecDense(hidden, append([]float64(nil), artifact.Weights.Bh...))
	c.net.wo = mat.NewVecDense(hidden, append([]float64(nil), artifact.Weights.Wo...))
	c.net.bo = artifact.Weights.Bo

	return c, preprocess.Restore(artifact.Preprocess), nil
}
