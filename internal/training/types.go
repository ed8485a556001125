package training

import "time"

// #region config

// Config holds the update-cycle hyperparameters.
type Config struct {
	// BatchSize is the prioritized sample drawn per cycle. Cycles are
	// skipped while the buffer holds fewer than MinBatch experiences.
	BatchSize int
	MinBatch  int

	// Epochs is the number of passes over the sampled batch per cycle.
	Epochs int

	LearningRate float32
	ClipEpsilon  float32
	Gamma        float32
	ValueCoef    float32

	// KLThreshold bounds the mean divergence between the serving policy and
	// the candidate on the validation batch. Updates above it are discarded.
	KLThreshold     float64
	ValidationBatch int

	// CycleEvery triggers a cycle after this many newly stored experiences.
	CycleEvery int64

	// RetryInterval paces the loop when a triggered cycle had to be skipped.
	RetryInterval time.Duration

	Seed int64
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:       64,
		MinBatch:        16,
		Epochs:          4,
		LearningRate:    0.01,
		ClipEpsilon:     0.2,
		Gamma:           0.95,
		ValueCoef:       0.5,
		KLThreshold:     0.05,
		ValidationBatch: 32,
		CycleEvery:      1000,
		RetryInterval:   time.Minute,
		Seed:            1,
	}
}

// #endregion config
