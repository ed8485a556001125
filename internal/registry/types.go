package registry

import "time"

// #region status

// Status tracks a model version through its lifecycle. Transitions are
// append-only; version numbers are never reused.
type Status string

const (
	StatusStaged     Status = "staged"
	StatusActive     Status = "active"
	StatusRetired    Status = "retired"
	StatusRolledBack Status = "rolled_back"
)

// #endregion status

// #region model-version

// ModelVersion is one checkpoint: the two named parameter blobs plus the
// validation metrics computed against the held-out scenario set.
type ModelVersion struct {
	Version    int64
	PolicyBlob []byte
	ValueBlob  []byte
	Metrics    map[string]float64
	Status     Status
	CreatedAt  time.Time
}

// #endregion model-version

// #region config

// Config holds activation tunables.
type Config struct {
	// Tolerance is how much worse a staged version may score on any tracked
	// metric and still be activated.
	Tolerance float64
	// Seed initializes the first model version when the store is empty.
	Seed int64
}

// DefaultConfig returns the standard registry configuration.
func DefaultConfig() Config {
	return Config{Tolerance: 0.02, Seed: 1}
}

// #endregion config
