package reward

import "time"

// #region component

// Component names the five reward objectives.
type Component string

const (
	ComponentHelpfulness Component = "helpfulness"
	ComponentAccuracy    Component = "accuracy"
	ComponentEngagement  Component = "engagement"
	ComponentSafety      Component = "safety"
	ComponentLearning    Component = "learning_effectiveness"
)

// Components lists all objectives in weight order.
var Components = []Component{
	ComponentHelpfulness,
	ComponentAccuracy,
	ComponentEngagement,
	ComponentSafety,
	ComponentLearning,
}

// #endregion component

// #region weights

// Weights is the non-negative weight vector over the five objectives.
// Must sum to 1.
type Weights struct {
	Helpfulness float64 `json:"helpfulness"`
	Accuracy    float64 `json:"accuracy"`
	Engagement  float64 `json:"engagement"`
	Safety      float64 `json:"safety"`
	Learning    float64 `json:"learning"`
}

// DefaultWeights returns the standard objective weighting.
func DefaultWeights() Weights {
	return Weights{
		Helpfulness: 0.30,
		Accuracy:    0.25,
		Engagement:  0.15,
		Safety:      0.20,
		Learning:    0.10,
	}
}

// Sum returns the total weight mass.
func (w Weights) Sum() float64 {
	return w.Helpfulness + w.Accuracy + w.Engagement + w.Safety + w.Learning
}

// #endregion weights

// #region multi-objective-reward

// MultiObjectiveReward is the structured reward for one conversation turn.
// Helpfulness, Accuracy, Engagement and Learning lie in [-1, 1]; Safety lies
// in [0, 1] with 1 meaning fully safe. Total is the weighted sum. Immutable
// once computed.
type MultiObjectiveReward struct {
	Helpfulness float64 `json:"helpfulness"`
	Accuracy    float64 `json:"accuracy"`
	Engagement  float64 `json:"engagement"`
	Safety      float64 `json:"safety"`
	Learning    float64 `json:"learning"`

	Total   float64 `json:"total"`
	Weights Weights `json:"weights"`

	// Flags names components that were clamped by outlier rejection.
	Flags []string `json:"flags,omitempty"`

	ComputedAt time.Time `json:"computed_at"`
}

// Neutral returns the no-feedback default: neutral helpfulness/accuracy,
// fully safe.
func Neutral(w Weights) MultiObjectiveReward {
	r := MultiObjectiveReward{
		Safety:     1,
		Weights:    w,
		ComputedAt: time.Now().UTC(),
	}
	r.Total = weightedTotal(r)
	return r
}

func weightedTotal(r MultiObjectiveReward) float64 {
	w := r.Weights
	return w.Helpfulness*r.Helpfulness +
		w.Accuracy*r.Accuracy +
		w.Engagement*r.Engagement +
		w.Safety*r.Safety +
		w.Learning*r.Learning
}

// #endregion multi-objective-reward

// #region quality-metrics

// QualityMetrics carries externally computed safety and quality scores for a
// generated response.
type QualityMetrics struct {
	ContentSafety float64 // [0, 1], 1 = fully safe
	Relevance     float64 // [0, 1]
	Coherence     float64 // [0, 1]

	// GuardRejected marks a turn whose sampled action was vetoed by the
	// safety guard; the safety component is forced to 0.
	GuardRejected bool
}

// #endregion quality-metrics

// #region config

// Config holds the reward system's tunables.
type Config struct {
	Weights      Weights
	WindowSize   int     // trailing samples per component for outlier stats
	OutlierSigma float64 // clamp beyond this many standard deviations
}

// DefaultConfig returns the standard reward configuration.
func DefaultConfig() Config {
	return Config{
		Weights:      DefaultWeights(),
		WindowSize:   500,
		OutlierSigma: 3.0,
	}
}

// #endregion config
