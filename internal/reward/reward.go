package reward

import (
	"math"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/danielpatrickdp/adaptive-response/internal/core"
)

// #region system

// System turns raw feedback signals into one MultiObjectiveReward per turn.
type System struct {
	cfg Config
	log *logrus.Entry

	mu      sync.Mutex
	windows map[Component]*window
}

// NewSystem creates a reward system with the given configuration.
func NewSystem(cfg Config, log *logrus.Entry) *System {
	windows := make(map[Component]*window, len(Components))
	for _, c := range Components {
		windows[c] = newWindow(cfg.WindowSize)
	}
	return &System{cfg: cfg, log: log, windows: windows}
}

// #endregion system

// #region compute

// Compute produces the reward for one turn. turn must be the turn the
// feedback refers to; a nil turn fails with core.ErrInvalidFeedback.
// Components that are NaN or infinite after computation fail with
// core.RewardRangeError.
func (s *System) Compute(turn *core.Turn, fb core.Feedback, qm QualityMetrics) (MultiObjectiveReward, error) {
	if turn == nil {
		return MultiObjectiveReward{}, core.ErrInvalidFeedback
	}

	r := MultiObjectiveReward{
		Helpfulness: helpfulness(fb),
		Accuracy:    accuracy(fb, qm),
		Engagement:  engagement(fb.Engagement),
		Safety:      safety(qm),
		Learning:    learning(fb),
		Weights:     s.cfg.Weights,
		ComputedAt:  time.Now().UTC(),
	}

	for _, c := range Components {
		v := r.component(c)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return MultiObjectiveReward{}, &core.RewardRangeError{Component: string(c), Value: v}
		}
	}

	s.dampenOutliers(&r)
	r.Total = weightedTotal(r)

	if len(r.Flags) > 0 {
		s.log.WithFields(logrus.Fields{
			"turn_id": turn.ID,
			"flags":   r.Flags,
		}).Warn("reward components clamped by outlier rejection")
	}

	return r, nil
}

// component returns one component's value by name.
func (r *MultiObjectiveReward) component(c Component) float64 {
	switch c {
	case ComponentHelpfulness:
		return r.Helpfulness
	case ComponentAccuracy:
		return r.Accuracy
	case ComponentEngagement:
		return r.Engagement
	case ComponentSafety:
		return r.Safety
	default:
		return r.Learning
	}
}

func (r *MultiObjectiveReward) setComponent(c Component, v float64) {
	switch c {
	case ComponentHelpfulness:
		r.Helpfulness = v
	case ComponentAccuracy:
		r.Accuracy = v
	case ComponentEngagement:
		r.Engagement = v
	case ComponentSafety:
		r.Safety = v
	default:
		r.Learning = v
	}
}

// #endregion compute

// #region outliers

// dampenOutliers clamps any component beyond OutlierSigma standard deviations
// of its trailing window to that bound and flags it. Anomalous-but-valid
// signals are dampened, never discarded. The raw value still enters the
// window so the stats track the true signal distribution.
func (s *System) dampenOutliers(r *MultiObjectiveReward) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range Components {
		v := r.component(c)
		w := s.windows[c]

		// Need a meaningful sample before clamping anything.
		if w.count() >= 30 {
			mean, std := w.stats()
			if std > 0 {
				bound := s.cfg.OutlierSigma * std
				if d := v - mean; math.Abs(d) > bound {
					clamped := mean + math.Copysign(bound, d)
					r.setComponent(c, clampComponent(c, clamped))
					r.Flags = append(r.Flags, string(c))
				}
			}
		}
		w.push(v)
	}
}

// clampComponent keeps a clamped value inside the component's declared range.
func clampComponent(c Component, v float64) float64 {
	lo := -1.0
	if c == ComponentSafety {
		lo = 0
	}
	if v < lo {
		return lo
	}
	if v > 1 {
		return 1
	}
	return v
}

// #endregion outliers

// #region components

// helpfulness maps the explicit rating [0,1] to [-1,1], nudged by comment
// sentiment. Absent rating defaults to neutral 0 so the reward shape is fixed.
func helpfulness(fb core.Feedback) float64 {
	if fb.Rating == nil {
		return clamp11(commentSentiment(fb.Comment) * 0.3)
	}
	base := 2*(*fb.Rating) - 1
	return clamp11(base + commentSentiment(fb.Comment)*0.2)
}

// accuracy blends the explicit rating with the external relevance/coherence
// scores. Absent rating defaults to neutral 0.
func accuracy(fb core.Feedback, qm QualityMetrics) float64 {
	if fb.Rating == nil {
		return 0
	}
	base := 2*(*fb.Rating) - 1
	quality := 0.5*qm.Relevance + 0.5*qm.Coherence
	return clamp11(0.7*base + 0.3*(2*quality-1))
}

// engagement folds dwell time, follow-ups and abandonment into [-1,1].
func engagement(em core.EngagementMetrics) float64 {
	v := math.Tanh(em.DwellSeconds / 120.0)
	v += 0.15 * math.Min(float64(em.FollowUpCount), 4)
	if em.CopiedResponse {
		v += 0.25
	}
	if em.Abandoned {
		v -= 1.0
	}
	return clamp11(v)
}

// safety passes through the external content-safety score, forced to 0 when
// the guard vetoed the turn's sampled action.
func safety(qm QualityMetrics) float64 {
	if qm.GuardRejected {
		return 0
	}
	return clamp01(qm.ContentSafety)
}

// learning estimates learning effectiveness from rating trajectory proxies:
// follow-up questions signal continued engagement with the material.
func learning(fb core.Feedback) float64 {
	var v float64
	if fb.Rating != nil {
		v = 0.6 * (2*(*fb.Rating) - 1)
	}
	v += 0.1 * math.Min(float64(fb.Engagement.FollowUpCount), 3)
	if fb.Engagement.Abandoned {
		v -= 0.5
	}
	return clamp11(v)
}

// #endregion components

// #region sentiment

var positiveMarkers = []string{
	"thanks", "thank you", "helpful", "great", "perfect", "exactly",
	"clear", "works", "solved",
}

var negativeMarkers = []string{
	"wrong", "incorrect", "useless", "confusing", "unclear", "not helpful",
	"doesn't work", "does not work", "off topic",
}

// commentSentiment is a coarse lexical score in [-1, 1].
func commentSentiment(comment string) float64 {
	if comment == "" {
		return 0
	}
	lower := strings.ToLower(comment)
	var score float64
	for _, m := range positiveMarkers {
		if strings.Contains(lower, m) {
			score += 0.5
		}
	}
	for _, m := range negativeMarkers {
		if strings.Contains(lower, m) {
			score -= 0.5
		}
	}
	return clamp11(score)
}

// #endregion sentiment

// #region helpers

func clamp11(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// #endregion helpers
