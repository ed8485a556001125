package guard

import (
	"fmt"
	"strings"
	"sync"

	"github.com/danielpatrickdp/adaptive-response/internal/core"
	"github.com/danielpatrickdp/adaptive-response/internal/policy"
)

// #region types

// Constraint names one of the guard's ordered hard constraints.
type Constraint string

const (
	ConstraintContentSafety   Constraint = "content_safety"
	ConstraintActionDiversity Constraint = "action_diversity"
	ConstraintConfidenceFloor Constraint = "confidence_floor"
)

// Decision is the outcome of validating a proposed action.
type Decision struct {
	Accept    bool
	Violation *core.SafetyViolation // non-nil iff rejected
}

// Classifier scores content safety in [0, 1], 1 = fully safe.
type Classifier interface {
	Score(text string) float64
}

// Config holds the guard's hard-constraint thresholds.
type Config struct {
	// SafetyThreshold rejects turns whose input scores below it.
	SafetyThreshold float64
	// DiversityWindow and MaxDistinct bound strategy thrashing: within the
	// last DiversityWindow turns of a conversation, at most MaxDistinct
	// distinct strategies may appear.
	DiversityWindow int
	MaxDistinct     int
	// ConfidenceFloor forces the static fallback when the sampled action's
	// probability is below it.
	ConfidenceFloor float64
}

// DefaultConfig returns the standard guard thresholds.
func DefaultConfig() Config {
	return Config{
		SafetyThreshold: 0.5,
		DiversityWindow: 6,
		MaxDistinct:     4,
		ConfidenceFloor: 0.05,
	}
}

// #endregion types

// #region guard

// Guard validates proposed actions against a fixed ordered list of hard
// constraints before they affect behavior or training.
type Guard struct {
	cfg        Config
	classifier Classifier

	mu     sync.Mutex
	recent map[string][]policy.StrategyID // conversation -> recent strategies
}

// New creates a guard. A nil classifier falls back to the lexical default.
func New(cfg Config, classifier Classifier) *Guard {
	if classifier == nil {
		classifier = LexicalClassifier{}
	}
	return &Guard{
		cfg:        cfg,
		classifier: classifier,
		recent:     make(map[string][]policy.StrategyID),
	}
}

// #endregion guard

// #region validate

// Validate applies the hard constraints in order and returns the first
// violation. Accepted actions are recorded toward the diversity window.
func (g *Guard) Validate(state core.ConversationState, action policy.Action) Decision {
	// 1. Content safety
	if score := g.classifier.Score(state.UserInput); score < g.cfg.SafetyThreshold {
		return reject(ConstraintContentSafety,
			fmt.Sprintf("content safety %.2f below threshold %.2f", score, g.cfg.SafetyThreshold))
	}

	// 2. Action diversity rate limit
	if g.diversityExceeded(state.ConversationID, action.StrategyID) {
		return reject(ConstraintActionDiversity,
			fmt.Sprintf("more than %d distinct strategies in last %d turns",
				g.cfg.MaxDistinct, g.cfg.DiversityWindow))
	}

	// 3. Confidence floor: below it the model must defer to the fallback
	if float64(action.Probability) < g.cfg.ConfidenceFloor {
		return reject(ConstraintConfidenceFloor,
			fmt.Sprintf("action probability %.4f below floor %.4f",
				action.Probability, g.cfg.ConfidenceFloor))
	}

	g.record(state.ConversationID, action.StrategyID)
	return Decision{Accept: true}
}

func reject(c Constraint, reason string) Decision {
	return Decision{Violation: &core.SafetyViolation{Constraint: string(c), Reason: reason}}
}

// #endregion validate

// #region diversity

// diversityExceeded checks whether adding this strategy would push the
// distinct-strategy count over the limit within the window.
func (g *Guard) diversityExceeded(conversationID string, next policy.StrategyID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	window := g.recent[conversationID]
	distinct := map[policy.StrategyID]bool{next: true}
	for _, s := range window {
		distinct[s] = true
	}
	return len(distinct) > g.cfg.MaxDistinct
}

// record appends an accepted strategy, trimming to the window size.
func (g *Guard) record(conversationID string, s policy.StrategyID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	window := append(g.recent[conversationID], s)
	if len(window) > g.cfg.DiversityWindow {
		window = window[len(window)-g.cfg.DiversityWindow:]
	}
	g.recent[conversationID] = window
}

// Forget drops the diversity window for a conversation. Called when a
// conversation is finalized or removed.
func (g *Guard) Forget(conversationID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.recent, conversationID)
}

// #endregion diversity

// #region lexical-classifier

// unsafePatterns is the lexical deny list used when no external classifier
// is wired. Matches drop the score below any reasonable threshold.
var unsafePatterns = []string{
	"build a weapon",
	"make a bomb",
	"hurt myself",
	"kill myself",
	"how to poison",
	"steal credentials",
}

// LexicalClassifier is the built-in pattern-match safety scorer.
type LexicalClassifier struct{}

// Score returns 0 on a deny-list hit, 1 otherwise.
func (LexicalClassifier) Score(text string) float64 {
	lower := strings.ToLower(text)
	for _, p := range unsafePatterns {
		if strings.Contains(lower, p) {
			return 0
		}
	}
	return 1
}

// #endregion lexical-classifier
