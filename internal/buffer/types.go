package buffer

import (
	"time"

	"github.com/danielpatrickdp/adaptive-response/internal/core"
	"github.com/danielpatrickdp/adaptive-response/internal/policy"
	"github.com/danielpatrickdp/adaptive-response/internal/reward"
)

// #region experience

// Experience is one (state, action, reward, next-state) transition.
// Created by the agent controller once reward is available; only priority
// and (for late feedback) reward are ever mutated afterwards.
type Experience struct {
	ID             string                      `json:"id"`
	ConversationID string                      `json:"conversation_id"`
	TurnIndex      int                         `json:"turn_index"`
	State          core.ConversationState      `json:"state"`
	Action         policy.Action               `json:"action"`
	Reward         reward.MultiObjectiveReward `json:"reward"`
	NextState      core.ConversationState      `json:"next_state"`
	Terminal       bool                        `json:"terminal"`
	Metadata       map[string]string           `json:"metadata,omitempty"`
	CreatedAt      time.Time                   `json:"created_at"`
}

// #endregion experience

// #region sampled

// Sampled pairs an experience with its importance-sampling weight, which
// corrects the bias introduced by priority-proportional selection.
type Sampled struct {
	Experience
	Weight float64
}

// #endregion sampled

// #region config

// Config holds the buffer's sampling and capacity tunables.
type Config struct {
	Capacity int

	// Alpha shapes priority-proportional sampling: P(i) ∝ priority^Alpha.
	Alpha float64

	// Beta controls importance-sampling correction, annealed from BetaStart
	// toward 1 over BetaAnnealSteps sampling calls.
	BetaStart       float64
	BetaAnnealSteps int

	// InitialPriority is the priority assigned before any entry has been
	// sampled, so unseen data is sampled first.
	InitialPriority float64

	// MinPriority keeps updated priorities strictly positive.
	MinPriority float64
}

// DefaultConfig returns the standard buffer configuration.
func DefaultConfig() Config {
	return Config{
		Capacity:        10000,
		Alpha:           0.6,
		BetaStart:       0.4,
		BetaAnnealSteps: 100000,
		InitialPriority: 1.0,
		MinPriority:     1e-4,
	}
}

// #endregion config
