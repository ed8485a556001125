package agent

import (
	"time"

	"github.com/danielpatrickdp/adaptive-response/internal/core"
	"github.com/danielpatrickdp/adaptive-response/internal/policy"
)

// #region phase

// Phase is the per-conversation state machine position.
type Phase string

const (
	PhaseAwaitingInput      Phase = "awaiting_input"
	PhaseStrategySelected   Phase = "strategy_selected"
	PhaseAwaitingFeedback   Phase = "awaiting_feedback"
	PhaseExperienceRecorded Phase = "experience_recorded"
)

// #endregion phase

// #region response

// Response is what generate_response returns to the external API layer.
type Response struct {
	ConversationID string
	TurnID         string
	Strategy       policy.StrategyConfig
	Text           string

	// FallbackUsed marks turns served by the cached last-known-good
	// strategy after a model or generation failure.
	FallbackUsed bool
	// GuardRejected marks turns whose sampled action was vetoed and
	// replaced by the static fallback action.
	GuardRejected bool
}

// #endregion response

// #region pending-turn

// pendingTurn tracks a turn between strategy selection and feedback.
type pendingTurn struct {
	turn          core.Turn
	state         core.ConversationState
	action        policy.Action
	guardRejected bool
	createdAt     time.Time

	recorded    bool // an experience exists for this turn
	neutralized bool // finalized by the sweeper with the neutral reward
}

// #endregion pending-turn

// #region config

// Config holds the controller's tunables.
type Config struct {
	// GenerationTimeout bounds the external produce_text call.
	GenerationTimeout time.Duration
	// FeedbackWindow bounds how long a turn may await feedback before it is
	// finalized with the neutral reward.
	FeedbackWindow time.Duration
	// SweepInterval is how often the pending-turn sweeper runs.
	SweepInterval time.Duration
	// Seed feeds the exploration RNG.
	Seed int64
}

// DefaultConfig returns the standard controller configuration.
func DefaultConfig() Config {
	return Config{
		GenerationTimeout: 10 * time.Second,
		FeedbackWindow:    24 * time.Hour,
		SweepInterval:     5 * time.Minute,
		Seed:              time.Now().UnixNano(),
	}
}

// #endregion config
