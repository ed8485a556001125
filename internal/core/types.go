package core

import "time"

// #region context-vector

// ContextDim is the fixed dimensionality of conversation context vectors
// produced by the external encoder.
const ContextDim = 64

// ContextVector is a fixed-size numeric summary of conversation context.
type ContextVector [ContextDim]float32

// #endregion context-vector

// #region bounds

const (
	// MaxHistoryTurns bounds the ordered turn history carried in a state.
	MaxHistoryTurns = 20
	// MaxExpertiseDomains bounds the per-user expertise mapping.
	MaxExpertiseDomains = 32
	// MaxFeedbackEvents bounds the per-user feedback history.
	MaxFeedbackEvents = 100
)

// #endregion bounds

// #region turn

// Turn is one completed exchange within a conversation.
type Turn struct {
	ID         string    `json:"id"`
	Index      int       `json:"index"`
	UserInput  string    `json:"user_input"`
	StrategyID string    `json:"strategy_id"`
	Response   string    `json:"response"`
	CreatedAt  time.Time `json:"created_at"`
}

// #endregion turn

// #region conversation-state

// ConversationState is an immutable snapshot of a conversation at one turn.
// A new ConversationState supersedes the previous one each turn.
type ConversationState struct {
	ConversationID string        `json:"conversation_id"`
	TurnIndex      int           `json:"turn_index"`
	UserInput      string        `json:"user_input"`
	History        []Turn        `json:"history"` // bounded, oldest first
	Context        ContextVector `json:"context"`
	ProfileID      string        `json:"profile_id"`
}

// #endregion conversation-state

// #region expertise

// ExpertiseLevel grades a user's familiarity with a domain.
type ExpertiseLevel string

const (
	ExpertiseNovice       ExpertiseLevel = "novice"
	ExpertiseIntermediate ExpertiseLevel = "intermediate"
	ExpertiseExpert       ExpertiseLevel = "expert"
)

// #endregion expertise

// #region learning-style

// LearningStyle is an inferred preference for how responses should teach.
type LearningStyle string

const (
	StyleExampleDriven LearningStyle = "example_driven"
	StyleConceptFirst  LearningStyle = "concept_first"
	StyleStepByStep    LearningStyle = "step_by_step"
	StyleReferenceLed  LearningStyle = "reference_led"
)

// #endregion learning-style

// #region feedback-event

// FeedbackEvent is one recorded feedback signal in a profile's history.
type FeedbackEvent struct {
	TurnID    string    `json:"turn_id"`
	Rating    *float64  `json:"rating,omitempty"` // nil when no explicit rating was given
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// #endregion feedback-event

// #region user-profile

// UserProfile holds everything the core has learned about one user.
// Created on first interaction, mutated incrementally by the controller,
// deleted only on explicit data-removal request.
type UserProfile struct {
	UserID          string                    `json:"user_id"`
	Expertise       map[string]ExpertiseLevel `json:"expertise"`
	LearningStyles  []LearningStyle           `json:"learning_styles,omitempty"`
	FeedbackHistory []FeedbackEvent           `json:"feedback_history,omitempty"` // bounded, oldest first
	CreatedAt       time.Time                 `json:"created_at"`
	UpdatedAt       time.Time                 `json:"updated_at"`
}

// NewUserProfile creates an empty profile for a first-seen user.
func NewUserProfile(userID string) *UserProfile {
	now := time.Now().UTC()
	return &UserProfile{
		UserID:    userID,
		Expertise: make(map[string]ExpertiseLevel),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ExpertiseFor returns the user's level for a domain, defaulting to novice
// when the domain has never been observed.
func (p *UserProfile) ExpertiseFor(domain string) ExpertiseLevel {
	if lvl, ok := p.Expertise[domain]; ok {
		return lvl
	}
	return ExpertiseNovice
}

// RecordFeedback appends an event, evicting the oldest past the bound.
func (p *UserProfile) RecordFeedback(ev FeedbackEvent) {
	p.FeedbackHistory = append(p.FeedbackHistory, ev)
	if len(p.FeedbackHistory) > MaxFeedbackEvents {
		p.FeedbackHistory = p.FeedbackHistory[len(p.FeedbackHistory)-MaxFeedbackEvents:]
	}
	p.UpdatedAt = time.Now().UTC()
}

// #endregion user-profile

// #region engagement

// EngagementMetrics is the engagement record attached to feedback submission.
type EngagementMetrics struct {
	DwellSeconds   float64 `json:"dwell_seconds"`
	FollowUpCount  int     `json:"follow_up_count"`
	CopiedResponse bool    `json:"copied_response"`
	Abandoned      bool    `json:"abandoned"`
}

// #endregion engagement

// #region feedback

// Feedback is the raw signal bundle submitted for one turn.
type Feedback struct {
	Rating     *float64          `json:"rating,omitempty"` // explicit rating in [0, 1], nil when absent
	Comment    string            `json:"comment,omitempty"`
	Engagement EngagementMetrics `json:"engagement"`
}

// #endregion feedback
