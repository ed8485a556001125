package agent

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/danielpatrickdp/adaptive-response/internal/buffer"
	"github.com/danielpatrickdp/adaptive-response/internal/core"
	"github.com/danielpatrickdp/adaptive-response/internal/guard"
	"github.com/danielpatrickdp/adaptive-response/internal/metrics"
	"github.com/danielpatrickdp/adaptive-response/internal/policy"
	"github.com/danielpatrickdp/adaptive-response/internal/registry"
	"github.com/danielpatrickdp/adaptive-response/internal/reward"
	"github.com/danielpatrickdp/adaptive-response/internal/textgen"
)

// #region quality

// defaultQuality is used until an external quality scorer is wired: content
// assumed safe, mid-high relevance/coherence.
var defaultQuality = reward.QualityMetrics{
	ContentSafety: 1,
	Relevance:     0.75,
	Coherence:     0.75,
}

// #endregion quality

// #region conversation

// maxSeenTurns bounds the per-conversation idempotence record. Feedback for
// a turn older than the record is rejected as unknown rather than tracked
// forever.
const maxSeenTurns = 8 * core.MaxHistoryTurns

// conversation is one live conversation's mutable state. Each conversation
// progresses independently; the only shared mutable state is the experience
// buffer and the active model snapshot.
type conversation struct {
	mu sync.Mutex

	id     string
	userID string
	phase  Phase

	turns         []core.Turn
	statesByIndex map[int]core.ConversationState
	pending       map[string]*pendingTurn // by turn ID, removed once feedback lands
	seenTurns     map[string]bool         // bounded idempotence record
	seenOrder     []string                // insertion order, for trimming seenTurns

	// cachedStrategy is the last-known-good strategy, served on model or
	// generation failure.
	cachedStrategy policy.StrategyID
}

// markSeen records a turn ID for feedback idempotence, trimming the oldest
// entries past the bound.
func (conv *conversation) markSeen(turnID string) {
	conv.seenTurns[turnID] = true
	conv.seenOrder = append(conv.seenOrder, turnID)
	if len(conv.seenOrder) > maxSeenTurns {
		overflow := len(conv.seenOrder) - maxSeenTurns
		for _, id := range conv.seenOrder[:overflow] {
			delete(conv.seenTurns, id)
		}
		conv.seenOrder = append(conv.seenOrder[:0:0], conv.seenOrder[overflow:]...)
	}
}

// #endregion conversation

// #region notifier

// StoredNotifier is how the controller tells the training manager a new
// experience landed. Satisfied by *training.Manager.
type StoredNotifier interface {
	NotifyStored()
}

type noopNotifier struct{}

func (noopNotifier) NotifyStored() {}

// #endregion notifier

// #region controller

// Controller turns user turns into strategies, applies the safety guard,
// records experiences, and requests reward computation. One controller
// serves many concurrent conversations.
type Controller struct {
	cfg       Config
	models    *registry.Manager
	guard     *guard.Guard
	rewards   *reward.System
	buf       *buffer.Buffer
	archive   *buffer.Archive // optional durability, may be nil
	profiles  *ProfileStore
	generator textgen.Generator
	encoder   textgen.Encoder
	trainer   StoredNotifier
	sink      metrics.Sink
	log       *logrus.Entry

	rngMu sync.Mutex
	rng   *rand.Rand

	mu            sync.RWMutex
	conversations map[string]*conversation
}

// Deps bundles the controller's collaborators.
type Deps struct {
	Models    *registry.Manager
	Guard     *guard.Guard
	Rewards   *reward.System
	Buffer    *buffer.Buffer
	Archive   *buffer.Archive
	Profiles  *ProfileStore
	Generator textgen.Generator
	Encoder   textgen.Encoder
	Trainer   StoredNotifier
	Sink      metrics.Sink
	Log       *logrus.Entry
}

// NewController wires a controller.
func NewController(cfg Config, d Deps) *Controller {
	trainer := d.Trainer
	if trainer == nil {
		trainer = noopNotifier{}
	}
	return &Controller{
		cfg:           cfg,
		models:        d.Models,
		guard:         d.Guard,
		rewards:       d.Rewards,
		buf:           d.Buffer,
		archive:       d.Archive,
		profiles:      d.Profiles,
		generator:     d.Generator,
		encoder:       d.Encoder,
		trainer:       trainer,
		sink:          d.Sink,
		log:           d.Log,
		rng:           rand.New(rand.NewSource(cfg.Seed)),
		conversations: make(map[string]*conversation),
	}
}

// #endregion controller

// #region generate-response

// GenerateResponse runs one turn: build conversation state, query the active
// model for a strategy, apply the safety guard, produce text, and hold the
// turn pending feedback. Internal failures degrade to the cached
// last-known-good strategy; they never surface as a blocked conversation.
func (c *Controller) GenerateResponse(ctx context.Context, userInput, conversationID, userID string) (Response, error) {
	conv := c.getOrCreateConversation(conversationID, userID)

	conv.mu.Lock()
	defer conv.mu.Unlock()
	conv.phase = PhaseAwaitingInput

	profile, err := c.profiles.GetOrCreate(ctx, userID)
	if err != nil {
		c.log.WithError(err).Warn("profile load failed, using transient profile")
		profile = core.NewUserProfile(userID)
	}

	state, err := c.buildState(ctx, conv, userInput, profile)
	if err != nil {
		// Encoder failure is a model-input failure: fall back, record nothing.
		return c.fallbackResponse(ctx, conv, userInput, err), nil
	}

	snapshot := c.models.Active()
	dist, _ := snapshot.Model.Evaluate(state)

	c.rngMu.Lock()
	action := dist.Sample(c.rng)
	c.rngMu.Unlock()
	conv.phase = PhaseStrategySelected

	guardRejected := false
	if decision := c.guard.Validate(state, action); !decision.Accept {
		guardRejected = true
		c.sink.Publish(ctx, metrics.NewEvent(metrics.EventSafetyViolation, "guard", map[string]string{
			"conversation_id": conv.id,
			"constraint":      decision.Violation.Constraint,
			"reason":          decision.Violation.Reason,
		}))
		c.log.WithFields(logrus.Fields{
			"conversation_id": conv.id,
			"constraint":      decision.Violation.Constraint,
		}).Warn("action vetoed, substituting fallback")

		idx := policy.IndexOf(policy.FallbackStrategy)
		action = policy.Action{
			StrategyID:  policy.FallbackStrategy,
			Index:       idx,
			Probability: action.Probs[idx],
			Probs:       action.Probs,
		}
	}

	strategy := action.Config()
	text, err := c.produceText(ctx, strategy, userInput)
	if err != nil {
		genErr := &core.GenerationError{Err: err}
		c.log.WithError(genErr).Warn("generation failed, serving cached strategy")
		c.sink.Publish(ctx, metrics.NewEvent(metrics.EventGenerationFallback, "agent", map[string]string{
			"conversation_id": conv.id,
			"error":           genErr.Error(),
		}))
		return c.fallbackResponse(ctx, conv, userInput, genErr), nil
	}

	turn := core.Turn{
		ID:         uuid.New().String(),
		Index:      state.TurnIndex,
		UserInput:  userInput,
		StrategyID: string(action.StrategyID),
		Response:   text,
		CreatedAt:  time.Now().UTC(),
	}

	conv.turns = appendBounded(conv.turns, turn)
	conv.statesByIndex[state.TurnIndex] = state
	pruneStates(conv.statesByIndex, state.TurnIndex)
	conv.pending[turn.ID] = &pendingTurn{
		turn:          turn,
		state:         state,
		action:        action,
		guardRejected: guardRejected,
		createdAt:     turn.CreatedAt,
	}
	conv.markSeen(turn.ID)
	conv.cachedStrategy = action.StrategyID
	conv.phase = PhaseAwaitingFeedback

	return Response{
		ConversationID: conv.id,
		TurnID:         turn.ID,
		Strategy:       strategy,
		Text:           text,
		GuardRejected:  guardRejected,
	}, nil
}

// buildState encodes the user input and assembles the immutable per-turn
// conversation state.
func (c *Controller) buildState(ctx context.Context, conv *conversation, userInput string, profile *core.UserProfile) (core.ConversationState, error) {
	encodeCtx, cancel := context.WithTimeout(ctx, c.cfg.GenerationTimeout)
	defer cancel()

	vec, err := c.encoder.Encode(encodeCtx, userInput)
	if err != nil {
		return core.ConversationState{}, err
	}

	history := make([]core.Turn, len(conv.turns))
	copy(history, conv.turns)

	return core.ConversationState{
		ConversationID: conv.id,
		TurnIndex:      len(conv.turns),
		UserInput:      userInput,
		History:        history,
		Context:        vec,
		ProfileID:      profile.UserID,
	}, nil
}

// produceText calls the external generation capability with a bounded
// timeout.
func (c *Controller) produceText(ctx context.Context, strategy policy.StrategyConfig, userInput string) (string, error) {
	genCtx, cancel := context.WithTimeout(ctx, c.cfg.GenerationTimeout)
	defer cancel()
	return c.generator.ProduceText(genCtx, strategy, textgen.BuildPrompt(strategy, userInput))
}

// fallbackResponse serves the cached last-known-good strategy without
// recording a training experience, so degenerate inputs never poison the
// buffer.
func (c *Controller) fallbackResponse(ctx context.Context, conv *conversation, userInput string, cause error) Response {
	strategy := policy.Strategies[conv.cachedStrategy]

	text, err := c.produceText(ctx, strategy, userInput)
	if err != nil {
		text = ""
	}

	turn := core.Turn{
		ID:         uuid.New().String(),
		Index:      len(conv.turns),
		UserInput:  userInput,
		StrategyID: string(strategy.ID),
		Response:   text,
		CreatedAt:  time.Now().UTC(),
	}
	conv.turns = appendBounded(conv.turns, turn)
	conv.markSeen(turn.ID)
	conv.phase = PhaseAwaitingInput

	return Response{
		ConversationID: conv.id,
		TurnID:         turn.ID,
		Strategy:       strategy,
		Text:           text,
		FallbackUsed:   true,
	}
}

// #endregion generate-response

// #region process-feedback

// ProcessFeedback computes the reward for a pending turn and records the
// experience. Resubmitting identical feedback for a turn is a no-op. Late
// feedback for a turn already finalized with the neutral reward updates the
// stored experience in place.
func (c *Controller) ProcessFeedback(ctx context.Context, conversationID, turnID string, fb core.Feedback) error {
	c.mu.RLock()
	conv, ok := c.conversations[conversationID]
	c.mu.RUnlock()
	if !ok {
		return core.ErrInvalidFeedback
	}

	conv.mu.Lock()
	defer conv.mu.Unlock()

	p, ok := conv.pending[turnID]
	if !ok {
		if conv.seenTurns[turnID] {
			// Turn existed but no experience can be attached (fallback turn
			// or feedback already processed): accept idempotently.
			return nil
		}
		return core.ErrInvalidFeedback
	}

	qm := defaultQuality
	qm.GuardRejected = p.guardRejected

	r, err := c.rewards.Compute(&p.turn, fb, qm)
	if err != nil {
		return err
	}
	if len(r.Flags) > 0 {
		c.sink.Publish(ctx, metrics.NewEvent(metrics.EventRewardOutlier, "reward", map[string]string{
			"conversation_id": conv.id,
			"turn_id":         p.turn.ID,
			"components":      strings.Join(r.Flags, ","),
		}))
	}

	if p.recorded && p.neutralized {
		// Late feedback: reward updated in place, priority refresh
		// reintroduces the experience for resampling.
		c.buf.UpdateReward(experienceID(p.turn.ID), r)
		p.neutralized = false
	} else {
		if err := c.recordExperience(conv, p, r, false); err != nil {
			return err
		}
	}
	// Feedback has landed; seenTurns keeps idempotence from here on.
	delete(conv.pending, turnID)

	c.updateProfile(ctx, conv.userID, p, fb)
	conv.phase = PhaseExperienceRecorded
	conv.phase = PhaseAwaitingInput
	return nil
}

// experienceID derives the experience ID from the turn ID so late feedback
// can address the stored entry without extra bookkeeping.
func experienceID(turnID string) string {
	return "exp-" + turnID
}

// recordExperience builds and stores the transition for a pending turn.
func (c *Controller) recordExperience(conv *conversation, p *pendingTurn, r reward.MultiObjectiveReward, terminal bool) error {
	next, hasNext := conv.statesByIndex[p.turn.Index+1]
	if !hasNext {
		next = p.state
		terminal = true
	}

	exp := buffer.Experience{
		ID:             experienceID(p.turn.ID),
		ConversationID: conv.id,
		TurnIndex:      p.turn.Index,
		State:          p.state,
		Action:         p.action,
		Reward:         r,
		NextState:      next,
		Terminal:       terminal,
		CreatedAt:      time.Now().UTC(),
	}

	if err := c.buf.Store(exp); err != nil {
		if errors.Is(err, buffer.ErrDuplicate) {
			return nil
		}
		return err
	}
	if c.archive != nil {
		if err := c.archive.Append(exp, 1); err != nil {
			c.log.WithError(err).Warn("archive append failed")
		}
	}
	p.recorded = true
	c.trainer.NotifyStored()
	return nil
}

// updateProfile applies the turn's feedback to the user profile.
func (c *Controller) updateProfile(ctx context.Context, userID string, p *pendingTurn, fb core.Feedback) {
	profile, err := c.profiles.GetOrCreate(ctx, userID)
	if err != nil {
		c.log.WithError(err).Warn("profile load failed, skipping update")
		return
	}
	applyFeedback(profile, p.turn, p.action.Config(), fb)
	if err := c.profiles.Put(ctx, profile); err != nil {
		c.log.WithError(err).Warn("profile store failed")
	}
}

// #endregion process-feedback

// #region sweeper

// Run starts the pending-turn sweeper and blocks until ctx is done. Turns
// whose feedback never arrives within the window are finalized with the
// neutral reward so pending transitions never accumulate unbounded.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.SweepPending(time.Now().UTC())
		}
	}
}

// SweepPending finalizes every pending turn older than the feedback window.
func (c *Controller) SweepPending(now time.Time) {
	c.mu.RLock()
	convs := make([]*conversation, 0, len(c.conversations))
	for _, conv := range c.conversations {
		convs = append(convs, conv)
	}
	c.mu.RUnlock()

	for _, conv := range convs {
		conv.mu.Lock()
		for id, p := range conv.pending {
			if p.recorded {
				// Neutralized turns stay addressable for late feedback for
				// one more window, then age out.
				if p.neutralized && now.Sub(p.createdAt) >= 2*c.cfg.FeedbackWindow {
					delete(conv.pending, id)
				}
				continue
			}
			if now.Sub(p.createdAt) < c.cfg.FeedbackWindow {
				continue
			}
			qm := defaultQuality
			qm.GuardRejected = p.guardRejected
			r, err := c.rewards.Compute(&p.turn, core.Feedback{}, qm)
			if err != nil {
				c.log.WithError(err).Warn("neutral finalize failed")
				continue
			}
			if err := c.recordExperience(conv, p, r, true); err != nil {
				c.log.WithError(err).Warn("neutral finalize store failed")
				continue
			}
			p.neutralized = true
			c.log.WithFields(logrus.Fields{
				"conversation_id": conv.id,
				"turn_id":         p.turn.ID,
			}).Debug("turn finalized with neutral reward")
		}
		conv.mu.Unlock()
	}
}

// #endregion sweeper

// #region profiles-api

// GetUserProfile exposes the profile read to the external API layer.
func (c *Controller) GetUserProfile(ctx context.Context, userID string) (*core.UserProfile, error) {
	return c.profiles.Get(ctx, userID)
}

// DeleteUserData removes a user's profile and their conversations' archived
// experiences. The privacy data-removal endpoint.
func (c *Controller) DeleteUserData(ctx context.Context, userID string) error {
	if err := c.profiles.Delete(ctx, userID); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for id, conv := range c.conversations {
		if conv.userID != userID {
			continue
		}
		if c.archive != nil {
			if err := c.archive.DeleteConversation(id); err != nil {
				c.log.WithError(err).Warn("archive delete failed")
			}
		}
		c.guard.Forget(id)
		delete(c.conversations, id)
	}
	return nil
}

// #endregion profiles-api

// #region helpers

// getOrCreateConversation returns the existing conversation or starts one.
func (c *Controller) getOrCreateConversation(conversationID, userID string) *conversation {
	if conversationID != "" {
		c.mu.RLock()
		conv, ok := c.conversations[conversationID]
		c.mu.RUnlock()
		if ok {
			return conv
		}
	}

	if conversationID == "" {
		conversationID = uuid.New().String()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if conv, ok := c.conversations[conversationID]; ok {
		return conv
	}
	conv := &conversation{
		id:             conversationID,
		userID:         userID,
		phase:          PhaseAwaitingInput,
		statesByIndex:  make(map[int]core.ConversationState),
		pending:        make(map[string]*pendingTurn),
		seenTurns:      make(map[string]bool),
		cachedStrategy: policy.FallbackStrategy,
	}
	c.conversations[conversationID] = conv
	return conv
}

// appendBounded keeps the turn history within the configured bound.
func appendBounded(turns []core.Turn, t core.Turn) []core.Turn {
	turns = append(turns, t)
	if len(turns) > core.MaxHistoryTurns {
		turns = turns[len(turns)-core.MaxHistoryTurns:]
	}
	return turns
}

// pruneStates drops state snapshots too old to ever be a next-state.
func pruneStates(states map[int]core.ConversationState, latest int) {
	for idx := range states {
		if idx < latest-core.MaxHistoryTurns {
			delete(states, idx)
		}
	}
}

// #endregion helpers
