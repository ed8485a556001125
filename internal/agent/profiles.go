package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/danielpatrickdp/adaptive-response/internal/core"
	"github.com/danielpatrickdp/adaptive-response/internal/kv"
	"github.com/danielpatrickdp/adaptive-response/internal/policy"
)

// #region store

const profileKeyPrefix = "profile:"

// ProfileStore persists user profiles through the key-value contract.
type ProfileStore struct {
	kv kv.Store
}

// NewProfileStore wraps a key-value store.
func NewProfileStore(store kv.Store) *ProfileStore {
	return &ProfileStore{kv: store}
}

// Get loads a profile, or nil when the user has never been seen.
func (s *ProfileStore) Get(ctx context.Context, userID string) (*core.UserProfile, error) {
	raw, err := s.kv.Get(ctx, profileKeyPrefix+userID)
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", userID, err)
	}
	if raw == nil {
		return nil, nil
	}
	var p core.UserProfile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("unmarshal profile %s: %w", userID, err)
	}
	return &p, nil
}

// GetOrCreate loads a profile, creating one on first interaction.
func (s *ProfileStore) GetOrCreate(ctx context.Context, userID string) (*core.UserProfile, error) {
	p, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		p = core.NewUserProfile(userID)
		if err := s.Put(ctx, p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Put persists a profile.
func (s *ProfileStore) Put(ctx context.Context, p *core.UserProfile) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal profile %s: %w", p.UserID, err)
	}
	if err := s.kv.Put(ctx, profileKeyPrefix+p.UserID, raw); err != nil {
		return fmt.Errorf("store profile %s: %w", p.UserID, err)
	}
	return nil
}

// Delete removes a profile. The privacy data-removal path.
func (s *ProfileStore) Delete(ctx context.Context, userID string) error {
	if err := s.kv.Delete(ctx, profileKeyPrefix+userID); err != nil {
		return fmt.Errorf("delete profile %s: %w", userID, err)
	}
	return nil
}

// #endregion store

// #region domain-inference

// domainKeywords buckets user input into coarse expertise domains.
var domainKeywords = map[string][]string{
	"programming": {"code", "function", "compile", "bug", "api", "library", "goroutine"},
	"mathematics": {"equation", "integral", "matrix", "proof", "theorem", "probability"},
	"writing":     {"essay", "draft", "paragraph", "edit", "tone", "grammar"},
	"science":     {"experiment", "hypothesis", "molecule", "physics", "biology"},
}

// inferDomain maps a user input to an expertise domain, "general" when
// nothing matches.
func inferDomain(input string) string {
	lower := strings.ToLower(input)
	for domain, words := range domainKeywords {
		for _, w := range words {
			if strings.Contains(lower, w) {
				return domain
			}
		}
	}
	return "general"
}

// #endregion domain-inference

// #region profile-update

// applyFeedback mutates the profile incrementally after a turn: expertise
// nudging from rated deep/simple strategies, learning-style inference from
// engagement, and the bounded feedback history.
func applyFeedback(p *core.UserProfile, turn core.Turn, strategy policy.StrategyConfig, fb core.Feedback) {
	p.RecordFeedback(core.FeedbackEvent{
		TurnID:    turn.ID,
		Rating:    fb.Rating,
		Comment:   fb.Comment,
		CreatedAt: turn.CreatedAt,
	})

	domain := inferDomain(turn.UserInput)
	if fb.Rating != nil {
		nudgeExpertise(p, domain, strategy, *fb.Rating)
	}

	if strategy.StepByStep && fb.Rating != nil && *fb.Rating >= 0.7 {
		addLearningStyle(p, core.StyleStepByStep)
	}
	if strategy.ID == policy.StrategyExampleLed && fb.Engagement.CopiedResponse {
		addLearningStyle(p, core.StyleExampleDriven)
	}
	if strategy.Citations == policy.CitationsHeavy && fb.Rating != nil && *fb.Rating >= 0.7 {
		addLearningStyle(p, core.StyleReferenceLed)
	}
}

// nudgeExpertise promotes a domain when expert-depth answers rate well and
// demotes when they rate poorly. The mapping stays bounded: past
// MaxExpertiseDomains new domains collapse into "general".
func nudgeExpertise(p *core.UserProfile, domain string, strategy policy.StrategyConfig, rating float64) {
	if _, ok := p.Expertise[domain]; !ok && len(p.Expertise) >= core.MaxExpertiseDomains {
		domain = "general"
	}
	current := p.ExpertiseFor(domain)

	switch {
	case strategy.TechnicalDepth == core.ExpertiseExpert && rating >= 0.8:
		p.Expertise[domain] = promote(current)
	case strategy.TechnicalDepth == core.ExpertiseExpert && rating <= 0.3:
		p.Expertise[domain] = demote(current)
	case strategy.TechnicalDepth == core.ExpertiseNovice && rating <= 0.3:
		// too simple: the user likely knows more than we assumed
		p.Expertise[domain] = promote(current)
	default:
		p.Expertise[domain] = current
	}
}

func promote(l core.ExpertiseLevel) core.ExpertiseLevel {
	switch l {
	case core.ExpertiseNovice:
		return core.ExpertiseIntermediate
	default:
		return core.ExpertiseExpert
	}
}

func demote(l core.ExpertiseLevel) core.ExpertiseLevel {
	switch l {
	case core.ExpertiseExpert:
		return core.ExpertiseIntermediate
	default:
		return core.ExpertiseNovice
	}
}

func addLearningStyle(p *core.UserProfile, s core.LearningStyle) {
	for _, existing := range p.LearningStyles {
		if existing == s {
			return
		}
	}
	p.LearningStyles = append(p.LearningStyles, s)
}

// #endregion profile-update
