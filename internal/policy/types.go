package policy

import "github.com/danielpatrickdp/adaptive-response/internal/core"

// #region tone

// Tone sets the register of a generated response.
type Tone string

const (
	ToneNeutral     Tone = "neutral"
	ToneEncouraging Tone = "encouraging"
	ToneDirect      Tone = "direct"
)

// #endregion tone

// #region citation-density

// CitationDensity controls how many supporting references a response carries.
type CitationDensity string

const (
	CitationsNone  CitationDensity = "none"
	CitationsLight CitationDensity = "light"
	CitationsHeavy CitationDensity = "heavy"
)

// #endregion citation-density

// #region strategy-id

// StrategyID identifies a response strategy.
type StrategyID string

const (
	StrategyBalanced       StrategyID = "balanced"
	StrategyConciseDirect  StrategyID = "concise_direct"
	StrategyDeepTechnical  StrategyID = "deep_technical"
	StrategyGuidedWalkthru StrategyID = "guided_walkthrough"
	StrategyExampleLed     StrategyID = "example_led"
	StrategyReferenceHeavy StrategyID = "reference_heavy"
	StrategySimplified     StrategyID = "simplified"
	StrategyProbing        StrategyID = "probing"
)

// #endregion strategy-id

// #region strategy-config

// StrategyConfig defines how a strategy shapes the generation request.
type StrategyConfig struct {
	ID             StrategyID
	TechnicalDepth core.ExpertiseLevel
	Tone           Tone
	Citations      CitationDensity
	StepByStep     bool
	PromptModifier string // prefix added to the generation prompt, empty = none
}

// #endregion strategy-config

// #region catalog

// Strategies is the full set of built-in strategy configs.
var Strategies = map[StrategyID]StrategyConfig{
	StrategyBalanced: {
		ID:             StrategyBalanced,
		TechnicalDepth: core.ExpertiseIntermediate,
		Tone:           ToneNeutral,
		Citations:      CitationsLight,
	},
	StrategyConciseDirect: {
		ID:             StrategyConciseDirect,
		TechnicalDepth: core.ExpertiseIntermediate,
		Tone:           ToneDirect,
		Citations:      CitationsNone,
		PromptModifier: "Answer concisely: ",
	},
	StrategyDeepTechnical: {
		ID:             StrategyDeepTechnical,
		TechnicalDepth: core.ExpertiseExpert,
		Tone:           ToneNeutral,
		Citations:      CitationsHeavy,
	},
	StrategyGuidedWalkthru: {
		ID:             StrategyGuidedWalkthru,
		TechnicalDepth: core.ExpertiseNovice,
		Tone:           ToneEncouraging,
		Citations:      CitationsLight,
		StepByStep:     true,
	},
	StrategyExampleLed: {
		ID:             StrategyExampleLed,
		TechnicalDepth: core.ExpertiseIntermediate,
		Tone:           ToneEncouraging,
		Citations:      CitationsLight,
		PromptModifier: "Lead with a worked example: ",
	},
	StrategyReferenceHeavy: {
		ID:             StrategyReferenceHeavy,
		TechnicalDepth: core.ExpertiseExpert,
		Tone:           ToneNeutral,
		Citations:      CitationsHeavy,
		PromptModifier: "Cite sources for every claim: ",
	},
	StrategySimplified: {
		ID:             StrategySimplified,
		TechnicalDepth: core.ExpertiseNovice,
		Tone:           ToneEncouraging,
		Citations:      CitationsNone,
		PromptModifier: "Explain in plain language: ",
	},
	StrategyProbing: {
		ID:             StrategyProbing,
		TechnicalDepth: core.ExpertiseIntermediate,
		Tone:           ToneDirect,
		Citations:      CitationsNone,
		PromptModifier: "Ask a clarifying question before answering: ",
	},
}

// Catalog is the ordered action space. Index in this slice is the action
// index the model's policy head scores.
var Catalog = []StrategyID{
	StrategyBalanced,
	StrategyConciseDirect,
	StrategyDeepTechnical,
	StrategyGuidedWalkthru,
	StrategyExampleLed,
	StrategyReferenceHeavy,
	StrategySimplified,
	StrategyProbing,
}

// NumActions is the size of the discrete action space.
var NumActions = len(Catalog)

// FallbackStrategy is the static safe action substituted on guard rejection
// and model failure.
const FallbackStrategy = StrategyBalanced

// IndexOf returns the action index for a strategy, -1 if unknown.
func IndexOf(id StrategyID) int {
	for i, s := range Catalog {
		if s == id {
			return i
		}
	}
	return -1
}

// #endregion catalog

// #region action

// Action is one sampled response strategy plus the probability vector that
// produced it. Immutable once created.
type Action struct {
	StrategyID  StrategyID `json:"strategy_id"`
	Index       int        `json:"index"`
	Probability float32    `json:"probability"` // probability of the sampled index at decision time
	Probs       []float32  `json:"probs"`       // full action distribution at decision time
}

// Config returns the strategy config for the sampled action.
func (a Action) Config() StrategyConfig {
	return Strategies[a.StrategyID]
}

// #endregion action

// #region distribution

// Distribution is the policy head's output over the action catalog.
type Distribution struct {
	Probs []float32
}

// #endregion distribution
