// Package textgen defines the ports to the external text-generation
// capability and context encoder. The core never depends on a concrete
// provider; failures surface as core.GenerationError and are recovered by
// the controller's fallback path.
package textgen

import (
	"context"

	"github.com/danielpatrickdp/adaptive-response/internal/core"
	"github.com/danielpatrickdp/adaptive-response/internal/policy"
)

// #region ports

// Generator produces response text for a strategy and conversation context.
type Generator interface {
	ProduceText(ctx context.Context, strategy policy.StrategyConfig, prompt string) (string, error)
}

// Encoder produces the fixed-size numeric context vector for a turn.
type Encoder interface {
	Encode(ctx context.Context, text string) (core.ContextVector, error)
}

// #endregion ports

// #region prompt

// BuildPrompt renders the generation prompt for a strategy: the strategy's
// modifier prefix plus style directives the generator honors.
func BuildPrompt(strategy policy.StrategyConfig, userInput string) string {
	prompt := strategy.PromptModifier + userInput
	return prompt
}

// SystemDirective renders the strategy's style contract for the generator.
func SystemDirective(strategy policy.StrategyConfig) string {
	directive := "Respond at " + string(strategy.TechnicalDepth) + " technical depth, " +
		string(strategy.Tone) + " tone, " + string(strategy.Citations) + " citation density."
	if strategy.StepByStep {
		directive += " Structure the answer as numbered steps."
	}
	return directive
}

// #endregion prompt
