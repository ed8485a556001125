package registry

import (
	"math"
	"math/rand"

	"github.com/danielpatrickdp/adaptive-response/internal/core"
	"github.com/danielpatrickdp/adaptive-response/internal/policy"
)

// #region scenario

// scenario is one held-out validation case: a synthetic conversation context
// and the strategies considered appropriate for it.
type scenario struct {
	context   core.ContextVector
	preferred []policy.StrategyID
}

// heldOutScenarios is the fixed validation set every staged version is
// scored against. Contexts are generated from a fixed seed so scores are
// comparable across versions.
var heldOutScenarios = buildScenarios()

func buildScenarios() []scenario {
	rng := rand.New(rand.NewSource(424242))
	prefs := [][]policy.StrategyID{
		{policy.StrategySimplified, policy.StrategyGuidedWalkthru},
		{policy.StrategyDeepTechnical, policy.StrategyReferenceHeavy},
		{policy.StrategyBalanced, policy.StrategyExampleLed},
		{policy.StrategyConciseDirect, policy.StrategyBalanced},
		{policy.StrategyExampleLed, policy.StrategyGuidedWalkthru},
		{policy.StrategyProbing, policy.StrategyConciseDirect},
	}

	out := make([]scenario, 0, len(prefs)*4)
	for _, p := range prefs {
		for i := 0; i < 4; i++ {
			var ctx core.ContextVector
			for j := range ctx {
				ctx[j] = (rng.Float32()*2 - 1) * 0.8
			}
			out = append(out, scenario{context: ctx, preferred: p})
		}
	}
	return out
}

// #endregion scenario

// #region evaluate

// EvaluateModel scores a model against the held-out scenario set. All
// tracked metrics are higher-better:
//
//	scenario_score  mean probability mass on preferred strategies
//	mean_confidence mean max action probability
//	value_sanity    1 / (1 + mean |value|), penalizing runaway estimates
func EvaluateModel(m *policy.Model) map[string]float64 {
	var scenarioScore, confidence, absValue float64

	for _, sc := range heldOutScenarios {
		dist, value := m.Evaluate(core.ConversationState{Context: sc.context})

		var mass float64
		for _, id := range sc.preferred {
			mass += float64(dist.Probs[policy.IndexOf(id)])
		}
		scenarioScore += mass

		maxP := dist.Probs[0]
		for _, p := range dist.Probs[1:] {
			if p > maxP {
				maxP = p
			}
		}
		confidence += float64(maxP)
		absValue += math.Abs(float64(value))
	}

	n := float64(len(heldOutScenarios))
	return map[string]float64{
		"scenario_score":  scenarioScore / n,
		"mean_confidence": confidence / n,
		"value_sanity":    1 / (1 + absValue/n),
	}
}

// #endregion evaluate
