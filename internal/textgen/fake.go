package textgen

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/danielpatrickdp/adaptive-response/internal/core"
	"github.com/danielpatrickdp/adaptive-response/internal/policy"
)

// #region fake

// Fake is a deterministic in-process Generator/Encoder for tests and
// offline replay. Text is a canned echo; context vectors are derived from a
// hash of the input so equal inputs encode identically.
type Fake struct {
	// Err, when set, is returned from every call (failure-path tests).
	Err error
}

// ProduceText implements Generator.
func (f *Fake) ProduceText(ctx context.Context, strategy policy.StrategyConfig, prompt string) (string, error) {
	if f.Err != nil {
		return "", f.Err
	}
	return "[" + string(strategy.ID) + "] " + prompt, nil
}

// Encode implements Encoder.
func (f *Fake) Encode(ctx context.Context, text string) (core.ContextVector, error) {
	var vec core.ContextVector
	if f.Err != nil {
		return vec, f.Err
	}
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int32(seed>>33)) / float32(math.MaxInt32)
	}
	normalize(&vec)
	return vec, nil
}

// #endregion fake

// #region helpers

// normalize scales a vector to unit L2 norm, leaving zero vectors alone.
func normalize(v *core.ContextVector) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

// #endregion helpers
