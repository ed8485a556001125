package policy

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"

	"github.com/danielpatrickdp/adaptive-response/internal/core"
)

// #region dimensions

// HiddenDim is the width of the shared encoder layer.
const HiddenDim = 32

// #endregion dimensions

// #region model

// Model holds the shared encoder and the two heads: a stochastic policy over
// the strategy catalog and a scalar state-value estimate. Models are treated
// as immutable snapshots once published; training works on a Clone.
type Model struct {
	// shared encoder: context vector -> hidden (tanh)
	W1 [][]float32 // HiddenDim x ContextDim
	B1 []float32   // HiddenDim

	// policy head: hidden -> action logits
	Wp [][]float32 // NumActions x HiddenDim
	Bp []float32   // NumActions

	// value head: hidden -> scalar
	Wv []float32 // HiddenDim
	Bv float32
}

// NewModel initializes a model with small deterministic random weights.
func NewModel(seed int64) *Model {
	rng := rand.New(rand.NewSource(seed))
	m := &Model{
		W1: newMatrix(HiddenDim, core.ContextDim),
		B1: make([]float32, HiddenDim),
		Wp: newMatrix(NumActions, HiddenDim),
		Bp: make([]float32, NumActions),
		Wv: make([]float32, HiddenDim),
	}
	initMatrix(rng, m.W1, core.ContextDim)
	initMatrix(rng, m.Wp, HiddenDim)
	initVector(rng, m.Wv, HiddenDim)
	return m
}

// #endregion model

// #region evaluate

// Evaluate runs the forward pass for one state: action distribution plus
// value estimate. Probabilities sum to 1 within 1e-5.
func (m *Model) Evaluate(state core.ConversationState) (Distribution, float32) {
	h := m.encode(state.Context)

	logits := make([]float32, NumActions)
	for i := range logits {
		logits[i] = dot(m.Wp[i], h) + m.Bp[i]
	}

	return Distribution{Probs: softmax(logits)}, dot(m.Wv, h) + m.Bv
}

// encode applies the shared encoder layer.
func (m *Model) encode(x core.ContextVector) []float32 {
	h := make([]float32, HiddenDim)
	for i := range h {
		var sum float32
		for j := 0; j < core.ContextDim; j++ {
			sum += m.W1[i][j] * x[j]
		}
		h[i] = float32(math.Tanh(float64(sum + m.B1[i])))
	}
	return h
}

// #endregion evaluate

// #region sample

// Sample draws an action from the distribution. The sampled index and its
// probability are both recorded on the Action for the training-time
// importance-ratio computation.
func (d Distribution) Sample(rng *rand.Rand) Action {
	r := rng.Float32()
	var cum float32
	idx := len(d.Probs) - 1
	for i, p := range d.Probs {
		cum += p
		if r < cum {
			idx = i
			break
		}
	}
	probs := make([]float32, len(d.Probs))
	copy(probs, d.Probs)
	return Action{
		StrategyID:  Catalog[idx],
		Index:       idx,
		Probability: d.Probs[idx],
		Probs:       probs,
	}
}

// Greedy returns the argmax action without exploration.
func (d Distribution) Greedy() Action {
	idx := 0
	for i, p := range d.Probs {
		if p > d.Probs[idx] {
			idx = i
		}
	}
	probs := make([]float32, len(d.Probs))
	copy(probs, d.Probs)
	return Action{StrategyID: Catalog[idx], Index: idx, Probability: d.Probs[idx], Probs: probs}
}

// #endregion sample

// #region clone

// Clone deep-copies the model so training never mutates a served snapshot.
func (m *Model) Clone() *Model {
	c := &Model{
		W1: copyMatrix(m.W1),
		B1: append([]float32(nil), m.B1...),
		Wp: copyMatrix(m.Wp),
		Bp: append([]float32(nil), m.Bp...),
		Wv: append([]float32(nil), m.Wv...),
		Bv: m.Bv,
	}
	return c
}

// #endregion clone

// #region gradients

// Grad accumulates parameter gradients across a batch. Shapes mirror Model.
type Grad struct {
	W1 [][]float32
	B1 []float32
	Wp [][]float32
	Bp []float32
	Wv []float32
	Bv float32
}

// NewGrad allocates a zeroed gradient accumulator.
func NewGrad() *Grad {
	return &Grad{
		W1: newMatrix(HiddenDim, core.ContextDim),
		B1: make([]float32, HiddenDim),
		Wp: newMatrix(NumActions, HiddenDim),
		Bp: make([]float32, NumActions),
		Wv: make([]float32, HiddenDim),
	}
}

// Accumulate backpropagates one sample given the loss gradient at the policy
// logits (dLogits, length NumActions) and at the value output (dValue).
func (m *Model) Accumulate(g *Grad, x core.ContextVector, dLogits []float32, dValue float32) {
	h := m.encode(x)

	// hidden gradient collects contributions from both heads
	dH := make([]float32, HiddenDim)

	for i := 0; i < NumActions; i++ {
		dl := dLogits[i]
		if dl == 0 {
			continue
		}
		g.Bp[i] += dl
		for j := 0; j < HiddenDim; j++ {
			g.Wp[i][j] += dl * h[j]
			dH[j] += dl * m.Wp[i][j]
		}
	}

	if dValue != 0 {
		g.Bv += dValue
		for j := 0; j < HiddenDim; j++ {
			g.Wv[j] += dValue * h[j]
			dH[j] += dValue * m.Wv[j]
		}
	}

	// through tanh into the shared encoder
	for j := 0; j < HiddenDim; j++ {
		dPre := dH[j] * (1 - h[j]*h[j])
		if dPre == 0 {
			continue
		}
		g.B1[j] += dPre
		for k := 0; k < core.ContextDim; k++ {
			g.W1[j][k] += dPre * x[k]
		}
	}
}

// Apply takes a gradient-descent step: param -= lr * scale * grad.
func (m *Model) Apply(g *Grad, lr, scale float32) {
	step := lr * scale
	for i := range m.W1 {
		for j := range m.W1[i] {
			m.W1[i][j] -= step * g.W1[i][j]
		}
		m.B1[i] -= step * g.B1[i]
	}
	for i := range m.Wp {
		for j := range m.Wp[i] {
			m.Wp[i][j] -= step * g.Wp[i][j]
		}
		m.Bp[i] -= step * g.Bp[i]
	}
	for j := range m.Wv {
		m.Wv[j] -= step * g.Wv[j]
	}
	m.Bv -= step * g.Bv
}

// #endregion gradients

// #region serialization

// EncodePolicy serializes the encoder and policy head as one parameter blob.
// The shared encoder travels in the policy blob.
func (m *Model) EncodePolicy() []byte {
	var out []byte
	for _, row := range m.W1 {
		out = appendFloats(out, row)
	}
	out = appendFloats(out, m.B1)
	for _, row := range m.Wp {
		out = appendFloats(out, row)
	}
	out = appendFloats(out, m.Bp)
	return out
}

// EncodeValue serializes the value head as one parameter blob.
func (m *Model) EncodeValue() []byte {
	out := appendFloats(nil, m.Wv)
	return appendFloats(out, []float32{m.Bv})
}

// Decode reconstructs a model from its two parameter blobs.
func Decode(policyBlob, valueBlob []byte) (*Model, error) {
	wantPolicy := (HiddenDim*core.ContextDim + HiddenDim + NumActions*HiddenDim + NumActions) * 4
	wantValue := (HiddenDim + 1) * 4
	if len(policyBlob) != wantPolicy {
		return nil, fmt.Errorf("policy blob: got %d bytes, want %d", len(policyBlob), wantPolicy)
	}
	if len(valueBlob) != wantValue {
		return nil, fmt.Errorf("value blob: got %d bytes, want %d", len(valueBlob), wantValue)
	}

	m := &Model{
		W1: newMatrix(HiddenDim, core.ContextDim),
		B1: make([]float32, HiddenDim),
		Wp: newMatrix(NumActions, HiddenDim),
		Bp: make([]float32, NumActions),
		Wv: make([]float32, HiddenDim),
	}

	off := 0
	for i := range m.W1 {
		off = readFloats(policyBlob, off, m.W1[i])
	}
	off = readFloats(policyBlob, off, m.B1)
	for i := range m.Wp {
		off = readFloats(policyBlob, off, m.Wp[i])
	}
	readFloats(policyBlob, off, m.Bp)

	off = readFloats(valueBlob, 0, m.Wv)
	m.Bv = math.Float32frombits(binary.LittleEndian.Uint32(valueBlob[off:]))
	return m, nil
}

// #endregion serialization

// #region helpers

func newMatrix(rows, cols int) [][]float32 {
	m := make([][]float32, rows)
	for i := range m {
		m[i] = make([]float32, cols)
	}
	return m
}

func copyMatrix(src [][]float32) [][]float32 {
	dst := make([][]float32, len(src))
	for i := range src {
		dst[i] = append([]float32(nil), src[i]...)
	}
	return dst
}

func initMatrix(rng *rand.Rand, m [][]float32, fanIn int) {
	scale := float32(1.0 / math.Sqrt(float64(fanIn)))
	for i := range m {
		for j := range m[i] {
			m[i][j] = (rng.Float32()*2 - 1) * scale
		}
	}
}

func initVector(rng *rand.Rand, v []float32, fanIn int) {
	scale := float32(1.0 / math.Sqrt(float64(fanIn)))
	for i := range v {
		v[i] = (rng.Float32()*2 - 1) * scale
	}
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// softmax is computed in float64 with max-shift for numeric stability.
func softmax(logits []float32) []float32 {
	maxL := logits[0]
	for _, l := range logits[1:] {
		if l > maxL {
			maxL = l
		}
	}
	exps := make([]float64, len(logits))
	var sum float64
	for i, l := range logits {
		exps[i] = math.Exp(float64(l - maxL))
		sum += exps[i]
	}
	probs := make([]float32, len(logits))
	for i := range probs {
		probs[i] = float32(exps[i] / sum)
	}
	return probs
}

func appendFloats(out []byte, v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return append(out, buf...)
}

func readFloats(b []byte, off int, dst []float32) int {
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[off+i*4:]))
	}
	return off + len(dst)*4
}

// #endregion helpers
