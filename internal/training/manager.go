package training

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/danielpatrickdp/adaptive-response/internal/buffer"
	"github.com/danielpatrickdp/adaptive-response/internal/core"
	"github.com/danielpatrickdp/adaptive-response/internal/metrics"
	"github.com/danielpatrickdp/adaptive-response/internal/policy"
	"github.com/danielpatrickdp/adaptive-response/internal/registry"
)

// #region manager

// ErrBatchBelowMinimum reports a cycle skipped because the buffer held too
// few experiences to sample a meaningful batch.
var ErrBatchBelowMinimum = errors.New("batch below minimum")

// Manager runs the clipped-surrogate update loop: clone the serving model,
// improve the clone on a prioritized batch, gate it behind a divergence
// check, and hand the survivor to the model registry. Cycles are triggered
// by experience volume, not wall clock, so quiet deployments never churn
// versions.
type Manager struct {
	cfg    Config
	buf    *buffer.Buffer
	models *registry.Manager
	sink   metrics.Sink
	log    *logrus.Entry

	stored  atomic.Int64
	trigger chan struct{}

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewManager wires a training manager.
func NewManager(cfg Config, buf *buffer.Buffer, models *registry.Manager, sink metrics.Sink, log *logrus.Entry) *Manager {
	return &Manager{
		cfg:     cfg,
		buf:     buf,
		models:  models,
		sink:    sink,
		log:     log,
		trigger: make(chan struct{}, 1),
		rng:     rand.New(rand.NewSource(cfg.Seed)),
	}
}

// NotifyStored counts a newly stored experience and triggers a cycle every
// CycleEvery stores. The trigger is non-blocking so the hot path never
// waits on training.
func (m *Manager) NotifyStored() {
	if m.stored.Add(1)%m.cfg.CycleEvery != 0 {
		return
	}
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is done, executing a cycle per trigger. A cycle
// skipped for lack of data is retried after RetryInterval rather than
// waiting for the next volume trigger. Cycle failures are logged and the
// loop continues; a discarded update is an expected outcome, not a crash.
func (m *Manager) Run(ctx context.Context) {
	var retry <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.trigger:
		case <-retry:
		}
		retry = nil

		switch err := m.RunCycle(ctx); {
		case errors.Is(err, ErrBatchBelowMinimum):
			retry = time.After(m.cfg.RetryInterval)
		case err != nil:
			m.log.WithError(err).Warn("training cycle discarded")
		}
	}
}

// #endregion manager

// #region cycle

// RunCycle executes one update cycle against the current serving model.
// Returns ErrBatchBelowMinimum when the buffer is too small to train, and
// core.ErrTrainingInstability when the candidate diverged past the threshold
// and was discarded.
func (m *Manager) RunCycle(ctx context.Context) error {
	m.rngMu.Lock()
	batch := m.buf.Sample(m.cfg.BatchSize, m.rng)
	validation := m.buf.Sample(m.cfg.ValidationBatch, m.rng)
	m.rngMu.Unlock()

	if len(batch) < m.cfg.MinBatch {
		m.log.WithField("batch", len(batch)).Debug("cycle skipped, batch below minimum")
		return ErrBatchBelowMinimum
	}

	snapshot := m.models.Active()
	base := snapshot.Model
	cand := base.Clone()

	// Advantages and value targets come from the base model and stay fixed
	// across epochs.
	adv := make([]float32, len(batch))
	targets := make([]float32, len(batch))
	tdErrors := make([]float64, len(batch))
	ids := make([]string, len(batch))
	for i, s := range batch {
		_, v := base.Evaluate(s.State)
		var next float32
		if !s.Terminal {
			_, next = base.Evaluate(s.NextState)
		}
		targets[i] = float32(s.Reward.Total) + m.cfg.Gamma*next
		adv[i] = targets[i] - v
		tdErrors[i] = float64(adv[i])
		ids[i] = s.ID
	}

	for epoch := 0; epoch < m.cfg.Epochs; epoch++ {
		g := policy.NewGrad()
		for i, s := range batch {
			dist, v := cand.Evaluate(s.State)
			m.accumulateSample(g, cand, s, dist, v, adv[i], targets[i])
		}
		cand.Apply(g, m.cfg.LearningRate, 1/float32(len(batch)))

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	// A NaN or infinite divergence means the candidate's outputs are
	// degenerate; that is instability, never a pass.
	kl := meanDivergence(base, cand, validation)
	if math.IsNaN(kl) || math.IsInf(kl, 0) || kl > m.cfg.KLThreshold {
		m.sink.Publish(ctx, metrics.NewEvent(metrics.EventTrainingInstability, "training", map[string]string{
			"kl": fmt.Sprintf("%.4f", kl),
		}))
		return fmt.Errorf("validation divergence %.4f: %w", kl, core.ErrTrainingInstability)
	}

	mv, err := m.models.Stage(cand)
	if err != nil {
		return fmt.Errorf("stage candidate: %w", err)
	}
	if err := m.models.Activate(mv.Version); err != nil {
		var rej *core.ActivationRejectedError
		if errors.As(err, &rej) {
			m.sink.Publish(ctx, metrics.NewEvent(metrics.EventActivationRejected, "training", map[string]string{
				"version": fmt.Sprintf("%d", rej.Version),
				"reason":  rej.Reason,
			}))
			m.log.WithField("version", rej.Version).Warn("candidate rejected by registry")
			return nil
		}
		return fmt.Errorf("activate candidate: %w", err)
	}

	// Priorities refresh only on accepted cycles so discarded updates never
	// shuffle the sampling distribution.
	m.refreshPriorities(ids, batch)

	m.log.WithFields(logrus.Fields{
		"version": mv.Version,
		"batch":   len(batch),
		"kl":      fmt.Sprintf("%.4f", kl),
	}).Info("candidate activated")
	return nil
}

// accumulateSample adds one sample's gradient contribution. The clipped
// surrogate zeroes the policy gradient once the importance ratio leaves the
// trust band for its advantage sign; the value head still learns.
func (m *Manager) accumulateSample(g *policy.Grad, cand *policy.Model, s buffer.Sampled, dist policy.Distribution, v, adv, target float32) {
	w := float32(s.Weight)

	oldProb := s.Action.Probability
	if oldProb < 1e-8 {
		oldProb = 1e-8
	}
	ratio := dist.Probs[s.Action.Index] / oldProb

	clipBinds := (adv >= 0 && ratio > 1+m.cfg.ClipEpsilon) ||
		(adv < 0 && ratio < 1-m.cfg.ClipEpsilon)

	dLogits := make([]float32, policy.NumActions)
	if !clipBinds {
		for j := range dLogits {
			onehot := float32(0)
			if j == s.Action.Index {
				onehot = 1
			}
			dLogits[j] = -adv * ratio * (onehot - dist.Probs[j]) * w
		}
	}
	dValue := m.cfg.ValueCoef * 2 * (v - target) * w

	cand.Accumulate(g, s.State.Context, dLogits, dValue)
}

// refreshPriorities recomputes temporal-difference magnitudes under the
// newly activated model.
func (m *Manager) refreshPriorities(ids []string, batch []buffer.Sampled) {
	model := m.models.Active().Model
	td := make([]float64, len(batch))
	for i, s := range batch {
		_, v := model.Evaluate(s.State)
		var next float32
		if !s.Terminal {
			_, next = model.Evaluate(s.NextState)
		}
		td[i] = float64(float32(s.Reward.Total) + m.cfg.Gamma*next - v)
	}
	m.buf.UpdatePriorities(ids, td)
}

// meanDivergence averages KL(base || cand) over the validation states.
// Returns NaN when the candidate produces non-finite outputs so callers
// treat a numerically broken candidate the same as a divergent one.
func meanDivergence(base, cand *policy.Model, validation []buffer.Sampled) float64 {
	if len(validation) == 0 {
		return 0
	}
	var sum float64
	for _, s := range validation {
		p, _ := base.Evaluate(s.State)
		q, qv := cand.Evaluate(s.State)
		if math.IsNaN(float64(qv)) || math.IsInf(float64(qv), 0) {
			return math.NaN()
		}
		for j := range p.Probs {
			pj := float64(p.Probs[j])
			qj := float64(q.Probs[j])
			if pj <= 0 {
				continue
			}
			if qj < 1e-10 {
				qj = 1e-10
			}
			sum += pj * math.Log(pj/qj)
		}
	}
	return sum / float64(len(validation))
}

// #endregion cycle
