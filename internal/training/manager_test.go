package training

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/danielpatrickdp/adaptive-response/internal/buffer"
	"github.com/danielpatrickdp/adaptive-response/internal/core"
	"github.com/danielpatrickdp/adaptive-response/internal/logging"
	"github.com/danielpatrickdp/adaptive-response/internal/metrics"
	"github.com/danielpatrickdp/adaptive-response/internal/registry"
	"github.com/danielpatrickdp/adaptive-response/internal/reward"
)

type captureSink struct{ events []metrics.Event }

func (c *captureSink) Publish(_ context.Context, ev metrics.Event) {
	c.events = append(c.events, ev)
}

func (c *captureSink) has(t metrics.EventType) bool {
	for _, ev := range c.events {
		if ev.Type == t {
			return true
		}
	}
	return false
}

func testModels(t *testing.T) *registry.Manager {
	t.Helper()
	store, err := registry.NewStore(filepath.Join(t.TempDir(), "registry.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	m, err := registry.NewManager(registry.Config{Tolerance: 0.02, Seed: 1}, store, logging.Component(logging.Discard(), "registry"))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

// fillExperiences populates the buffer with on-policy transitions sampled
// from the active model, so importance ratios start near 1.
func fillExperiences(t *testing.T, buf *buffer.Buffer, models *registry.Manager, n int) {
	t.Helper()
	storeOnPolicy(t, buf, models, "exp", n)
}

func storeOnPolicy(t *testing.T, buf *buffer.Buffer, models *registry.Manager, prefix string, n int) {
	t.Helper()
	model := models.Active().Model
	rng := rand.New(rand.NewSource(99))

	for i := 0; i < n; i++ {
		var ctx core.ContextVector
		for j := range ctx {
			ctx[j] = float32(rng.NormFloat64() * 0.5)
		}
		state := core.ConversationState{ConversationID: fmt.Sprintf("conv-%d", i/4), TurnIndex: i % 4, Context: ctx}

		dist, _ := model.Evaluate(state)
		action := dist.Sample(rng)

		var next core.ContextVector
		for j := range next {
			next[j] = ctx[j] + float32(rng.NormFloat64()*0.1)
		}

		exp := buffer.Experience{
			ID:             fmt.Sprintf("%s-%d", prefix, i),
			ConversationID: state.ConversationID,
			TurnIndex:      state.TurnIndex,
			State:          state,
			Action:         action,
			Reward:         reward.MultiObjectiveReward{Total: rng.Float64()*0.4 - 0.2},
			NextState:      core.ConversationState{ConversationID: state.ConversationID, TurnIndex: state.TurnIndex + 1, Context: next},
			Terminal:       i%4 == 3,
		}
		if err := buf.Store(exp); err != nil {
			t.Fatalf("store %d: %v", i, err)
		}
	}
}

func TestNotifyStoredTriggersEveryCycle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CycleEvery = 3
	m := NewManager(cfg, buffer.New(buffer.DefaultConfig()), testModels(t), &captureSink{}, logging.Component(logging.Discard(), "training"))

	m.NotifyStored()
	m.NotifyStored()
	select {
	case <-m.trigger:
		t.Fatal("trigger fired before the threshold")
	default:
	}

	m.NotifyStored()
	select {
	case <-m.trigger:
	default:
		t.Fatal("trigger should fire on the cycle boundary")
	}
}

func TestNotifyStoredNeverBlocks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CycleEvery = 1
	m := NewManager(cfg, buffer.New(buffer.DefaultConfig()), testModels(t), &captureSink{}, logging.Component(logging.Discard(), "training"))

	// Nobody drains the trigger; repeated notifications must not block.
	for i := 0; i < 10; i++ {
		m.NotifyStored()
	}
}

func TestCycleSkippedBelowMinBatch(t *testing.T) {
	models := testModels(t)
	buf := buffer.New(buffer.DefaultConfig())
	fillExperiences(t, buf, models, 4)

	cfg := DefaultConfig()
	cfg.MinBatch = 16
	m := NewManager(cfg, buf, models, &captureSink{}, logging.Component(logging.Discard(), "training"))

	if err := m.RunCycle(context.Background()); !errors.Is(err, ErrBatchBelowMinimum) {
		t.Fatalf("expected ErrBatchBelowMinimum, got %v", err)
	}
	if models.Active().Version != 1 {
		t.Fatalf("skipped cycle must not touch the registry, version=%d", models.Active().Version)
	}
}

func TestRunRetriesSkippedCycle(t *testing.T) {
	models := testModels(t)
	buf := buffer.New(buffer.DefaultConfig())
	fillExperiences(t, buf, models, 4)

	cfg := DefaultConfig()
	cfg.LearningRate = 0.001
	cfg.Epochs = 1
	cfg.RetryInterval = 10 * time.Millisecond
	m := NewManager(cfg, buf, models, &captureSink{}, logging.Component(logging.Discard(), "training"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	// The first cycle is skipped; once the buffer fills the retry timer
	// must drive a successful cycle without another volume trigger.
	m.trigger <- struct{}{}
	storeOnPolicy(t, buf, models, "late", 124)

	deadline := time.After(2 * time.Second)
	for models.Active().Version < 2 {
		select {
		case <-deadline:
			t.Fatal("retry never ran a cycle after the buffer filled")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestGentleCycleActivatesNewVersion(t *testing.T) {
	models := testModels(t)
	buf := buffer.New(buffer.DefaultConfig())
	fillExperiences(t, buf, models, 128)

	cfg := DefaultConfig()
	cfg.LearningRate = 0.001
	cfg.Epochs = 1
	sink := &captureSink{}
	m := NewManager(cfg, buf, models, sink, logging.Component(logging.Discard(), "training"))

	if err := m.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if models.Active().Version != 2 {
		t.Fatalf("expected new active version 2, got %d", models.Active().Version)
	}
	if sink.has(metrics.EventTrainingInstability) {
		t.Fatal("gentle update should not trip the divergence guard")
	}
}

func TestDivergentCycleDiscarded(t *testing.T) {
	models := testModels(t)
	buf := buffer.New(buffer.DefaultConfig())
	fillExperiences(t, buf, models, 128)

	cfg := DefaultConfig()
	cfg.LearningRate = 5
	cfg.Epochs = 20
	cfg.KLThreshold = 0.01
	sink := &captureSink{}
	m := NewManager(cfg, buf, models, sink, logging.Component(logging.Discard(), "training"))

	err := m.RunCycle(context.Background())
	if !errors.Is(err, core.ErrTrainingInstability) {
		t.Fatalf("expected ErrTrainingInstability, got %v", err)
	}
	if models.Active().Version != 1 {
		t.Fatalf("discarded cycle must not change the active version, got %d", models.Active().Version)
	}
	if !sink.has(metrics.EventTrainingInstability) {
		t.Fatal("instability event should be published")
	}
}

func TestDegenerateCandidateReportedAsDivergence(t *testing.T) {
	models := testModels(t)
	buf := buffer.New(buffer.DefaultConfig())
	fillExperiences(t, buf, models, 32)

	base := models.Active().Model
	validation := buf.Sample(8, rand.New(rand.NewSource(1)))

	cand := base.Clone()
	cand.Bv = float32(math.NaN())
	if kl := meanDivergence(base, cand, validation); !math.IsNaN(kl) {
		t.Fatalf("NaN value head should report NaN divergence, got %f", kl)
	}

	cand = base.Clone()
	for i := range cand.B1 {
		cand.B1[i] = float32(math.NaN())
	}
	if kl := meanDivergence(base, cand, validation); !math.IsNaN(kl) {
		t.Fatalf("NaN encoder should report NaN divergence, got %f", kl)
	}
}

func TestNaNDivergenceDiscardsCycle(t *testing.T) {
	models := testModels(t)
	buf := buffer.New(buffer.DefaultConfig())
	fillExperiences(t, buf, models, 128)

	// A learning rate this large drives the candidate's parameters to NaN
	// within a few epochs; the guard must discard, not stage.
	cfg := DefaultConfig()
	cfg.LearningRate = 1e6
	cfg.Epochs = 10
	sink := &captureSink{}
	m := NewManager(cfg, buf, models, sink, logging.Component(logging.Discard(), "training"))

	err := m.RunCycle(context.Background())
	if !errors.Is(err, core.ErrTrainingInstability) {
		t.Fatalf("expected ErrTrainingInstability, got %v", err)
	}
	if models.Active().Version != 1 {
		t.Fatalf("degenerate cycle must not change the active version, got %d", models.Active().Version)
	}
	if !sink.has(metrics.EventTrainingInstability) {
		t.Fatal("instability event should be published")
	}
}

func TestConsecutiveCyclesAdvanceVersions(t *testing.T) {
	models := testModels(t)
	buf := buffer.New(buffer.DefaultConfig())
	fillExperiences(t, buf, models, 128)

	cfg := DefaultConfig()
	cfg.LearningRate = 0.0005
	cfg.Epochs = 1
	m := NewManager(cfg, buf, models, &captureSink{}, logging.Component(logging.Discard(), "training"))

	for i := 0; i < 3; i++ {
		if err := m.RunCycle(context.Background()); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
	}
	if models.Active().Version < 2 {
		t.Fatalf("expected version to advance, got %d", models.Active().Version)
	}
}
