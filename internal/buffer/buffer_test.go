package buffer

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/danielpatrickdp/adaptive-response/internal/reward"
)

func makeExp(id string, convID string, turnIndex int) Experience {
	return Experience{
		ID:             id,
		ConversationID: convID,
		TurnIndex:      turnIndex,
		Reward:         reward.MultiObjectiveReward{Total: 0.5},
	}
}

func fillBuffer(t *testing.T, b *Buffer, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := b.Store(makeExp(fmt.Sprintf("exp-%d", i), fmt.Sprintf("conv-%d", i), 0)); err != nil {
			t.Fatalf("store %d: %v", i, err)
		}
	}
}

func TestStoreAndLen(t *testing.T) {
	b := New(DefaultConfig())
	fillBuffer(t, b, 10)
	if b.Len() != 10 {
		t.Fatalf("expected 10 entries, got %d", b.Len())
	}
	if b.Stored() != 10 {
		t.Fatalf("expected 10 stored, got %d", b.Stored())
	}
}

func TestStoreDuplicateRejected(t *testing.T) {
	b := New(DefaultConfig())
	if err := b.Store(makeExp("exp-1", "conv-1", 0)); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := b.Store(makeExp("exp-1", "conv-1", 0)); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestEvictionDropsLowestPriority(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capacity = 3
	b := New(cfg)
	fillBuffer(t, b, 3)

	// Sink exp-1's priority, keep the others high.
	b.UpdatePriorities([]string{"exp-0", "exp-1", "exp-2"}, []float64{2.0, 0.001, 2.0})

	if err := b.Store(makeExp("exp-3", "conv-3", 0)); err != nil {
		t.Fatalf("store: %v", err)
	}
	if b.Len() != 3 {
		t.Fatalf("capacity exceeded: %d", b.Len())
	}

	ids := map[string]bool{}
	for _, s := range b.Sample(3, rand.New(rand.NewSource(1))) {
		ids[s.Experience.ID] = true
	}
	if ids["exp-1"] {
		t.Fatal("lowest-priority entry should have been evicted")
	}
	if !ids["exp-3"] {
		t.Fatal("new entry missing after eviction")
	}
}

func TestEvictionTieBreaksOldestFirst(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capacity = 2
	b := New(cfg)
	fillBuffer(t, b, 2) // equal priorities

	if err := b.Store(makeExp("exp-2", "conv-2", 0)); err != nil {
		t.Fatalf("store: %v", err)
	}

	ids := map[string]bool{}
	for _, s := range b.Sample(2, rand.New(rand.NewSource(1))) {
		ids[s.Experience.ID] = true
	}
	if ids["exp-0"] {
		t.Fatal("oldest equal-priority entry should have been evicted")
	}
}

func TestSampleBoundedByOccupancy(t *testing.T) {
	b := New(DefaultConfig())
	fillBuffer(t, b, 4)

	batch := b.Sample(16, rand.New(rand.NewSource(1)))
	if len(batch) != 4 {
		t.Fatalf("expected 4 samples, got %d", len(batch))
	}

	seen := map[string]bool{}
	for _, s := range batch {
		if seen[s.Experience.ID] {
			t.Fatalf("duplicate %s in batch", s.Experience.ID)
		}
		seen[s.Experience.ID] = true
	}
}

func TestSampleEmptyBuffer(t *testing.T) {
	b := New(DefaultConfig())
	if got := b.Sample(8, rand.New(rand.NewSource(1))); got != nil {
		t.Fatalf("expected nil batch, got %d entries", len(got))
	}
}

func TestSampleWeightsPositiveAndNormalized(t *testing.T) {
	b := New(DefaultConfig())
	fillBuffer(t, b, 50)
	b.UpdatePriorities([]string{"exp-0", "exp-1"}, []float64{5.0, 0.01})

	batch := b.Sample(20, rand.New(rand.NewSource(7)))
	var maxW float64
	for _, s := range batch {
		if s.Weight <= 0 || s.Weight > 1 {
			t.Fatalf("weight out of (0, 1]: %f", s.Weight)
		}
		if s.Weight > maxW {
			maxW = s.Weight
		}
	}
	if maxW != 1 {
		t.Fatalf("batch max weight should normalize to 1, got %f", maxW)
	}
}

func TestHighPriorityDominatesSampling(t *testing.T) {
	cfg := DefaultConfig()
	b := New(cfg)
	fillBuffer(t, b, 100)
	b.UpdatePriorities([]string{"exp-42"}, []float64{1e6})

	rng := rand.New(rand.NewSource(3))
	hits := 0
	for i := 0; i < 50; i++ {
		for _, s := range b.Sample(1, rng) {
			if s.Experience.ID == "exp-42" {
				hits++
			}
		}
	}
	if hits < 40 {
		t.Fatalf("high-priority entry sampled only %d/50 times", hits)
	}
}

func TestSameConversationKeepsTurnOrder(t *testing.T) {
	b := New(DefaultConfig())
	// One conversation with shuffled insert order plus noise.
	for _, idx := range []int{3, 0, 2, 1} {
		if err := b.Store(makeExp(fmt.Sprintf("conv-a-%d", idx), "conv-a", idx)); err != nil {
			t.Fatalf("store: %v", err)
		}
	}
	for i := 0; i < 8; i++ {
		if err := b.Store(makeExp(fmt.Sprintf("noise-%d", i), fmt.Sprintf("conv-n%d", i), 0)); err != nil {
			t.Fatalf("store: %v", err)
		}
	}

	rng := rand.New(rand.NewSource(11))
	for trial := 0; trial < 20; trial++ {
		batch := b.Sample(12, rng)
		last := -1
		for _, s := range batch {
			if s.Experience.ConversationID != "conv-a" {
				continue
			}
			if s.Experience.TurnIndex < last {
				t.Fatalf("trial %d: conversation turns out of order", trial)
			}
			last = s.Experience.TurnIndex
		}
	}
}

func TestBetaAnneals(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BetaAnnealSteps = 10
	b := New(cfg)
	fillBuffer(t, b, 5)

	start := b.currentBeta()
	if start != cfg.BetaStart {
		t.Fatalf("initial beta %f != %f", start, cfg.BetaStart)
	}

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		b.Sample(2, rng)
	}
	if b.currentBeta() != 1 {
		t.Fatalf("beta should anneal to 1, got %f", b.currentBeta())
	}
}

func TestUpdatePrioritiesFloorsAtMin(t *testing.T) {
	cfg := DefaultConfig()
	b := New(cfg)
	fillBuffer(t, b, 2)

	b.UpdatePriorities([]string{"exp-0"}, []float64{0})

	b.mu.RLock()
	p := b.byID["exp-0"].loadPriority()
	b.mu.RUnlock()
	if p != cfg.MinPriority {
		t.Fatalf("zero TD error should floor at MinPriority, got %g", p)
	}
}

func TestUpdateRewardInPlace(t *testing.T) {
	b := New(DefaultConfig())
	fillBuffer(t, b, 3)
	b.UpdatePriorities([]string{"exp-1"}, []float64{0.001})

	updated := reward.MultiObjectiveReward{Total: 0.9}
	if !b.UpdateReward("exp-1", updated) {
		t.Fatal("update should find the stored experience")
	}
	if b.UpdateReward("missing", updated) {
		t.Fatal("update of absent id should report false")
	}

	b.mu.RLock()
	e := b.byID["exp-1"]
	b.mu.RUnlock()
	if e.exp.Reward.Total != 0.9 {
		t.Fatalf("reward not updated in place: %f", e.exp.Reward.Total)
	}
	if e.loadPriority() != 1.0 {
		t.Fatalf("priority should reset to running max, got %g", e.loadPriority())
	}
}

func TestConcurrentStoreAndSample(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capacity = 200
	b := New(cfg)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = b.Store(makeExp(fmt.Sprintf("g%d-%d", g, i), fmt.Sprintf("conv-%d", g), i))
			}
		}(g)
	}
	for g := 0; g < 2; g++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 50; i++ {
				b.Sample(16, rng)
			}
		}(int64(g))
	}
	wg.Wait()

	if b.Len() > cfg.Capacity {
		t.Fatalf("capacity exceeded under concurrency: %d", b.Len())
	}
	if b.Stored() != 400 {
		t.Fatalf("expected 400 stored, got %d", b.Stored())
	}
}
