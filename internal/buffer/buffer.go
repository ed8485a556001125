package buffer

import (
	"errors"
	"math"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/danielpatrickdp/adaptive-response/internal/reward"
)

// #region errors

// ErrDuplicate reports a second store of the same experience ID.
var ErrDuplicate = errors.New("experience already stored")

// #endregion errors

// #region entry

// entry wraps an experience with its mutable priority. The priority is held
// as float64 bits in an atomic so the training manager can compare-and-set
// per entry without taking the buffer lock.
type entry struct {
	exp      Experience
	seq      uint64 // insertion order, oldest-first eviction tiebreak
	priority atomic.Uint64

	mu sync.Mutex // guards exp.Reward for late-feedback updates
}

func (e *entry) loadPriority() float64 {
	return math.Float64frombits(e.priority.Load())
}

func (e *entry) storePriority(p float64) {
	e.priority.Store(math.Float64bits(p))
}

// casPriority swaps old for new, returning false if another writer won.
func (e *entry) casPriority(old, new float64) bool {
	return e.priority.CompareAndSwap(math.Float64bits(old), math.Float64bits(new))
}

// #endregion entry

// #region buffer

// Buffer stores prioritized experiences and serves sampled batches.
// Store appends and priority updates never block concurrent sampling
// snapshots; sampling copies entry references under a read lock and does the
// heavy work outside it.
type Buffer struct {
	cfg Config

	mu      sync.RWMutex
	entries []*entry
	byID    map[string]*entry
	nextSeq uint64

	maxPriority atomic.Uint64 // float64 bits of the running max priority
	sampleCalls atomic.Int64  // for beta annealing
	stored      atomic.Int64  // total experiences ever stored
}

// New creates an empty buffer.
func New(cfg Config) *Buffer {
	b := &Buffer{
		cfg:  cfg,
		byID: make(map[string]*entry),
	}
	b.maxPriority.Store(math.Float64bits(cfg.InitialPriority))
	return b
}

// #endregion buffer

// #region store

// Store adds an experience at the current maximum priority so unseen data is
// sampled first. On overflow the lowest-priority entry is evicted, ties
// broken oldest-first.
func (b *Buffer) Store(exp Experience) error {
	e := &entry{exp: exp}
	e.storePriority(math.Float64frombits(b.maxPriority.Load()))

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.byID[exp.ID]; ok {
		return ErrDuplicate
	}

	if len(b.entries) >= b.cfg.Capacity {
		b.evictLocked()
	}

	e.seq = b.nextSeq
	b.nextSeq++
	b.entries = append(b.entries, e)
	b.byID[exp.ID] = e
	b.stored.Add(1)
	return nil
}

// evictLocked removes the lowest-priority entry, oldest first on ties.
func (b *Buffer) evictLocked() {
	victim := 0
	victimP := b.entries[0].loadPriority()
	for i, e := range b.entries[1:] {
		p := e.loadPriority()
		if p < victimP || (p == victimP && e.seq < b.entries[victim].seq) {
			victim = i + 1
			victimP = p
		}
	}
	delete(b.byID, b.entries[victim].exp.ID)
	b.entries = append(b.entries[:victim], b.entries[victim+1:]...)
}

// #endregion store

// #region sample

// Sample draws up to batchSize experiences with probability proportional to
// priority^alpha, without replacement. Importance-sampling weights are
// normalized by the batch maximum so they are all positive and at most 1.
// Experiences from the same conversation keep their turn ordering within the
// returned batch.
func (b *Buffer) Sample(batchSize int, rng *rand.Rand) []Sampled {
	if batchSize <= 0 {
		return nil
	}

	b.mu.RLock()
	snapshot := make([]*entry, len(b.entries))
	copy(snapshot, b.entries)
	b.mu.RUnlock()

	n := len(snapshot)
	if n == 0 {
		return nil
	}
	if batchSize > n {
		batchSize = n
	}

	beta := b.currentBeta()
	b.sampleCalls.Add(1)

	// Priority mass, computed from an atomic snapshot of each priority.
	mass := make([]float64, n)
	var total float64
	for i, e := range snapshot {
		mass[i] = math.Pow(e.loadPriority(), b.cfg.Alpha)
		total += mass[i]
	}

	picked := make([]int, 0, batchSize)
	taken := make(map[int]bool, batchSize)
	for len(picked) < batchSize {
		r := rng.Float64() * total
		idx := -1
		var cum float64
		for i := 0; i < n; i++ {
			if taken[i] {
				continue
			}
			cum += mass[i]
			if r < cum {
				idx = i
				break
			}
		}
		if idx < 0 {
			// numeric residue: take the last untaken entry
			for i := n - 1; i >= 0; i-- {
				if !taken[i] {
					idx = i
					break
				}
			}
		}
		taken[idx] = true
		total -= mass[idx]
		picked = append(picked, idx)
	}

	// IS weights: w_i = (1 / (N * P(i)))^beta, normalized by the max.
	var massSum float64
	for i := 0; i < n; i++ {
		massSum += mass[i]
	}

	out := make([]Sampled, len(picked))
	var maxW float64
	for i, idx := range picked {
		p := mass[idx] / massSum
		w := math.Pow(1/(float64(n)*p), beta)
		snapshot[idx].mu.Lock()
		out[i] = Sampled{Experience: snapshot[idx].exp, Weight: w}
		snapshot[idx].mu.Unlock()
		if w > maxW {
			maxW = w
		}
	}
	if maxW > 0 {
		for i := range out {
			out[i].Weight /= maxW
		}
	}

	orderConversations(out)
	return out
}

// currentBeta anneals beta linearly from BetaStart toward 1.
func (b *Buffer) currentBeta() float64 {
	if b.cfg.BetaAnnealSteps <= 0 {
		return 1
	}
	frac := float64(b.sampleCalls.Load()) / float64(b.cfg.BetaAnnealSteps)
	if frac > 1 {
		frac = 1
	}
	return b.cfg.BetaStart + (1-b.cfg.BetaStart)*frac
}

// orderConversations restores turn order among same-conversation experiences
// without disturbing the batch positions of other entries.
func orderConversations(batch []Sampled) {
	byConv := make(map[string][]int)
	for i, s := range batch {
		byConv[s.Experience.ConversationID] = append(byConv[s.Experience.ConversationID], i)
	}
	for _, positions := range byConv {
		if len(positions) < 2 {
			continue
		}
		exps := make([]Sampled, len(positions))
		for i, p := range positions {
			exps[i] = batch[p]
		}
		sort.SliceStable(exps, func(a, b int) bool {
			return exps[a].Experience.TurnIndex < exps[b].Experience.TurnIndex
		})
		for i, p := range positions {
			batch[p] = exps[i]
		}
	}
}

// #endregion sample

// #region priorities

// UpdatePriorities refreshes priorities from observed TD errors after a
// training cycle. Applied per entry via compare-and-set; a concurrent update
// to the same entry is retried once and otherwise skipped.
func (b *Buffer) UpdatePriorities(ids []string, tdErrors []float64) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for i, id := range ids {
		if i >= len(tdErrors) {
			break
		}
		e, ok := b.byID[id]
		if !ok {
			continue // evicted since sampling
		}
		p := math.Abs(tdErrors[i])
		if p < b.cfg.MinPriority {
			p = b.cfg.MinPriority
		}
		for attempt := 0; attempt < 2; attempt++ {
			old := e.loadPriority()
			if e.casPriority(old, p) {
				break
			}
		}
		b.raiseMaxPriority(p)
	}
}

// raiseMaxPriority lifts the running max priority if p exceeds it.
func (b *Buffer) raiseMaxPriority(p float64) {
	for {
		cur := b.maxPriority.Load()
		if math.Float64frombits(cur) >= p {
			return
		}
		if b.maxPriority.CompareAndSwap(cur, math.Float64bits(p)) {
			return
		}
	}
}

// #endregion priorities

// #region late-feedback

// UpdateReward replaces a stored experience's reward in place (late
// feedback) and resets its priority to the running max so the priority
// refresh reintroduces it for resampling. Returns false if the experience is
// no longer in the buffer.
func (b *Buffer) UpdateReward(id string, r reward.MultiObjectiveReward) bool {
	b.mu.RLock()
	e, ok := b.byID[id]
	b.mu.RUnlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	e.exp.Reward = r
	e.mu.Unlock()
	e.storePriority(math.Float64frombits(b.maxPriority.Load()))
	return true
}

// #endregion late-feedback

// #region accessors

// Len returns the current occupancy.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Stored returns the total number of experiences ever stored, used by the
// training manager's count-based cycle trigger.
func (b *Buffer) Stored() int64 {
	return b.stored.Load()
}

// #endregion accessors
