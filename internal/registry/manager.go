package registry

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/danielpatrickdp/adaptive-response/internal/core"
	"github.com/danielpatrickdp/adaptive-response/internal/policy"
)

// #region snapshot

// Snapshot is the immutable model reference served to the agent controller.
// In-flight evaluations keep the snapshot they started with; activations
// swap the pointer atomically.
type Snapshot struct {
	Version int64
	Model   *policy.Model
}

// #endregion snapshot

// #region manager

// Manager versions checkpoints, performs hot-swap activation and rollback,
// and exposes the currently active model.
type Manager struct {
	cfg   Config
	store *Store
	log   *logrus.Entry

	mu     sync.Mutex // serializes stage/activate/rollback
	active atomic.Pointer[Snapshot]
}

// NewManager loads or initializes the active model. An empty store gets a
// freshly initialized version 1, scored and activated immediately.
func NewManager(cfg Config, store *Store, log *logrus.Entry) (*Manager, error) {
	m := &Manager{cfg: cfg, store: store, log: log}

	activeVer, _, err := store.ActivePointer()
	if err != nil {
		return nil, err
	}

	if activeVer == 0 {
		model := policy.NewModel(cfg.Seed)
		v := ModelVersion{
			Version:    1,
			PolicyBlob: model.EncodePolicy(),
			ValueBlob:  model.EncodeValue(),
			Metrics:    EvaluateModel(model),
			Status:     StatusActive,
			CreatedAt:  time.Now().UTC(),
		}
		if err := store.Insert(v); err != nil {
			return nil, err
		}
		if err := store.SetActivePointer(1, 0, nil); err != nil {
			return nil, err
		}
		m.active.Store(&Snapshot{Version: 1, Model: model})
		log.WithField("version", 1).Info("initialized first model version")
		return m, nil
	}

	rec, err := store.Get(activeVer)
	if err != nil {
		return nil, err
	}
	model, err := policy.Decode(rec.PolicyBlob, rec.ValueBlob)
	if err != nil {
		return nil, fmt.Errorf("decode active version %d: %w", activeVer, err)
	}
	m.active.Store(&Snapshot{Version: activeVer, Model: model})
	log.WithField("version", activeVer).Info("loaded active model version")
	return m, nil
}

// Active returns the current serving snapshot.
func (m *Manager) Active() *Snapshot {
	return m.active.Load()
}

// #endregion manager

// #region stage

// Stage checkpoints a trained model as a new staged version, scored against
// the held-out scenario set.
func (m *Manager) Stage(model *policy.Model) (ModelVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, err := m.store.NextVersion()
	if err != nil {
		return ModelVersion{}, err
	}
	v := ModelVersion{
		Version:    next,
		PolicyBlob: model.EncodePolicy(),
		ValueBlob:  model.EncodeValue(),
		Metrics:    EvaluateModel(model),
		Status:     StatusStaged,
		CreatedAt:  time.Now().UTC(),
	}
	if err := m.store.Insert(v); err != nil {
		return ModelVersion{}, err
	}
	m.log.WithFields(logrus.Fields{
		"version": next,
		"metrics": v.Metrics,
	}).Info("staged model version")
	return v, nil
}

// #endregion stage

// #region activate

// Activate hot-swaps a staged version in if its validation metrics are no
// worse than the active version's on every tracked metric beyond the
// tolerance. A failing version is retired and ActivationRejectedError
// returned; the active version is unchanged.
func (m *Manager) Activate(version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	staged, err := m.store.Get(version)
	if err != nil {
		return err
	}
	if staged.Status != StatusStaged {
		return &core.ActivationRejectedError{
			Version: version,
			Reason:  fmt.Sprintf("version is %s, not staged", staged.Status),
		}
	}

	cur := m.active.Load()
	curRec, err := m.store.Get(cur.Version)
	if err != nil {
		return err
	}

	for name, curVal := range curRec.Metrics {
		stagedVal, ok := staged.Metrics[name]
		if !ok || stagedVal < curVal-m.cfg.Tolerance {
			if serr := m.store.SetStatus(version, StatusRetired); serr != nil {
				m.log.WithError(serr).Warn("retire rejected version")
			}
			return &core.ActivationRejectedError{
				Version: version,
				Reason: fmt.Sprintf("metric %s regressed: %.4f -> %.4f (tolerance %.4f)",
					name, curVal, stagedVal, m.cfg.Tolerance),
			}
		}
	}

	model, err := policy.Decode(staged.PolicyBlob, staged.ValueBlob)
	if err != nil {
		return fmt.Errorf("decode staged version %d: %w", version, err)
	}

	err = m.store.SetActivePointer(version, cur.Version, map[int64]Status{
		version:     StatusActive,
		cur.Version: StatusRetired,
	})
	if err != nil {
		return err
	}

	m.active.Store(&Snapshot{Version: version, Model: model})
	m.log.WithFields(logrus.Fields{
		"version":  version,
		"previous": cur.Version,
	}).Info("activated model version")
	return nil
}

// #endregion activate

// #region rollback

// Rollback reactivates the previously active version. Exactly one rollback
// target is retained, so only a single step back is possible.
func (m *Manager) Rollback() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	activeVer, prevVer, err := m.store.ActivePointer()
	if err != nil {
		return err
	}
	if prevVer == 0 {
		return fmt.Errorf("no rollback target")
	}

	prev, err := m.store.Get(prevVer)
	if err != nil {
		return err
	}
	model, err := policy.Decode(prev.PolicyBlob, prev.ValueBlob)
	if err != nil {
		return fmt.Errorf("decode rollback target %d: %w", prevVer, err)
	}

	// The rolled-back version keeps no further target: single-step only.
	err = m.store.SetActivePointer(prevVer, 0, map[int64]Status{
		prevVer:   StatusActive,
		activeVer: StatusRolledBack,
	})
	if err != nil {
		return err
	}

	m.active.Store(&Snapshot{Version: prevVer, Model: model})
	m.log.WithFields(logrus.Fields{
		"version":     prevVer,
		"rolled_back": activeVer,
	}).Warn("rolled back model version")
	return nil
}

// #endregion rollback
