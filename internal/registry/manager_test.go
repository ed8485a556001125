package registry

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/danielpatrickdp/adaptive-response/internal/core"
	"github.com/danielpatrickdp/adaptive-response/internal/logging"
	"github.com/danielpatrickdp/adaptive-response/internal/policy"
)

func tempStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registry.db")
	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func testManager(t *testing.T) *Manager {
	t.Helper()
	store, _ := tempStore(t)
	m, err := NewManager(Config{Tolerance: 0.02, Seed: 1}, store, logging.Component(logging.Discard(), "registry"))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestEmptyStoreInitializesVersionOne(t *testing.T) {
	m := testManager(t)

	snap := m.Active()
	if snap == nil || snap.Version != 1 {
		t.Fatalf("expected active version 1, got %+v", snap)
	}
	if snap.Model == nil {
		t.Fatal("active snapshot must carry a model")
	}

	rec, err := m.store.Get(1)
	if err != nil {
		t.Fatalf("get version 1: %v", err)
	}
	if rec.Status != StatusActive {
		t.Fatalf("expected status active, got %s", rec.Status)
	}
	if len(rec.Metrics) == 0 {
		t.Fatal("initial version should carry evaluation metrics")
	}
}

func TestStageAndActivateEquivalentModel(t *testing.T) {
	m := testManager(t)

	// A clone scores identically, so activation always passes the check.
	v, err := m.Stage(m.Active().Model.Clone())
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if v.Version != 2 {
		t.Fatalf("expected version 2, got %d", v.Version)
	}
	if v.Status != StatusStaged {
		t.Fatalf("expected staged, got %s", v.Status)
	}

	if err := m.Activate(v.Version); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if m.Active().Version != 2 {
		t.Fatalf("expected active version 2, got %d", m.Active().Version)
	}

	old, err := m.store.Get(1)
	if err != nil {
		t.Fatalf("get version 1: %v", err)
	}
	if old.Status != StatusRetired {
		t.Fatalf("superseded version should retire, got %s", old.Status)
	}
}

func TestActivateRejectsRegression(t *testing.T) {
	m := testManager(t)

	// Stage a version whose metrics regress past tolerance.
	cur, err := m.store.Get(1)
	if err != nil {
		t.Fatalf("get version 1: %v", err)
	}
	bad := make(map[string]float64, len(cur.Metrics))
	for k, v := range cur.Metrics {
		bad[k] = v - 0.5
	}
	model := m.Active().Model
	rec := ModelVersion{
		Version:    2,
		PolicyBlob: model.EncodePolicy(),
		ValueBlob:  model.EncodeValue(),
		Metrics:    bad,
		Status:     StatusStaged,
		CreatedAt:  time.Now().UTC(),
	}
	if err := m.store.Insert(rec); err != nil {
		t.Fatalf("insert: %v", err)
	}

	err = m.Activate(2)
	var rej *core.ActivationRejectedError
	if !errors.As(err, &rej) {
		t.Fatalf("expected ActivationRejectedError, got %v", err)
	}

	// Serving model untouched, rejected version retired.
	if m.Active().Version != 1 {
		t.Fatalf("active version changed to %d after rejection", m.Active().Version)
	}
	got, err := m.store.Get(2)
	if err != nil {
		t.Fatalf("get version 2: %v", err)
	}
	if got.Status != StatusRetired {
		t.Fatalf("rejected version should retire, got %s", got.Status)
	}
}

func TestActivateRequiresStagedStatus(t *testing.T) {
	m := testManager(t)

	err := m.Activate(1) // already active
	var rej *core.ActivationRejectedError
	if !errors.As(err, &rej) {
		t.Fatalf("expected ActivationRejectedError, got %v", err)
	}
}

func TestRollbackSingleStep(t *testing.T) {
	m := testManager(t)

	v, err := m.Stage(m.Active().Model.Clone())
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if err := m.Activate(v.Version); err != nil {
		t.Fatalf("activate: %v", err)
	}

	if err := m.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if m.Active().Version != 1 {
		t.Fatalf("expected rollback to version 1, got %d", m.Active().Version)
	}

	rec, err := m.store.Get(2)
	if err != nil {
		t.Fatalf("get version 2: %v", err)
	}
	if rec.Status != StatusRolledBack {
		t.Fatalf("expected rolled_back, got %s", rec.Status)
	}

	// Only one step back is retained.
	if err := m.Rollback(); err == nil {
		t.Fatal("second rollback should fail")
	}
}

func TestRollbackWithoutTargetFails(t *testing.T) {
	m := testManager(t)
	if err := m.Rollback(); err == nil {
		t.Fatal("rollback with no previous version should fail")
	}
}

func TestActiveModelSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.db")
	log := logging.Component(logging.Discard(), "registry")

	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	m, err := NewManager(Config{Tolerance: 0.02, Seed: 1}, store, log)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	v, err := m.Stage(m.Active().Model.Clone())
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if err := m.Activate(v.Version); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	store2, err := NewStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store2.Close()
	m2, err := NewManager(Config{Tolerance: 0.02, Seed: 1}, store2, log)
	if err != nil {
		t.Fatalf("NewManager reopen: %v", err)
	}
	if m2.Active().Version != 2 {
		t.Fatalf("expected version 2 after reopen, got %d", m2.Active().Version)
	}

	// The reloaded model must behave identically to the staged one.
	state := core.ConversationState{Context: heldOutScenarios[0].context}
	origDist, _ := m.Active().Model.Evaluate(state)
	gotDist, _ := m2.Active().Model.Evaluate(state)
	for i := range origDist.Probs {
		if origDist.Probs[i] != gotDist.Probs[i] {
			t.Fatal("reloaded model differs from persisted one")
		}
	}
}

func TestEvaluateModelMetricsInRange(t *testing.T) {
	metrics := EvaluateModel(policy.NewModel(1))
	for _, name := range []string{"scenario_score", "mean_confidence", "value_sanity"} {
		v, ok := metrics[name]
		if !ok {
			t.Fatalf("missing metric %s", name)
		}
		if v < 0 || v > 1 {
			t.Fatalf("metric %s out of [0,1]: %f", name, v)
		}
	}
}

func TestEvaluateModelDeterministic(t *testing.T) {
	m := policy.NewModel(5)
	a := EvaluateModel(m)
	b := EvaluateModel(m)
	for k, v := range a {
		if b[k] != v {
			t.Fatalf("metric %s not deterministic: %f vs %f", k, v, b[k])
		}
	}
}
