package buffer

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/danielpatrickdp/adaptive-response/internal/reward"
)

func tempArchive(t *testing.T) *Archive {
	t.Helper()
	dir := t.TempDir()
	a, err := NewArchive(filepath.Join(dir, "experiences.db"))
	if err != nil {
		t.Fatalf("NewArchive: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestAppendAndLoad(t *testing.T) {
	a := tempArchive(t)

	for i := 0; i < 3; i++ {
		exp := makeExp("exp-"+string(rune('a'+i)), "conv-1", i)
		exp.Reward = reward.MultiObjectiveReward{Total: float64(i) * 0.1}
		exp.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Second)
		if err := a.Append(exp, 1.0); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	loaded, err := a.Load(10)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 3 {
		t.Fatalf("expected 3 experiences, got %d", len(loaded))
	}
	for _, exp := range loaded {
		if exp.ConversationID != "conv-1" {
			t.Fatalf("payload lost conversation id: %q", exp.ConversationID)
		}
	}
}

func TestAppendUpserts(t *testing.T) {
	a := tempArchive(t)

	exp := makeExp("exp-1", "conv-1", 0)
	if err := a.Append(exp, 1.0); err != nil {
		t.Fatalf("append: %v", err)
	}
	exp.Reward = reward.MultiObjectiveReward{Total: 0.8}
	if err := a.Append(exp, 2.0); err != nil {
		t.Fatalf("re-append: %v", err)
	}

	loaded, err := a.Load(10)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("upsert should not duplicate, got %d rows", len(loaded))
	}
	if loaded[0].Reward.Total != 0.8 {
		t.Fatalf("upsert should replace payload, total=%f", loaded[0].Reward.Total)
	}
}

func TestDeleteConversation(t *testing.T) {
	a := tempArchive(t)

	if err := a.Append(makeExp("exp-1", "conv-keep", 0), 1.0); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := a.Append(makeExp("exp-2", "conv-drop", 0), 1.0); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := a.DeleteConversation("conv-drop"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	loaded, err := a.Load(10)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 || loaded[0].ConversationID != "conv-keep" {
		t.Fatalf("expected only conv-keep to remain, got %d rows", len(loaded))
	}
}
