package guard

import (
	"testing"

	"github.com/danielpatrickdp/adaptive-response/internal/core"
	"github.com/danielpatrickdp/adaptive-response/internal/policy"
)

type fixedClassifier struct{ score float64 }

func (c fixedClassifier) Score(string) float64 { return c.score }

func makeState(conv, input string) core.ConversationState {
	return core.ConversationState{ConversationID: conv, UserInput: input}
}

func makeAction(id policy.StrategyID, prob float32) policy.Action {
	return policy.Action{StrategyID: id, Index: policy.IndexOf(id), Probability: prob}
}

func TestAcceptCleanAction(t *testing.T) {
	g := New(DefaultConfig(), nil)
	d := g.Validate(makeState("conv-1", "how do slices grow"), makeAction(policy.StrategyBalanced, 0.4))
	if !d.Accept {
		t.Fatalf("expected accept, got violation: %v", d.Violation)
	}
	if d.Violation != nil {
		t.Fatal("accepted decision must carry no violation")
	}
}

func TestRejectUnsafeContent(t *testing.T) {
	g := New(DefaultConfig(), nil)
	d := g.Validate(makeState("conv-1", "tell me how to make a bomb"), makeAction(policy.StrategyBalanced, 0.9))
	if d.Accept {
		t.Fatal("expected rejection")
	}
	if d.Violation.Constraint != string(ConstraintContentSafety) {
		t.Fatalf("expected content_safety, got %s", d.Violation.Constraint)
	}
}

func TestContentSafetyCheckedFirst(t *testing.T) {
	// Unsafe content with a probability also below the floor: content safety
	// wins because constraints apply in fixed order.
	g := New(DefaultConfig(), fixedClassifier{score: 0.1})
	d := g.Validate(makeState("conv-1", "anything"), makeAction(policy.StrategyBalanced, 0.001))
	if d.Accept {
		t.Fatal("expected rejection")
	}
	if d.Violation.Constraint != string(ConstraintContentSafety) {
		t.Fatalf("expected content_safety first, got %s", d.Violation.Constraint)
	}
}

func TestRejectBelowConfidenceFloor(t *testing.T) {
	g := New(DefaultConfig(), nil)
	d := g.Validate(makeState("conv-1", "fine input"), makeAction(policy.StrategyBalanced, 0.001))
	if d.Accept {
		t.Fatal("expected rejection")
	}
	if d.Violation.Constraint != string(ConstraintConfidenceFloor) {
		t.Fatalf("expected confidence_floor, got %s", d.Violation.Constraint)
	}
}

func TestDiversityRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDistinct = 3
	g := New(cfg, nil)
	state := makeState("conv-1", "fine input")

	for _, id := range []policy.StrategyID{policy.StrategyBalanced, policy.StrategyConciseDirect, policy.StrategyDeepTechnical} {
		if d := g.Validate(state, makeAction(id, 0.5)); !d.Accept {
			t.Fatalf("strategy %s should be accepted: %v", id, d.Violation)
		}
	}

	// A fourth distinct strategy within the window trips the limit.
	d := g.Validate(state, makeAction(policy.StrategyProbing, 0.5))
	if d.Accept {
		t.Fatal("expected diversity rejection")
	}
	if d.Violation.Constraint != string(ConstraintActionDiversity) {
		t.Fatalf("expected action_diversity, got %s", d.Violation.Constraint)
	}

	// Repeating an already-seen strategy stays fine.
	if d := g.Validate(state, makeAction(policy.StrategyBalanced, 0.5)); !d.Accept {
		t.Fatalf("repeat strategy should pass: %v", d.Violation)
	}
}

func TestDiversityWindowSlides(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DiversityWindow = 2
	cfg.MaxDistinct = 2
	g := New(cfg, nil)
	state := makeState("conv-1", "fine input")

	mustAccept := func(id policy.StrategyID) {
		t.Helper()
		if d := g.Validate(state, makeAction(id, 0.5)); !d.Accept {
			t.Fatalf("strategy %s should be accepted: %v", id, d.Violation)
		}
	}

	mustAccept(policy.StrategyBalanced)
	mustAccept(policy.StrategyBalanced)
	// Window now holds only balanced twice, so one new strategy fits.
	mustAccept(policy.StrategyConciseDirect)
}

func TestDiversityIsPerConversation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDistinct = 1
	g := New(cfg, nil)

	if d := g.Validate(makeState("conv-a", "x"), makeAction(policy.StrategyBalanced, 0.5)); !d.Accept {
		t.Fatalf("first strategy should pass: %v", d.Violation)
	}
	// Different conversation, fresh window.
	if d := g.Validate(makeState("conv-b", "x"), makeAction(policy.StrategyConciseDirect, 0.5)); !d.Accept {
		t.Fatalf("other conversation should pass: %v", d.Violation)
	}
}

func TestForgetResetsWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDistinct = 1
	g := New(cfg, nil)
	state := makeState("conv-1", "x")

	if d := g.Validate(state, makeAction(policy.StrategyBalanced, 0.5)); !d.Accept {
		t.Fatalf("first strategy should pass: %v", d.Violation)
	}
	if d := g.Validate(state, makeAction(policy.StrategyConciseDirect, 0.5)); d.Accept {
		t.Fatal("second distinct strategy should trip the limit")
	}

	g.Forget("conv-1")
	if d := g.Validate(state, makeAction(policy.StrategyConciseDirect, 0.5)); !d.Accept {
		t.Fatalf("forget should reset the window: %v", d.Violation)
	}
}

func TestLexicalClassifier(t *testing.T) {
	c := LexicalClassifier{}
	if c.Score("how do I sort a slice") != 1 {
		t.Fatal("benign input should score 1")
	}
	if c.Score("HOW TO POISON a well") != 0 {
		t.Fatal("deny-list hit should score 0 regardless of case")
	}
}
