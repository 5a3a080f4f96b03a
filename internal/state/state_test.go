package state

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/artifex-labs/artifex/internal/events"
)

func setupTestStore(t *testing.T, bus *events.Bus) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := NewStore(db, bus)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestStore_PushAndStack(t *testing.T) {
	s := setupTestStore(t, nil)

	steps := []string{StepPlanning, StepResearching, StepCoding}
	for _, step := range steps {
		if _, err := s.Push("t", Snapshot{Step: step, AgentActive: true}); err != nil {
			t.Fatalf("push %s: %v", step, err)
		}
	}

	stack, err := s.Stack("t")
	if err != nil {
		t.Fatalf("stack: %v", err)
	}
	if len(stack) != 3 {
		t.Fatalf("stack length = %d, want 3", len(stack))
	}
	for i, snap := range stack {
		if snap.Step != steps[i] {
			t.Errorf("stack[%d].Step = %q, want %q", i, snap.Step, steps[i])
		}
	}

	latest, err := s.Latest("t")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.Step != StepCoding {
		t.Errorf("latest step = %q, want %q", latest.Step, StepCoding)
	}
	if !latest.AgentActive {
		t.Error("latest should be active")
	}
}

func TestStore_LatestEmpty(t *testing.T) {
	s := setupTestStore(t, nil)

	latest, err := s.Latest("nope")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest != nil {
		t.Errorf("latest for unknown task = %+v, want nil", latest)
	}
}

func TestStore_PatchLatestOnly(t *testing.T) {
	s := setupTestStore(t, nil)

	if _, err := s.Push("t", Snapshot{Step: StepPlanning, AgentActive: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Push("t", Snapshot{Step: StepRunning, AgentActive: true}); err != nil {
		t.Fatal(err)
	}

	if err := s.SetActive("t", false); err != nil {
		t.Fatalf("set active: %v", err)
	}
	if err := s.SetCompleted("t", true); err != nil {
		t.Fatalf("set completed: %v", err)
	}
	if err := s.SetMonologue("t", "wrapping up"); err != nil {
		t.Fatalf("set monologue: %v", err)
	}

	stack, _ := s.Stack("t")
	if stack[0].AgentActive != true || stack[0].Completed || stack[0].InternalMonologue != "" {
		t.Errorf("patch leaked into older snapshot: %+v", stack[0])
	}
	latest := stack[len(stack)-1]
	if latest.AgentActive || !latest.Completed || latest.InternalMonologue != "wrapping up" {
		t.Errorf("latest not patched: %+v", latest)
	}
}

func TestStore_PatchEmptyStack(t *testing.T) {
	s := setupTestStore(t, nil)

	// Patching with no snapshots must be a safe no-op.
	if err := s.SetActive("t", false); err != nil {
		t.Errorf("set active on empty stack: %v", err)
	}
	if err := s.SetCompleted("t", true); err != nil {
		t.Errorf("set completed on empty stack: %v", err)
	}
}

func TestStore_AddTokenUsage(t *testing.T) {
	s := setupTestStore(t, nil)

	if _, err := s.Push("t", Snapshot{Step: StepPlanning, TokenUsage: 100}); err != nil {
		t.Fatal(err)
	}

	if err := s.AddTokenUsage("t", 50); err != nil {
		t.Fatal(err)
	}
	if err := s.AddTokenUsage("t", -30); err != nil {
		t.Fatal(err)
	}
	if err := s.AddTokenUsage("t", 0); err != nil {
		t.Fatal(err)
	}

	latest, _ := s.Latest("t")
	if latest.TokenUsage != 150 {
		t.Errorf("token usage = %d, want 150 (negative and zero deltas ignored)", latest.TokenUsage)
	}
}

func TestStore_PushCarriesTokenUsage(t *testing.T) {
	s := setupTestStore(t, nil)

	if _, err := s.Push("t", Snapshot{Step: StepPlanning, AgentActive: true}); err != nil {
		t.Fatal(err)
	}
	if err := s.AddTokenUsage("t", 15); err != nil {
		t.Fatal(err)
	}

	// The latest token count never decreases across a push.
	if _, err := s.Push("t", Snapshot{Step: StepMonologue, AgentActive: true}); err != nil {
		t.Fatal(err)
	}
	latest, _ := s.Latest("t")
	if latest.TokenUsage != 15 {
		t.Errorf("token usage after push = %d, want 15", latest.TokenUsage)
	}

	if err := s.AddTokenUsage("t", 10); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Push("t", Snapshot{Step: StepCompleted, Completed: true}); err != nil {
		t.Fatal(err)
	}
	latest, _ = s.Latest("t")
	if latest.TokenUsage != 25 {
		t.Errorf("token usage after second push = %d, want 25", latest.TokenUsage)
	}

	// Other tasks keep their own counters.
	if _, err := s.Push("other", Snapshot{Step: StepPlanning}); err != nil {
		t.Fatal(err)
	}
	other, _ := s.Latest("other")
	if other.TokenUsage != 0 {
		t.Errorf("unrelated task token usage = %d, want 0", other.TokenUsage)
	}
}

func TestStore_SessionsRoundTrip(t *testing.T) {
	s := setupTestStore(t, nil)

	in := Snapshot{
		Step:     StepRunning,
		Browser:  BrowserSession{URL: "https://example.com", Screenshot: "shots/1.png"},
		Terminal: TerminalSession{Command: "python main.py", Output: "ok", Title: "run"},
	}
	if _, err := s.Push("t", in); err != nil {
		t.Fatal(err)
	}

	got, _ := s.Latest("t")
	if got.Browser != in.Browser {
		t.Errorf("browser session = %+v, want %+v", got.Browser, in.Browser)
	}
	if got.Terminal != in.Terminal {
		t.Errorf("terminal session = %+v, want %+v", got.Terminal, in.Terminal)
	}
}

func TestStore_Delete(t *testing.T) {
	s := setupTestStore(t, nil)

	if _, err := s.Push("t", Snapshot{Step: StepPlanning}); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("t"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	stack, _ := s.Stack("t")
	if len(stack) != 0 {
		t.Errorf("snapshots survived delete: %d", len(stack))
	}
}

func TestStore_PushPublishesEvent(t *testing.T) {
	bus := events.New()
	s := setupTestStore(t, bus)

	ch := bus.Subscribe(8)
	defer bus.Unsubscribe(ch)

	if _, err := s.Push("t", Snapshot{Step: StepPlanning}); err != nil {
		t.Fatal(err)
	}

	select {
	case e := <-ch:
		if e.Channel != events.ChannelAgentState {
			t.Errorf("channel = %q, want %q", e.Channel, events.ChannelAgentState)
		}
		snap, ok := e.Payload.(*Snapshot)
		if !ok {
			t.Fatalf("payload type %T, want *Snapshot", e.Payload)
		}
		if snap.Step != StepPlanning {
			t.Errorf("payload step = %q", snap.Step)
		}
	default:
		t.Error("no event published on push")
	}
}
