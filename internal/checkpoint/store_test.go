package checkpoint

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/camppoia/leozera/internal/database"
	"github.com/camppoia/leozera/internal/llm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.Open("sqlite3", filepath.Join(t.TempDir(), "checkpoints.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := NewStore(db)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	expires := time.Date(2026, 2, 1, 3, 0, 0, 0, time.UTC)

	state := &State{
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "quanto gastei hoje?"},
			{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "gerar_relatorio", Arguments: map[string]any{"periodo": "hoje"}}}},
			{Role: llm.RoleTool, ToolCallID: "call_1", Name: "gerar_relatorio", Content: "📊 ..."},
		},
		User: UserInfo{Name: "Ana", Phone: "11987654321", UserID: "u1", Status: "ativo", Plan: "mensal", PlanExpiresAt: &expires},
	}

	cp, err := s.Save(ctx, "5511987654321@c.us", state)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if cp.Turns != 1 || cp.MessageCount != 3 || cp.ByteSize == 0 {
		t.Errorf("saved = %+v", cp)
	}

	got, err := s.Load(ctx, "5511987654321@c.us")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil || got.State == nil {
		t.Fatal("Load returned no state")
	}
	if len(got.State.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(got.State.Messages))
	}
	tc := got.State.Messages[1].ToolCalls
	if len(tc) != 1 || tc[0].Name != "gerar_relatorio" || tc[0].Arguments["periodo"] != "hoje" {
		t.Errorf("tool call = %+v", tc)
	}
	if got.State.User.UserID != "u1" || got.State.User.PlanExpiresAt == nil || !got.State.User.PlanExpiresAt.Equal(expires) {
		t.Errorf("user = %+v", got.State.User)
	}
}

func TestSave_UpsertsAndCountsTurns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Save(ctx, "t1", &State{Messages: []llm.Message{{Role: llm.RoleUser, Content: "oi"}}})
	cp, err := s.Save(ctx, "t1", &State{Messages: []llm.Message{
		{Role: llm.RoleUser, Content: "oi"},
		{Role: llm.RoleAssistant, Content: "Olá!"},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if cp.Turns != 2 || cp.MessageCount != 2 {
		t.Errorf("after second save: turns=%d messages=%d, want 2/2", cp.Turns, cp.MessageCount)
	}

	list, _ := s.List(ctx, 0)
	if len(list) != 1 {
		t.Errorf("threads = %d, want 1", len(list))
	}
	if list[0].State != nil {
		t.Error("List should not include state")
	}
}

func TestLoad_Missing(t *testing.T) {
	s := newTestStore(t)
	got, err := s.Load(context.Background(), "nope")
	if err != nil || got != nil {
		t.Errorf("Load(missing) = %v, %v; want nil, nil", got, err)
	}
}

func TestSave_EmptyThread(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Save(context.Background(), "", &State{}); err == nil {
		t.Error("Save with empty thread id should fail")
	}
}

func TestPrune_KeepsRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"old-1", "old-2", "old-3", "fresh"} {
		at := base.AddDate(0, 0, i)
		if id == "fresh" {
			at = base.AddDate(0, 1, 0)
		}
		s.now = func() time.Time { return at }
		if _, err := s.Save(ctx, id, &State{}); err != nil {
			t.Fatal(err)
		}
	}

	s.now = func() time.Time { return base.AddDate(0, 1, 1) }
	deleted, err := s.Prune(ctx, 7*24*time.Hour, 2)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}
	for id, want := range map[string]bool{"old-1": false, "old-2": false, "old-3": true, "fresh": true} {
		cp, _ := s.Load(ctx, id)
		if (cp != nil) != want {
			t.Errorf("%s present = %v, want %v", id, cp != nil, want)
		}
	}
}

func TestStatusAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	st, err := s.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Threads != 0 || st.Messages != 0 || st.LastUpdate != nil {
		t.Errorf("empty status = %+v", st)
	}

	s.Save(ctx, "a", &State{Messages: make([]llm.Message, 2)})
	s.Save(ctx, "b", &State{Messages: make([]llm.Message, 3)})
	st, _ = s.Status(ctx)
	if st.Threads != 2 || st.Messages != 5 || st.LastUpdate == nil {
		t.Errorf("status = %+v", st)
	}

	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "a"); err != nil {
		t.Errorf("second delete: %v", err)
	}
	st, _ = s.Status(ctx)
	if st.Threads != 1 {
		t.Errorf("threads after delete = %d, want 1", st.Threads)
	}
}

func TestSummary(t *testing.T) {
	cp := &Checkpoint{ThreadID: "t1", UpdatedAt: time.Date(2026, 1, 10, 9, 30, 0, 0, time.UTC), Turns: 3, MessageCount: 12}
	if got, want := cp.Summary(), "t1 | 2026-01-10 09:30 | 3 turns | 12 msgs"; got != want {
		t.Errorf("Summary() = %q, want %q", got, want)
	}
	cp.MessageCount = 1
	if got, want := cp.Summary(), "t1 | 2026-01-10 09:30 | 3 turns | 1 msg"; got != want {
		t.Errorf("Summary() = %q, want %q", got, want)
	}
}
