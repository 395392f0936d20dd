package sessions

import (
	"context"
	"fmt"
	"testing"

	"github.com/haasonsaas/agentgate/pkg/models"
)

func TestMemoryStore_AppendAndHistory(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for i := 0; i < 5; i++ {
		if err := store.Append(ctx, "main", models.RoleUser, fmt.Sprintf("m%d", i)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	history, err := store.History(ctx, "main", 3)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(history))
	}
	if history[0].Content != "m2" || history[2].Content != "m4" {
		t.Fatalf("unexpected history order: %+v", history)
	}
}

func TestMemoryStore_MissingKeyReturnsEmpty(t *testing.T) {
	store := NewMemoryStore()
	history, err := store.History(context.Background(), "nope", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %d", len(history))
	}
}

// S3 from the testable-properties scenarios: appending 120 messages to one
// key and asking for 200 back yields exactly 70, starting at u_50 — the cap
// trims in batches of 50, not one at a time.
func TestMemoryStore_TranscriptBound_S3(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for i := 0; i < 120; i++ {
		if err := store.Append(ctx, "main", models.RoleUser, fmt.Sprintf("u_%d", i)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	history, err := store.History(ctx, "main", 200)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 70 {
		t.Fatalf("expected 70 messages, got %d", len(history))
	}
	if history[0].Content != "u_50" {
		t.Fatalf("expected first message u_50, got %s", history[0].Content)
	}
	if history[len(history)-1].Content != "u_119" {
		t.Fatalf("expected last message u_119, got %s", history[len(history)-1].Content)
	}
}

func TestMemoryStore_BoundedForAllN(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for i := 0; i < 500; i++ {
		if err := store.Append(ctx, "k", models.RoleUser, "x"); err != nil {
			t.Fatalf("append: %v", err)
		}
		history, err := store.History(ctx, "k", 1000)
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if len(history) > MaxMessages {
			t.Fatalf("after %d appends, history length %d exceeds cap %d", i+1, len(history), MaxMessages)
		}
	}
}

func TestMemoryStore_ReplaceRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	want := []models.SessionMessage{
		{Role: models.RoleUser, Content: "a"},
		{Role: models.RoleAssistant, Content: "b"},
	}
	if err := store.Replace(ctx, "k", want); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, err := store.History(ctx, "k", len(want))
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].Content != want[i].Content || got[i].Role != want[i].Role {
			t.Fatalf("message %d mismatch: got %+v want %+v", i, got[i], want[i])
		}
	}
}

func TestMemoryStore_Clear(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	store.Append(ctx, "k", models.RoleUser, "hi")
	if err := store.Clear(ctx, "k"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	history, err := store.History(ctx, "k", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history after clear, got %d", len(history))
	}

	keys, err := store.List(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	found := false
	for _, k := range keys {
		if k == "k" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected key %q to still exist after clear, got %v", "k", keys)
	}
}

func TestMemoryStore_ConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	done := make(chan struct{})
	for i := 0; i < 20; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			store.Append(ctx, "k", models.RoleUser, fmt.Sprintf("m%d", n))
		}(i)
	}
	for i := 0; i < 20; i++ {
		<-done
	}

	history, err := store.History(ctx, "k", 1000)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 20 {
		t.Fatalf("expected 20 messages, got %d", len(history))
	}
}
