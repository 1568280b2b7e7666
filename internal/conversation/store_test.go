package conversation

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stupiduntilnot/chatrelay/internal/model"
)

func TestStore_AddMessage(t *testing.T) {
	s := NewStore(Options{})
	s.AddMessage(12345, model.RoleUser, "Hello")
	s.AddMessage(12345, model.RoleAssistant, "Hi there!")

	history := s.History(12345)
	if len(history) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(history))
	}
	if history[0].Role != model.RoleUser || history[0].Content != "Hello" {
		t.Errorf("unexpected first entry: %+v", history[0])
	}
	if history[1].Role != model.RoleAssistant || history[1].Content != "Hi there!" {
		t.Errorf("unexpected second entry: %+v", history[1])
	}
}

func TestStore_UnknownUserIsEmpty(t *testing.T) {
	s := NewStore(Options{})
	for _, id := range []int64{0, 1, -7, 1 << 40} {
		history := s.History(id)
		if history == nil || len(history) != 0 {
			t.Fatalf("user %d: expected empty non-nil history, got %#v", id, history)
		}
		if s.HasHistory(id) {
			t.Fatalf("user %d: expected no history", id)
		}
	}
}

func TestStore_PreservesOrderExactly(t *testing.T) {
	s := NewStore(Options{})
	var want []Entry
	for i := 0; i < 50; i++ {
		role := model.RoleUser
		if i%3 == 0 {
			role = model.RoleAssistant
		}
		content := fmt.Sprintf("msg-%02d  with spacing ", i)
		s.AddMessage(7, role, content)
		want = append(want, Entry{Role: role, Content: content})
	}

	got := s.History(7)
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entry %d: got %+v want %+v", i, got[i], want[i])
		}
	}
}

func TestStore_HistoryReturnsCopy(t *testing.T) {
	s := NewStore(Options{})
	s.AddMessage(1, model.RoleUser, "original")

	h := s.History(1)
	h[0].Content = "mutated"

	if got := s.History(1)[0].Content; got != "original" {
		t.Fatalf("store was mutated through returned slice: %q", got)
	}
}

func TestStore_Clear(t *testing.T) {
	s := NewStore(Options{})
	s.AddMessage(12345, model.RoleUser, "Hello")
	s.AddMessage(12345, model.RoleAssistant, "Hi!")

	if !s.HasHistory(12345) {
		t.Fatal("expected history before clear")
	}
	if s.Len(12345) != 2 {
		t.Fatalf("expected 2 entries, got %d", s.Len(12345))
	}

	s.Clear(12345)

	if s.HasHistory(12345) {
		t.Fatal("expected no history after clear")
	}
	if s.Len(12345) != 0 {
		t.Fatalf("expected 0 entries, got %d", s.Len(12345))
	}
	if len(s.History(12345)) != 0 {
		t.Fatal("expected empty history after clear")
	}

	// Idempotent, including for ids never seen.
	s.Clear(12345)
	s.Clear(999)
	if len(s.History(999)) != 0 {
		t.Fatal("expected empty history for unknown user")
	}
}

func TestStore_MultipleUsers(t *testing.T) {
	s := NewStore(Options{})
	s.AddMessage(11111, model.RoleUser, "Hello from user1")
	s.AddMessage(22222, model.RoleUser, "Hello from user2")

	h1 := s.History(11111)
	h2 := s.History(22222)
	if len(h1) != 1 || len(h2) != 1 {
		t.Fatalf("expected one entry each, got %d and %d", len(h1), len(h2))
	}
	if h1[0].Content != "Hello from user1" {
		t.Errorf("unexpected user1 content: %q", h1[0].Content)
	}
	if h2[0].Content != "Hello from user2" {
		t.Errorf("unexpected user2 content: %q", h2[0].Content)
	}
	if s.Users() != 2 {
		t.Errorf("expected 2 users, got %d", s.Users())
	}
}

func TestStore_CapacityEvictsLeastRecentlyWritten(t *testing.T) {
	var evictedID int64
	var evictedEntries int
	s := NewStore(Options{
		MaxUsers: 2,
		OnEvict: func(userID int64, entries int) {
			evictedID = userID
			evictedEntries = entries
		},
	})

	s.AddMessage(1, model.RoleUser, "a")
	s.AddMessage(1, model.RoleAssistant, "b")
	s.AddMessage(2, model.RoleUser, "c")
	// Writing to 1 again makes 2 the oldest.
	s.AddMessage(1, model.RoleUser, "d")
	s.AddMessage(3, model.RoleUser, "e")

	if s.HasHistory(2) {
		t.Fatal("expected user 2 to be evicted")
	}
	if s.Len(1) != 3 || s.Len(3) != 1 {
		t.Fatalf("unexpected lengths: user1=%d user3=%d", s.Len(1), s.Len(3))
	}
	if evictedID != 2 || evictedEntries != 1 {
		t.Fatalf("unexpected eviction callback: id=%d entries=%d", evictedID, evictedEntries)
	}
}

func TestStore_ClearDoesNotReportEviction(t *testing.T) {
	called := false
	s := NewStore(Options{
		MaxUsers: 10,
		OnEvict:  func(int64, int) { called = true },
	})
	s.AddMessage(1, model.RoleUser, "a")
	s.Clear(1)
	if called {
		t.Fatal("expected Clear not to invoke OnEvict")
	}
}

func TestStore_IdleTTLExpires(t *testing.T) {
	s := NewStore(Options{IdleTTL: 50 * time.Millisecond})
	s.AddMessage(1, model.RoleUser, "a")
	if !s.HasHistory(1) {
		t.Fatal("expected history right after append")
	}

	time.Sleep(120 * time.Millisecond)

	if s.HasHistory(1) {
		t.Fatal("expected history to expire after idle TTL")
	}
	if len(s.History(1)) != 0 {
		t.Fatal("expected empty history after expiry")
	}

	// A new append starts a fresh history.
	s.AddMessage(1, model.RoleUser, "b")
	h := s.History(1)
	if len(h) != 1 || h[0].Content != "b" {
		t.Fatalf("unexpected history after expiry: %+v", h)
	}
}

func TestStore_ConcurrentAppends(t *testing.T) {
	s := NewStore(Options{MaxUsers: 100})
	const users = 8
	const perUser = 200

	var wg sync.WaitGroup
	for u := 0; u < users; u++ {
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func(userID int64) {
				defer wg.Done()
				for i := 0; i < perUser/4; i++ {
					s.AddMessage(userID, model.RoleUser, "x")
					_ = s.History(userID)
				}
			}(int64(u))
		}
	}
	wg.Wait()

	for u := 0; u < users; u++ {
		if got := s.Len(int64(u)); got != perUser {
			t.Fatalf("user %d: expected %d entries, got %d", u, perUser, got)
		}
	}
}
