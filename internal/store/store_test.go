package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "sayang_test.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return newTestStore(t) })
}

// runStoreSuite exercises the behaviour every backend must share.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("GetMemoryMissing", func(t *testing.T) {
		s := newStore(t)
		mem, err := s.GetMemory(context.Background(), 42)
		if err != nil {
			t.Fatalf("GetMemory() error = %v", err)
		}
		if mem != nil {
			t.Errorf("GetMemory() = %+v, want nil", mem)
		}
	})

	t.Run("UpsertCreatesWithNulls", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		if err := s.UpsertMemory(ctx, 1, MemoryUpdate{Mood: "sad"}); err != nil {
			t.Fatalf("UpsertMemory() error = %v", err)
		}
		mem, err := s.GetMemory(ctx, 1)
		if err != nil {
			t.Fatalf("GetMemory() error = %v", err)
		}
		if mem == nil {
			t.Fatal("GetMemory() = nil after upsert")
		}
		if mem.YourName != "" || mem.HerName != "" || mem.Mood != "sad" {
			t.Errorf("GetMemory() = %+v, want only mood=sad", mem)
		}
		if got := mem.YourNameOrDefault(); got != DefaultYourName {
			t.Errorf("YourNameOrDefault() = %q, want %q", got, DefaultYourName)
		}
		if got := mem.HerNameOrDefault(); got != DefaultHerName {
			t.Errorf("HerNameOrDefault() = %q, want %q", got, DefaultHerName)
		}
	})

	t.Run("UpsertPartialUpdate", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		if err := s.UpsertMemory(ctx, 7, MemoryUpdate{YourName: "Alex", Mood: "happy"}); err != nil {
			t.Fatalf("UpsertMemory(initial) error = %v", err)
		}
		if err := s.UpsertMemory(ctx, 7, MemoryUpdate{HerName: "Mei"}); err != nil {
			t.Fatalf("UpsertMemory(her) error = %v", err)
		}
		// Re-applying the same update leaves the row unchanged.
		if err := s.UpsertMemory(ctx, 7, MemoryUpdate{HerName: "Mei"}); err != nil {
			t.Fatalf("UpsertMemory(repeat) error = %v", err)
		}

		mem, err := s.GetMemory(ctx, 7)
		if err != nil {
			t.Fatalf("GetMemory() error = %v", err)
		}
		want := Memory{ChatID: 7, YourName: "Alex", HerName: "Mei", Mood: "happy"}
		if *mem != want {
			t.Errorf("GetMemory() = %+v, want %+v", *mem, want)
		}
	})

	t.Run("UpsertEmptyKeepsExisting", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		if err := s.UpsertMemory(ctx, 3, MemoryUpdate{YourName: "Sam"}); err != nil {
			t.Fatal(err)
		}
		if err := s.UpsertMemory(ctx, 3, MemoryUpdate{}); err != nil {
			t.Fatalf("UpsertMemory(empty) error = %v", err)
		}
		mem, _ := s.GetMemory(ctx, 3)
		if mem.YourName != "Sam" {
			t.Errorf("YourName = %q, want Sam", mem.YourName)
		}
	})

	t.Run("ReminderRoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		r, err := s.AddReminder(ctx, 5, "HomeWork", "Don't forget!")
		if err != nil {
			t.Fatalf("AddReminder() error = %v", err)
		}
		if r.Keyword != "homework" {
			t.Errorf("Keyword = %q, want lower-cased homework", r.Keyword)
		}
		if r.ID == 0 {
			t.Error("ID = 0, want database-assigned id")
		}

		msg, ok, err := s.FindReminderReply(ctx, 5, "ugh so much HOMEWORK today")
		if err != nil {
			t.Fatalf("FindReminderReply() error = %v", err)
		}
		if !ok || msg != "Don't forget!" {
			t.Errorf("FindReminderReply() = %q, %v; want \"Don't forget!\", true", msg, ok)
		}

		_, ok, err = s.FindReminderReply(ctx, 5, "nothing relevant")
		if err != nil {
			t.Fatalf("FindReminderReply(miss) error = %v", err)
		}
		if ok {
			t.Error("FindReminderReply(miss) ok = true, want false")
		}

		_, ok, _ = s.FindReminderReply(ctx, 6, "homework")
		if ok {
			t.Error("FindReminderReply() matched another chat's rule")
		}
	})

	t.Run("ReminderFirstByID", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		if _, err := s.AddReminder(ctx, 9, "gym", "first"); err != nil {
			t.Fatal(err)
		}
		if _, err := s.AddReminder(ctx, 9, "gym", "second"); err != nil {
			t.Fatal(err)
		}
		if _, err := s.AddReminder(ctx, 9, "go", "third"); err != nil {
			t.Fatal(err)
		}

		msg, ok, err := s.FindReminderReply(ctx, 9, "going to the gym")
		if err != nil || !ok {
			t.Fatalf("FindReminderReply() = %q, %v, %v", msg, ok, err)
		}
		if msg != "first" {
			t.Errorf("FindReminderReply() = %q, want first", msg)
		}

		list, err := s.ListReminders(ctx, 9)
		if err != nil {
			t.Fatalf("ListReminders() error = %v", err)
		}
		if len(list) != 3 {
			t.Fatalf("ListReminders() len = %d, want 3 (no dedup)", len(list))
		}
		if list[0].Message != "first" || list[2].Keyword != "go" {
			t.Errorf("ListReminders() order = %+v", list)
		}
	})

	t.Run("ListConversationsOrdered", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for _, id := range []int64{30, 10, 20} {
			if err := s.UpsertMemory(ctx, id, MemoryUpdate{}); err != nil {
				t.Fatal(err)
			}
		}
		if err := s.UpsertMemory(ctx, 20, MemoryUpdate{YourName: "Bo"}); err != nil {
			t.Fatal(err)
		}

		convs, err := s.ListConversations(ctx)
		if err != nil {
			t.Fatalf("ListConversations() error = %v", err)
		}
		want := []Conversation{{10, ""}, {20, "Bo"}, {30, ""}}
		if len(convs) != len(want) {
			t.Fatalf("ListConversations() = %+v, want %+v", convs, want)
		}
		for i := range want {
			if convs[i] != want[i] {
				t.Errorf("convs[%d] = %+v, want %+v", i, convs[i], want[i])
			}
		}

		st, err := s.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats() error = %v", err)
		}
		if st.Conversations != 3 || st.Reminders != 0 {
			t.Errorf("Stats() = %+v, want 3 conversations, 0 reminders", st)
		}
	})

	t.Run("ConcurrentUpserts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := s.UpsertMemory(ctx, 99, MemoryUpdate{Mood: "happy"}); err != nil {
					t.Errorf("UpsertMemory() error = %v", err)
				}
			}()
		}
		wg.Wait()

		st, err := s.Stats(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if st.Conversations != 1 {
			t.Errorf("Stats().Conversations = %d, want 1", st.Conversations)
		}
	})
}

func TestStorageError(t *testing.T) {
	s := newTestStore(t)
	s.Close()

	_, err := s.GetMemory(context.Background(), 1)
	if err == nil {
		t.Fatal("GetMemory() on closed store error = nil")
	}
	if !IsStorageError(err) {
		t.Errorf("IsStorageError(%v) = false, want true", err)
	}
	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatal("errors.As(*StorageError) = false")
	}
	if se.Op != "get memory" || se.ChatID != 1 {
		t.Errorf("StorageError = %+v, want op=get memory chat=1", se)
	}
	if IsStorageError(errors.New("plain")) {
		t.Error("IsStorageError(plain) = true")
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, Options{Path: filepath.Join(t.TempDir(), "open.db")})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()
	if _, ok := s.(*SQLiteStore); !ok {
		t.Errorf("Open() returned %T, want *SQLiteStore", s)
	}

	if _, err := Open(ctx, Options{Driver: "mongo"}); err == nil {
		t.Error("Open(mongo) error = nil, want error")
	}
}

func TestSQLiteReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertMemory(ctx, 1, MemoryUpdate{YourName: "Kai"}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore(reopen) error = %v", err)
	}
	defer s.Close()
	mem, err := s.GetMemory(ctx, 1)
	if err != nil || mem == nil || mem.YourName != "Kai" {
		t.Errorf("GetMemory() after reopen = %+v, %v", mem, err)
	}
}
