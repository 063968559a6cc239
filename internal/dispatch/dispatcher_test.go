package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/nugget/sayang/internal/persona"
	"github.com/nugget/sayang/internal/store"
)

// firstPicker always picks index 0.
type firstPicker struct{}

func (firstPicker) Pick(int) int { return 0 }

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "dispatch_test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestDispatcher(t *testing.T, s Store, p persona.Picker) *Dispatcher {
	t.Helper()
	return New(Config{
		Store:  s,
		Picker: p,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func getMemory(t *testing.T, s Store, chatID int64) *store.Memory {
	t.Helper()
	mem, err := s.GetMemory(context.Background(), chatID)
	if err != nil {
		t.Fatalf("GetMemory() error = %v", err)
	}
	return mem
}

func TestOnTextMessage_PlainTextInPool(t *testing.T) {
	s := newTestStore(t)
	d := newTestDispatcher(t, s, persona.NewSeededPicker(3, 4))
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		reply, err := d.OnTextMessage(ctx, 1, "hello there")
		if err != nil {
			t.Fatalf("OnTextMessage() error = %v", err)
		}
		pool := persona.Candidates("hello there", "dear", "baby", "")
		if !slices.Contains(pool, reply) {
			t.Fatalf("OnTextMessage() = %q, not in candidate pool", reply)
		}
	}
}

func TestOnTextMessage_FirstMessageCreatesRow(t *testing.T) {
	s := newTestStore(t)
	d := newTestDispatcher(t, s, firstPicker{})

	if _, err := d.OnTextMessage(context.Background(), 5, "hi"); err != nil {
		t.Fatalf("OnTextMessage() error = %v", err)
	}
	mem := getMemory(t, s, 5)
	if mem == nil {
		t.Fatal("memory row not created by first message")
	}
	if mem.Mood != "" {
		t.Errorf("Mood = %q, want empty", mem.Mood)
	}
}

func TestOnTextMessage_RecordsMood(t *testing.T) {
	s := newTestStore(t)
	d := newTestDispatcher(t, s, firstPicker{})
	ctx := context.Background()

	if _, err := d.OnTextMessage(ctx, 2, "I am so tired and sad"); err != nil {
		t.Fatal(err)
	}
	if got := getMemory(t, s, 2).Mood; got != "tired" {
		t.Errorf("Mood = %q, want tired", got)
	}

	// A message without a mood keeps the stored one.
	if _, err := d.OnTextMessage(ctx, 2, "ok"); err != nil {
		t.Fatal(err)
	}
	if got := getMemory(t, s, 2).Mood; got != "tired" {
		t.Errorf("Mood after neutral message = %q, want tired", got)
	}
}

func TestOnTextMessage_StoredMoodShapesReply(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.UpsertMemory(ctx, 3, store.MemoryUpdate{YourName: "Alex", Mood: "sad"}); err != nil {
		t.Fatal(err)
	}

	// Index 5 is the mood template when nothing else is appended.
	d := newTestDispatcher(t, s, pickIndex(5))
	reply, err := d.OnTextMessage(ctx, 3, "hmm")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(reply, "let me hug you") || !strings.Contains(reply, "Alex") {
		t.Errorf("reply = %q, want sad template for Alex", reply)
	}
}

type pickIndex int

func (p pickIndex) Pick(n int) int { return int(p) % n }

func TestOnTextMessage_CallMe(t *testing.T) {
	s := newTestStore(t)
	d := newTestDispatcher(t, s, firstPicker{})
	ctx := context.Background()

	reply, err := d.OnTextMessage(ctx, 10, "please call me ah boy")
	if err != nil {
		t.Fatal(err)
	}
	if reply != persona.AckYourName("Ah Boy") {
		t.Errorf("reply = %q, want ack for Ah Boy", reply)
	}
	if got := getMemory(t, s, 10).YourName; got != "Ah Boy" {
		t.Errorf("YourName = %q, want Ah Boy", got)
	}

	// The new name is used from the next reply on.
	reply, err = d.OnTextMessage(ctx, 10, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(reply, "Ah Boy") {
		t.Errorf("reply = %q, want it to address Ah Boy", reply)
	}
}

func TestOnTextMessage_CallYou(t *testing.T) {
	s := newTestStore(t)
	d := newTestDispatcher(t, s, firstPicker{})

	reply, err := d.OnTextMessage(context.Background(), 11, "Can I Call You MEI LING")
	if err != nil {
		t.Fatal(err)
	}
	if reply != persona.AckHerName("Mei Ling") {
		t.Errorf("reply = %q, want ack for Mei Ling", reply)
	}
	mem := getMemory(t, s, 11)
	if mem.HerName != "Mei Ling" {
		t.Errorf("HerName = %q, want Mei Ling", mem.HerName)
	}
	if mem.YourName != "" {
		t.Errorf("YourName = %q, want unset", mem.YourName)
	}
}

func TestOnTextMessage_CallYouBeatsCallMe(t *testing.T) {
	s := newTestStore(t)
	d := newTestDispatcher(t, s, firstPicker{})

	if _, err := d.OnTextMessage(context.Background(), 12, "call me maybe, or call you sweetie"); err != nil {
		t.Fatal(err)
	}
	mem := getMemory(t, s, 12)
	if mem.HerName != "Sweetie" || mem.YourName != "" {
		t.Errorf("memory = %+v, want only HerName=Sweetie", mem)
	}
}

func TestOnTextMessage_EmptyNameFallsThrough(t *testing.T) {
	s := newTestStore(t)
	d := newTestDispatcher(t, s, firstPicker{})

	reply, err := d.OnTextMessage(context.Background(), 13, "call me    .")
	if err != nil {
		t.Fatal(err)
	}
	// "." is a usable name; whitespace alone is not.
	if reply != persona.AckYourName(".") {
		t.Errorf("reply = %q", reply)
	}

	reply, err = d.OnTextMessage(context.Background(), 14, "call me \t ")
	if err != nil {
		t.Fatal(err)
	}
	if reply == persona.AckYourName("") {
		t.Error("empty name was acknowledged")
	}
	if mem := getMemory(t, s, 14); mem != nil && mem.YourName != "" {
		t.Errorf("YourName = %q, want unset", mem.YourName)
	}
}

func TestOnTextMessage_ReminderBeatsMood(t *testing.T) {
	s := newTestStore(t)
	d := newTestDispatcher(t, s, firstPicker{})
	ctx := context.Background()

	reply, err := d.OnTextMessage(ctx, 20, "remind me when sad => cheer up!")
	if err != nil {
		t.Fatal(err)
	}
	if reply != persona.AckReminder("sad") {
		t.Errorf("reply = %q, want reminder ack", reply)
	}
	if mem := getMemory(t, s, 20); mem != nil && mem.Mood != "" {
		t.Errorf("Mood = %q, reminder creation must not record mood", mem.Mood)
	}

	reply, err = d.OnTextMessage(ctx, 20, "I feel SAD today")
	if err != nil {
		t.Fatal(err)
	}
	if reply != "cheer up!" {
		t.Errorf("reply = %q, want stored reminder message", reply)
	}
}

func TestOnTextMessage_ReminderTrimsAndLowercases(t *testing.T) {
	s := newTestStore(t)
	d := newTestDispatcher(t, s, firstPicker{})
	ctx := context.Background()

	reply, err := d.OnTextMessage(ctx, 21, "Remind Me When  HomeWork  =>  Don't forget!  ")
	if err != nil {
		t.Fatal(err)
	}
	if reply != persona.AckReminder("homework") {
		t.Errorf("reply = %q", reply)
	}
	list, err := s.ListReminders(ctx, 21)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Keyword != "homework" || list[0].Message != "Don't forget!" {
		t.Errorf("reminders = %+v", list)
	}
}

func TestOnTextMessage_EmptyKeywordFallsThrough(t *testing.T) {
	s := newTestStore(t)
	d := newTestDispatcher(t, s, firstPicker{})
	ctx := context.Background()

	if _, err := d.OnTextMessage(ctx, 22, "remind me when   => hi"); err != nil {
		t.Fatal(err)
	}
	list, _ := s.ListReminders(ctx, 22)
	if len(list) != 0 {
		t.Errorf("reminders = %+v, want none for blank keyword", list)
	}
}

func TestOnPhotoMessage(t *testing.T) {
	s := newTestStore(t)
	d := newTestDispatcher(t, s, firstPicker{})
	ctx := context.Background()

	reply, err := d.OnPhotoMessage(ctx, 30)
	if err != nil {
		t.Fatal(err)
	}
	if reply != persona.PhotoCandidates("dear")[0] {
		t.Errorf("reply = %q, want default-name photo reply", reply)
	}
	if mem := getMemory(t, s, 30); mem != nil {
		t.Errorf("photo created memory row %+v", mem)
	}
}

func TestOnStartCommand(t *testing.T) {
	s := newTestStore(t)
	d := newTestDispatcher(t, s, firstPicker{})

	reply, err := d.OnStartCommand(context.Background(), 40)
	if err != nil {
		t.Fatal(err)
	}
	if reply != persona.Greeting() {
		t.Errorf("reply = %q, want greeting", reply)
	}
	if getMemory(t, s, 40) == nil {
		t.Error("start did not create memory row")
	}
}

func TestOnSetNameCommand(t *testing.T) {
	s := newTestStore(t)
	d := newTestDispatcher(t, s, firstPicker{})
	ctx := context.Background()

	reply, err := d.OnSetNameCommand(ctx, 41, "  ")
	if err != nil {
		t.Fatal(err)
	}
	if reply != persona.SetNameUsage() {
		t.Errorf("reply = %q, want usage", reply)
	}
	if getMemory(t, s, 41) != nil {
		t.Error("empty /setname wrote memory")
	}

	if _, err := d.OnSetNameCommand(ctx, 41, "kai"); err != nil {
		t.Fatal(err)
	}
	if got := getMemory(t, s, 41).YourName; got != "Kai" {
		t.Errorf("YourName = %q, want Kai", got)
	}
}

// failingStore fails every call.
type failingStore struct{}

var errDown = errors.New("database is down")

func (failingStore) GetMemory(context.Context, int64) (*store.Memory, error) {
	return nil, &store.StorageError{Op: "get memory", Err: errDown}
}
func (failingStore) UpsertMemory(context.Context, int64, store.MemoryUpdate) error {
	return &store.StorageError{Op: "upsert memory", Err: errDown}
}
func (failingStore) AddReminder(context.Context, int64, string, string) (*store.Reminder, error) {
	return nil, &store.StorageError{Op: "add reminder", Err: errDown}
}
func (failingStore) FindReminderReply(context.Context, int64, string) (string, bool, error) {
	return "", false, &store.StorageError{Op: "find reminder", Err: errDown}
}

func TestStorageErrorsPropagate(t *testing.T) {
	d := newTestDispatcher(t, failingStore{}, firstPicker{})
	ctx := context.Background()

	tests := []struct {
		name string
		call func() (string, error)
	}{
		{"call me", func() (string, error) { return d.OnTextMessage(ctx, 1, "call me Bo") }},
		{"reminder", func() (string, error) { return d.OnTextMessage(ctx, 1, "remind me when x => y") }},
		{"plain", func() (string, error) { return d.OnTextMessage(ctx, 1, "hello") }},
		{"photo", func() (string, error) { return d.OnPhotoMessage(ctx, 1) }},
		{"start", func() (string, error) { return d.OnStartCommand(ctx, 1) }},
		{"setname", func() (string, error) { return d.OnSetNameCommand(ctx, 1, "Bo") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply, err := tt.call()
			if !store.IsStorageError(err) {
				t.Errorf("error = %v, want StorageError", err)
			}
			if !errors.Is(err, errDown) {
				t.Errorf("error = %v, want it to wrap errDown", err)
			}
			if reply != "" {
				t.Errorf("reply = %q, want empty on failure", reply)
			}
		})
	}
}

func TestConcurrentChats(t *testing.T) {
	s := newTestStore(t)
	d := newTestDispatcher(t, s, persona.NewRandPicker())
	ctx := context.Background()

	var wg sync.WaitGroup
	for chat := int64(1); chat <= 4; chat++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				if _, err := d.OnTextMessage(ctx, chat, "so happy"); err != nil {
					t.Errorf("OnTextMessage(%d) error = %v", chat, err)
				}
			}
		}()
	}
	wg.Wait()

	for chat := int64(1); chat <= 4; chat++ {
		if got := getMemory(t, s, chat).Mood; got != "happy" {
			t.Errorf("chat %d Mood = %q, want happy", chat, got)
		}
	}
	if n := d.locks.size(); n != 0 {
		t.Errorf("keyed locks left = %d, want 0", n)
	}
}
