// Package dispatch decides how the bot answers an inbound message.
//
// Text messages run through a fixed pipeline and the first stage that
// matches produces the reply:
//
//  1. "call you X" renames the bot
//  2. "call me X" renames the user
//  3. "remind me when K => M" stores a keyword reminder
//  4. a stored reminder keyword in the text replies with its message
//  5. otherwise the mood is detected and recorded, and a templated
//     reply is chosen
//
// Malformed command arguments fall through to the next stage. Storage
// failures abort the message and are returned to the caller.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/nugget/sayang/internal/persona"
	"github.com/nugget/sayang/internal/store"
)

// Store is the subset of [store.Store] the dispatcher needs.
type Store interface {
	GetMemory(ctx context.Context, chatID int64) (*store.Memory, error)
	UpsertMemory(ctx context.Context, chatID int64, upd store.MemoryUpdate) error
	AddReminder(ctx context.Context, chatID int64, keyword, message string) (*store.Reminder, error)
	FindReminderReply(ctx context.Context, chatID int64, text string) (string, bool, error)
}

// Config holds the dependencies for a Dispatcher.
type Config struct {
	Store  Store
	Picker persona.Picker // nil uses persona.NewRandPicker
	Logger *slog.Logger
}

// Dispatcher routes inbound messages to replies. It is safe for
// concurrent use; messages for the same chat are processed one at a
// time in call order.
type Dispatcher struct {
	store  Store
	picker persona.Picker
	logger *slog.Logger
	locks  *keyedMutex
}

// New creates a Dispatcher.
func New(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	picker := cfg.Picker
	if picker == nil {
		picker = persona.NewRandPicker()
	}
	return &Dispatcher{
		store:  cfg.Store,
		picker: picker,
		logger: logger,
		locks:  newKeyedMutex(),
	}
}

// stage is one step of the text pipeline. matched reports whether the
// stage produced the reply; a *ValidationError means the stage
// recognised its command but the arguments were unusable.
type stage struct {
	name string
	run  func(ctx context.Context, chatID int64, text string) (reply string, matched bool, err error)
}

func (d *Dispatcher) stages() []stage {
	return []stage{
		{"rename_agent", d.renameAgent},
		{"rename_self", d.renameSelf},
		{"create_reminder", d.createReminder},
		{"keyword_reminder", d.keywordReminder},
		{"mood_reply", d.moodReply},
	}
}

// OnTextMessage returns the reply to a plain text message.
func (d *Dispatcher) OnTextMessage(ctx context.Context, chatID int64, text string) (string, error) {
	unlock := d.locks.Lock(chatID)
	defer unlock()

	text = strings.TrimSpace(text)

	for _, st := range d.stages() {
		reply, matched, err := st.run(ctx, chatID, text)
		if err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				d.logger.Debug("command ignored",
					"chat_id", chatID,
					"stage", st.name,
					"error", err,
				)
				continue
			}
			d.logger.Error("message processing failed",
				"chat_id", chatID,
				"stage", st.name,
				"error", err,
			)
			return "", err
		}
		if matched {
			d.logger.Debug("message handled",
				"chat_id", chatID,
				"stage", st.name,
				"reply_len", len(reply),
			)
			return reply, nil
		}
	}

	// moodReply always matches, so this is unreachable in practice.
	return "", errors.New("no stage produced a reply")
}

// OnPhotoMessage returns the reply to a photo. It never writes.
func (d *Dispatcher) OnPhotoMessage(ctx context.Context, chatID int64) (string, error) {
	unlock := d.locks.Lock(chatID)
	defer unlock()

	mem, err := d.store.GetMemory(ctx, chatID)
	if err != nil {
		return "", err
	}
	return persona.PhotoReply(d.picker, mem.YourNameOrDefault()), nil
}

// OnStartCommand handles /start: it makes sure the chat has a memory
// row, so scheduled greetings reach it, and returns the greeting.
func (d *Dispatcher) OnStartCommand(ctx context.Context, chatID int64) (string, error) {
	unlock := d.locks.Lock(chatID)
	defer unlock()

	if err := d.store.UpsertMemory(ctx, chatID, store.MemoryUpdate{}); err != nil {
		return "", err
	}
	return persona.Greeting(), nil
}

// OnSetNameCommand handles /setname <name>. An empty name returns a
// usage hint and stores nothing.
func (d *Dispatcher) OnSetNameCommand(ctx context.Context, chatID int64, name string) (string, error) {
	unlock := d.locks.Lock(chatID)
	defer unlock()

	name, err := cleanName(name)
	if err != nil {
		return persona.SetNameUsage(), nil
	}
	if err := d.store.UpsertMemory(ctx, chatID, store.MemoryUpdate{YourName: name}); err != nil {
		return "", err
	}
	return persona.AckYourName(name), nil
}
