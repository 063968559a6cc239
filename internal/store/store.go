// Package store persists per-chat conversation memory and keyword
// reminder rules. It is the only component that owns durable state;
// the dispatcher and scheduler read and write through it and keep no
// copies between calls.
//
// Two backends share the same tables: SQLite (the default, one file on
// disk) and PostgreSQL for deployments that already run a database
// server. Both implement [Store].
package store

import (
	"context"
	"fmt"
)

// Placeholders substituted at read time for names that were never set.
// They are never written to the database.
const (
	DefaultYourName = "dear"
	DefaultHerName  = "baby"
)

// Store is the persistence contract shared by all backends. All
// methods are safe for concurrent use.
type Store interface {
	// GetMemory returns the memory row for chatID, or nil and a nil
	// error when the chat has never interacted.
	GetMemory(ctx context.Context, chatID int64) (*Memory, error)

	// UpsertMemory creates the row if absent, otherwise overwrites only
	// the fields that are non-empty in upd. The existence check and
	// write happen in one statement.
	UpsertMemory(ctx context.Context, chatID int64, upd MemoryUpdate) error

	// AddReminder stores a new rule. The keyword is lower-cased before
	// storage. Duplicate rules are allowed.
	AddReminder(ctx context.Context, chatID int64, keyword, message string) (*Reminder, error)

	// FindReminderReply returns the message of the lowest-id rule for
	// chatID whose keyword occurs in the lower-cased text.
	FindReminderReply(ctx context.Context, chatID int64, text string) (string, bool, error)

	// ListConversations returns every chat with a memory row, ordered
	// by chat id.
	ListConversations(ctx context.Context) ([]Conversation, error)

	// ListReminders returns the rules for chatID in creation order.
	ListReminders(ctx context.Context, chatID int64) ([]Reminder, error)

	// Stats returns row counts.
	Stats(ctx context.Context) (Stats, error)

	Close() error
}

// Options selects and locates a backend.
type Options struct {
	Driver string // "sqlite" (default) or "postgres"
	Path   string // SQLite database file
	DSN    string // PostgreSQL connection string
}

// Open returns the backend named by opts.Driver with its schema in place.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "", "sqlite":
		return NewSQLiteStore(opts.Path)
	case "postgres":
		return NewPostgresStore(ctx, opts.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}
