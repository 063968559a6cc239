package store

import (
	"errors"
	"fmt"
)

// Memory is the per-chat conversation state. Empty strings mean the
// field has never been set.
type Memory struct {
	ChatID   int64
	YourName string // what the bot calls the user
	HerName  string // what the user calls the bot
	Mood     string // last detected mood label
}

// YourNameOrDefault returns YourName, or [DefaultYourName] if unset.
// Safe on a nil receiver.
func (m *Memory) YourNameOrDefault() string {
	if m == nil || m.YourName == "" {
		return DefaultYourName
	}
	return m.YourName
}

// HerNameOrDefault returns HerName, or [DefaultHerName] if unset.
// Safe on a nil receiver.
func (m *Memory) HerNameOrDefault() string {
	if m == nil || m.HerName == "" {
		return DefaultHerName
	}
	return m.HerName
}

// StoredMood returns Mood, or "" for a nil receiver.
func (m *Memory) StoredMood() string {
	if m == nil {
		return ""
	}
	return m.Mood
}

// MemoryUpdate carries the fields to write. An empty string means the
// field was not supplied and the stored value is kept.
type MemoryUpdate struct {
	YourName string
	HerName  string
	Mood     string
}

// Reminder is a keyword-triggered reply rule. Rules are immutable once
// created.
type Reminder struct {
	ID      int64  `json:"id"`
	ChatID  int64  `json:"chat_id"`
	Keyword string `json:"keyword"`
	Message string `json:"message"`
}

// Conversation is the slice of memory the scheduler needs.
type Conversation struct {
	ChatID   int64
	YourName string
}

// Stats holds row counts for status reporting.
type Stats struct {
	Conversations int
	Reminders     int
}

// StorageError wraps a database failure with the operation and chat it
// was for. ChatID is zero for operations that span all chats.
type StorageError struct {
	Op     string
	ChatID int64
	Err    error
}

func (e *StorageError) Error() string {
	if e.ChatID == 0 {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s (chat %d): %v", e.Op, e.ChatID, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err is or wraps a [*StorageError].
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

func storageErr(op string, chatID int64, err error) error {
	return &StorageError{Op: op, ChatID: chatID, Err: err}
}
