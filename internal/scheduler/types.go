// Package scheduler sends the bot's unprompted messages: a morning and
// a night greeting at fixed local hours, and an occasional random
// "thinking of you" ping. One tick fans out to every known chat.
package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/nugget/sayang/internal/store"
)

// Lister supplies the chats to message.
type Lister interface {
	ListConversations(ctx context.Context) ([]store.Conversation, error)
}

// Sender delivers one message to one chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Roller draws a uniform value in [0, 1).
type Roller interface {
	Float64() float64
}

// Kind identifies why a message was scheduled.
type Kind string

const (
	KindMorning Kind = "morning"
	KindNight   Kind = "night"
	KindPing    Kind = "ping"
)

// Outbound is one planned message.
type Outbound struct {
	ChatID int64  `json:"chat_id"`
	Kind   Kind   `json:"kind"`
	Text   string `json:"text"`
}

// Report summarises one tick.
type Report struct {
	ID            string     `json:"id"` // UUIDv7
	At            time.Time  `json:"at"`
	Hour          int        `json:"hour"` // local hour the tick was planned for
	Conversations int        `json:"conversations"`
	Planned       int        `json:"planned"`
	Sent          int        `json:"sent"`
	Failed        int        `json:"failed"`
	Messages      []Outbound `json:"messages,omitempty"`
}

// Stats describes scheduler activity since start.
type Stats struct {
	Ticks    int
	LastTick *Report
}

// Config controls timing and odds. Zero values are replaced by the
// defaults in [DefaultConfig].
type Config struct {
	Interval        time.Duration
	InitialDelay    time.Duration
	Location        *time.Location
	MorningHour     int
	NightHour       int
	PingProbability float64
}

// DefaultConfig returns hourly ticks, first one after ten seconds,
// greetings at 08:00 and 23:00 Singapore time, and a 3% ping chance.
func DefaultConfig() Config {
	loc, err := time.LoadLocation("Asia/Singapore")
	if err != nil {
		loc = time.FixedZone("SGT", 8*60*60)
	}
	return Config{
		Interval:        time.Hour,
		InitialDelay:    10 * time.Second,
		Location:        loc,
		MorningHour:     8,
		NightHour:       23,
		PingProbability: 0.03,
	}
}

// NewID returns a time-ordered tick identifier.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to v4 if v7 fails
		return uuid.New().String()
	}
	return id.String()
}
