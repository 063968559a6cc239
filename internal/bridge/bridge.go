// Package bridge connects the Telegram long-poll loop to the
// dispatcher: it pulls updates, routes each message to the right
// handler, and sends the reply back to the chat.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nugget/sayang/internal/persona"
	"github.com/nugget/sayang/internal/store"
	"github.com/nugget/sayang/internal/telegram"
)

// Poller fetches updates. The real implementation is *telegram.Client.
type Poller interface {
	GetUpdates(ctx context.Context, offset int64, timeoutSec int) ([]telegram.Update, error)
}

// Sender delivers a reply.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Handler produces replies. The real implementation is
// *dispatch.Dispatcher.
type Handler interface {
	OnTextMessage(ctx context.Context, chatID int64, text string) (string, error)
	OnPhotoMessage(ctx context.Context, chatID int64) (string, error)
	OnStartCommand(ctx context.Context, chatID int64) (string, error)
	OnSetNameCommand(ctx context.Context, chatID int64, name string) (string, error)
}

// handleTimeout bounds processing and reply for a single message.
const handleTimeout = 30 * time.Second

// rateWindow is the sliding window for per-chat rate limiting.
const rateWindow = time.Minute

// cleanupInterval controls how often stale rate-limit entries are
// evicted.
const cleanupInterval = 10 * time.Minute

// Poll error backoff bounds.
const (
	minBackoff = time.Second
	maxBackoff = time.Minute
)

// Config holds the dependencies for a Bridge.
type Config struct {
	Poller         Poller
	Sender         Sender
	Handler        Handler
	Logger         *slog.Logger
	PollTimeoutSec int
	RateLimit      int // per chat per minute; 0 = unlimited
}

// Stats counts bridge activity since start.
type Stats struct {
	Received    int64
	Replied     int64
	Failed      int64
	RateLimited int64
}

// Bridge is the inbound message loop.
type Bridge struct {
	poller      Poller
	sender      Sender
	handler     Handler
	logger      *slog.Logger
	pollTimeout int
	rateLimit   int

	offset int64

	mu          sync.Mutex
	chatTimes   map[int64][]time.Time
	lastCleanup time.Time

	received    atomic.Int64
	replied     atomic.Int64
	failed      atomic.Int64
	rateLimited atomic.Int64

	// sleep waits between failed polls; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) bool
}

// New creates a Bridge.
func New(cfg Config) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		poller:      cfg.Poller,
		sender:      cfg.Sender,
		handler:     cfg.Handler,
		logger:      logger,
		pollTimeout: cfg.PollTimeoutSec,
		rateLimit:   cfg.RateLimit,
		chatTimes:   make(map[int64][]time.Time),
		sleep:       sleepCtx,
	}
}

// Start polls for updates and handles them in arrival order until ctx
// is cancelled. It returns nil on cancellation and an error only when
// the bot token is rejected, since retrying cannot fix that.
func (b *Bridge) Start(ctx context.Context) error {
	b.logger.Info("telegram bridge started", "poll_timeout_sec", b.pollTimeout)

	backoff := minBackoff
	for {
		if ctx.Err() != nil {
			b.logger.Info("telegram bridge shutting down")
			return nil
		}

		updates, err := b.poller.GetUpdates(ctx, b.offset, b.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				b.logger.Info("telegram bridge shutting down")
				return nil
			}
			if telegram.IsUnauthorized(err) {
				return err
			}

			wait := backoff
			var ae *telegram.APIError
			if errors.As(err, &ae) && ae.RetryAfter > 0 {
				wait = time.Duration(ae.RetryAfter) * time.Second
			}
			if telegram.IsConflict(err) {
				b.logger.Warn("another process is polling with this bot token", "error", err)
			} else {
				b.logger.Warn("telegram poll failed", "error", err, "retry_in", wait)
			}
			if !b.sleep(ctx, wait) {
				return nil
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = minBackoff

		for _, u := range updates {
			if u.UpdateID >= b.offset {
				b.offset = u.UpdateID + 1
			}
			b.handleUpdate(ctx, u)
		}
	}
}

// Offset returns the next update id the bridge will ask for.
func (b *Bridge) Offset() int64 {
	return b.offset
}

// Stats returns activity counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Received:    b.received.Load(),
		Replied:     b.replied.Load(),
		Failed:      b.failed.Load(),
		RateLimited: b.rateLimited.Load(),
	}
}

func (b *Bridge) handleUpdate(ctx context.Context, u telegram.Update) {
	msg := u.Message
	if msg == nil {
		b.logger.Debug("telegram ignoring non-message update", "update_id", u.UpdateID)
		return
	}
	if msg.From != nil && msg.From.IsBot {
		return
	}
	chatID := msg.Chat.ID
	b.received.Add(1)

	if !b.allowChat(chatID) {
		b.rateLimited.Add(1)
		b.logger.Warn("telegram message rate-limited", "chat_id", chatID)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	kind, reply, err := b.route(ctx, msg)
	if kind == "" {
		b.logger.Debug("telegram ignoring unsupported message",
			"chat_id", chatID,
			"message_id", msg.MessageID,
		)
		return
	}

	b.logger.Info("telegram message received",
		"chat_id", chatID,
		"kind", kind,
		"message_len", len(msg.Text),
	)

	if err != nil {
		b.failed.Add(1)
		b.logger.Error("telegram message handling failed",
			"chat_id", chatID,
			"kind", kind,
			"error", err,
		)
		if !store.IsStorageError(err) {
			return
		}
		reply = persona.FailureMessage()
	}
	if reply == "" {
		return
	}

	if err := b.sender.Send(ctx, chatID, reply); err != nil {
		b.logger.Error("telegram reply send failed",
			"chat_id", chatID,
			"error", err,
		)
		return
	}
	b.replied.Add(1)
	b.logger.Debug("telegram reply sent", "chat_id", chatID, "reply_len", len(reply))
}

// route picks the handler for msg. kind is empty for messages the bot
// does not answer (stickers, unknown commands).
func (b *Bridge) route(ctx context.Context, msg *telegram.Message) (kind, reply string, err error) {
	chatID := msg.Chat.ID

	if msg.HasPhoto() {
		reply, err = b.handler.OnPhotoMessage(ctx, chatID)
		return "photo", reply, err
	}

	if name, args, ok := msg.Command(); ok {
		switch name {
		case "start":
			reply, err = b.handler.OnStartCommand(ctx, chatID)
			return "start", reply, err
		case "setname":
			reply, err = b.handler.OnSetNameCommand(ctx, chatID, args)
			return "setname", reply, err
		default:
			return "", "", nil
		}
	}

	if msg.Text == "" {
		return "", "", nil
	}
	reply, err = b.handler.OnTextMessage(ctx, chatID, msg.Text)
	return "text", reply, err
}

// allowChat checks whether the chat is within the per-minute rate
// limit. Returns true if the message should be processed.
func (b *Bridge) allowChat(chatID int64) bool {
	if b.rateLimit <= 0 {
		return true
	}

	now := time.Now()
	cutoff := now.Add(-rateWindow)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeCleanupLocked(now)

	times := b.chatTimes[chatID]
	valid := times[:0]
	for _, ts := range times {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}

	if len(valid) >= b.rateLimit {
		b.chatTimes[chatID] = valid
		return false
	}

	b.chatTimes[chatID] = append(valid, now)
	return true
}

// maybeCleanupLocked evicts chats idle for two windows. Must be called
// with b.mu held.
func (b *Bridge) maybeCleanupLocked(now time.Time) {
	if now.Sub(b.lastCleanup) < cleanupInterval {
		return
	}
	b.lastCleanup = now

	cutoff := now.Add(-2 * rateWindow)
	for chatID, times := range b.chatTimes {
		if len(times) == 0 || times[len(times)-1].Before(cutoff) {
			delete(b.chatTimes, chatID)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
