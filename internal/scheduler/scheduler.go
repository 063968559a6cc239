package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/sayang/internal/persona"
	"github.com/nugget/sayang/internal/store"
)

// Scheduler runs the periodic fan-out. It only reads conversations and
// never writes memory.
type Scheduler struct {
	logger *slog.Logger
	store  Lister
	sender Sender
	rng    Roller
	cfg    Config

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
	ticks    int
	lastTick *Report
}

// New creates a scheduler. A nil rng uses a fresh persona.RandPicker.
func New(logger *slog.Logger, lister Lister, sender Sender, rng Roller, cfg Config) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if rng == nil {
		rng = persona.NewRandPicker()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.InitialDelay < 0 {
		cfg.InitialDelay = 0
	}
	if cfg.Location == nil {
		cfg.Location = def.Location
	}
	return &Scheduler{
		logger: logger,
		store:  lister,
		sender: sender,
		rng:    rng,
		cfg:    cfg,
	}
}

// Plan decides what to send at now without sending anything. The
// local hour is computed once, and each conversation gets its own
// probability draw, so a chat can receive a greeting and a ping in the
// same tick.
func (s *Scheduler) Plan(ctx context.Context, now time.Time) ([]Outbound, error) {
	convs, err := s.store.ListConversations(ctx)
	if err != nil {
		return nil, err
	}
	return s.plan(convs, s.localHour(now)), nil
}

func (s *Scheduler) plan(convs []store.Conversation, hour int) []Outbound {
	var out []Outbound
	for _, c := range convs {
		name := c.YourName
		if name == "" {
			name = store.DefaultYourName
		}
		if hour == s.cfg.MorningHour {
			out = append(out, Outbound{ChatID: c.ChatID, Kind: KindMorning, Text: persona.MorningMessage(name)})
		}
		if hour == s.cfg.NightHour {
			out = append(out, Outbound{ChatID: c.ChatID, Kind: KindNight, Text: persona.NightMessage(name)})
		}
		if s.rng.Float64() < s.cfg.PingProbability {
			out = append(out, Outbound{ChatID: c.ChatID, Kind: KindPing, Text: persona.PingMessage()})
		}
	}
	return out
}

func (s *Scheduler) localHour(now time.Time) int {
	return now.In(s.cfg.Location).Hour()
}

// Tick plans and sends one round. A failed send is logged and counted
// and the remaining sends still go out; nothing is retried. Sends are
// not cancelled by ctx once the round has started.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (*Report, error) {
	report := &Report{
		ID:   NewID(),
		At:   now,
		Hour: s.localHour(now),
	}

	convs, err := s.store.ListConversations(ctx)
	if err != nil {
		s.logger.Error("scheduler tick failed to list conversations",
			"tick_id", report.ID,
			"error", err,
		)
		return nil, err
	}
	report.Conversations = len(convs)

	msgs := s.plan(convs, report.Hour)
	report.Planned = len(msgs)
	report.Messages = msgs

	sendCtx := context.WithoutCancel(ctx)
	for _, m := range msgs {
		if err := s.sender.Send(sendCtx, m.ChatID, m.Text); err != nil {
			report.Failed++
			s.logger.Warn("scheduled message send failed",
				"tick_id", report.ID,
				"chat_id", m.ChatID,
				"kind", m.Kind,
				"error", err,
			)
			continue
		}
		report.Sent++
	}

	s.mu.Lock()
	s.ticks++
	s.lastTick = report
	s.mu.Unlock()

	level := slog.LevelDebug
	if report.Planned > 0 {
		level = slog.LevelInfo
	}
	s.logger.Log(ctx, level, "scheduler tick complete",
		"tick_id", report.ID,
		"hour", report.Hour,
		"conversations", report.Conversations,
		"planned", report.Planned,
		"sent", report.Sent,
		"failed", report.Failed,
	)
	return report, nil
}

// Start launches the tick loop: one tick after InitialDelay, then one
// every Interval until ctx is cancelled or Stop is called. Calling
// Start on a running scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.logger.Info("scheduler started",
		"interval", s.cfg.Interval,
		"initial_delay", s.cfg.InitialDelay,
		"location", s.cfg.Location.String(),
	)

	s.wg.Add(1)
	go s.loop(ctx, stopCh)
}

func (s *Scheduler) loop(ctx context.Context, stopCh <-chan struct{}) {
	defer s.wg.Done()

	delay := time.NewTimer(s.cfg.InitialDelay)
	defer delay.Stop()

	select {
	case <-ctx.Done():
		return
	case <-stopCh:
		return
	case <-delay.C:
	}

	s.runTick(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.runTick(ctx)
		}
	}
}

func (s *Scheduler) runTick(ctx context.Context) {
	// Errors are already logged by Tick.
	_, _ = s.Tick(ctx, time.Now())
}

// Stop halts the loop and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Stats returns tick counters and the most recent report.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Ticks: s.ticks, LastTick: s.lastTick}
}
