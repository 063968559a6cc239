package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a [Store] backed by a PostgreSQL connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn, verifies the connection, and
// creates the schema if needed.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("open postgres: empty dsn")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MaxConns = 4

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS memory (
		chat_id   BIGINT PRIMARY KEY,
		your_name TEXT,
		her_name  TEXT,
		mood      TEXT
	);

	CREATE TABLE IF NOT EXISTS reminders (
		id      BIGSERIAL PRIMARY KEY,
		chat_id BIGINT,
		keyword TEXT,
		message TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_reminders_chat ON reminders(chat_id, id);
	`)
	return err
}

// GetMemory implements [Store].
func (s *PostgresStore) GetMemory(ctx context.Context, chatID int64) (*Memory, error) {
	var yourName, herName, mood *string
	err := s.pool.QueryRow(ctx,
		`SELECT your_name, her_name, mood FROM memory WHERE chat_id = $1`,
		chatID,
	).Scan(&yourName, &herName, &mood)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get memory", chatID, err)
	}
	return &Memory{
		ChatID:   chatID,
		YourName: deref(yourName),
		HerName:  deref(herName),
		Mood:     deref(mood),
	}, nil
}

// UpsertMemory implements [Store].
func (s *PostgresStore) UpsertMemory(ctx context.Context, chatID int64, upd MemoryUpdate) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO memory (chat_id, your_name, her_name, mood)
		 VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''))
		 ON CONFLICT (chat_id) DO UPDATE SET
		   your_name = COALESCE(excluded.your_name, memory.your_name),
		   her_name  = COALESCE(excluded.her_name, memory.her_name),
		   mood      = COALESCE(excluded.mood, memory.mood)`,
		chatID, upd.YourName, upd.HerName, upd.Mood,
	)
	if err != nil {
		return storageErr("upsert memory", chatID, err)
	}
	return nil
}

// AddReminder implements [Store].
func (s *PostgresStore) AddReminder(ctx context.Context, chatID int64, keyword, message string) (*Reminder, error) {
	keyword = strings.ToLower(keyword)
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO reminders (chat_id, keyword, message) VALUES ($1, $2, $3) RETURNING id`,
		chatID, keyword, message,
	).Scan(&id)
	if err != nil {
		return nil, storageErr("add reminder", chatID, err)
	}
	return &Reminder{ID: id, ChatID: chatID, Keyword: keyword, Message: message}, nil
}

// FindReminderReply implements [Store].
func (s *PostgresStore) FindReminderReply(ctx context.Context, chatID int64, text string) (string, bool, error) {
	var message *string
	err := s.pool.QueryRow(ctx,
		`SELECT message FROM reminders
		 WHERE chat_id = $1 AND keyword IS NOT NULL AND strpos($2, keyword) > 0
		 ORDER BY id LIMIT 1`,
		chatID, strings.ToLower(text),
	).Scan(&message)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storageErr("find reminder", chatID, err)
	}
	return deref(message), true, nil
}

// ListConversations implements [Store].
func (s *PostgresStore) ListConversations(ctx context.Context) ([]Conversation, error) {
	rows, err := s.pool.Query(ctx, `SELECT chat_id, your_name FROM memory ORDER BY chat_id`)
	if err != nil {
		return nil, storageErr("list conversations", 0, err)
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		var yourName *string
		if err := rows.Scan(&c.ChatID, &yourName); err != nil {
			return nil, storageErr("list conversations", 0, err)
		}
		c.YourName = deref(yourName)
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list conversations", 0, err)
	}
	return convs, nil
}

// ListReminders implements [Store].
func (s *PostgresStore) ListReminders(ctx context.Context, chatID int64) ([]Reminder, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, chat_id, keyword, message FROM reminders WHERE chat_id = $1 ORDER BY id`,
		chatID,
	)
	if err != nil {
		return nil, storageErr("list reminders", chatID, err)
	}
	defer rows.Close()

	var out []Reminder
	for rows.Next() {
		var r Reminder
		var keyword, message *string
		if err := rows.Scan(&r.ID, &r.ChatID, &keyword, &message); err != nil {
			return nil, storageErr("list reminders", chatID, err)
		}
		r.Keyword = deref(keyword)
		r.Message = deref(message)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list reminders", chatID, err)
	}
	return out, nil
}

// Stats implements [Store].
func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.pool.QueryRow(ctx,
		`SELECT (SELECT COUNT(*) FROM memory), (SELECT COUNT(*) FROM reminders)`,
	).Scan(&st.Conversations, &st.Reminders)
	if err != nil {
		return Stats{}, storageErr("stats", 0, err)
	}
	return st, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
