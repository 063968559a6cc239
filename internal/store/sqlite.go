package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is the default [Store], backed by a single SQLite file.
// The table layout matches databases created by earlier releases, so an
// existing file can be opened in place.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath. The schema
// is created automatically on first use.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("open database: empty path")
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memory (
		chat_id   INTEGER PRIMARY KEY,
		your_name TEXT,
		her_name  TEXT,
		mood      TEXT
	);

	CREATE TABLE IF NOT EXISTS reminders (
		id      INTEGER PRIMARY KEY AUTOINCREMENT,
		chat_id INTEGER,
		keyword TEXT,
		message TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_reminders_chat ON reminders(chat_id, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// GetMemory implements [Store].
func (s *SQLiteStore) GetMemory(ctx context.Context, chatID int64) (*Memory, error) {
	var yourName, herName, mood sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT your_name, her_name, mood FROM memory WHERE chat_id = ?`,
		chatID,
	).Scan(&yourName, &herName, &mood)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get memory", chatID, err)
	}
	return &Memory{
		ChatID:   chatID,
		YourName: yourName.String,
		HerName:  herName.String,
		Mood:     mood.String,
	}, nil
}

// UpsertMemory implements [Store]. NULLIF turns unsupplied fields into
// NULL so COALESCE keeps whatever is already stored.
func (s *SQLiteStore) UpsertMemory(ctx context.Context, chatID int64, upd MemoryUpdate) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory (chat_id, your_name, her_name, mood)
		 VALUES (?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''))
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
func (s *SQLiteStore) AddReminder(ctx context.Context, chatID int64, keyword, message string) (*Reminder, error) {
	keyword = strings.ToLower(keyword)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders (chat_id, keyword, message) VALUES (?, ?, ?)`,
		chatID, keyword, message,
	)
	if err != nil {
		return nil, storageErr("add reminder", chatID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, storageErr("add reminder", chatID, err)
	}
	return &Reminder{ID: id, ChatID: chatID, Keyword: keyword, Message: message}, nil
}

// FindReminderReply implements [Store].
func (s *SQLiteStore) FindReminderReply(ctx context.Context, chatID int64, text string) (string, bool, error) {
	var message sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT message FROM reminders
		 WHERE chat_id = ? AND keyword IS NOT NULL AND instr(?, keyword) > 0
		 ORDER BY id LIMIT 1`,
		chatID, strings.ToLower(text),
	).Scan(&message)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, storageErr("find reminder", chatID, err)
	}
	return message.String, true, nil
}

// ListConversations implements [Store].
func (s *SQLiteStore) ListConversations(ctx context.Context) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, your_name FROM memory ORDER BY chat_id`,
	)
	if err != nil {
		return nil, storageErr("list conversations", 0, err)
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		var yourName sql.NullString
		if err := rows.Scan(&c.ChatID, &yourName); err != nil {
			return nil, storageErr("list conversations", 0, err)
		}
		c.YourName = yourName.String
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list conversations", 0, err)
	}
	return convs, nil
}

// ListReminders implements [Store].
func (s *SQLiteStore) ListReminders(ctx context.Context, chatID int64) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, keyword, message FROM reminders WHERE chat_id = ? ORDER BY id`,
		chatID,
	)
	if err != nil {
		return nil, storageErr("list reminders", chatID, err)
	}
	defer rows.Close()

	var out []Reminder
	for rows.Next() {
		var r Reminder
		var keyword, message sql.NullString
		if err := rows.Scan(&r.ID, &r.ChatID, &keyword, &message); err != nil {
			return nil, storageErr("list reminders", chatID, err)
		}
		r.Keyword = keyword.String
		r.Message = message.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list reminders", chatID, err)
	}
	return out, nil
}

// Stats implements [Store].
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM memory), (SELECT COUNT(*) FROM reminders)`,
	).Scan(&st.Conversations, &st.Reminders)
	if err != nil {
		return Stats{}, storageErr("stats", 0, err)
	}
	return st, nil
}
