// Package store implements SQLite persistence for conversations,
// users, reminders and the expense ledger.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/shariffahes/ava-whatsbot/pkg/ava/bot"
)

// Config holds the store configuration.
type Config struct {
	Path string `yaml:"path"`
}

// Store wraps the SQLite database. It implements bot.Store and
// bot.ModeSwitcher, and carries the reminder and expense tables used
// by the scheduler and ledger services.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Reminder status lifecycle.
const (
	ReminderScheduled = "scheduled" // due soon, picked up by the minute sweep
	ReminderPending   = "pending"   // long-term, promoted by the daily sweep
	ReminderSent      = "sent"
	ReminderFailed    = "failed"
	ReminderCancelled = "cancelled"
)

// Reminder is one stored reminder row.
type Reminder struct {
	ID         string
	ChatID     string
	Message    string
	DueAt      time.Time
	Recurrence string
	Status     string
}

// Share is one participant's part of a stored expense.
type Share struct {
	Name   string  `json:"name"`
	Amount float64 `json:"amount"`
}

// Expense is one stored ledger row.
type Expense struct {
	ID          string
	ChatID      string
	Description string
	PayerName   string
	Amount      float64
	Shares      []Share
	Settled     bool
	CreatedAt   time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	mode       TEXT NOT NULL DEFAULT 'buddy',
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS messages (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	convo_id TEXT NOT NULL,
	sender   TEXT NOT NULL,
	body     TEXT NOT NULL,
	sent_at  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_convo ON messages(convo_id);
CREATE TABLE IF NOT EXISTS summaries (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	convo_id   TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_summaries_convo ON summaries(convo_id);
CREATE TABLE IF NOT EXISTS users (
	phone TEXT PRIMARY KEY,
	name  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS reminders (
	id         TEXT PRIMARY KEY,
	chat_id    TEXT NOT NULL,
	message    TEXT NOT NULL,
	due_at     DATETIME NOT NULL,
	recurrence TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'scheduled',
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_reminders_status ON reminders(status, due_at);
CREATE TABLE IF NOT EXISTS expenses (
	id          TEXT PRIMARY KEY,
	chat_id     TEXT NOT NULL,
	description TEXT NOT NULL,
	payer       TEXT NOT NULL,
	amount      REAL NOT NULL,
	shares      TEXT NOT NULL,
	settled     INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_expenses_chat ON expenses(chat_id, settled);
`

// Open opens or creates the store and applies the schema.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Path == "" {
		cfg.Path = "./data/ava.db"
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON", cfg.Path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", cfg.Path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, logger: logger.With("component", "store")}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// ---------- Conversations ----------

// Conversation returns the per-chat state, creating the row on first
// contact. Summaries come back newest-last as JSON strings.
func (s *Store) Conversation(ctx context.Context, id string) (bot.ConversationState, error) {
	state := bot.ConversationState{Mode: bot.ModeBuddy}

	var mode string
	err := s.db.QueryRowContext(ctx, `SELECT mode FROM conversations WHERE id = ?`, id).Scan(&mode)
	switch {
	case err == sql.ErrNoRows:
		if _, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO conversations (id) VALUES (?)`, id); err != nil {
			return state, fmt.Errorf("creating conversation: %w", err)
		}
	case err != nil:
		return state, fmt.Errorf("loading conversation: %w", err)
	default:
		state.Mode = mode
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT content FROM summaries WHERE convo_id = ? ORDER BY id ASC`, id)
	if err != nil {
		return state, fmt.Errorf("loading summaries: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return state, fmt.Errorf("scanning summary: %w", err)
		}
		state.Summaries = append(state.Summaries, content)
	}
	return state, rows.Err()
}

// SetMode flips the conversation's operating mode.
func (s *Store) SetMode(ctx context.Context, id, mode string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, mode) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET mode = excluded.mode`, id, mode)
	if err != nil {
		return fmt.Errorf("setting mode: %w", err)
	}
	return nil
}

// Messages returns the rolling message window, oldest first.
func (s *Store) Messages(ctx context.Context, id string) ([]bot.StoredMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sender, body, sent_at FROM messages WHERE convo_id = ? ORDER BY id ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}
	defer rows.Close()

	var msgs []bot.StoredMessage
	for rows.Next() {
		var msg bot.StoredMessage
		if err := rows.Scan(&msg.Sender, &msg.Text, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// AppendMessages stores new turns and returns the window size after
// the append.
func (s *Store) AppendMessages(ctx context.Context, id string, msgs []bot.StoredMessage) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting append: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO conversations (id) VALUES (?)`, id); err != nil {
		return 0, fmt.Errorf("ensuring conversation: %w", err)
	}
	for _, msg := range msgs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (convo_id, sender, body, sent_at) VALUES (?, ?, ?, ?)`,
			id, msg.Sender, msg.Text, msg.Timestamp); err != nil {
			return 0, fmt.Errorf("inserting message: %w", err)
		}
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE convo_id = ?`, id).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing append: %w", err)
	}
	return count, nil
}

// AppendSummary stores one condensed history entry as JSON.
func (s *Store) AppendSummary(ctx context.Context, id string, summary bot.Summary) error {
	content, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encoding summary: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO summaries (convo_id, content) VALUES (?, ?)`, id, string(content)); err != nil {
		return fmt.Errorf("inserting summary: %w", err)
	}
	return nil
}

// ResetMessages clears the rolling window after summarization.
func (s *Store) ResetMessages(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE convo_id = ?`, id); err != nil {
		return fmt.Errorf("resetting messages: %w", err)
	}
	return nil
}

// ---------- Users ----------

// UserName resolves a phone number to a stored display name.
func (s *Store) UserName(ctx context.Context, phone string) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT name FROM users WHERE phone = ?`, phone).Scan(&name)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("looking up user: %w", err)
	}
	return name, nil
}

// UpsertUser records a participant's display name.
func (s *Store) UpsertUser(ctx context.Context, phone, name string) error {
	if phone == "" || name == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (phone, name) VALUES (?, ?)
		ON CONFLICT(phone) DO UPDATE SET name = excluded.name`, phone, name)
	if err != nil {
		return fmt.Errorf("upserting user: %w", err)
	}
	return nil
}

// ---------- Reminders ----------

// CreateReminder inserts a new reminder row.
func (s *Store) CreateReminder(ctx context.Context, r Reminder) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reminders (id, chat_id, message, due_at, recurrence, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.ChatID, r.Message, r.DueAt.UTC(), r.Recurrence, r.Status)
	if err != nil {
		return fmt.Errorf("creating reminder: %w", err)
	}
	return nil
}

// ActiveReminders lists the scheduled and pending reminders of a chat.
func (s *Store) ActiveReminders(ctx context.Context, chatID string) ([]Reminder, error) {
	return s.queryReminders(ctx, `
		SELECT id, chat_id, message, due_at, recurrence, status FROM reminders
		WHERE chat_id = ? AND status IN (?, ?) ORDER BY due_at ASC`,
		chatID, ReminderScheduled, ReminderPending)
}

// DueReminders lists scheduled reminders whose time has come.
func (s *Store) DueReminders(ctx context.Context, now time.Time) ([]Reminder, error) {
	return s.queryReminders(ctx, `
		SELECT id, chat_id, message, due_at, recurrence, status FROM reminders
		WHERE status = ? AND due_at <= ? ORDER BY due_at ASC`,
		ReminderScheduled, now.UTC())
}

// PendingDueWithin lists long-term reminders entering the near-term
// horizon.
func (s *Store) PendingDueWithin(ctx context.Context, now time.Time, days int) ([]Reminder, error) {
	return s.queryReminders(ctx, `
		SELECT id, chat_id, message, due_at, recurrence, status FROM reminders
		WHERE status = ? AND due_at <= ? ORDER BY due_at ASC`,
		ReminderPending, now.UTC().AddDate(0, 0, days))
}

// SetReminderStatus moves a reminder through its lifecycle.
func (s *Store) SetReminderStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE reminders SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, id)
	if err != nil {
		return fmt.Errorf("updating reminder status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("reminder %q not found", id)
	}
	return nil
}

// RescheduleReminder points a recurring reminder at its next
// occurrence with regenerated text.
func (s *Store) RescheduleReminder(ctx context.Context, id string, due time.Time, message string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE reminders SET due_at = ?, message = ?, status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, due.UTC(), message, ReminderScheduled, id)
	if err != nil {
		return fmt.Errorf("rescheduling reminder: %w", err)
	}
	return nil
}

func (s *Store) queryReminders(ctx context.Context, query string, args ...any) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying reminders: %w", err)
	}
	defer rows.Close()

	var reminders []Reminder
	for rows.Next() {
		var r Reminder
		if err := rows.Scan(&r.ID, &r.ChatID, &r.Message, &r.DueAt, &r.Recurrence, &r.Status); err != nil {
			return nil, fmt.Errorf("scanning reminder: %w", err)
		}
		reminders = append(reminders, r)
	}
	return reminders, rows.Err()
}

// ---------- Expenses ----------

// AddExpense inserts one ledger row.
func (s *Store) AddExpense(ctx context.Context, e Expense) error {
	shares, err := json.Marshal(e.Shares)
	if err != nil {
		return fmt.Errorf("encoding shares: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO expenses (id, chat_id, description, payer, amount, shares, settled)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ChatID, e.Description, e.PayerName, e.Amount, string(shares), e.Settled)
	if err != nil {
		return fmt.Errorf("inserting expense: %w", err)
	}
	return nil
}

// ExpensesByChat lists a chat's expenses, newest first. limit <= 0
// means no limit; includeSettled widens the query beyond outstanding
// rows.
func (s *Store) ExpensesByChat(ctx context.Context, chatID string, includeSettled bool, limit int) ([]Expense, error) {
	query := `
		SELECT id, chat_id, description, payer, amount, shares, settled, created_at
		FROM expenses WHERE chat_id = ?`
	args := []any{chatID}
	if !includeSettled {
		query += ` AND settled = 0`
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying expenses: %w", err)
	}
	defer rows.Close()

	var expenses []Expense
	for rows.Next() {
		var e Expense
		var shares string
		if err := rows.Scan(&e.ID, &e.ChatID, &e.Description, &e.PayerName,
			&e.Amount, &shares, &e.Settled, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning expense: %w", err)
		}
		if err := json.Unmarshal([]byte(shares), &e.Shares); err != nil {
			return nil, fmt.Errorf("decoding shares for %s: %w", e.ID, err)
		}
		expenses = append(expenses, e)
	}
	return expenses, rows.Err()
}

// MarkExpenseSettled settles one row.
func (s *Store) MarkExpenseSettled(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE expenses SET settled = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("settling expense: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("expense %q not found", id)
	}
	return nil
}
