// Package scheduler delivers due reminders and promotes long-term ones
// into the near-term queue.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/shariffahes/ava-whatsbot/pkg/ava/bot"
	"github.com/shariffahes/ava-whatsbot/pkg/ava/store"
)

// reminderPrefix marks scheduler-originated messages in the chat.
const reminderPrefix = "🔔 "

// Sender is the delivery surface the scheduler needs from the transport.
type Sender interface {
	Send(ctx context.Context, chatID, text string) error
}

// Config holds the scheduler tunables.
type Config struct {
	// RoutingDays is the boundary between near-term reminders
	// (scheduled, swept every minute) and long-term ones (pending,
	// promoted daily).
	RoutingDays int `yaml:"routing_days"`
	// PromoteHorizonDays is how far ahead the daily sweep looks when
	// promoting pending reminders.
	PromoteHorizonDays int `yaml:"promote_horizon_days"`
	// SweepTimeout bounds one sweep pass.
	SweepTimeout time.Duration `yaml:"sweep_timeout"`
}

// DefaultConfig returns the scheduler defaults.
func DefaultConfig() Config {
	return Config{
		RoutingDays:        14,
		PromoteHorizonDays: 7,
		SweepTimeout:       time.Minute,
	}
}

// Scheduler owns the reminder lifecycle. It implements
// bot.ReminderService for the tool handlers and runs the cron sweeps.
type Scheduler struct {
	cfg     Config
	store   *store.Store
	sender  Sender
	backend bot.Backend
	cron    *cron.Cron
	logger  *slog.Logger
}

// New builds the scheduler. Start must be called to begin sweeping.
func New(cfg Config, st *store.Store, sender Sender, backend bot.Backend, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RoutingDays <= 0 {
		cfg.RoutingDays = 14
	}
	if cfg.PromoteHorizonDays <= 0 {
		cfg.PromoteHorizonDays = 7
	}
	if cfg.SweepTimeout <= 0 {
		cfg.SweepTimeout = time.Minute
	}
	return &Scheduler{
		cfg:     cfg,
		store:   st,
		sender:  sender,
		backend: backend,
		cron:    cron.New(),
		logger:  logger.With("component", "scheduler"),
	}
}

// Start registers the sweeps: due delivery every minute, long-term
// promotion daily at 06:00.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc("* * * * *", s.sweepDue); err != nil {
		return fmt.Errorf("registering due sweep: %w", err)
	}
	if _, err := s.cron.AddFunc("0 6 * * *", s.promotePending); err != nil {
		return fmt.Errorf("registering promotion sweep: %w", err)
	}
	s.cron.Start()
	s.logger.Info("scheduler started",
		"routing_days", s.cfg.RoutingDays, "promote_horizon_days", s.cfg.PromoteHorizonDays)
	return nil
}

// Stop halts the sweeps and waits for a running one to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}

// Schedule stores a new reminder, routing it by due distance: within
// RoutingDays it goes straight to the near-term queue, otherwise it is
// parked long-term until the daily sweep promotes it.
func (s *Scheduler) Schedule(ctx context.Context, chatID, message string, due time.Time, recurrence string) (string, bool, error) {
	if chatID == "" {
		return "", false, fmt.Errorf("reminder has no chat")
	}
	if !due.After(time.Now()) {
		return "", false, fmt.Errorf("reminder time %s is in the past", due.Format(time.RFC3339))
	}
	switch recurrence {
	case "", "daily", "weekly", "monthly", "yearly":
	default:
		return "", false, fmt.Errorf("unsupported recurrence %q", recurrence)
	}

	longTerm := due.After(time.Now().AddDate(0, 0, s.cfg.RoutingDays))
	status := store.ReminderScheduled
	if longTerm {
		status = store.ReminderPending
	}

	reminder := store.Reminder{
		ID:         uuid.NewString(),
		ChatID:     chatID,
		Message:    message,
		DueAt:      due,
		Recurrence: recurrence,
		Status:     status,
	}
	if err := s.store.CreateReminder(ctx, reminder); err != nil {
		return "", false, err
	}
	s.logger.Info("reminder scheduled",
		"id", reminder.ID, "chat", chatID, "due", due, "status", status, "recurrence", recurrence)
	return reminder.ID, longTerm, nil
}

// Active lists a chat's scheduled and pending reminders.
func (s *Scheduler) Active(ctx context.Context, chatID string) ([]bot.ReminderInfo, error) {
	rows, err := s.store.ActiveReminders(ctx, chatID)
	if err != nil {
		return nil, err
	}
	infos := make([]bot.ReminderInfo, len(rows))
	for i, r := range rows {
		infos[i] = bot.ReminderInfo{
			ID:         r.ID,
			Message:    r.Message,
			DueAt:      r.DueAt,
			Recurrence: r.Recurrence,
			Status:     r.Status,
		}
	}
	return infos, nil
}

// Cancel marks a reminder cancelled.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	return s.store.SetReminderStatus(ctx, id, store.ReminderCancelled)
}

// sweepDue delivers every reminder whose time has come. One-time
// reminders end in sent/failed; recurring ones are rescheduled with
// regenerated text.
func (s *Scheduler) sweepDue() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SweepTimeout)
	defer cancel()

	due, err := s.store.DueReminders(ctx, time.Now())
	if err != nil {
		s.logger.Error("due sweep query failed", "error", err)
		return
	}

	for _, reminder := range due {
		if err := s.sender.Send(ctx, reminder.ChatID, reminderPrefix+reminder.Message); err != nil {
			s.logger.Error("reminder delivery failed",
				"id", reminder.ID, "chat", reminder.ChatID, "error", err)
			if err := s.store.SetReminderStatus(ctx, reminder.ID, store.ReminderFailed); err != nil {
				s.logger.Error("marking reminder failed", "id", reminder.ID, "error", err)
			}
			continue
		}

		if reminder.Recurrence == "" {
			if err := s.store.SetReminderStatus(ctx, reminder.ID, store.ReminderSent); err != nil {
				s.logger.Error("marking reminder sent", "id", reminder.ID, "error", err)
			}
			continue
		}
		s.reschedule(ctx, reminder)
	}
}

// reschedule points a recurring reminder at its next occurrence. Text
// regeneration failures fall back to repeating the last message.
func (s *Scheduler) reschedule(ctx context.Context, reminder store.Reminder) {
	next := nextOccurrence(reminder.DueAt, reminder.Recurrence)

	message, err := bot.RegenerateReminderMessage(ctx, s.backend, reminder.Message)
	if err != nil {
		s.logger.Warn("reminder regeneration failed, reusing last message",
			"id", reminder.ID, "error", err)
		message = reminder.Message
	}

	if err := s.store.RescheduleReminder(ctx, reminder.ID, next, message); err != nil {
		s.logger.Error("rescheduling reminder failed", "id", reminder.ID, "error", err)
		return
	}
	s.logger.Info("recurring reminder rescheduled",
		"id", reminder.ID, "next", next, "recurrence", reminder.Recurrence)
}

// promotePending moves long-term reminders entering the horizon into
// the near-term queue.
func (s *Scheduler) promotePending() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SweepTimeout)
	defer cancel()

	pending, err := s.store.PendingDueWithin(ctx, time.Now(), s.cfg.PromoteHorizonDays)
	if err != nil {
		s.logger.Error("promotion sweep query failed", "error", err)
		return
	}
	for _, reminder := range pending {
		if err := s.store.SetReminderStatus(ctx, reminder.ID, store.ReminderScheduled); err != nil {
			s.logger.Error("promoting reminder failed", "id", reminder.ID, "error", err)
			continue
		}
		s.logger.Info("reminder promoted to near-term queue", "id", reminder.ID, "due", reminder.DueAt)
	}
}

// nextOccurrence advances a due time by one recurrence period.
func nextOccurrence(due time.Time, recurrence string) time.Time {
	switch recurrence {
	case "daily":
		return due.AddDate(0, 0, 1)
	case "weekly":
		return due.AddDate(0, 0, 7)
	case "monthly":
		return due.AddDate(0, 1, 0)
	case "yearly":
		return due.AddDate(1, 0, 0)
	}
	return due
}
