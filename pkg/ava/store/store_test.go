package store

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shariffahes/ava-whatsbot/pkg/ava/bot"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")}, logger)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConversations(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	t.Run("first contact creates the row with defaults", func(t *testing.T) {
		state, err := s.Conversation(ctx, "group@g.us")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if state.Mode != bot.ModeBuddy {
			t.Errorf("expected buddy mode, got %q", state.Mode)
		}
		if len(state.Summaries) != 0 {
			t.Errorf("expected empty state, got %+v", state)
		}
	})

	t.Run("mode switch persists", func(t *testing.T) {
		if err := s.SetMode(ctx, "group@g.us", bot.ModeCatalog); err != nil {
			t.Fatalf("setting mode: %v", err)
		}
		state, _ := s.Conversation(ctx, "group@g.us")
		if state.Mode != bot.ModeCatalog {
			t.Errorf("expected catalog mode, got %q", state.Mode)
		}
	})

	t.Run("messages accumulate and reset", func(t *testing.T) {
		now := time.Now().UTC().Truncate(time.Second)
		count, err := s.AppendMessages(ctx, "group@g.us", []bot.StoredMessage{
			{Sender: "Rami", Text: "hello", Timestamp: now},
			{Sender: "Lina", Text: "hey!", Timestamp: now.Add(time.Second)},
		})
		if err != nil {
			t.Fatalf("appending: %v", err)
		}
		if count != 2 {
			t.Errorf("expected window size 2, got %d", count)
		}

		msgs, err := s.Messages(ctx, "group@g.us")
		if err != nil {
			t.Fatalf("loading: %v", err)
		}
		if len(msgs) != 2 || msgs[0].Sender != "Rami" || msgs[1].Text != "hey!" {
			t.Errorf("unexpected messages %+v", msgs)
		}

		if err := s.ResetMessages(ctx, "group@g.us"); err != nil {
			t.Fatalf("resetting: %v", err)
		}
		msgs, err = s.Messages(ctx, "group@g.us")
		if err != nil {
			t.Fatalf("loading after reset: %v", err)
		}
		if len(msgs) != 0 {
			t.Errorf("expected an empty window after reset, got %+v", msgs)
		}
	})

	t.Run("summaries come back oldest first", func(t *testing.T) {
		for _, content := range []string{"first", "second"} {
			if err := s.AppendSummary(ctx, "group@g.us", bot.Summary{Content: content}); err != nil {
				t.Fatalf("appending summary: %v", err)
			}
		}
		state, _ := s.Conversation(ctx, "group@g.us")
		if len(state.Summaries) != 2 {
			t.Fatalf("expected 2 summaries, got %d", len(state.Summaries))
		}
		// Stored as JSON; ordering is what matters here.
		if state.Summaries[0] == state.Summaries[1] {
			t.Error("expected distinct summaries")
		}
	})
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	t.Run("unknown phone resolves to empty", func(t *testing.T) {
		name, err := s.UserName(ctx, "000")
		if err != nil || name != "" {
			t.Errorf("expected empty name, got %q (err %v)", name, err)
		}
	})

	t.Run("upsert and update", func(t *testing.T) {
		if err := s.UpsertUser(ctx, "96170111222", "Rami"); err != nil {
			t.Fatalf("upserting: %v", err)
		}
		if err := s.UpsertUser(ctx, "96170111222", "Rami K."); err != nil {
			t.Fatalf("updating: %v", err)
		}
		name, _ := s.UserName(ctx, "96170111222")
		if name != "Rami K." {
			t.Errorf("expected the updated name, got %q", name)
		}
	})

	t.Run("blank values are ignored", func(t *testing.T) {
		if err := s.UpsertUser(ctx, "", "Nobody"); err != nil {
			t.Errorf("blank phone must be a no-op, got %v", err)
		}
	})
}

func TestReminders(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Now().UTC()

	seed := []Reminder{
		{ID: "r1", ChatID: "group@g.us", Message: "call mom", DueAt: now.Add(-time.Minute), Status: ReminderScheduled},
		{ID: "r2", ChatID: "group@g.us", Message: "gym", DueAt: now.Add(time.Hour), Status: ReminderScheduled, Recurrence: "daily"},
		{ID: "r3", ChatID: "group@g.us", Message: "renew passport", DueAt: now.AddDate(0, 1, 0), Status: ReminderPending},
		{ID: "r4", ChatID: "other@g.us", Message: "unrelated", DueAt: now.Add(time.Hour), Status: ReminderScheduled},
	}
	for _, r := range seed {
		if err := s.CreateReminder(ctx, r); err != nil {
			t.Fatalf("seeding %s: %v", r.ID, err)
		}
	}

	t.Run("active reminders are chat scoped", func(t *testing.T) {
		active, err := s.ActiveReminders(ctx, "group@g.us")
		if err != nil {
			t.Fatalf("listing: %v", err)
		}
		if len(active) != 3 {
			t.Errorf("expected 3 active reminders, got %d", len(active))
		}
	})

	t.Run("due sweep picks only elapsed scheduled rows", func(t *testing.T) {
		due, err := s.DueReminders(ctx, now)
		if err != nil {
			t.Fatalf("querying due: %v", err)
		}
		if len(due) != 1 || due[0].ID != "r1" {
			t.Errorf("expected only r1 due, got %+v", due)
		}
	})

	t.Run("promotion horizon filters pending rows", func(t *testing.T) {
		within, err := s.PendingDueWithin(ctx, now, 7)
		if err != nil {
			t.Fatalf("querying pending: %v", err)
		}
		if len(within) != 0 {
			t.Errorf("r3 is a month out, expected none, got %+v", within)
		}
		within, _ = s.PendingDueWithin(ctx, now, 40)
		if len(within) != 1 || within[0].ID != "r3" {
			t.Errorf("expected r3 inside a 40-day horizon, got %+v", within)
		}
	})

	t.Run("status transitions", func(t *testing.T) {
		if err := s.SetReminderStatus(ctx, "r1", ReminderSent); err != nil {
			t.Fatalf("marking sent: %v", err)
		}
		if due, _ := s.DueReminders(ctx, now); len(due) != 0 {
			t.Errorf("sent reminders must leave the due set, got %+v", due)
		}
		if err := s.SetReminderStatus(ctx, "ghost", ReminderSent); err == nil {
			t.Error("expected an error for an unknown reminder")
		}
	})

	t.Run("reschedule updates due time and text", func(t *testing.T) {
		next := now.Add(24 * time.Hour)
		if err := s.RescheduleReminder(ctx, "r2", next, "gym, day 2"); err != nil {
			t.Fatalf("rescheduling: %v", err)
		}
		active, _ := s.ActiveReminders(ctx, "group@g.us")
		for _, r := range active {
			if r.ID == "r2" {
				if r.Message != "gym, day 2" {
					t.Errorf("expected the regenerated text, got %q", r.Message)
				}
				return
			}
		}
		t.Error("r2 missing from the active set")
	})
}

func TestExpenses(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	expense := Expense{
		ID: "e1", ChatID: "group@g.us", Description: "dinner", PayerName: "Rami",
		Amount: 90,
		Shares: []Share{{Name: "Rami", Amount: 30}, {Name: "Lina", Amount: 30}, {Name: "Omar", Amount: 30}},
	}
	if err := s.AddExpense(ctx, expense); err != nil {
		t.Fatalf("adding expense: %v", err)
	}
	if err := s.AddExpense(ctx, Expense{
		ID: "e2", ChatID: "group@g.us", Description: "taxi", PayerName: "Lina",
		Amount: 20, Shares: []Share{{Name: "Rami", Amount: 10}, {Name: "Lina", Amount: 10}},
	}); err != nil {
		t.Fatalf("adding second expense: %v", err)
	}

	t.Run("shares round-trip through JSON", func(t *testing.T) {
		rows, err := s.ExpensesByChat(ctx, "group@g.us", true, 0)
		if err != nil {
			t.Fatalf("listing: %v", err)
		}
		if len(rows) != 2 {
			t.Fatalf("expected 2 expenses, got %d", len(rows))
		}
		for _, row := range rows {
			if row.ID == "e1" && (len(row.Shares) != 3 || row.Shares[1].Name != "Lina") {
				t.Errorf("shares corrupted: %+v", row.Shares)
			}
		}
	})

	t.Run("settled rows leave the outstanding set", func(t *testing.T) {
		if err := s.MarkExpenseSettled(ctx, "e1"); err != nil {
			t.Fatalf("settling: %v", err)
		}
		outstanding, _ := s.ExpensesByChat(ctx, "group@g.us", false, 0)
		if len(outstanding) != 1 || outstanding[0].ID != "e2" {
			t.Errorf("expected only e2 outstanding, got %+v", outstanding)
		}
		all, _ := s.ExpensesByChat(ctx, "group@g.us", true, 0)
		if len(all) != 2 {
			t.Errorf("history must keep settled rows, got %d", len(all))
		}
	})

	t.Run("settling an unknown row fails", func(t *testing.T) {
		if err := s.MarkExpenseSettled(ctx, "ghost"); err == nil {
			t.Error("expected an error for an unknown expense")
		}
	})
}
