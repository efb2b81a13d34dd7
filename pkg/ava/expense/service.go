package expense

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shariffahes/ava-whatsbot/pkg/ava/bot"
	"github.com/shariffahes/ava-whatsbot/pkg/ava/store"
)

// Ledger is the group expense service backed by the store. It
// implements bot.ExpenseService.
type Ledger struct {
	store  *store.Store
	logger *slog.Logger
}

// NewLedger builds the expense service.
func NewLedger(st *store.Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: st, logger: logger.With("component", "expenses")}
}

// Add records an expense split equally between the participants. An
// empty participant list means the payer carried it alone.
func (l *Ledger) Add(ctx context.Context, chatID, payer, description string, amount float64, participants []string) (*bot.ExpenseEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("amount must be positive, got %.2f", amount)
	}
	if len(participants) == 0 {
		participants = []string{payer}
	}

	splits := SplitEqually(amount, len(participants))
	shares := make([]store.Share, len(participants))
	for i, name := range participants {
		shares[i] = store.Share{Name: name, Amount: splits[i]}
	}

	record := store.Expense{
		ID:          uuid.NewString(),
		ChatID:      chatID,
		Description: description,
		PayerName:   payer,
		Amount:      amount,
		Shares:      shares,
	}
	if err := l.store.AddExpense(ctx, record); err != nil {
		return nil, err
	}
	l.logger.Info("expense recorded",
		"chat", chatID, "payer", payer, "amount", amount, "participants", len(participants))

	return &bot.ExpenseEntry{
		ID:           record.ID,
		Description:  description,
		PaidBy:       payer,
		Amount:       amount,
		Participants: participants,
	}, nil
}

// Settlement computes the minimal payment plan over the outstanding
// expenses.
func (l *Ledger) Settlement(ctx context.Context, chatID string) ([]bot.Transfer, error) {
	expenses, err := l.outstanding(ctx, chatID)
	if err != nil {
		return nil, err
	}
	transfers := MinimizeTransfers(NetBalances(expenses))

	out := make([]bot.Transfer, len(transfers))
	for i, t := range transfers {
		out[i] = bot.Transfer{From: t.From, To: t.To, Amount: t.Amount}
	}
	return out, nil
}

// Balance reports one member's standing over the outstanding expenses.
func (l *Ledger) Balance(ctx context.Context, chatID, name string) (*bot.BalanceInfo, error) {
	expenses, err := l.outstanding(ctx, chatID)
	if err != nil {
		return nil, err
	}

	info := &bot.BalanceInfo{Name: name}
	for _, e := range expenses {
		if e.PayerName == name {
			info.Paid += e.Total
		}
		for _, share := range e.Shares {
			if share.Name == name {
				info.Owes += share.Amount
			}
		}
	}
	info.Net = round2(info.Paid - info.Owes)
	info.Paid = round2(info.Paid)
	info.Owes = round2(info.Owes)
	return info, nil
}

// History lists the most recent expenses, settled included.
func (l *Ledger) History(ctx context.Context, chatID string, limit int) ([]bot.ExpenseEntry, error) {
	rows, err := l.store.ExpensesByChat(ctx, chatID, true, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]bot.ExpenseEntry, len(rows))
	for i, row := range rows {
		participants := make([]string, len(row.Shares))
		for j, share := range row.Shares {
			participants[j] = share.Name
		}
		entries[i] = bot.ExpenseEntry{
			ID:           row.ID,
			Description:  row.Description,
			PaidBy:       row.PayerName,
			Amount:       row.Amount,
			Participants: participants,
			Date:         row.CreatedAt,
			Settled:      row.Settled,
		}
	}
	return entries, nil
}

// Settle marks expenses settled: the given ids, or everything
// outstanding when none are named.
func (l *Ledger) Settle(ctx context.Context, chatID string, expenseIDs []string) (int, error) {
	if len(expenseIDs) == 0 {
		rows, err := l.store.ExpensesByChat(ctx, chatID, false, 0)
		if err != nil {
			return 0, err
		}
		for _, row := range rows {
			expenseIDs = append(expenseIDs, row.ID)
		}
	}

	settled := 0
	for _, id := range expenseIDs {
		if err := l.store.MarkExpenseSettled(ctx, id); err != nil {
			return settled, err
		}
		settled++
	}
	return settled, nil
}

// outstanding loads the unsettled rows in arithmetic form.
func (l *Ledger) outstanding(ctx context.Context, chatID string) ([]Expense, error) {
	rows, err := l.store.ExpensesByChat(ctx, chatID, false, 0)
	if err != nil {
		return nil, err
	}
	expenses := make([]Expense, len(rows))
	for i, row := range rows {
		shares := make([]Share, len(row.Shares))
		for j, share := range row.Shares {
			shares[j] = Share{Name: share.Name, Amount: share.Amount}
		}
		expenses[i] = Expense{
			ID:          row.ID,
			Description: row.Description,
			PayerName:   row.PayerName,
			Total:       row.Amount,
			Shares:      shares,
			Settled:     row.Settled,
		}
	}
	return expenses, nil
}
