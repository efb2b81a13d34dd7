package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ReactionSearcher finds reaction media candidates for a query.
type ReactionSearcher interface {
	Search(ctx context.Context, query, kind string) ([]ReactionCandidate, error)
}

// ReminderInfo is one reminder as reported back to the model.
type ReminderInfo struct {
	ID         string    `json:"id"`
	Message    string    `json:"message"`
	DueAt      time.Time `json:"due_at"`
	Recurrence string    `json:"recurrence,omitempty"`
	Status     string    `json:"status"`
}

// ReminderService schedules and manages reminders. Schedule reports
// whether the reminder went to long-term storage instead of the
// near-term queue.
type ReminderService interface {
	Schedule(ctx context.Context, chatID, message string, due time.Time, recurrence string) (id string, longTerm bool, err error)
	Active(ctx context.Context, chatID string) ([]ReminderInfo, error)
	Cancel(ctx context.Context, id string) error
}

// Transfer is one settlement payment between two members.
type Transfer struct {
	From   string  `json:"from"`
	To     string  `json:"to"`
	Amount float64 `json:"amount"`
}

// ExpenseEntry is one recorded group expense.
type ExpenseEntry struct {
	ID           string    `json:"id"`
	Description  string    `json:"description"`
	PaidBy       string    `json:"paid_by"`
	Amount       float64   `json:"amount"`
	Participants []string  `json:"participants"`
	Date         time.Time `json:"date"`
	Settled      bool      `json:"settled"`
}

// BalanceInfo is one member's standing in the group ledger.
type BalanceInfo struct {
	Name string  `json:"name"`
	Paid float64 `json:"paid"`
	Owes float64 `json:"owes"`
	Net  float64 `json:"net"`
}

// ExpenseService is the group expense ledger.
type ExpenseService interface {
	Add(ctx context.Context, chatID, payer, description string, amount float64, participants []string) (*ExpenseEntry, error)
	Settlement(ctx context.Context, chatID string) ([]Transfer, error)
	Balance(ctx context.Context, chatID, name string) (*BalanceInfo, error)
	History(ctx context.Context, chatID string, limit int) ([]ExpenseEntry, error)
	Settle(ctx context.Context, chatID string, expenseIDs []string) (int, error)
}

// ModeSwitcher flips a conversation's operating mode.
type ModeSwitcher interface {
	SetMode(ctx context.Context, chatID, mode string) error
}

// reminderTimeLayouts are the formats the model is known to produce.
var reminderTimeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	time.RFC3339,
}

// RegisterBuiltinTools wires the full tool set over the given services.
// Call once during startup, before the first Handle.
func (b *Bot) RegisterBuiltinTools(search ReactionSearcher, reminders ReminderService, expenses ExpenseService, modes ModeSwitcher) {
	b.registry.Register(ToolDefinition{
		Name:        "send_reaction",
		Description: "Search for a reaction GIF or sticker matching an emotion or moment. Returns candidate descriptions to choose from.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "Short search phrase describing the emotion or moment, e.g. \"excited dance\"."},
				"reaction_type": {"type": "string", "enum": ["GIF", "STICKER"], "description": "Media kind to search for. Defaults to GIF."}
			},
			"required": ["query"]
		}`),
	}, func(ctx context.Context, args map[string]any) (ToolResult, error) {
		query := argString(args, "query")
		kind := ReactionGIF
		if strings.EqualFold(argString(args, "reaction_type"), "STICKER") {
			kind = ReactionSticker
		}
		candidates, err := search.Search(ctx, query, kind)
		if err != nil {
			b.logger.Error("reaction search failed", "query", query, "error", err)
			candidates = nil
		}
		return ToolResult{Success: true, Payload: map[string]any{
			"candidates":    candidates,
			"kind":          kind,
			"has_reactions": len(candidates) > 0,
		}}, nil
	})

	b.registry.Register(ToolDefinition{
		Name:        "search_google",
		Description: "Look up current information on the web and answer the query from the results.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "The search query to resolve."}
			},
			"required": ["query"]
		}`),
	}, func(ctx context.Context, args map[string]any) (ToolResult, error) {
		query := argString(args, "query")
		if query == "" {
			return ToolResult{Err: "missing required argument: query"}, nil
		}
		resp, err := b.backend.Complete(ctx, CompletionRequest{
			Instructions: "Fulfill the user query using the retrieval tools available to you.",
			Turns:        []ChatTurn{{Role: "user", Text: query}},
			UseSearch:    true,
		})
		if err != nil {
			return ToolResult{}, err
		}
		return ToolResult{Success: true, Payload: map[string]any{"result": resp.Text}}, nil
	})

	b.registry.Register(ToolDefinition{
		Name:        "schedule_reminder",
		Description: "Schedule a one-time or recurring reminder for the group. scheduled_time is local time, ISO format.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"message": {"type": "string", "description": "The reminder text to deliver."},
				"scheduled_time": {"type": "string", "description": "Local datetime, e.g. \"2026-09-02T15:30:00\"."},
				"recurrence_pattern": {"type": "string", "enum": ["daily", "weekly", "monthly", "yearly"], "description": "Optional recurrence."}
			},
			"required": ["message", "scheduled_time"]
		}`),
	}, func(ctx context.Context, args map[string]any) (ToolResult, error) {
		message := argString(args, "message")
		when := argString(args, "scheduled_time")
		if message == "" || when == "" {
			return ToolResult{Err: "message and scheduled_time are required"}, nil
		}
		due, err := b.parseLocalTime(when)
		if err != nil {
			return ToolResult{Err: fmt.Sprintf("could not parse scheduled_time %q", when)}, nil
		}
		recurrence := argString(args, "recurrence_pattern")
		id, longTerm, err := reminders.Schedule(ctx, argString(args, "chat_id"), message, due, recurrence)
		if err != nil {
			return ToolResult{}, err
		}
		delivery := "queued"
		if longTerm {
			delivery = "long_term"
		}
		return ToolResult{Success: true, Payload: map[string]any{
			"reminder_id":    id,
			"scheduled_time": due.In(b.loc).Format("2006-01-02 15:04"),
			"recurrence":     recurrence,
			"delivery":       delivery,
		}}, nil
	})

	b.registry.Register(ToolDefinition{
		Name:        "get_scheduled_reminders",
		Description: "List the active reminders of this conversation, including their ids.",
		Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
	}, func(ctx context.Context, args map[string]any) (ToolResult, error) {
		active, err := reminders.Active(ctx, argString(args, "chat_id"))
		if err != nil {
			return ToolResult{}, err
		}
		return ToolResult{Success: true, Payload: map[string]any{"reminders": active}}, nil
	})

	b.registry.Register(ToolDefinition{
		Name:        "cancel_reminder",
		Description: "Cancel a scheduled reminder by its id.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"reminder_id": {"type": "string", "description": "The id of the reminder to cancel."}
			},
			"required": ["reminder_id"]
		}`),
	}, func(ctx context.Context, args map[string]any) (ToolResult, error) {
		id := argString(args, "reminder_id")
		if id == "" {
			return ToolResult{Err: "missing required argument: reminder_id"}, nil
		}
		if err := reminders.Cancel(ctx, id); err != nil {
			return ToolResult{}, err
		}
		return ToolResult{Success: true, Payload: map[string]any{"cancelled": id}}, nil
	})

	b.registry.Register(ToolDefinition{
		Name:        "add_expense",
		Description: "Record a group expense paid by one member, split between participants.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"amount": {"type": "number", "description": "Total amount paid."},
				"payer_name": {"type": "string", "description": "Name of the member who paid."},
				"desc": {"type": "string", "description": "What the expense was for."},
				"participants": {"type": "array", "items": {"type": "string"}, "description": "Members sharing the expense. Defaults to the payer only."}
			},
			"required": ["amount", "payer_name"]
		}`),
	}, func(ctx context.Context, args map[string]any) (ToolResult, error) {
		amount, ok := argFloat(args, "amount")
		payer := argString(args, "payer_name")
		if !ok || payer == "" {
			return ToolResult{Err: "amount and payer_name are required"}, nil
		}
		desc := argString(args, "desc")
		if desc == "" {
			desc = "Expense"
		}
		entry, err := expenses.Add(ctx, argString(args, "chat_id"), payer, desc, amount, argStrings(args, "participants"))
		if err != nil {
			return ToolResult{}, err
		}
		return ToolResult{Success: true, Payload: map[string]any{"expense": entry}}, nil
	})

	b.registry.Register(ToolDefinition{
		Name:        "calculate_expense_settlement",
		Description: "Calculate the minimal set of payments that settles all outstanding group expenses.",
		Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
	}, func(ctx context.Context, args map[string]any) (ToolResult, error) {
		transfers, err := expenses.Settlement(ctx, argString(args, "chat_id"))
		if err != nil {
			return ToolResult{}, err
		}
		return ToolResult{Success: true, Payload: map[string]any{"payments": transfers}}, nil
	})

	b.registry.Register(ToolDefinition{
		Name:        "get_expense_balance",
		Description: "Get one member's standing in the group ledger: what they paid, owe and their net.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"user_name": {"type": "string", "description": "The member to look up."}
			},
			"required": ["user_name"]
		}`),
	}, func(ctx context.Context, args map[string]any) (ToolResult, error) {
		name := argString(args, "user_name")
		if name == "" {
			return ToolResult{Err: "missing required argument: user_name"}, nil
		}
		balance, err := expenses.Balance(ctx, argString(args, "chat_id"), name)
		if err != nil {
			return ToolResult{}, err
		}
		return ToolResult{Success: true, Payload: map[string]any{"balance": balance}}, nil
	})

	b.registry.Register(ToolDefinition{
		Name:        "get_expense_history",
		Description: "List the most recent group expenses.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"limit": {"type": "number", "description": "How many expenses to return. Defaults to 5."}
			}
		}`),
	}, func(ctx context.Context, args map[string]any) (ToolResult, error) {
		history, err := expenses.History(ctx, argString(args, "chat_id"), argInt(args, "limit", 5))
		if err != nil {
			return ToolResult{}, err
		}
		return ToolResult{Success: true, Payload: map[string]any{"expenses": history}}, nil
	})

	b.registry.Register(ToolDefinition{
		Name:        "settle_payments",
		Description: "Mark outstanding expenses as settled, optionally restricted to specific expense ids.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"expense_ids": {"type": "array", "items": {"type": "string"}, "description": "Expense ids to settle. Omit to settle everything outstanding."}
			}
		}`),
	}, func(ctx context.Context, args map[string]any) (ToolResult, error) {
		settled, err := expenses.Settle(ctx, argString(args, "chat_id"), argStrings(args, "expense_ids"))
		if err != nil {
			return ToolResult{}, err
		}
		return ToolResult{Success: true, Payload: map[string]any{"settled_count": settled}}, nil
	})

	b.registry.Register(ToolDefinition{
		Name:        "switch_conversation_mode",
		Description: "Switch this conversation's operating mode.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"mode": {"type": "string", "enum": ["buddy", "catalog"], "description": "The mode to switch to."}
			},
			"required": ["mode"]
		}`),
	}, func(ctx context.Context, args map[string]any) (ToolResult, error) {
		mode := argString(args, "mode")
		if mode != ModeBuddy && mode != ModeCatalog {
			return ToolResult{Err: fmt.Sprintf("unsupported mode %q", mode)}, nil
		}
		if err := modes.SetMode(ctx, argString(args, "chat_id"), mode); err != nil {
			return ToolResult{}, err
		}
		return ToolResult{Success: true, Payload: map[string]any{"mode": mode}}, nil
	})
}

// parseLocalTime interprets a model-supplied datetime in the service
// locale, accepting the handful of formats the model produces.
func (b *Bot) parseLocalTime(s string) (time.Time, error) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "Z")
	for _, layout := range reminderTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, b.loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized datetime %q", s)
}
