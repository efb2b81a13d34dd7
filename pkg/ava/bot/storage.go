package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// storageTimeout bounds one detached persistence pass, including the
// summarization round-trip.
const storageTimeout = 2 * time.Minute

// StoreExchange persists the exchanged messages without blocking the
// reply path. It runs detached: failures are logged, never surfaced.
func (b *Bot) StoreExchange(chatID string, msgs []Message) {
	if len(msgs) == 0 {
		return
	}
	stored := make([]StoredMessage, 0, len(msgs))
	for _, msg := range msgs {
		stored = append(stored, b.toStored(msg))
	}

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				b.logger.Error("storage task panicked", "chat", chatID, "panic", rec)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
		defer cancel()

		count, err := b.store.AppendMessages(ctx, chatID, stored)
		if err != nil {
			b.logger.Error("storing messages failed", "chat", chatID, "error", err)
			return
		}
		if count >= b.cfg.SummaryThreshold {
			b.summarize(ctx, chatID)
		}
	}()
}

// toStored flattens a canonical message for persistence. Media-only
// turns are stored as an opaque numeric placeholder; the summarizer is
// told to read those as "a media message was sent".
func (b *Bot) toStored(msg Message) StoredMessage {
	text := msg.Text
	if text == "" && msg.Media != nil {
		text = fmt.Sprintf("%06d", b.randIndex(1000000))
	}
	return StoredMessage{Sender: msg.Sender, Text: text, Timestamp: msg.Timestamp}
}

// summarize condenses the accumulated window into one summary entry
// and resets the rolling message list.
func (b *Bot) summarize(ctx context.Context, chatID string) {
	msgs, err := b.store.Messages(ctx, chatID)
	if err != nil {
		b.logger.Error("loading messages for summary failed", "chat", chatID, "error", err)
		return
	}
	if len(msgs) == 0 {
		return
	}

	encoded, err := json.Marshal(msgs)
	if err != nil {
		b.logger.Error("encoding messages for summary failed", "chat", chatID, "error", err)
		return
	}

	completion, err := b.backend.Complete(ctx, CompletionRequest{
		Instructions: summaryPrompt,
		Turns:        []ChatTurn{{Role: "user", Text: string(encoded)}},
		Schema:       summarySchema,
	})
	if err != nil {
		b.logger.Error("summarization call failed", "chat", chatID, "error", err)
		return
	}

	var summary Summary
	if err := json.Unmarshal([]byte(strings.TrimSpace(completion.Text)), &summary); err != nil {
		b.logger.Error("unparsable summary, keeping message window",
			"chat", chatID, "error", err)
		return
	}

	if err := b.store.AppendSummary(ctx, chatID, summary); err != nil {
		b.logger.Error("storing summary failed", "chat", chatID, "error", err)
		return
	}
	if err := b.store.ResetMessages(ctx, chatID); err != nil {
		b.logger.Error("resetting message window failed", "chat", chatID, "error", err)
		return
	}
	b.logger.Info("conversation summarized", "chat", chatID, "messages", len(msgs))
}
