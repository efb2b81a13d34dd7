package bot

import (
	"context"
)

// Handle is the single entry point for inbound transport events. It
// classifies, normalizes, kicks off detached storage and, when the
// assistant is engaged, runs the orchestration and delivers the reply.
// All failure classes collapse into the fixed status vocabulary.
func (b *Bot) Handle(ctx context.Context, raw *RawMessage, eventType string) Status {
	if raw == nil {
		return StatusNoMessageData
	}

	log := b.logger.With("chat", raw.ChatID, "event", eventType)

	switch eventType {
	case EventMessage, EventMessageCreate:
	default:
		log.Debug("ignoring unsupported event type")
		return StatusNoMessageData
	}

	if err := validateInbound(raw); err != nil {
		log.Info("message dropped", "reason", err)
		return StatusValidationFailed
	}
	if raw.ChatID == "" {
		log.Warn("record has no chat identifier")
		return StatusParsingFailed
	}

	state, err := b.store.Conversation(ctx, raw.ChatID)
	if err != nil {
		log.Warn("conversation lookup failed, assuming defaults", "error", err)
		state = ConversationState{}
	}
	if state.Mode == "" {
		state.Mode = ModeBuddy
	}

	decision := b.Classify(raw.Body, state.Mode)
	log.Info("message classified",
		"engage", decision.Engage, "kind", decision.Kind, "depth", decision.HistoryDepth)

	window := b.fetchWindow(ctx, raw, decision.HistoryDepth)
	conversation, err := b.normalizeWindow(ctx, window, raw.ChatID, raw.IsDirect)
	if err != nil {
		if IsParsing(err) {
			log.Error("normalization failed", "error", err)
			return StatusParsingFailed
		}
		log.Error("unexpected failure preparing conversation", "error", err)
		return StatusError
	}
	if len(conversation) == 0 {
		log.Debug("nothing usable in the window")
		return StatusNoMessageData
	}

	// Persistence races with the reply but never delays it.
	b.StoreExchange(raw.ChatID, conversation[len(conversation)-1:])

	if !decision.Engage {
		return StatusProcessed
	}

	if err := b.Deliver(ctx, raw.ChatID, func(ctx context.Context) Outcome {
		return b.Run(ctx, conversation, state, raw.ChatID)
	}); err != nil {
		// Delivery failures are logged inside the dispatcher; the
		// exchange itself completed.
		return StatusProcessed
	}
	return StatusProcessed
}

// validateInbound rejects records dropped by design: broadcast-channel
// traffic and the assistant's own group echoes. Self-authored messages
// in a direct chat pass through so the account owner can talk to the
// assistant from their own device.
func validateInbound(raw *RawMessage) error {
	if raw.Broadcast {
		return &ValidationError{Reason: "broadcast channel"}
	}
	if raw.FromMe && !raw.IsDirect {
		return &ValidationError{Reason: "self-authored echo"}
	}
	return nil
}

// fetchWindow pulls the recent history for an engaged exchange. On any
// fetch problem it degrades to the triggering message alone.
func (b *Bot) fetchWindow(ctx context.Context, raw *RawMessage, depth int) []RawMessage {
	if depth <= 1 {
		return []RawMessage{*raw}
	}
	recent, err := b.transport.FetchRecent(ctx, raw.ChatID, depth)
	if err != nil || len(recent) == 0 {
		if err != nil {
			b.logger.Warn("history fetch failed, using trigger message only",
				"chat", raw.ChatID, "error", err)
		}
		return []RawMessage{*raw}
	}
	return recent
}

// normalizeWindow converts the raw window oldest-first, downloading
// media only for the newest few messages. A parsing failure on the
// triggering (last) message is fatal; earlier records are skipped.
func (b *Bot) normalizeWindow(ctx context.Context, window []RawMessage, chatID string, isDirect bool) ([]Message, error) {
	conversation := make([]Message, 0, len(window))
	for i := range window {
		skipMedia := i < len(window)-b.cfg.MediaSkipThreshold
		msg, err := b.Normalize(ctx, &window[i], chatID, skipMedia, isDirect)
		if err != nil {
			if i == len(window)-1 {
				return nil, err
			}
			b.logger.Debug("skipping unparsable history record", "chat", chatID, "error", err)
			continue
		}
		if msg != nil {
			conversation = append(conversation, *msg)
		}
	}
	return conversation, nil
}
