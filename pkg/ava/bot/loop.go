package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// User-facing apologies for recovered failures.
const (
	apologyExhausted = "Sorry, I couldn't process your request."
	apologyError     = "Sorry, something went wrong while processing your request."
)

// Run drives the tool-calling conversation with the backend until it
// produces a final text, a reaction short-circuits the exchange, or the
// round ceiling is hit. All failures are recovered into an apology
// outcome; Run never returns an error to the caller.
func (b *Bot) Run(ctx context.Context, conversation []Message, state ConversationState, convoID string) Outcome {
	instructions := b.buildInstructions(state)

	turns := make([]ChatTurn, 0, len(conversation))
	for _, msg := range conversation {
		turns = append(turns, b.encodeTurn(msg))
	}

	var tools []ToolDefinition
	if state.Mode != ModeCatalog {
		tools = b.registry.Definitions()
	}

	var pendingMedia *MediaPick
	retried := false

	for round := 1; round <= b.cfg.MaxRounds; round++ {
		completion, err := b.complete(ctx, CompletionRequest{
			Instructions: instructions,
			Turns:        turns,
			Tools:        tools,
		}, &retried)
		if err != nil {
			b.logger.Error("backend round failed", "chat", convoID, "round", round, "error", err)
			return Outcome{Text: apologyError}
		}

		if len(completion.FunctionCalls) == 0 {
			return Outcome{Text: completion.Text, Media: pendingMedia}
		}

		turns = append(turns, ChatTurn{
			Role:      "assistant",
			Text:      completion.Text,
			ToolCalls: completion.FunctionCalls,
		})

		// Calls execute sequentially in backend order; later calls may
		// depend on state left by earlier ones.
		for _, call := range completion.FunctionCalls {
			result, err := b.registry.Execute(ctx, call, convoID)
			if err != nil {
				b.logger.Error("round terminated by tool failure",
					"chat", convoID, "round", round, "tool", call.Name, "error", err)
				return Outcome{Text: apologyError}
			}

			if call.Name == "send_reaction" {
				pick, folded, done := b.handleReaction(ctx, result, conversation)
				if done {
					return Outcome{Media: pick}
				}
				if pick != nil {
					pendingMedia = pick
				}
				turns = append(turns, ChatTurn{
					Role:       "tool",
					ToolCallID: call.ID,
					Name:       call.Name,
					Text:       folded,
				})
				continue
			}

			turns = append(turns, ChatTurn{
				Role:       "tool",
				ToolCallID: call.ID,
				Name:       call.Name,
				Text:       encodeResult(result),
			})
		}
	}

	b.logger.Warn("round ceiling reached", "chat", convoID, "rounds", b.cfg.MaxRounds)
	return Outcome{Text: apologyExhausted}
}

// complete performs one backend round-trip with a bounded timeout.
// A server-side failure earns exactly one automatic retry with media
// stripped from the conversation; retried tracks that budget across
// the whole run.
func (b *Bot) complete(ctx context.Context, req CompletionRequest, retried *bool) (*Completion, error) {
	callCtx, cancel := context.WithTimeout(ctx, b.cfg.CallTimeout)
	defer cancel()

	completion, err := b.backend.Complete(callCtx, req)
	if err == nil {
		return completion, nil
	}

	var aiErr *AIServiceError
	if !*retried && errors.As(err, &aiErr) && aiErr.Retryable() {
		*retried = true
		b.logger.Warn("backend server error, retrying without media", "error", err)
		req.Turns = stripMedia(req.Turns)
		retryCtx, cancelRetry := context.WithTimeout(ctx, b.cfg.CallTimeout)
		defer cancelRetry()
		return b.backend.Complete(retryCtx, req)
	}
	return nil, err
}

// handleReaction runs the sub-selector over the search result. It
// returns the chosen media (if any), the text to fold back into the
// conversation, and whether the selection ends the whole exchange.
func (b *Bot) handleReaction(ctx context.Context, result ToolResult, conversation []Message) (pick *MediaPick, folded string, done bool) {
	candidates, kind := reactionPayload(result)
	if len(candidates) == 0 {
		return nil, `{"has_reactions": false, "note": "no reaction available"}`, false
	}

	selection := b.SelectReaction(ctx, candidates, tail(conversation, 3))
	if selection.Index == nil {
		if !selection.ShouldReply {
			// Defensive: selector guarantees an index when not replying.
			return nil, "", false
		}
		return nil, `{"has_reactions": false, "note": "no candidate fit the moment"}`, false
	}

	chosen := candidates[*selection.Index]
	pick = &MediaPick{URL: chosen.MediaURL, Kind: kind}
	if !selection.ShouldReply {
		return pick, "", true
	}
	folded = fmt.Sprintf(`{"selected_reaction": %q, "note": "the reaction will be attached to your reply"}`, chosen.Description)
	return pick, folded, false
}

// buildInstructions concatenates the mode prompt, the current local
// date/time and the condensed history digest.
func (b *Bot) buildInstructions(state ConversationState) string {
	var sb strings.Builder
	sb.WriteString(basePrompt(state.Mode))
	sb.WriteString("\n\nCurrent date and time: ")
	sb.WriteString(b.now().Format("Monday, 02 Jan 2006 15:04 (MST)"))

	if len(state.Summaries) > 0 {
		digest := state.Summaries
		if len(digest) > b.cfg.HistoryDigestSize {
			digest = digest[len(digest)-b.cfg.HistoryDigestSize:]
		}
		sb.WriteString("\n\n#History:\n")
		sb.WriteString(strings.Join(digest, "\n"))
	}
	return sb.String()
}

// encodeTurn renders one canonical message as a user turn.
func (b *Bot) encodeTurn(msg Message) ChatTurn {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", msg.Timestamp.In(b.loc).Format("02 Jan 15:04"), msg.Sender)
	if msg.ReplyTo != nil {
		fmt.Fprintf(&sb, " (replying to: %s)", *msg.ReplyTo)
	}
	sb.WriteString(": ")
	sb.WriteString(msg.Text)
	return ChatTurn{Role: "user", Text: sb.String(), Media: msg.Media}
}

// reactionPayload decodes the search result's candidates and kind tag.
func reactionPayload(result ToolResult) ([]ReactionCandidate, string) {
	kind := ReactionGIF
	if k, ok := result.Payload["kind"].(string); ok && k != "" {
		kind = k
	}
	switch v := result.Payload["candidates"].(type) {
	case []ReactionCandidate:
		return v, kind
	case []any:
		var out []ReactionCandidate
		for i, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			c := ReactionCandidate{Index: i}
			if s, ok := m["description"].(string); ok {
				c.Description = s
			}
			if s, ok := m["media_url"].(string); ok {
				c.MediaURL = s
			}
			out = append(out, c)
		}
		return out, kind
	}
	return nil, kind
}

// encodeResult renders a tool result for the backend.
func encodeResult(result ToolResult) string {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf(`{"success": false, "error": %q}`, err.Error())
	}
	return string(data)
}

// tail returns the last n elements.
func tail(msgs []Message, n int) []Message {
	if len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}

// stripMedia drops binary attachments from the working conversation.
func stripMedia(turns []ChatTurn) []ChatTurn {
	out := make([]ChatTurn, len(turns))
	for i, turn := range turns {
		out[i] = turn
		out[i].Media = nil
	}
	return out
}
