package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Selection is the sub-selector's verdict over reaction candidates.
// Index is nil when no candidate was chosen (reply-only).
type Selection struct {
	ShouldReply bool
	Index       *int
}

// reactionChoice is the backend's structured output shape.
type reactionChoice struct {
	Index      *float64 `json:"index"`
	GifContent string   `json:"gif_content"`
	Reply      bool     `json:"reply"`
}

// SelectReaction asks the backend to pick among candidates given the
// recent conversation tail. A failed or unparsable call degrades to a
// uniformly random candidate with no accompanying reply; reacting
// without commentary is the accepted worst case.
func (b *Bot) SelectReaction(ctx context.Context, candidates []ReactionCandidate, recent []Message) Selection {
	if len(candidates) == 0 {
		return Selection{ShouldReply: true}
	}

	var sb strings.Builder
	sb.WriteString(reactionPrompt)
	sb.WriteString("\n\nAvailable reactions:\n")
	for _, c := range candidates {
		fmt.Fprintf(&sb, "%d: %s\n", c.Index, c.Description)
	}

	turns := make([]ChatTurn, 0, len(recent))
	for _, msg := range recent {
		turns = append(turns, b.encodeTurn(msg))
	}

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.CallTimeout)
	defer cancel()

	completion, err := b.backend.Complete(callCtx, CompletionRequest{
		Instructions: sb.String(),
		Turns:        turns,
		Schema:       reactionSchema,
	})
	if err != nil {
		b.logger.Warn("reaction selection failed, falling back to random", "error", err)
		return b.randomSelection(len(candidates))
	}

	var choice reactionChoice
	if err := json.Unmarshal([]byte(strings.TrimSpace(completion.Text)), &choice); err != nil {
		b.logger.Warn("unparsable reaction selection, falling back to random",
			"error", err, "raw", truncate(completion.Text, 120))
		return b.randomSelection(len(candidates))
	}

	if choice.Index == nil {
		return Selection{ShouldReply: true}
	}
	idx := int(*choice.Index)
	if idx < 0 || idx >= len(candidates) {
		if choice.Reply {
			return Selection{ShouldReply: true}
		}
		return b.randomSelection(len(candidates))
	}
	return Selection{ShouldReply: choice.Reply, Index: &idx}
}

// randomSelection is the degraded mode: a uniform candidate, no reply.
func (b *Bot) randomSelection(n int) Selection {
	idx := b.randIndex(n)
	return Selection{ShouldReply: false, Index: &idx}
}
