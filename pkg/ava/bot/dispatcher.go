package bot

import (
	"context"
)

// Deliver executes run under the typing indicator and ships its
// outcome. The typing release is deferred, so it fires exactly once on
// every exit path: success, recovered failure, or panic.
func (b *Bot) Deliver(ctx context.Context, convoID string, run func(context.Context) Outcome) error {
	if err := b.transport.SetPresence(ctx, true); err != nil {
		b.logger.Warn("presence update failed", "chat", convoID, "error", err)
	}
	if err := b.transport.SetTyping(ctx, convoID, true); err != nil {
		b.logger.Warn("typing indicator failed", "chat", convoID, "error", err)
	}
	defer func() {
		if err := b.transport.SetTyping(ctx, convoID, false); err != nil {
			b.logger.Warn("typing release failed", "chat", convoID, "error", err)
		}
		if err := b.transport.SetPresence(ctx, false); err != nil {
			b.logger.Warn("presence release failed", "chat", convoID, "error", err)
		}
	}()

	return b.send(ctx, convoID, run(ctx))
}

// send ships text first, then media. Transport failures are logged and
// dropped: the channel itself is the failure point, so there is no
// fallback that could reach the user.
func (b *Bot) send(ctx context.Context, convoID string, out Outcome) error {
	if out.Text == "" && out.Media == nil {
		b.logger.Debug("nothing to deliver", "chat", convoID)
		return nil
	}

	if out.Text != "" {
		if err := b.transport.Send(ctx, convoID, out.Text); err != nil {
			terr := &TransportError{Op: "send", Err: err}
			b.logger.Error("text delivery failed", "chat", convoID, "error", terr)
			return terr
		}
	}

	if out.Media != nil {
		if err := b.transport.SendMedia(ctx, convoID, out.Media.URL, out.Media.Kind); err != nil {
			terr := &TransportError{Op: "send_media", Err: err}
			b.logger.Error("media delivery failed", "chat", convoID, "kind", out.Media.Kind, "error", terr)
			return terr
		}
	}

	b.logger.Info("reply delivered",
		"chat", convoID,
		"has_text", out.Text != "",
		"has_media", out.Media != nil)
	return nil
}
