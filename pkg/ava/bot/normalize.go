package bot

import (
	"context"
	"regexp"
	"strings"
)

// mentionPattern matches transport address tokens ("@96170123456")
// which carry no meaning for the backend.
var mentionPattern = regexp.MustCompile(`@\d+`)

// senderBot is the sentinel sender for turns the transport could not
// attribute to a participant; the assistant's own prior replies arrive
// this way.
const senderBot = "BOT"

// unknownUser is the display name for participants with no stored profile.
const unknownUser = "Unknown User"

// mediaOmitted replaces an attachment whose payload could not be fetched.
const mediaOmitted = "<media omitted>"

// mediaTypes lists the declared types whose payload the normalizer
// fetches. Everything else passes through text-only.
var mediaTypes = map[string]bool{
	TypeImage:   true,
	TypeSticker: true,
	TypeVideo:   true,
}

// Normalize converts one transport record into the canonical form.
// It returns nil (no error) when the record carries nothing usable.
// Media download failures degrade the turn to text-only rather than
// failing it; a missing chat identifier is a ParsingError.
func (b *Bot) Normalize(ctx context.Context, raw *RawMessage, convoID string, skipMedia, isDirect bool) (*Message, error) {
	if raw.ChatID == "" {
		return nil, &ParsingError{Reason: "record has no chat identifier"}
	}

	text := cleanMentions(raw.Body)

	senderPhone := raw.SenderID
	if raw.FromMe && isDirect {
		senderPhone = chatPhone(raw.ChatID)
	}
	if senderPhone == "" {
		if text == "" {
			return nil, nil
		}
		return &Message{Sender: senderBot, Text: text, Timestamp: raw.Timestamp.In(b.loc)}, nil
	}

	sender := b.resolveSender(ctx, senderPhone, raw.SenderName)

	msg := &Message{
		Sender:    sender,
		Text:      text,
		Timestamp: raw.Timestamp.In(b.loc),
	}

	if !skipMedia && mediaTypes[raw.Type] && raw.Media != nil {
		mime, data, err := b.transport.DownloadMedia(ctx, raw)
		if err != nil {
			b.logger.Warn("media download failed, keeping text only",
				"chat", convoID, "type", raw.Type, "error", err)
			if msg.Text == "" {
				msg.Text = mediaOmitted
			}
		} else {
			msg.Media = &Media{MimeType: mime, Data: data}
		}
	}

	if raw.Quoted != nil && !mediaTypes[raw.Quoted.Type] && raw.Quoted.Body != "" {
		quoted := cleanMentions(raw.Quoted.Body)
		msg.ReplyTo = &quoted
	}

	if msg.Text == "" && msg.Media == nil {
		return nil, nil
	}
	return msg, nil
}

// resolveSender maps a phone to a display name: stored profile first,
// then the transport push name, then a fixed fallback.
func (b *Bot) resolveSender(ctx context.Context, phone, pushName string) string {
	if name, err := b.store.UserName(ctx, phone); err == nil && name != "" {
		return name
	}
	if pushName != "" {
		return pushName
	}
	return unknownUser
}

// cleanMentions strips address tokens and squeezes the leftover spacing.
func cleanMentions(s string) string {
	s = mentionPattern.ReplaceAllString(s, "")
	return strings.TrimSpace(strings.Join(strings.Fields(s), " "))
}

// chatPhone extracts the phone digits from a chat JID ("961701234@s.whatsapp.net").
func chatPhone(chatID string) string {
	if i := strings.IndexByte(chatID, '@'); i >= 0 {
		return chatID[:i]
	}
	return chatID
}
