package whatsapp

import (
	"context"
	"strings"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/shariffahes/ava-whatsbot/pkg/ava/bot"
)

// handleEvent is the whatsmeow event sink.
func (w *WhatsApp) handleEvent(evt any) {
	switch e := evt.(type) {
	case *events.Message:
		w.handleMessageEvt(e)

	case *events.Connected:
		w.connected.Store(true)
		w.reconnectAttempts.Store(0)
		w.logger.Info("connection established", "jid", w.clientJID())

	case *events.Disconnected:
		w.connected.Store(false)
		w.logger.Warn("connection lost")
		if w.ctx != nil && w.ctx.Err() == nil && !w.client.EnableAutoReconnect {
			go w.attemptReconnect()
		}

	case *events.LoggedOut:
		w.connected.Store(false)
		w.logger.Error("logged out from WhatsApp, re-pairing required", "reason", e.Reason)

	case *events.StreamReplaced:
		w.connected.Store(false)
		w.logger.Error("stream replaced by another session")

	case *events.PairSuccess:
		w.logger.Info("device paired", "jid", e.ID.String())
	}
}

// handleMessageEvt converts an inbound message event to a raw record,
// tracks it in the recent window and hands it to the engine.
func (w *WhatsApp) handleMessageEvt(evt *events.Message) {
	if w.handler == nil {
		return
	}
	waMsg := evt.Message
	if waMsg == nil {
		return
	}

	msgType, body, media := extractContent(waMsg)
	if msgType == "" {
		// Protocol messages, receipts, polls and other types the
		// engine has no use for.
		return
	}

	eventType := bot.EventMessage
	if evt.Info.IsFromMe {
		eventType = bot.EventMessageCreate
	}

	raw := bot.RawMessage{
		ID:         evt.Info.ID,
		ChatID:     evt.Info.Chat.String(),
		SenderID:   w.resolveSenderPhone(evt.Info.Sender),
		SenderName: evt.Info.PushName,
		FromMe:     evt.Info.IsFromMe,
		IsDirect:   !evt.Info.IsGroup,
		Broadcast:  isBroadcast(evt.Info.Chat),
		Type:       msgType,
		Body:       body,
		Timestamp:  evt.Info.Timestamp,
		Quoted:     extractQuoted(waMsg),
		Media:      media,
	}

	w.recordRecent(raw)
	w.recordUser(raw)

	go func() {
		ctx, cancel := context.WithTimeout(w.ctx, 5*time.Minute)
		defer cancel()
		status := w.handler(ctx, &raw, eventType)
		w.logger.Debug("message handled",
			"chat", raw.ChatID, "type", raw.Type, "event", eventType, "status", status)
	}()
}

// resolveSenderPhone maps the sender JID to phone digits, resolving
// LID-addressed senders through the session store first.
func (w *WhatsApp) resolveSenderPhone(sender types.JID) string {
	if sender.IsEmpty() {
		return ""
	}
	if sender.Server == types.HiddenUserServer {
		if alt, err := w.client.Store.GetAltJID(w.ctx, sender); err == nil && !alt.IsEmpty() {
			sender = alt
		}
	}
	return sender.User
}

// recordUser persists the sender's push name for display resolution.
func (w *WhatsApp) recordUser(raw bot.RawMessage) {
	if w.users == nil || raw.SenderID == "" || raw.SenderName == "" || raw.FromMe {
		return
	}
	ctx, cancel := context.WithTimeout(w.ctx, 10*time.Second)
	defer cancel()
	if err := w.users.UpsertUser(ctx, raw.SenderID, raw.SenderName); err != nil {
		w.logger.Warn("recording user name failed", "phone", raw.SenderID, "error", err)
	}
}

// isBroadcast reports whether the chat is a broadcast or newsletter
// surface rather than a user or group conversation.
func isBroadcast(chat types.JID) bool {
	return chat.Server == types.BroadcastServer || chat.Server == types.NewsletterServer
}

// extractContent pulls the message type, visible text and media
// reference out of the proto. Unsupported payloads return an empty type.
func extractContent(waMsg *waE2E.Message) (msgType, body string, media *bot.MediaRef) {
	switch {
	case waMsg.Conversation != nil:
		return bot.TypeText, waMsg.GetConversation(), nil

	case waMsg.ExtendedTextMessage != nil:
		return bot.TypeText, waMsg.ExtendedTextMessage.GetText(), nil

	case waMsg.ImageMessage != nil:
		m := waMsg.ImageMessage
		return bot.TypeImage, m.GetCaption(), mediaRef(
			m.GetMimetype(), m.GetURL(), m.GetDirectPath(),
			m.GetMediaKey(), m.GetFileSHA256(), m.GetFileEncSHA256(), m.GetFileLength())

	case waMsg.VideoMessage != nil:
		m := waMsg.VideoMessage
		return bot.TypeVideo, m.GetCaption(), mediaRef(
			m.GetMimetype(), m.GetURL(), m.GetDirectPath(),
			m.GetMediaKey(), m.GetFileSHA256(), m.GetFileEncSHA256(), m.GetFileLength())

	case waMsg.StickerMessage != nil:
		m := waMsg.StickerMessage
		return bot.TypeSticker, "", mediaRef(
			m.GetMimetype(), m.GetURL(), m.GetDirectPath(),
			m.GetMediaKey(), m.GetFileSHA256(), m.GetFileEncSHA256(), m.GetFileLength())

	case waMsg.AudioMessage != nil:
		m := waMsg.AudioMessage
		return bot.TypeAudio, "", mediaRef(
			m.GetMimetype(), m.GetURL(), m.GetDirectPath(),
			m.GetMediaKey(), m.GetFileSHA256(), m.GetFileEncSHA256(), m.GetFileLength())

	case waMsg.DocumentMessage != nil:
		m := waMsg.DocumentMessage
		return bot.TypeDocument, m.GetCaption(), mediaRef(
			m.GetMimetype(), m.GetURL(), m.GetDirectPath(),
			m.GetMediaKey(), m.GetFileSHA256(), m.GetFileEncSHA256(), m.GetFileLength())
	}
	return "", "", nil
}

func mediaRef(mime, url, directPath string, key, sha, encSHA []byte, length uint64) *bot.MediaRef {
	return &bot.MediaRef{
		MimeType:      mime,
		URL:           url,
		DirectPath:    directPath,
		MediaKey:      key,
		FileSHA256:    sha,
		FileEncSHA256: encSHA,
		FileLength:    length,
	}
}

// extractQuoted recovers the replied-to message from the context info,
// flattened to type and display text.
func extractQuoted(waMsg *waE2E.Message) *bot.QuotedRaw {
	ctxInfo := contextInfo(waMsg)
	if ctxInfo == nil || ctxInfo.QuotedMessage == nil {
		return nil
	}
	quotedType, quotedBody, _ := extractContent(ctxInfo.QuotedMessage)
	if quotedType == "" {
		return nil
	}
	if quotedType != bot.TypeText && quotedBody != "" {
		quotedBody = "[" + quotedType + "] " + quotedBody
	}
	return &bot.QuotedRaw{Type: quotedType, Body: strings.TrimSpace(quotedBody)}
}

// contextInfo finds the ContextInfo on whichever sub-message carries it.
func contextInfo(waMsg *waE2E.Message) *waE2E.ContextInfo {
	switch {
	case waMsg.ExtendedTextMessage != nil:
		return waMsg.ExtendedTextMessage.GetContextInfo()
	case waMsg.ImageMessage != nil:
		return waMsg.ImageMessage.GetContextInfo()
	case waMsg.VideoMessage != nil:
		return waMsg.VideoMessage.GetContextInfo()
	case waMsg.StickerMessage != nil:
		return waMsg.StickerMessage.GetContextInfo()
	case waMsg.AudioMessage != nil:
		return waMsg.AudioMessage.GetContextInfo()
	case waMsg.DocumentMessage != nil:
		return waMsg.DocumentMessage.GetContextInfo()
	}
	return nil
}
