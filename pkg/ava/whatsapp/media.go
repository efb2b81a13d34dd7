package whatsapp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"

	"github.com/shariffahes/ava-whatsbot/pkg/ava/bot"
)

// maxMediaFetchSize caps remote media downloads at 16 MB, which is
// plenty for reaction GIFs and stickers.
const maxMediaFetchSize = 16 << 20

var mediaFetchClient = &http.Client{Timeout: 30 * time.Second}

// buildTextMessage wraps plain text in a message proto.
func buildTextMessage(text string) *waE2E.Message {
	return &waE2E.Message{Conversation: proto.String(text)}
}

// SendMedia fetches media from a remote URL, uploads it to WhatsApp
// and sends it. Kind selects the wrapper: "gif" plays inline as a
// looping video, "sticker" renders as a sticker, anything else is sent
// as a plain image.
func (w *WhatsApp) SendMedia(ctx context.Context, chatID, url, kind string) error {
	if !w.connected.Load() {
		return fmt.Errorf("whatsapp not connected")
	}
	jid, err := parseJID(chatID)
	if err != nil {
		return fmt.Errorf("invalid JID %q: %w", chatID, err)
	}

	data, mime, err := fetchMedia(ctx, url)
	if err != nil {
		return fmt.Errorf("fetching media: %w", err)
	}

	msg, err := w.buildMediaMessage(ctx, data, mime, kind)
	if err != nil {
		return err
	}
	if _, err := w.client.SendMessage(ctx, jid, msg); err != nil {
		w.errorCount.Add(1)
		return fmt.Errorf("sending media: %w", err)
	}
	msgType := bot.TypeImage
	switch kind {
	case bot.ReactionGIF:
		msgType = bot.TypeVideo
	case bot.ReactionSticker:
		msgType = bot.TypeSticker
	}
	w.recordOutbound(jid, chatID, msgType, "")
	return nil
}

// buildMediaMessage uploads the payload and wraps it in the proto
// matching the requested kind.
func (w *WhatsApp) buildMediaMessage(ctx context.Context, data []byte, mime, kind string) (*waE2E.Message, error) {
	switch kind {
	case bot.ReactionGIF:
		uploaded, err := w.client.Upload(ctx, data, whatsmeow.MediaVideo)
		if err != nil {
			return nil, fmt.Errorf("uploading gif: %w", err)
		}
		if mime == "" {
			mime = "video/mp4"
		}
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(mime),
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
			GifPlayback:   proto.Bool(true),
		}}, nil

	case bot.ReactionSticker:
		uploaded, err := w.client.Upload(ctx, data, whatsmeow.MediaImage)
		if err != nil {
			return nil, fmt.Errorf("uploading sticker: %w", err)
		}
		if mime == "" {
			mime = "image/webp"
		}
		return &waE2E.Message{StickerMessage: &waE2E.StickerMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(mime),
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
		}}, nil

	default:
		uploaded, err := w.client.Upload(ctx, data, whatsmeow.MediaImage)
		if err != nil {
			return nil, fmt.Errorf("uploading image: %w", err)
		}
		if mime == "" {
			mime = "image/jpeg"
		}
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(mime),
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
		}}, nil
	}
}

// DownloadMedia retrieves the attachment referenced by a raw message
// from WhatsApp's media servers.
func (w *WhatsApp) DownloadMedia(ctx context.Context, raw *bot.RawMessage) (string, []byte, error) {
	if raw == nil || raw.Media == nil {
		return "", nil, fmt.Errorf("message carries no media")
	}
	ref := raw.Media

	data, err := w.client.DownloadMediaWithPath(ctx,
		ref.DirectPath, ref.FileEncSHA256, ref.FileSHA256, ref.MediaKey,
		int(ref.FileLength), downloadType(raw.Type), "")
	if err != nil {
		return "", nil, fmt.Errorf("downloading %s: %w", raw.Type, err)
	}
	return ref.MimeType, data, nil
}

// downloadType maps a message type to the whatsmeow media class.
func downloadType(msgType string) whatsmeow.MediaType {
	switch msgType {
	case bot.TypeVideo:
		return whatsmeow.MediaVideo
	case bot.TypeAudio:
		return whatsmeow.MediaAudio
	case bot.TypeDocument:
		return whatsmeow.MediaDocument
	default:
		return whatsmeow.MediaImage
	}
}

// fetchMedia pulls a remote media file into memory.
func fetchMedia(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := mediaFetchClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaFetchSize+1))
	if err != nil {
		return nil, "", err
	}
	if len(data) > maxMediaFetchSize {
		return nil, "", fmt.Errorf("media exceeds %d bytes", maxMediaFetchSize)
	}
	return data, resp.Header.Get("Content-Type"), nil
}
