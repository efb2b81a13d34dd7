// Package whatsapp implements the chat transport over whatsmeow, the
// native Go WhatsApp Web API library: session persistence with QR
// login, raw message intake for the engine, text/media delivery,
// presence and typing, and a recent-message window per chat.
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"

	_ "github.com/mattn/go-sqlite3" // session store driver

	"github.com/shariffahes/ava-whatsbot/pkg/ava/bot"
)

// Config holds the transport configuration.
type Config struct {
	// DatabasePath is the SQLite file holding the whatsmeow session.
	DatabasePath string `yaml:"database_path"`

	// DeviceName appears in the WhatsApp linked-devices list.
	DeviceName string `yaml:"device_name"`

	// RecentWindow caps how many raw messages are kept per chat for
	// history fetches.
	RecentWindow int `yaml:"recent_window"`

	// ReconnectBackoff is the initial backoff for reconnection.
	ReconnectBackoff time.Duration `yaml:"reconnect_backoff"`

	// MaxReconnectAttempts bounds reconnection tries (0 = unlimited).
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DatabasePath:         "./data/whatsapp.db",
		DeviceName:           "Ava",
		RecentWindow:         64,
		ReconnectBackoff:     5 * time.Second,
		MaxReconnectAttempts: 10,
	}
}

// Handler receives every inbound raw message together with its event
// type and reports the handling status.
type Handler func(ctx context.Context, raw *bot.RawMessage, eventType string) bot.Status

// UserRecorder persists participant display names as they appear.
type UserRecorder interface {
	UpsertUser(ctx context.Context, phone, name string) error
}

// WhatsApp is the whatsmeow-backed transport. It implements
// bot.Transport.
type WhatsApp struct {
	cfg    Config
	client *whatsmeow.Client
	logger *slog.Logger

	handler Handler
	users   UserRecorder

	recent   map[string][]bot.RawMessage
	recentMu sync.Mutex

	connected         atomic.Bool
	errorCount        atomic.Int64
	reconnectAttempts atomic.Int32
	reconnectGuard    atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates the transport. SetHandler must be called before Connect.
func New(cfg Config, logger *slog.Logger) *WhatsApp {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = 64
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = 5 * time.Second
	}
	if cfg.DeviceName == "" {
		cfg.DeviceName = "Ava"
	}
	return &WhatsApp{
		cfg:    cfg,
		logger: logger.With("component", "whatsapp"),
		recent: make(map[string][]bot.RawMessage),
	}
}

// SetHandler installs the inbound message handler.
func (w *WhatsApp) SetHandler(h Handler) { w.handler = h }

// SetUserRecorder installs the optional participant-name recorder.
func (w *WhatsApp) SetUserRecorder(r UserRecorder) { w.users = r }

// Connect establishes the WhatsApp Web session. On first login the QR
// code is logged for terminal scanning without blocking startup.
func (w *WhatsApp) Connect(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.logger.Info("initializing connection", "db", w.cfg.DatabasePath)

	container, err := sqlstore.New(w.ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL", w.cfg.DatabasePath),
		waLog.Noop)
	if err != nil {
		return fmt.Errorf("creating session store: %w", err)
	}

	device, err := w.getDevice(w.ctx, container)
	if err != nil {
		return fmt.Errorf("getting device: %w", err)
	}

	store.SetOSInfo(w.cfg.DeviceName, [3]uint32{1, 0, 0})

	w.client = whatsmeow.NewClient(device, waLog.Noop)
	w.client.AddEventHandler(w.handleEvent)
	w.client.EnableAutoReconnect = true
	w.client.InitialAutoReconnect = true

	if w.client.Store.ID == nil {
		w.logger.Info("no existing session, QR login required")
		go func() {
			if err := w.loginWithQR(w.ctx); err != nil {
				w.logger.Warn("QR login pending", "error", err)
			}
		}()
		return nil
	}

	if err := w.client.Connect(); err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	w.connected.Store(true)
	w.logger.Info("connected with existing session", "jid", w.clientJID())
	return nil
}

// Disconnect closes the connection.
func (w *WhatsApp) Disconnect() {
	w.connected.Store(false)
	if w.cancel != nil {
		w.cancel()
	}
	if w.client != nil {
		w.client.Disconnect()
	}
	w.logger.Info("disconnected")
}

// IsConnected reports the connection state.
func (w *WhatsApp) IsConnected() bool { return w.connected.Load() }

func (w *WhatsApp) clientJID() string {
	if w.client != nil && w.client.Store.ID != nil {
		return w.client.Store.ID.String()
	}
	return ""
}

// getDevice retrieves an existing device or creates a new one.
func (w *WhatsApp) getDevice(ctx context.Context, container *sqlstore.Container) (*store.Device, error) {
	devices, err := container.GetAllDevices(ctx)
	if err != nil {
		return nil, err
	}
	if len(devices) > 0 {
		return devices[0], nil
	}
	return container.NewDevice(), nil
}

// loginWithQR runs the QR pairing flow, logging each code for scanning.
func (w *WhatsApp) loginWithQR(ctx context.Context) error {
	qrChan, err := w.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("getting QR channel: %w", err)
	}
	if err := w.client.Connect(); err != nil {
		return fmt.Errorf("connecting for QR: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-qrChan:
			if !ok {
				return fmt.Errorf("QR channel closed unexpectedly")
			}
			switch evt.Event {
			case "code":
				w.logger.Info("scan the QR code with WhatsApp to link this device", "code", evt.Code)
			case "success":
				w.connected.Store(true)
				w.reconnectAttempts.Store(0)
				w.logger.Info("login successful")
				return nil
			case "timeout":
				w.logger.Warn("QR code expired")
				return fmt.Errorf("QR code timeout")
			default:
				if evt.Error != nil {
					w.logger.Error("QR login error", "error", evt.Error)
					return fmt.Errorf("QR login error: %v", evt.Error)
				}
			}
		}
	}
}

// attemptReconnect retries the connection with exponential backoff. A
// guard keeps concurrent attempts from stacking.
func (w *WhatsApp) attemptReconnect() {
	if !w.reconnectGuard.CompareAndSwap(false, true) {
		return
	}
	defer w.reconnectGuard.Store(false)

	for {
		if w.ctx.Err() != nil {
			return
		}
		attempts := w.reconnectAttempts.Add(1)
		if w.cfg.MaxReconnectAttempts > 0 && attempts > int32(w.cfg.MaxReconnectAttempts) {
			w.logger.Error("max reconnect attempts reached", "attempts", attempts)
			return
		}

		backoff := w.cfg.ReconnectBackoff * time.Duration(1<<min(int(attempts)-1, 6))
		w.logger.Info("reconnecting", "attempt", attempts, "backoff", backoff)

		select {
		case <-w.ctx.Done():
			return
		case <-time.After(backoff):
		}

		if err := w.client.Connect(); err != nil {
			w.logger.Warn("reconnect attempt failed, will retry",
				"attempt", attempts, "error", err)
			continue
		}
		w.logger.Info("reconnect initiated, waiting for confirmation")
		return
	}
}

// ---------- bot.Transport ----------

// Send delivers a text message.
func (w *WhatsApp) Send(ctx context.Context, chatID, text string) error {
	if !w.connected.Load() {
		return fmt.Errorf("whatsapp not connected")
	}
	jid, err := parseJID(chatID)
	if err != nil {
		return fmt.Errorf("invalid JID %q: %w", chatID, err)
	}
	_, err = w.client.SendMessage(ctx, jid, buildTextMessage(text))
	if err != nil {
		w.errorCount.Add(1)
		return fmt.Errorf("sending message: %w", err)
	}
	w.recordOutbound(jid, chatID, bot.TypeText, text)
	return nil
}

// SetTyping toggles the composing indicator.
func (w *WhatsApp) SetTyping(ctx context.Context, chatID string, typing bool) error {
	if !w.connected.Load() {
		return nil
	}
	jid, err := parseJID(chatID)
	if err != nil {
		return err
	}
	state := types.ChatPresenceComposing
	if !typing {
		state = types.ChatPresencePaused
	}
	return w.client.SendChatPresence(ctx, jid, state, types.ChatPresenceMediaText)
}

// SetPresence flips the account between available and unavailable.
func (w *WhatsApp) SetPresence(ctx context.Context, available bool) error {
	if !w.connected.Load() {
		return nil
	}
	if available {
		return w.client.SendPresence(ctx, types.PresenceAvailable)
	}
	return w.client.SendPresence(ctx, types.PresenceUnavailable)
}

// FetchRecent returns up to n of the chat's latest raw messages,
// oldest first, from the in-memory window.
func (w *WhatsApp) FetchRecent(ctx context.Context, chatID string, n int) ([]bot.RawMessage, error) {
	w.recentMu.Lock()
	defer w.recentMu.Unlock()
	window := w.recent[chatID]
	if len(window) > n {
		window = window[len(window)-n:]
	}
	out := make([]bot.RawMessage, len(window))
	copy(out, window)
	return out, nil
}

// recordOutbound mirrors a delivered message into the chat's window.
// whatsmeow does not echo this client's own sends back as events, so
// without this the fetched context would never contain the assistant's
// side of the conversation.
func (w *WhatsApp) recordOutbound(jid types.JID, chatID, msgType, body string) {
	w.recordRecent(bot.RawMessage{
		ChatID:    chatID,
		FromMe:    true,
		IsDirect:  jid.Server == types.DefaultUserServer,
		Type:      msgType,
		Body:      body,
		Timestamp: time.Now(),
	})
}

// recordRecent appends a raw message to the chat's window.
func (w *WhatsApp) recordRecent(raw bot.RawMessage) {
	w.recentMu.Lock()
	defer w.recentMu.Unlock()
	window := append(w.recent[raw.ChatID], raw)
	if len(window) > w.cfg.RecentWindow {
		window = window[len(window)-w.cfg.RecentWindow:]
	}
	w.recent[raw.ChatID] = window
}

// parseJID converts a chat identifier to a types.JID. Accepts full
// JIDs ("123@s.whatsapp.net", "123-456@g.us") and bare phone numbers.
func parseJID(s string) (types.JID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.JID{}, fmt.Errorf("empty JID")
	}
	if strings.Contains(s, "@") {
		return types.ParseJID(s)
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	if len(digits) < 10 {
		return types.JID{}, fmt.Errorf("phone number too short: %s", s)
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}
