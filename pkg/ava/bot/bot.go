package bot

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"time"
)

// Transport is the narrow surface the engine needs from the chat
// channel. The WhatsApp implementation lives in pkg/ava/whatsapp.
type Transport interface {
	Send(ctx context.Context, chatID, text string) error
	SendMedia(ctx context.Context, chatID, url, kind string) error
	SetTyping(ctx context.Context, chatID string, typing bool) error
	SetPresence(ctx context.Context, available bool) error
	DownloadMedia(ctx context.Context, raw *RawMessage) (mime string, data []byte, err error)
	FetchRecent(ctx context.Context, chatID string, n int) ([]RawMessage, error)
}

// Store is the persistence surface the engine consumes. Append-only or
// last-write-wins operations only; the store is the source of truth.
type Store interface {
	Conversation(ctx context.Context, id string) (ConversationState, error)
	Messages(ctx context.Context, id string) ([]StoredMessage, error)
	AppendMessages(ctx context.Context, id string, msgs []StoredMessage) (stored int, err error)
	AppendSummary(ctx context.Context, id string, s Summary) error
	ResetMessages(ctx context.Context, id string) error
	UserName(ctx context.Context, phone string) (string, error)
}

// ChatTurn is one entry of the working conversation submitted to the
// backend: user history, assistant tool requests, or folded tool results.
type ChatTurn struct {
	Role       string // "user", "assistant" or "tool"
	Text       string
	Media      *Media
	ToolCalls  []FunctionCall // assistant turns only
	ToolCallID string         // tool turns only
	Name       string         // tool turns only
}

// CompletionRequest is one round-trip to the language-model backend.
type CompletionRequest struct {
	Instructions string
	Turns        []ChatTurn
	Tools        []ToolDefinition
	Schema       json.RawMessage // optional structured-output schema
	UseSearch    bool            // route through backend-native retrieval
}

// Backend is the language-model collaborator, treated as a narrow RPC.
type Backend interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

// Config holds the engine's tunables. Zero values are filled in by
// DefaultConfig.
type Config struct {
	Mode               string        `yaml:"mode"`
	Triggers           []string      `yaml:"triggers"`
	TriggerThreshold   int           `yaml:"trigger_threshold"`
	DevToken           string        `yaml:"dev_token"`
	DevMode            bool          `yaml:"dev_mode"`
	EngagedDepth       int           `yaml:"engaged_depth"`
	PassiveDepth       int           `yaml:"passive_depth"`
	MediaSkipThreshold int           `yaml:"media_skip_threshold"`
	MaxRounds          int           `yaml:"max_rounds"`
	SummaryThreshold   int           `yaml:"summary_threshold"`
	HistoryDigestSize  int           `yaml:"history_digest_size"`
	Timezone           string        `yaml:"timezone"`
	CallTimeout        time.Duration `yaml:"call_timeout"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Mode:               ModeBuddy,
		Triggers:           []string{"@bot", "bot", "ava"},
		TriggerThreshold:   75,
		DevToken:           "@localtest",
		EngagedDepth:       30,
		PassiveDepth:       1,
		MediaSkipThreshold: 5,
		MaxRounds:          4,
		SummaryThreshold:   20,
		HistoryDigestSize:  15,
		Timezone:           "Asia/Beirut",
		CallTimeout:        90 * time.Second,
	}
}

// Bot wires the orchestration engine to its collaborators. One Bot
// serves all chats; per-event state stays on the stack.
type Bot struct {
	cfg       Config
	transport Transport
	store     Store
	backend   Backend
	registry  *Registry
	logger    *slog.Logger
	loc       *time.Location
}

// New builds a Bot. The registry may still be extended afterwards, up
// until the first Handle call.
func New(cfg Config, transport Transport, store Store, backend Backend, registry *Registry, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Warn("unknown timezone, falling back to UTC", "tz", cfg.Timezone, "error", err)
		loc = time.UTC
	}
	return &Bot{
		cfg:       cfg,
		transport: transport,
		store:     store,
		backend:   backend,
		registry:  registry,
		logger:    logger.With("component", "bot"),
		loc:       loc,
	}
}

// now returns the wall clock in the service's fixed locale.
func (b *Bot) now() time.Time {
	return time.Now().In(b.loc)
}

// randIndex picks a uniform index in [0, n).
func (b *Bot) randIndex(n int) int {
	return rand.IntN(n)
}
