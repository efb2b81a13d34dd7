package bot

import (
	"encoding/json"
	"time"
)

// Message type tags carried on RawMessage.Type, mirroring the
// transport's declared media kinds.
const (
	TypeText     = "text"
	TypeImage    = "image"
	TypeVideo    = "video"
	TypeSticker  = "sticker"
	TypeAudio    = "audio"
	TypeDocument = "document"
)

// Inbound event types accepted by Handle.
const (
	EventMessage       = "message"
	EventMessageCreate = "message_create"
)

// Status is the outcome vocabulary returned by Handle.
type Status string

const (
	StatusProcessed        Status = "processed"
	StatusValidationFailed Status = "validation_failed"
	StatusParsingFailed    Status = "parsing_failed"
	StatusError            Status = "error"
	StatusNoMessageData    Status = "no_message_data"
)

// MediaRef carries everything the transport needs to download an
// attachment later. Fields are plain values so the core stays decoupled
// from the transport's client types.
type MediaRef struct {
	MimeType      string
	URL           string
	DirectPath    string
	MediaKey      []byte
	FileSHA256    []byte
	FileEncSHA256 []byte
	FileLength    uint64
}

// QuotedRaw is the replied-to message as the transport reports it.
type QuotedRaw struct {
	Type string
	Body string
}

// RawMessage is one transport-native chat record, before normalization.
type RawMessage struct {
	ID         string
	ChatID     string
	SenderID   string // phone digits; empty when the transport could not attribute the turn
	SenderName string // transport push name, may be empty
	FromMe     bool
	IsDirect   bool
	Broadcast  bool
	Type       string
	Body       string
	Timestamp  time.Time
	Quoted     *QuotedRaw
	Media      *MediaRef
}

// Media is a downloaded attachment bound to a canonical message.
type Media struct {
	MimeType string
	Data     []byte
}

// Message is one canonical chat turn as the engine sees it. Built once
// per inbound record and never mutated afterwards. Invariant: Text or
// Media is set, never neither.
type Message struct {
	Sender    string
	Text      string
	Timestamp time.Time
	Media     *Media
	ReplyTo   *string // quoted text, nil when the quoted message was media
}

// HasText reports whether the turn carries user-visible text.
func (m *Message) HasText() bool { return m.Text != "" }

// FunctionCall is a tool invocation requested by the backend. ID is
// the backend's correlation handle for folding the result back in.
type FunctionCall struct {
	ID   string
	Name string
	Args map[string]any
}

// Completion is the backend's answer to one round: free text, tool
// requests, or both. Text is not final while FunctionCalls is non-empty.
type Completion struct {
	Text          string
	FunctionCalls []FunctionCall
}

// ToolResult is the outcome of executing one FunctionCall.
type ToolResult struct {
	Success bool           `json:"success"`
	Payload map[string]any `json:"payload,omitempty"`
	Err     string         `json:"error,omitempty"`
}

// ReactionCandidate is one media item returned by the reaction search.
type ReactionCandidate struct {
	Description string `json:"description"`
	MediaURL    string `json:"media_url"`
	Index       int    `json:"index"`
}

// Reaction media kinds.
const (
	ReactionGIF     = "gif"
	ReactionSticker = "sticker"
)

// MediaPick is the dispatcher-facing selection of a reaction candidate.
type MediaPick struct {
	URL  string
	Kind string // ReactionGIF or ReactionSticker
}

// Outcome is the terminal result of one orchestration run.
type Outcome struct {
	Text  string
	Media *MediaPick
}

// ConversationState is the per-chat record the engine reads once at the
// start of handling. Persistence owns it; the engine never mutates
// Messages or Summaries directly.
type ConversationState struct {
	Mode      string
	Summaries []string
}

// Summary is one condensed slice of conversation history.
type Summary struct {
	Content      string   `json:"content"`
	Participants []string `json:"participants"`
	StartDate    string   `json:"start_date"`
	EndDate      string   `json:"end_date"`
}

// StoredMessage is the persistence-facing shape of a chat turn.
type StoredMessage struct {
	Sender    string    `json:"sender"`
	Text      string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ToolDefinition declares one tool to the backend.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}
