package bot

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
)

// fakeTransport records every interaction and replays configured data.
type fakeTransport struct {
	mu       sync.Mutex
	events   []string // ordered trace: presence_on, typing_on, send, ...
	sent     []string
	media    []MediaPick
	recent   []RawMessage
	fetchErr error
	sendErr  error

	downloadMime string
	downloadData []byte
	downloadErr  error
	downloads    int
}

func (f *fakeTransport) Send(ctx context.Context, chatID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "send")
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeTransport) SendMedia(ctx context.Context, chatID, url, kind string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "send_media")
	f.media = append(f.media, MediaPick{URL: url, Kind: kind})
	return nil
}

func (f *fakeTransport) SetTyping(ctx context.Context, chatID string, typing bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if typing {
		f.events = append(f.events, "typing_on")
	} else {
		f.events = append(f.events, "typing_off")
	}
	return nil
}

func (f *fakeTransport) SetPresence(ctx context.Context, available bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if available {
		f.events = append(f.events, "presence_on")
	} else {
		f.events = append(f.events, "presence_off")
	}
	return nil
}

func (f *fakeTransport) DownloadMedia(ctx context.Context, raw *RawMessage) (string, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads++
	if f.downloadErr != nil {
		return "", nil, f.downloadErr
	}
	return f.downloadMime, f.downloadData, nil
}

func (f *fakeTransport) FetchRecent(ctx context.Context, chatID string, n int) ([]RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.recent, nil
}

func (f *fakeTransport) trace() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	copy(out, f.events)
	return out
}

func (f *fakeTransport) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

// fakeStore is an in-memory Store with hooks for the async storage tests.
type fakeStore struct {
	mu        sync.Mutex
	state     ConversationState
	stateErr  error
	names     map[string]string
	messages  []StoredMessage
	summaries []Summary
	resets    int

	appended chan struct{} // signaled after every AppendMessages
	resetted chan struct{} // signaled after every ResetMessages
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		names:    make(map[string]string),
		appended: make(chan struct{}, 8),
		resetted: make(chan struct{}, 8),
	}
}

func (f *fakeStore) Conversation(ctx context.Context, id string) (ConversationState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stateErr != nil {
		return ConversationState{}, f.stateErr
	}
	return f.state, nil
}

func (f *fakeStore) Messages(ctx context.Context, id string) ([]StoredMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]StoredMessage, len(f.messages))
	copy(out, f.messages)
	return out, nil
}

func (f *fakeStore) AppendMessages(ctx context.Context, id string, msgs []StoredMessage) (int, error) {
	f.mu.Lock()
	f.messages = append(f.messages, msgs...)
	count := len(f.messages)
	f.mu.Unlock()
	select {
	case f.appended <- struct{}{}:
	default:
	}
	return count, nil
}

func (f *fakeStore) AppendSummary(ctx context.Context, id string, s Summary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, s)
	return nil
}

func (f *fakeStore) ResetMessages(ctx context.Context, id string) error {
	f.mu.Lock()
	f.messages = nil
	f.resets++
	f.mu.Unlock()
	select {
	case f.resetted <- struct{}{}:
	default:
	}
	return nil
}

func (f *fakeStore) UserName(ctx context.Context, phone string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.names[phone], nil
}

// fakeBackend replays a scripted sequence of completions.
type fakeBackend struct {
	mu     sync.Mutex
	calls  []CompletionRequest
	script []backendStep
}

type backendStep struct {
	completion *Completion
	err        error
}

func (f *fakeBackend) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if len(f.script) == 0 {
		return &Completion{Text: "ok"}, nil
	}
	step := f.script[0]
	f.script = f.script[1:]
	return step.completion, step.err
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeBackend) call(i int) CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

// newTestBot wires a Bot with fakes and defaults.
func newTestBot(t *testing.T, cfg Config, transport *fakeTransport, store *fakeStore, backend *fakeBackend) *Bot {
	t.Helper()
	if transport == nil {
		transport = &fakeTransport{}
	}
	if store == nil {
		store = newFakeStore()
	}
	if backend == nil {
		backend = &fakeBackend{}
	}
	registry := NewRegistry(testLogger())
	return New(cfg, transport, store, backend, registry, testLogger())
}
