package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"go.mau.fi/whatsmeow/types"

	"github.com/shariffahes/ava-whatsbot/pkg/ava/bot"
)

func TestNew(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	t.Run("applies defaults", func(t *testing.T) {
		w := New(Config{}, logger)
		if w.cfg.RecentWindow != 64 {
			t.Errorf("expected recent window 64, got %d", w.cfg.RecentWindow)
		}
		if w.cfg.ReconnectBackoff != 5*time.Second {
			t.Errorf("expected 5s backoff, got %v", w.cfg.ReconnectBackoff)
		}
		if w.cfg.DeviceName == "" {
			t.Error("expected a default device name")
		}
	})

	t.Run("starts disconnected", func(t *testing.T) {
		w := New(DefaultConfig(), logger)
		if w.IsConnected() {
			t.Error("expected disconnected before Connect")
		}
	})
}

func TestParseJID(t *testing.T) {
	t.Run("full user JID", func(t *testing.T) {
		jid, err := parseJID("96170111222@s.whatsapp.net")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if jid.User != "96170111222" || jid.Server != types.DefaultUserServer {
			t.Errorf("unexpected JID %v", jid)
		}
	})

	t.Run("group JID", func(t *testing.T) {
		jid, err := parseJID("12036304@g.us")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if jid.Server != types.GroupServer {
			t.Errorf("expected group server, got %q", jid.Server)
		}
	})

	t.Run("bare phone number", func(t *testing.T) {
		jid, err := parseJID("+961 70 111 222")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if jid.User != "96170111222" {
			t.Errorf("expected stripped digits, got %q", jid.User)
		}
	})

	t.Run("rejects junk", func(t *testing.T) {
		for _, input := range []string{"", "   ", "12345"} {
			if _, err := parseJID(input); err == nil {
				t.Errorf("expected an error for %q", input)
			}
		}
	})
}

func TestRecentWindow(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	cfg := DefaultConfig()
	cfg.RecentWindow = 3
	w := New(cfg, logger)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		w.recordRecent(bot.RawMessage{
			ID:     fmt.Sprintf("m%d", i),
			ChatID: "group@g.us",
			Body:   fmt.Sprintf("message %d", i),
		})
	}

	t.Run("window is capped", func(t *testing.T) {
		recent, err := w.FetchRecent(ctx, "group@g.us", 10)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(recent) != 3 {
			t.Fatalf("expected the cap of 3, got %d", len(recent))
		}
		if recent[0].ID != "m2" || recent[2].ID != "m4" {
			t.Errorf("expected the newest three oldest-first, got %+v", recent)
		}
	})

	t.Run("fetch can narrow further", func(t *testing.T) {
		recent, _ := w.FetchRecent(ctx, "group@g.us", 2)
		if len(recent) != 2 || recent[1].ID != "m4" {
			t.Errorf("expected the last two, got %+v", recent)
		}
	})

	t.Run("chats are isolated", func(t *testing.T) {
		recent, _ := w.FetchRecent(ctx, "other@g.us", 10)
		if len(recent) != 0 {
			t.Errorf("expected an empty window, got %+v", recent)
		}
	})
}

func TestOutboundRecorded(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	w := New(DefaultConfig(), logger)
	ctx := context.Background()

	direct := types.NewJID("96170111222", types.DefaultUserServer)
	w.recordOutbound(direct, "96170111222@s.whatsapp.net", bot.TypeText, "on my way")

	group, err := types.ParseJID("12036304@g.us")
	if err != nil {
		t.Fatalf("parsing group JID: %v", err)
	}
	w.recordOutbound(group, "12036304@g.us", bot.TypeVideo, "")

	t.Run("own turns appear in the fetched window", func(t *testing.T) {
		recent, err := w.FetchRecent(ctx, "96170111222@s.whatsapp.net", 10)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(recent) != 1 {
			t.Fatalf("expected the delivered message recorded, got %d", len(recent))
		}
		got := recent[0]
		if !got.FromMe || got.SenderID != "" || got.Body != "on my way" {
			t.Errorf("unexpected recorded turn %+v", got)
		}
		if !got.IsDirect {
			t.Error("a user-server send must be flagged direct")
		}
	})

	t.Run("group sends are not flagged direct", func(t *testing.T) {
		recent, _ := w.FetchRecent(ctx, "12036304@g.us", 10)
		if len(recent) != 1 || recent[0].IsDirect {
			t.Errorf("unexpected group window %+v", recent)
		}
		if recent[0].Type != bot.TypeVideo || recent[0].Body != "" {
			t.Errorf("unexpected media record %+v", recent[0])
		}
	})
}

func TestIsBroadcast(t *testing.T) {
	cases := map[string]bool{
		"status@broadcast":           true,
		"12345@newsletter":           true,
		"96170111222@s.whatsapp.net": false,
		"12036304@g.us":              false,
	}
	for raw, want := range cases {
		jid, err := types.ParseJID(raw)
		if err != nil {
			t.Fatalf("parsing %q: %v", raw, err)
		}
		if got := isBroadcast(jid); got != want {
			t.Errorf("isBroadcast(%s) = %v, want %v", raw, got, want)
		}
	}
}

func TestDownloadType(t *testing.T) {
	if downloadType(bot.TypeVideo) == downloadType(bot.TypeImage) {
		t.Error("video and image must map to different media classes")
	}
	if downloadType(bot.TypeSticker) != downloadType(bot.TypeImage) {
		t.Error("stickers download through the image class")
	}
}
