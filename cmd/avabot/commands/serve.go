package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shariffahes/ava-whatsbot/pkg/ava/bot"
	"github.com/shariffahes/ava-whatsbot/pkg/ava/config"
	"github.com/shariffahes/ava-whatsbot/pkg/ava/expense"
	"github.com/shariffahes/ava-whatsbot/pkg/ava/scheduler"
	"github.com/shariffahes/ava-whatsbot/pkg/ava/store"
	"github.com/shariffahes/ava-whatsbot/pkg/ava/tenor"
	"github.com/shariffahes/ava-whatsbot/pkg/ava/whatsapp"
)

// newServeCmd creates the `avabot serve` command that runs the
// assistant.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Connect to WhatsApp and start handling messages",
		Long: `Start Ava as a long-running service: connect the WhatsApp session,
start the reminder scheduler and process group messages.

Examples:
  avabot serve
  avabot serve --config ./config.yaml
  avabot serve --dev`,
		RunE: runServe,
	}

	cmd.Flags().Bool("dev", false, "restrict engagement to the dev trigger token")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	// ── Load config ──
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")
	if configPath == "" {
		configPath = config.FindConfigFile()
	}
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return err
	}
	if dev, _ := cmd.Flags().GetBool("dev"); dev {
		cfg.Bot.DevMode = true
	}

	// ── Configure logger ──
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	if cfg.LLM.APIKey == "" {
		return fmt.Errorf("no LLM API key configured (set AVA_API_KEY or OPENAI_API_KEY)")
	}

	// ── Storage ──
	st, err := store.Open(cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	// ── Collaborators ──
	backend := bot.NewLLMClient(cfg.LLM, logger)
	reactions := tenor.New(cfg.Tenor, logger)
	expenses := expense.NewLedger(st, logger)
	transport := whatsapp.New(cfg.WhatsApp, logger)

	reminders := scheduler.New(cfg.Scheduler, st, transport, backend, logger)

	// ── Engine ──
	registry := bot.NewRegistry(logger)
	engine := bot.New(cfg.Bot, transport, st, backend, registry, logger)
	engine.RegisterBuiltinTools(reactions, reminders, expenses, st)

	transport.SetHandler(func(ctx context.Context, raw *bot.RawMessage, eventType string) bot.Status {
		return engine.Handle(ctx, raw, eventType)
	})
	transport.SetUserRecorder(st)

	// ── Start ──
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := transport.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to WhatsApp: %w", err)
	}
	if err := reminders.Start(); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}

	logger.Info("Ava running. Press Ctrl+C to stop.",
		"mode", cfg.Bot.Mode,
		"triggers", cfg.Bot.Triggers,
		"dev", cfg.Bot.DevMode,
	)

	// ── Wait for shutdown ──
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")

	done := make(chan struct{})
	go func() {
		reminders.Stop()
		transport.Disconnect()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("stopped cleanly")
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out, exiting")
	}
	return nil
}
