package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/switchboard/internal/archive"
	"github.com/user/switchboard/internal/broadcast"
	"github.com/user/switchboard/internal/directory"
	"github.com/user/switchboard/internal/engine"
	"github.com/user/switchboard/internal/state"
	"github.com/user/switchboard/internal/store"
	"github.com/user/switchboard/internal/telegram"
	"github.com/user/switchboard/internal/translate"
	"github.com/user/switchboard/internal/types"
	"github.com/user/switchboard/internal/watchdog"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the switchboard daemon",
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, "switchboard.pid")
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram token not configured (set TELEGRAM_BOT_TOKEN or telegram.token)")
	}
	if cfg.AdminID == 0 {
		return fmt.Errorf("admin id not configured (set SWITCHBOARD_ADMIN_ID or admin_id)")
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	// Persistent stores
	db, err := state.Open(filepath.Join(cfg.DataDir, "switchboard.db"))
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	profiles := state.NewProfileStore(db)
	posts := state.NewPostStore(db)

	// Directory and operator-facing language
	dir := directory.New(types.OperatorID(cfg.AdminID), cfg.Operators)
	opLang, ok := translate.Normalize(cfg.OperatorLanguage)
	if !ok {
		return fmt.Errorf("invalid operator_language %q", cfg.OperatorLanguage)
	}

	// Translator gateway
	translator := translate.New(
		translate.NewHTTPClient(cfg.Translate.Endpoint),
		time.Duration(cfg.Translate.TimeoutSec)*time.Second,
	)

	// Transport adapter
	adapter, err := telegram.New(cfg.Telegram.Token, profiles, dir, opLang, int64(cfg.MaxConcurrent))
	if err != nil {
		return fmt.Errorf("create telegram adapter: %w", err)
	}

	// Routing core
	requests := store.New()
	archivist := archive.New(adapter, translator, dir, opLang)
	eng := engine.New(requests, dir, adapter, translator, archivist, opLang)
	adapter.AttachEngine(eng)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go adapter.Start(ctx)
	slog.Info("telegram adapter started")

	// Timeout watchdog
	dog := watchdog.New(requests, eng, dir, adapter, opLang,
		time.Duration(cfg.Support.IdleTimeoutSec)*time.Second,
		time.Duration(cfg.Support.EscalationSec)*time.Second,
		time.Duration(cfg.Support.SweepIntervalSec)*time.Second,
	)
	go dog.Start(ctx)

	// Broadcast dispatcher
	dispatcher := broadcast.New(posts, profiles, adapter, cfg.Broadcast.PollSchedule)
	if err := dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("start broadcast dispatcher: %w", err)
	}
	defer dispatcher.Stop()

	slog.Info("switchboard started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"operators", len(dir.Operators()),
		"operator_language", opLang,
		"idle_timeout_sec", cfg.Support.IdleTimeoutSec,
		"escalation_sec", cfg.Support.EscalationSec,
		"pid_file", pidPath,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	slog.Info("shutting down", "signal", sig)
	return nil
}
