// Copyright 2026 The Chorus Authors
// SPDX-License-Identifier: Apache-2.0

// Command chorus-bot runs one Chorus instance.
//
// Exit codes:
//
//	0: clean shutdown (signal)
//	1: configuration or runtime failure
//	3: update requested; the supervisor script should fetch the
//	   current build and start the binary again
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/chorus-foundation/chorus/bot"
	"github.com/chorus-foundation/chorus/coord"
	"github.com/chorus-foundation/chorus/lib/config"
	"github.com/chorus-foundation/chorus/lib/version"
	"github.com/chorus-foundation/chorus/lobby"
	"github.com/chorus-foundation/chorus/messaging"
	"github.com/chorus-foundation/chorus/replay"
	"github.com/chorus-foundation/chorus/warnstore"
)

const exitUpdate = 3

func main() {
	os.Exit(run())
}

func run() int {
	configPath := pflag.String("config", "", "path to chorus.yaml (overrides CHORUS_CONFIG)")
	showVersion := pflag.Bool("version", false, "print version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		return 0
	}

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if err := cfg.EnsurePaths(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logger, logFile, err := setupLogging(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if logFile != nil {
		defer logFile.Close()
	}
	slog.SetDefault(logger)
	logger.Info("chorus starting",
		"instance", cfg.InstanceID, "version", version.Info(), "revision", version.Number())

	token, err := cfg.Chat.Token()
	if err != nil {
		logger.Error("token", "error", err)
		return 1
	}

	chat, err := messaging.NewClient(messaging.ClientConfig{
		BaseURL: cfg.Chat.BaseURL,
		Token:   token,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("chat client", "error", err)
		return 1
	}

	api, err := lobby.NewClient(lobby.APIConfig{
		BnetURL: cfg.Lobbies.BnetAPI,
		EntURL:  cfg.Lobbies.EntAPI,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("lobby api", "error", err)
		return 1
	}

	uploader, err := replay.NewUploader(replay.UploaderConfig{
		URL:    cfg.Replays.UploadURL,
		Logger: logger,
	})
	if err != nil {
		logger.Error("replay uploader", "error", err)
		return 1
	}

	store, err := warnstore.Open(warnstore.Config{
		Path:        cfg.Paths.Database,
		ArchivePath: cfg.Paths.DatabaseArchive,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("moderation store", "error", err)
		return 1
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// updateRequested ends the run with the update exit code; the
	// supervisor handles the actual fetch-and-restart.
	updateRequested := make(chan struct{}, 1)
	requestUpdate := func(ctx context.Context) error {
		select {
		case updateRequested <- struct{}{}:
		default:
		}
		return nil
	}

	instance, err := buildInstance(cfg, chat, api, uploader, store, requestUpdate, logger)
	if err != nil {
		logger.Error("wiring", "error", err)
		return 1
	}

	errs := make(chan error, 2)
	go func() { errs <- instance.comWatcher.Run(ctx) }()
	go func() { errs <- instance.pubWatcher.Run(ctx) }()
	go instance.tracker.Run(ctx)

	if err := instance.coordinator.Connect(ctx); err != nil {
		logger.Error("connect", "error", err)
		return 1
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down on signal")
		return 0
	case <-updateRequested:
		logger.Info("shutting down for update")
		return exitUpdate
	case err := <-errs:
		if err != nil {
			logger.Error("watcher failed", "error", err)
			return 1
		}
		return 0
	}
}

// instance bundles the long-running components main drives.
type instance struct {
	coordinator *coord.Coordinator
	tracker     *lobby.Tracker
	comWatcher  *messaging.Watcher
	pubWatcher  *messaging.Watcher
}

// buildInstance wires the components. The bot and coordinator
// reference each other (the coordinator replicates the bot's
// workspace; the bot routes actions through the coordinator), so the
// bot is built first and the coordinator injected after.
func buildInstance(
	cfg *config.Config,
	chat *messaging.Client,
	api *lobby.Client,
	uploader *replay.Uploader,
	store *warnstore.Store,
	requestUpdate func(ctx context.Context) error,
	logger *slog.Logger,
) (*instance, error) {
	chorusBot, err := bot.New(bot.Config{
		Chat:     chat,
		Store:    store,
		Uploader: uploader,
		GuildID:  messaging.ID(cfg.Chat.GuildID),
		Roles: bot.Roles{
			Member:   messaging.ID(cfg.Roles.Member),
			Host:     messaging.ID(cfg.Roles.Host),
			Officer:  messaging.ID(cfg.Roles.Officer),
			RegionEU: messaging.ID(cfg.Roles.RegionEU),
			RegionKR: messaging.ID(cfg.Roles.RegionKR),
			RegionNA: messaging.ID(cfg.Roles.RegionNA),
		},
		CommandPrefix: cfg.CommandPrefix,
		ReplayWindow:  cfg.Replays.Window.Std(),
		Restart:       requestUpdate,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}

	coordinator, err := coord.New(coord.Config{
		Self:           coord.InstanceID(cfg.InstanceID),
		Version:        version.Number(),
		Transport:      messaging.NewChannelTransport(chat, messaging.ID(cfg.Chat.ComChannelID)),
		Database:       bot.NewDatabaseStore(store),
		Workspace:      chorusBot.WorkspaceStore(),
		Logger:         logger,
		PromoteTimeout: cfg.Coordination.PromoteTimeout.Std(),
		EnsureWindow:   cfg.Coordination.EnsureWindow.Std(),
		HubMaxAge:      cfg.Coordination.HubMaxAge.Std(),
		OnStaleVersion: func(ctx context.Context, peerVersion int) {
			logger.Warn("peer runs newer build", "peer_revision", peerVersion)
			requestUpdate(ctx)
		},
	})
	if err != nil {
		return nil, err
	}
	chorusBot.SetCoordinator(coordinator)

	tracker, err := lobby.NewTracker(lobby.TrackerConfig{
		API:                  api,
		Chat:                 chat,
		ChannelID:            messaging.ID(cfg.Chat.PubChannelID),
		Coordinator:          coordinator,
		Matcher:              lobby.NewMatcher(cfg.Lobbies.MapKeywords),
		RefreshInterval:      cfg.Lobbies.RefreshInterval.Std(),
		FetchTimeout:         cfg.Lobbies.FetchTimeout.Std(),
		RetriesBeforeWarning: cfg.Lobbies.RetriesBeforeWarning,
		Logger:               logger,
	})
	if err != nil {
		return nil, err
	}
	chorusBot.SetTracker(tracker)

	comWatcher, err := messaging.NewWatcher(messaging.WatcherConfig{
		Client:    chat,
		ChannelID: messaging.ID(cfg.Chat.ComChannelID),
		Handle:    messaging.EnvelopeHandler(chat, coordinator, logger),
		Interval:  cfg.Chat.PollInterval.Std(),
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	pubWatcher, err := messaging.NewWatcher(messaging.WatcherConfig{
		Client:    chat,
		ChannelID: messaging.ID(cfg.Chat.PubChannelID),
		Handle:    chorusBot.HandleMessage,
		Interval:  cfg.Chat.PollInterval.Std(),
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	return &instance{
		coordinator: coordinator,
		tracker:     tracker,
		comWatcher:  comWatcher,
		pubWatcher:  pubWatcher,
	}, nil
}

// setupLogging writes structured logs to stdout and a per-run file.
// EnsurePaths has already created the log directory.
func setupLogging(cfg *config.Config) (*slog.Logger, *os.File, error) {
	if cfg.Paths.Logs == "" {
		return slog.New(slog.NewTextHandler(os.Stdout, nil)), nil, nil
	}
	name := fmt.Sprintf("chorus-%d-%s.log", cfg.InstanceID, time.Now().UTC().Format("20060102-150405"))
	file, err := os.OpenFile(filepath.Join(cfg.Paths.Logs, name),
		os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("log file: %w", err)
	}
	handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, file), nil)
	return slog.New(handler), file, nil
}
