// Package main provides the chatterbox daemon: it hosts the IM session
// model, receives wire events over HTTP and streams session events to UI
// clients.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm/logger"

	"github.com/thebtf/chatterbox/internal/agent"
	"github.com/thebtf/chatterbox/internal/catalog"
	"github.com/thebtf/chatterbox/internal/chatapi"
	"github.com/thebtf/chatterbox/internal/config"
	"github.com/thebtf/chatterbox/internal/db/gorm"
	"github.com/thebtf/chatterbox/internal/db/sqlite"
	"github.com/thebtf/chatterbox/internal/imsession"
	"github.com/thebtf/chatterbox/internal/loop"
	"github.com/thebtf/chatterbox/internal/namecache"
	"github.com/thebtf/chatterbox/internal/telemetry"
	"github.com/thebtf/chatterbox/internal/voice"
	"github.com/thebtf/chatterbox/internal/watcher"
	"github.com/thebtf/chatterbox/internal/worker"
	"github.com/thebtf/chatterbox/internal/worker/sse"
)

// Version is set at build time via ldflags.
var Version = "dev"

// maintenanceInterval is how often expired snoozes and old transcripts
// are pruned.
const maintenanceInterval = time.Minute

func main() {
	listen := flag.String("listen", "", "Listen address (default: settings or CHATTERBOX_LISTEN)")
	transcriptDays := flag.Int("transcript-days", 0, "Delete transcript lines older than this many days (0 keeps everything)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	if err := config.EnsureAll(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure data directory")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
		cfg = config.Default()
	}
	src := config.NewSource(cfg)

	addr := *listen
	if addr == "" {
		addr = config.GetListenAddr()
	}

	selfID, err := uuid.Parse(cfg.AgentID)
	if err != nil {
		selfID = uuid.New()
		log.Warn().Str("agent_id", selfID.String()).Msg("CHATTERBOX_AGENT_ID not set, using a random id")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("Shutting down chatterbox")
		cancel()
	}()

	store, err := sqlite.NewStore(sqlite.StoreConfig{
		Path:     cfg.DBPath,
		MaxConns: cfg.MaxConns,
		WALMode:  true,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize transcript store")
	}
	defer store.Close()
	transcripts := sqlite.NewTranscriptStore(store)

	relDB, err := gorm.NewStore(gorm.Config{
		Path:     cfg.RelationsPath,
		MaxConns: cfg.MaxConns,
		LogLevel: logger.Silent,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize relations store")
	}
	defer relDB.Close()
	relations := gorm.NewRelationsStore(relDB)

	self := agent.New(selfID, cfg.AgentName, relations)
	if err := self.Load(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to load relations")
	}

	texts, err := catalog.Load(cfg.StringsPath)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.StringsPath).Msg("Invalid strings file, using built-in strings")
		texts = catalog.Default()
	}

	metrics, err := telemetry.New()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to register metrics")
	}

	lp := loop.New()
	client := chatapi.New(chatapi.Options{
		ChatSessionURL: cfg.ChatSessionURL,
		MessageURL:     cfg.MessageURL,
		NamesURL:       cfg.NamesURL,
		AgentID:        selfID,
		AgentName:      cfg.AgentName,
	}, lp)

	broadcaster := sse.NewBroadcaster()
	sink := worker.NewEventSink(broadcaster)

	mgr := imsession.NewManager(imsession.Deps{
		Agent:       self,
		Wire:        client,
		Voice:       voice.NewLocal(),
		Names:       namecache.New(client, lp),
		Transcripts: transcripts,
		Snoozes:     relations,
		Config:      src,
		Catalog:     texts,
		Exec:        lp,
		Metrics:     metrics,
		Notifier:    sink,
	})
	sink.Attach(mgr)

	// Rows older than the snooze window belong to sessions the server has
	// long since closed.
	if n, err := relations.DeleteSnoozesBefore(ctx, time.Now().Add(-cfg.GroupSnooze())); err != nil {
		log.Warn().Err(err).Msg("Failed to drop stale snoozes")
	} else if n > 0 {
		log.Info().Int64("count", n).Msg("Dropped stale snoozes")
	}
	// The loop is not running yet, so this is the only goroutine touching
	// the manager.
	if err := mgr.LoadSnoozes(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to restore snoozed sessions")
	}

	svc := worker.NewService(worker.Options{
		Version:     Version,
		Config:      src,
		Manager:     mgr,
		Agent:       self,
		Transcripts: transcripts,
		Metrics:     metrics,
		Loop:        lp,
		Broadcaster: broadcaster,
	})

	settingsWatcher := startSettingsWatcher(src, lp, mgr)
	if settingsWatcher != nil {
		defer func() { _ = settingsWatcher.Stop() }()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := lp.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error { return broadcaster.Run(gctx) })
	g.Go(func() error { return svc.Start(gctx, addr) })
	g.Go(func() error {
		maintain(gctx, lp, mgr, transcripts, *transcriptDays)
		return nil
	})

	svc.SetReady(true)
	log.Info().Str("version", Version).Str("agent_id", selfID.String()).Str("addr", addr).Msg("chatterbox started")

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("chatterbox stopped with error")
		os.Exit(1)
	}
}

// startSettingsWatcher reloads src when settings.json changes and re-arms
// the DND auto-response, since the DND text or flag may have changed.
func startSettingsWatcher(src *config.Source, lp *loop.Loop, mgr *imsession.Manager) *watcher.Watcher {
	path := config.SettingsPath()
	w, err := watcher.New(path, func() {
		if err := src.Reload(); err != nil {
			log.Warn().Err(err).Msg("Failed to reload settings")
			return
		}
		lp.Post(mgr.UpdateDNDMessageStatus)
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create settings watcher")
		return nil
	}
	if err := w.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start settings watcher")
		return nil
	}
	log.Info().Str("path", path).Msg("Settings file watcher started")
	return w
}

// maintain prunes expired snoozes and, when retention is set, old
// transcript lines until ctx is done.
func maintain(ctx context.Context, lp *loop.Loop, mgr *imsession.Manager, transcripts *sqlite.TranscriptStore, days int) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		lp.Post(func() { mgr.PruneExpiredSnoozes() })

		if days <= 0 {
			continue
		}
		cutoff := time.Now().AddDate(0, 0, -days)
		n, err := transcripts.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to prune transcripts")
			continue
		}
		if n > 0 {
			log.Info().Int64("count", n).Time("cutoff", cutoff).Msg("Pruned old transcript lines")
		}
	}
}
