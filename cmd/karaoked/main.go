// Command karaoked is the karaoke session controller daemon: it serves
// the HTTP/SSE surface described in spec §6 and drives the three core
// subsystems (session/room coordination, per-session audio ingress,
// and playlist automation) against the external collaborators —
// PipeWire, xdotool, the countdown overlay, and the game's log/config
// files. Grounded on
// github.com/ManuGH/xg2g/cmd/daemon/main.go's wiring shape: configure
// logging first, load config, build every subsystem, then block on
// signal-driven shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgruss/karaoked/internal/appconfig"
	"github.com/dgruss/karaoked/internal/audiograph"
	"github.com/dgruss/karaoked/internal/automation"
	"github.com/dgruss/karaoked/internal/control"
	"github.com/dgruss/karaoked/internal/corelog"
	"github.com/dgruss/karaoked/internal/gameconfig"
	"github.com/dgruss/karaoked/internal/httpapi"
	"github.com/dgruss/karaoked/internal/ingress"
	"github.com/dgruss/karaoked/internal/inputsynth"
	"github.com/dgruss/karaoked/internal/logtail"
	"github.com/dgruss/karaoked/internal/overlay"
	"github.com/dgruss/karaoked/internal/playlist"
	"github.com/dgruss/karaoked/internal/room"
	"github.com/dgruss/karaoked/internal/roomhub"
	"github.com/dgruss/karaoked/internal/session"
	"github.com/dgruss/karaoked/internal/songindex"
)

var (
	version = "dev"
	commit  = "none"
)

// sinkCount is the lobby sink plus six numbered mic sinks, per spec §3.
const sinkCount = 7

// sinkName implements the sink-naming convention from
// original_source/webrtc_microphone.py: "smartphone-mic-<i>-sink" for
// i in [0,7), index 0 being the lobby sink.
func sinkName(i int) (string, error) {
	if i < 0 || i >= sinkCount {
		return "", fmt.Errorf("sink index %d out of range", i)
	}
	return fmt.Sprintf("smartphone-mic-%d-sink", i), nil
}

func sinkNames() []string {
	names := make([]string, sinkCount)
	for i := range names {
		names[i], _ = sinkName(i)
	}
	return names
}

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("karaoked %s (commit %s)\n", version, commit)
		os.Exit(0)
	}

	corelog.Configure(corelog.Config{Level: "info", Service: "karaoked"})
	logger := corelog.WithComponent("main")

	loader := appconfig.NewLoader()
	cfg := loader.Load(version)
	if loader.FileConfigErr != nil {
		logger.Warn().Err(loader.FileConfigErr).Msg("loading KARAOKED_CONFIG_FILE failed, continuing with env/defaults")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("listen_addr", cfg.ListenAddr).
		Bool("control_only", cfg.ControlOnly).
		Str("game_dir", cfg.GameDir).
		Msg("starting karaoked")

	// --- Song index -------------------------------------------------
	songs := songindex.New(cfg.GameDir, cfg.AudioExtension, cfg.SongIndexPath)
	if cfg.SkipScan {
		if err := songs.Load(); err != nil {
			logger.Warn().Err(err).Msg("loading persisted song index failed")
		}
	} else {
		if err := songs.Scan(); err != nil {
			logger.Warn().Err(err).Msg("song index scan failed")
		} else if err := songs.Save(); err != nil {
			logger.Warn().Err(err).Msg("persisting song index failed")
		}
	}

	playlistFile := playlist.New(cfg.PlaylistFile)

	songCandidates := func() []string {
		entries := songs.All()
		labels := make([]string, 0, len(entries))
		for _, e := range entries {
			label, err := songs.PlaylistLabel(e.ID)
			if err != nil {
				continue
			}
			labels = append(labels, label)
		}
		return labels
	}

	// --- Room coordinator + event hub --------------------------------
	hub := roomhub.New()
	capacityStore := room.FileCapacityStore{Path: cfg.CapacityPath}
	rooms := room.New(capacityStore, hub.Broadcast)

	var ingressMgr *ingress.Manager
	var lock *control.Lock
	var synth inputsynth.Synthesizer

	if cfg.ControlOnly {
		logger.Warn().Msg("control-only mode: ingress and audio graph operations disabled")
	} else {
		graph := audiograph.New(cfg.AudioGraphTool, cfg.AudioGraphCtlTool)
		if err := graph.UnloadAllNullSinks(ctx); err != nil {
			logger.Warn().Err(err).Msg("failed to clear leftover null sinks at startup")
		}
		if err := graph.EnsureSinks(ctx, sinkNames()); err != nil {
			logger.Error().Err(err).Msg("failed to ensure audio sinks")
		}
		ingressMgr = ingress.NewManager(cfg.IngressBin, graph, sinkName)
	}

	inputTool := inputsynth.New(cfg.InputSynthTool, corelog.WithComponent("inputsynth"))
	synth = inputTool
	lock = control.New(cfg.ControlPassphrase, synth)

	var sessions *session.Registry

	// writeGameConfig rebuilds the game's [Name]/[PlayerDelay]/[Game]
	// config from the current room roster, per spec §4.11. Shared by
	// the HTTP layer's per-request sync and the stale-session sweeper's
	// onEvict callback below.
	writeGameConfig := func(roster gameconfig.Roster) error {
		if cfg.GameConfigPath == "" {
			return nil
		}
		return gameconfig.Write(cfg.GameConfigPath, roster)
	}
	rewriteGameConfig := func() {
		snap := rooms.Snapshot()
		if err := writeGameConfig(gameconfig.RosterFrom(snap, sessions.MeanDelayByNames)); err != nil {
			logger.Warn().Err(err).Msg("rewrite game config failed")
		}
	}

	ingressLiveness := func(sessionID int64) (exists bool, alive bool) {
		if ingressMgr == nil {
			return false, false
		}
		if !ingressMgr.HasIngress(sessionID) {
			return false, false
		}
		return true, ingressMgr.IsAlive(ctx, sessionID)
	}
	onEvict := func(sessionID int64, displayName string) {
		if ingressMgr != nil {
			ingressMgr.Remove(ctx, sessionID)
		}
		if displayName != "" {
			rooms.Leave(ctx, displayName)
		}
		lock.ReleaseIfOwner(sessionID)
		rewriteGameConfig()
		logger.Info().Int64("session_id", sessionID).Str("name", displayName).Msg("evicted stale session")
	}
	sessions = session.NewRegistry(cfg.MaxNameLength, cfg.StaleThreshold, ingressLiveness, onEvict)

	overlayRunner := overlay.New(cfg.OverlayScript, corelog.WithComponent("overlay"))
	auto := automation.New(synth, overlayRunner, playlistFile, songCandidates, corelog.WithComponent("automation"))
	auto.SetDefaultCountdown(cfg.DefaultCountdownSeconds)

	srv := httpapi.New(cfg, sessions, rooms, hub, ingressManagerOrNil(ingressMgr), lock, songs, playlistFile, auto, writeGameConfig)

	// --- Background loops ---------------------------------------------
	go sessions.Run(ctx, 2*time.Second)
	if ingressMgr != nil {
		go ingressMgr.LivenessLoop(ctx)
	}
	go runAutomationTicker(ctx, auto)

	if cfg.GameLogPath != "" {
		tailer := logtail.New(cfg.GameLogPath, corelog.WithComponent("logtail"))
		go func() {
			if err := tailer.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Warn().Err(err).Msg("log tailer exited")
			}
		}()
		go func() {
			for ev := range tailer.Events() {
				auto.HandleLogEvent(ev)
			}
		}()
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErrCh := make(chan error, 1)
	go func() {
		var err error
		if cfg.TLSEnable && cfg.TLSCert != "" && cfg.TLSKey != "" {
			logger.Info().Str("cert", cfg.TLSCert).Msg("serving with TLS")
			err = httpServer.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			serveErrCh <- err
			return
		}
		serveErrCh <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-serveErrCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("graceful http shutdown failed")
	}

	logger.Info().Msg("karaoked exiting")
}

// ingressManagerOrNil returns nil as an httpapi.IngressManager
// interface value when mgr itself is nil, since a non-nil interface
// wrapping a nil *ingress.Manager is not the same as a nil interface
// (control-only mode relies on httpapi.Server treating s.ingress == nil
// as "disabled").
func ingressManagerOrNil(mgr *ingress.Manager) httpapi.IngressManager {
	if mgr == nil {
		return nil
	}
	return mgr
}

// runAutomationTicker drives automation.Tick every 250ms until ctx is
// cancelled, per spec §5's phase-timeout and countdown-expiry polling.
func runAutomationTicker(ctx context.Context, auto *automation.Machine) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			auto.Tick(ctx)
		}
	}
}
