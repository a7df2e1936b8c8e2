package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sebsto/wispr/internal/audio"
	"github.com/sebsto/wispr/internal/config"
	"github.com/sebsto/wispr/internal/fsm"
	"github.com/sebsto/wispr/internal/hotkey"
	"github.com/sebsto/wispr/internal/inject"
	"github.com/sebsto/wispr/internal/ipc"
	"github.com/sebsto/wispr/internal/logging"
	"github.com/sebsto/wispr/internal/model"
	"github.com/sebsto/wispr/internal/notify"
	"github.com/sebsto/wispr/internal/session"
)

func runDaemon(configPath, socketFlag string) {
	cfg, err := config.Resolve(configPath)
	if err != nil {
		fatal("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		fatal("config validation: %v", err)
	}

	rt, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})
	if err != nil {
		fatal("logging: %v", err)
	}
	defer rt.Close()
	log := rt.Logger

	printBanner(cfg)

	engine, err := audio.New(audio.Config{
		PreferredDevice: cfg.Audio.Device,
		SampleRate:      cfg.Audio.SampleRate,
		LevelsPerSecond: cfg.Audio.LevelsPerSecond,
	}, log.With("component", "audio"))
	if err != nil {
		fatal("audio: %v\n\nEnsure microphone access is granted in the system privacy settings.", err)
	}
	defer engine.Close()

	manager, err := model.NewManager(model.Config{Dir: cfg.Models.Dir}, log.With("component", "models"))
	if err != nil {
		fatal("models: %v", err)
	}
	defer manager.Close()

	if cfg.Models.Active != "" {
		if err := manager.EnsureActive(context.Background(), cfg.Models.Active); err != nil {
			log.Warn("model not ready; recording will fail until it is downloaded",
				"model", cfg.Models.Active, "error", err,
				"hint", "run: wisprd download "+cfg.Models.Active)
		}
	}

	injector := inject.New(inject.Method(cfg.Inject.Method), cfg.Inject.RestoreClipboard)
	notifier := notify.New(cfg.Notify.Enabled, log.With("component", "notify"))

	orch, err := session.New(session.Config{
		Capture:     engine,
		Transcriber: manager,
		Inserter:    injector,
		Gate: session.StaticGate{
			Microphone: cfg.Permissions.Microphone,
			Insertion:  cfg.Permissions.Insertion,
		},
		Settings: session.FixedSettings{
			Device:   cfg.Audio.Device,
			Language: model.ModeFromSettings(cfg.Models.Language, cfg.Models.PinLanguage),
			Model:    cfg.Models.Active,
		},
		Models:   manager,
		Notifier: notifier,
		Log:      log.With("component", "session"),
	})
	if err != nil {
		fatal("session: %v", err)
	}
	defer orch.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	socket := firstNonEmpty(socketFlag, cfg.IPC.Socket, ipc.DefaultSocketPath())
	listener, err := ipc.Acquire(ctx, socket)
	if err != nil {
		fatal("control socket: %v", err)
	}
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- ipc.Serve(ctx, listener, controlHandler(orch), log.With("component", "ipc"))
	}()

	var keys *hotkey.Listener
	if cfg.Hotkey.Enabled {
		mode, err := hotkey.ParseMode(cfg.Hotkey.Mode)
		if err != nil {
			fatal("hotkey: %v", err)
		}
		keys = hotkey.New(cfg.Hotkey.Keys, mode)
		go keys.Run()
		go pumpHotkeys(keys.Events(), orch, log)
		log.Info("hotkey armed", "keys", strings.Join(cfg.Hotkey.Keys, "+"), "mode", cfg.Hotkey.Mode)
	}

	log.Info("ready", "socket", socket, "models_dir", cfg.Models.Dir)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		log.Info("shutting down", "signal", s.String())
	case err := <-serveDone:
		if err != nil {
			log.Error("control server failed", "error", err)
		}
	}

	cancel()
	if keys != nil {
		keys.Stop()
	}
	_ = orch.Close()
	_ = engine.Close()
	_ = manager.Close()
	_ = rt.Close()
	// exit directly: gohook's C teardown is not safe to re-enter while the
	// process is dying, and the OS reclaims the event hook anyway
	os.Exit(0)
}

// pumpHotkeys translates key chords into session commands.
func pumpHotkeys(events <-chan hotkey.Event, orch *session.Orchestrator, log *slog.Logger) {
	for ev := range events {
		switch ev.Kind {
		case hotkey.Begin:
			orch.Begin()
		case hotkey.End:
			orch.End()
		case hotkey.Cancel:
			orch.Cancel()
		}
	}
	log.Debug("hotkey stream closed")
}

// controlHandler answers the unix-socket commands with the session state.
// Session commands run asynchronously, so the reply carries the state the
// command settles into rather than the state it found.
func controlHandler(orch *session.Orchestrator) ipc.Handler {
	return func(ctx context.Context, req ipc.Request) ipc.Response {
		switch req.Command {
		case ipc.CmdStatus:
			return ipc.Response{OK: true, State: string(orch.State())}
		case ipc.CmdBegin:
			return settle(ctx, orch, orch.Begin)
		case ipc.CmdEnd:
			return settle(ctx, orch, orch.End)
		case ipc.CmdCancel:
			return settle(ctx, orch, orch.Cancel)
		case ipc.CmdToggle:
			if orch.State() == fsm.StateRecording {
				return settle(ctx, orch, orch.End)
			}
			return settle(ctx, orch, orch.Begin)
		default:
			return ipc.Response{Error: fmt.Sprintf("unknown command %q", req.Command)}
		}
	}
}

// settle runs a session command and replies with the state it settles
// into. Commands that are no-ops in the current state produce no
// transition, so the wait is capped. The cap must stay under the ipc
// client timeout.
func settle(ctx context.Context, orch *session.Orchestrator, cmd func()) ipc.Response {
	updates, unsubscribe := orch.Updates()
	defer unsubscribe()

	// Drop the seeded change and anything already queued so only
	// transitions after the command are observed.
drain:
	for {
		select {
		case <-updates:
		default:
			break drain
		}
	}
	before := orch.State()

	cmd()

	timer := time.NewTimer(500 * time.Millisecond)
	defer timer.Stop()
	for {
		select {
		case change, ok := <-updates:
			if !ok {
				return ipc.Response{OK: true, State: string(orch.State())}
			}
			if change.State != before {
				return ipc.Response{OK: true, State: string(change.State)}
			}
		case <-timer.C:
			return ipc.Response{OK: true, State: string(orch.State())}
		case <-ctx.Done():
			return ipc.Response{OK: true, State: string(orch.State())}
		}
	}
}

func printBanner(cfg *config.Config) {
	hotkeyLine := "disabled"
	if cfg.Hotkey.Enabled {
		hotkeyLine = fmt.Sprintf("%s (%s mode)", strings.Join(cfg.Hotkey.Keys, "+"), cfg.Hotkey.Mode)
	}
	active := cfg.Models.Active
	if active == "" {
		active = "none"
	}
	fmt.Println("=== wisprd ===")
	fmt.Printf("  Models:  %s (active: %s)\n", cfg.Models.Dir, active)
	fmt.Printf("  Hotkey:  %s\n", hotkeyLine)
	fmt.Printf("  Audio:   %dHz\n", cfg.Audio.SampleRate)
	fmt.Printf("  Inject:  %s\n", cfg.Inject.Method)
	fmt.Printf("  Log:     %s\n", cfg.Log.Level)
	fmt.Println("==============")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
