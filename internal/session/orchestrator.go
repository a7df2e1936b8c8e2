package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sebsto/wispr/internal/fsm"
	"github.com/sebsto/wispr/internal/model"
)

// DefaultErrorResetAfter bounds how long the orchestrator may sit in the
// error state before returning to idle on its own.
const DefaultErrorResetAfter = 5 * time.Second

// Config wires the orchestrator's collaborators. Capture, Transcriber,
// Inserter, Gate and Settings are required.
type Config struct {
	Capture     CaptureEngine
	Transcriber Transcriber
	Inserter    Inserter
	Gate        Gate
	Settings    SettingsSource
	// Models, when set, activates the model named by the session settings
	// at session start.
	Models ModelSelector
	// Notifier is optional; nil disables toasts.
	Notifier Notifier
	// ErrorResetAfter overrides DefaultErrorResetAfter. Tests shorten it.
	ErrorResetAfter time.Duration
	Log             *slog.Logger
}

type cmdKind int

const (
	cmdBegin cmdKind = iota
	cmdEnd
	cmdCancel
	cmdFail
)

type command struct {
	kind cmdKind
	msg  string
}

type evKind int

const (
	evCaptureFailed evKind = iota
	evProcessed
	evProcessedEmpty
	evProcessFailed
	evWatchdog
)

// event is an asynchronous outcome reported back to the worker. The epoch
// stamps which state generation produced it; the worker drops events from
// generations that have since moved on.
type event struct {
	kind      evKind
	epoch     uint64
	err       error
	text      string
	insertErr error
}

// Orchestrator owns the recording session lifecycle. One worker goroutine
// holds all mutable state; Begin, End, Cancel and Fail post commands and
// return immediately. Outcomes are observable through State and Updates.
type Orchestrator struct {
	cfg   Config
	log   *slog.Logger
	reset time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	cmds   chan command
	events chan event
	hub    *hub
	wg     sync.WaitGroup

	// mirror of the worker's state for cheap reads
	state atomic.Value

	closeOnce sync.Once

	// worker-owned; the worker goroutine is the only reader and writer
	w struct {
		state    fsm.State
		epoch    uint64
		sess     *Session
		sctx     context.Context
		scancel  context.CancelFunc
		watchdog *time.Timer
	}
}

// New starts the orchestrator worker. Close releases it.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Capture == nil || cfg.Transcriber == nil || cfg.Inserter == nil ||
		cfg.Gate == nil || cfg.Settings == nil {
		return nil, fmt.Errorf("capture, transcriber, inserter, gate and settings are all required")
	}
	if cfg.ErrorResetAfter <= 0 {
		cfg.ErrorResetAfter = DefaultErrorResetAfter
	}
	log := cfg.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:    cfg,
		log:    log,
		reset:  cfg.ErrorResetAfter,
		ctx:    ctx,
		cancel: cancel,
		cmds:   make(chan command, 8),
		events: make(chan event, 16),
		hub:    newHub(),
	}
	o.w.state = fsm.StateIdle
	o.state.Store(fsm.StateIdle)

	o.wg.Add(1)
	go o.worker()
	return o, nil
}

// State reports the current session state.
func (o *Orchestrator) State() fsm.State {
	return o.state.Load().(fsm.State)
}

// Updates subscribes to state changes. The subscriber immediately receives
// the latest change; call the returned func to unsubscribe.
func (o *Orchestrator) Updates() (<-chan StateChange, func()) {
	return o.hub.subscribe(8)
}

// Begin starts a new recording session. No-op unless idle, so a bouncing
// hotkey cannot start two sessions.
func (o *Orchestrator) Begin() { o.post(command{kind: cmdBegin}) }

// End stops capture and hands the recording to transcription. No-op unless
// recording.
func (o *Orchestrator) End() { o.post(command{kind: cmdEnd}) }

// Cancel abandons the in-flight recording without transcribing it. No-op
// unless recording.
func (o *Orchestrator) Cancel() { o.post(command{kind: cmdCancel}) }

// Fail forces the error state, for collaborators that detect trouble out
// of band.
func (o *Orchestrator) Fail(msg string) { o.post(command{kind: cmdFail, msg: msg}) }

// Close cancels in-flight session work, stops the worker, and closes the
// update hub.
func (o *Orchestrator) Close() error {
	o.closeOnce.Do(func() {
		o.cancel()
		o.wg.Wait()
		o.hub.close()
	})
	return nil
}

func (o *Orchestrator) post(cmd command) {
	select {
	case o.cmds <- cmd:
	case <-o.ctx.Done():
	}
}

func (o *Orchestrator) postEvent(ev event) {
	select {
	case o.events <- ev:
	case <-o.ctx.Done():
	}
}

func (o *Orchestrator) worker() {
	defer o.wg.Done()
	for {
		select {
		case <-o.ctx.Done():
			o.shutdown()
			return
		case cmd := <-o.cmds:
			o.handleCommand(cmd)
		case ev := <-o.events:
			o.handleEvent(ev)
		}
	}
}

func (o *Orchestrator) handleCommand(cmd command) {
	switch cmd.kind {
	case cmdBegin:
		o.begin()
	case cmdEnd:
		o.endRecording()
	case cmdCancel:
		o.cancelRecording()
	case cmdFail:
		o.toError(cmd.msg)
	}
}

func (o *Orchestrator) handleEvent(ev event) {
	if ev.epoch != o.w.epoch {
		o.log.Debug("dropping stale event", "epoch", ev.epoch, "current", o.w.epoch)
		return
	}
	switch ev.kind {
	case evCaptureFailed:
		o.toError(fmt.Sprintf("audio capture aborted: %v", ev.err))
	case evProcessFailed:
		o.toError(fmt.Sprintf("transcription failed: %v", ev.err))
	case evProcessedEmpty:
		id := o.sessionID()
		o.clearSession()
		o.log.Info("nothing transcribed", "session", id)
		o.notify("nothing heard", "no speech was detected in the recording")
		o.transition(fsm.EventProcessed, StateChange{SessionID: id})
	case evProcessed:
		if ev.insertErr != nil {
			o.log.Warn("insertion failed", "error", ev.insertErr)
			o.notify("insertion failed", "the transcription could not be typed into the focused app")
		}
		id := o.sessionID()
		o.clearSession()
		o.transition(fsm.EventProcessed, StateChange{SessionID: id, Text: ev.text})
	case evWatchdog:
		o.w.watchdog = nil
		o.transition(fsm.EventReset, StateChange{})
	}
}

// begin runs the session preamble: settings snapshot, permission gate,
// model activation, capture start.
func (o *Orchestrator) begin() {
	if o.w.state != fsm.StateIdle {
		o.log.Debug("begin ignored", "state", o.w.state)
		return
	}

	settings := o.cfg.Settings.Snapshot()

	if !o.cfg.Gate.MicrophoneAllowed() {
		o.toError(ErrMicrophonePermission.Error())
		return
	}
	if !o.cfg.Gate.InsertionAllowed() {
		o.toError(ErrInsertionPermission.Error())
		return
	}

	sctx, scancel := context.WithCancel(o.ctx)

	if o.cfg.Models != nil && settings.Model != "" {
		if err := o.cfg.Models.EnsureActive(sctx, settings.Model); err != nil {
			scancel()
			o.toError(fmt.Sprintf("activating model %s: %v", settings.Model, err))
			return
		}
	}
	if settings.Device != "" {
		if err := o.cfg.Capture.UseDevice(settings.Device); err != nil {
			o.log.Warn("preferred device unavailable, using default",
				"device", settings.Device, "error", err)
		}
	}

	levels, failures, err := o.cfg.Capture.Start()
	if err != nil {
		scancel()
		o.toError(fmt.Sprintf("starting capture: %v", err))
		return
	}

	o.w.sess = &Session{ID: uuid.NewString(), StartedAt: time.Now(), Settings: settings}
	o.w.sctx = sctx
	o.w.scancel = scancel

	o.transition(fsm.EventBegin, StateChange{Levels: levels})

	// surface device loss while this session generation is live
	epoch := o.w.epoch
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		select {
		case err, ok := <-failures:
			if ok {
				o.postEvent(event{kind: evCaptureFailed, epoch: epoch, err: err})
			}
		case <-sctx.Done():
		}
	}()
}

// endRecording flips to processing and runs stop, transcribe and insert in
// a session task so the worker stays responsive.
func (o *Orchestrator) endRecording() {
	if o.w.state != fsm.StateRecording {
		o.log.Debug("end ignored", "state", o.w.state)
		return
	}

	o.transition(fsm.EventStop, StateChange{})

	epoch := o.w.epoch
	sctx := o.w.sctx
	mode := o.w.sess.Settings.Language

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		buf := o.cfg.Capture.Stop()
		res, err := o.cfg.Transcriber.Transcribe(sctx, buf, mode)
		switch {
		case errors.Is(err, model.ErrEmptyTranscription):
			o.postEvent(event{kind: evProcessedEmpty, epoch: epoch})
		case err != nil:
			o.postEvent(event{kind: evProcessFailed, epoch: epoch, err: err})
		default:
			insErr := o.cfg.Inserter.Insert(sctx, res.Text)
			o.postEvent(event{kind: evProcessed, epoch: epoch, text: res.Text, insertErr: insErr})
		}
	}()
}

func (o *Orchestrator) cancelRecording() {
	if o.w.state != fsm.StateRecording {
		o.log.Debug("cancel ignored", "state", o.w.state)
		return
	}
	id := o.sessionID()
	o.cfg.Capture.Cancel()
	o.clearSession()
	o.log.Info("recording cancelled", "session", id)
	o.transition(fsm.EventCancel, StateChange{SessionID: id})
}

// toError tears down session work, enters the error state, and arms the
// watchdog that brings the machine back to idle.
func (o *Orchestrator) toError(msg string) {
	if o.w.state == fsm.StateRecording {
		o.cfg.Capture.Cancel()
	}
	id := o.sessionID()
	o.clearSession()
	if !o.transition(fsm.EventFail, StateChange{SessionID: id, Message: msg}) {
		return
	}
	o.log.Warn("session failed", "session", id, "reason", msg)
	o.notify("recording error", msg)

	epoch := o.w.epoch
	o.w.watchdog = time.AfterFunc(o.reset, func() {
		o.postEvent(event{kind: evWatchdog, epoch: epoch})
	})
}

// transition applies ev to the worker state, bumps the epoch so outstanding
// async work from the previous state is ignored, and publishes the change.
func (o *Orchestrator) transition(ev fsm.Event, change StateChange) bool {
	next, err := fsm.Transition(o.w.state, ev)
	if err != nil {
		o.log.Debug("transition rejected", "from", o.w.state, "event", ev)
		return false
	}
	o.w.state = next
	o.w.epoch++

	change.State = next
	if change.At.IsZero() {
		change.At = time.Now()
	}
	if change.SessionID == "" && o.w.sess != nil {
		change.SessionID = o.w.sess.ID
	}
	// publish before the atomic mirror so anyone who just observed the new
	// state via State() already finds the change in their subscription
	o.hub.publish(change)
	o.state.Store(next)
	o.log.Info("session state", "state", next, "session", change.SessionID)
	return true
}

func (o *Orchestrator) sessionID() string {
	if o.w.sess == nil {
		return ""
	}
	return o.w.sess.ID
}

func (o *Orchestrator) clearSession() {
	if o.w.scancel != nil {
		o.w.scancel()
	}
	o.w.sess = nil
	o.w.sctx = nil
	o.w.scancel = nil
}

func (o *Orchestrator) notify(title, msg string) {
	if o.cfg.Notifier == nil {
		return
	}
	o.cfg.Notifier.Notify(title, msg)
}

func (o *Orchestrator) shutdown() {
	if o.w.watchdog != nil {
		o.w.watchdog.Stop()
		o.w.watchdog = nil
	}
	if o.w.state == fsm.StateRecording {
		o.cfg.Capture.Cancel()
	}
	o.clearSession()
}
