// Package engine implements the decision loop: for every terminal
// heartbeat it advances the per-side state machines and answers with
// exactly one action.
//
// All state mutation happens on a single goroutine. HTTP handlers submit
// typed requests over channels and block on a reply channel, so a tick, a
// settings update and a control command can never interleave mid-decision.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"elastic-dca/internal/journal"
	"elastic-dca/internal/notify"
	"elastic-dca/internal/state"
	"elastic-dca/internal/store"
	"elastic-dca/pkg/types"
)

// Event is a push notification for dashboard clients.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// Config carries the engine tunables.
type Config struct {
	Symbol      string
	GracePeriod time.Duration
	HistorySize int
}

type tickRequest struct {
	tick  types.Tick
	reply chan types.ActionResponse
}

type settingsRequest struct {
	settings state.UserSettings
	reply    chan error
}

type controlRequest struct {
	cmd   types.ControlCommand
	reply chan error
}

type snapshotRequest struct {
	reply chan *state.State
}

// Engine owns the state aggregate and serializes every mutation.
type Engine struct {
	cfg      Config
	st       *state.State
	store    *store.Store
	journal  *journal.Journal
	notifier *notify.Notifier
	logger   *slog.Logger

	tickCh     chan tickRequest
	settingsCh chan settingsRequest
	controlCh  chan controlRequest
	snapshotCh chan snapshotRequest

	events chan Event

	// now is swapped out by tests to drive the sync-shield clock.
	now func() time.Time
}

// New builds an engine around a previously loaded state. loadWarning, when
// non-empty, is latched as the initial error status so the operator sees
// that the engine started from a fresh state.
func New(cfg Config, st *state.State, s *store.Store, j *journal.Journal, n *notify.Notifier, logger *slog.Logger, loadWarning string) *Engine {
	if loadWarning != "" {
		st.Runtime.ErrorStatus = loadWarning
	}
	return &Engine{
		cfg:        cfg,
		st:         st,
		store:      s,
		journal:    j,
		notifier:   n,
		logger:     logger.With("component", "engine"),
		tickCh:     make(chan tickRequest),
		settingsCh: make(chan settingsRequest),
		controlCh:  make(chan controlRequest),
		snapshotCh: make(chan snapshotRequest),
		events:     make(chan Event, 64),
		now:        time.Now,
	}
}

// Events exposes the dashboard push stream.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// Run processes requests until ctx is cancelled, then persists one final
// snapshot.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("engine started",
		"symbol", e.cfg.Symbol,
		"grace_period", e.cfg.GracePeriod,
	)
	for {
		select {
		case <-ctx.Done():
			e.persist()
			e.logger.Info("engine stopped")
			return

		case req := <-e.tickCh:
			resp := e.applyTick(req.tick)
			e.persist()
			req.reply <- resp

		case req := <-e.settingsCh:
			err := e.applySettings(req.settings)
			if err == nil {
				e.persist()
			}
			req.reply <- err

		case req := <-e.controlCh:
			e.applyControl(req.cmd)
			e.persist()
			req.reply <- nil

		case req := <-e.snapshotCh:
			req.reply <- e.st.Clone()
		}
	}
}

// ProcessTick submits a heartbeat and waits for the decision.
func (e *Engine) ProcessTick(ctx context.Context, tick types.Tick) (types.ActionResponse, error) {
	req := tickRequest{tick: tick, reply: make(chan types.ActionResponse, 1)}
	select {
	case e.tickCh <- req:
	case <-ctx.Done():
		return types.ActionResponse{}, ctx.Err()
	}
	select {
	case resp := <-req.reply:
		return resp, nil
	case <-ctx.Done():
		return types.ActionResponse{}, ctx.Err()
	}
}

// UpdateSettings validates and commits a settings replacement.
func (e *Engine) UpdateSettings(ctx context.Context, settings state.UserSettings) error {
	req := settingsRequest{settings: settings, reply: make(chan error, 1)}
	select {
	case e.settingsCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ApplyControl applies operator switches and the emergency close.
func (e *Engine) ApplyControl(ctx context.Context, cmd types.ControlCommand) error {
	req := controlRequest{cmd: cmd, reply: make(chan error, 1)}
	select {
	case e.controlCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a deep copy of the current state for read-only use.
func (e *Engine) Snapshot(ctx context.Context) (*state.State, error) {
	req := snapshotRequest{reply: make(chan *state.State, 1)}
	select {
	case e.snapshotCh <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case st := <-req.reply:
		return st, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// persist writes the state snapshot. A save failure is latched into the
// error status so the operator sees it; the latch clears on the next
// successful save unless a stronger fault already occupies the slot.
func (e *Engine) persist() {
	if err := e.store.Save(e.st.Clone()); err != nil {
		e.logger.Error("state save failed", "error", err)
		if e.st.Runtime.ErrorStatus == "" {
			e.st.Runtime.ErrorStatus = fmt.Sprintf("state save failed: %v", err)
		}
		return
	}
	if strings.HasPrefix(e.st.Runtime.ErrorStatus, "state save failed") {
		e.st.Runtime.ErrorStatus = ""
	}
}

// emitEvent pushes to the dashboard stream without ever blocking the loop.
func (e *Engine) emitEvent(typ string, data any) {
	ev := Event{Type: typ, Timestamp: e.now(), Data: data}
	select {
	case e.events <- ev:
	default:
	}
}

func (e *Engine) nowUnix() float64 {
	return float64(e.now().UnixNano()) / float64(time.Second)
}

func (e *Engine) grace() float64 {
	return e.cfg.GracePeriod.Seconds()
}
