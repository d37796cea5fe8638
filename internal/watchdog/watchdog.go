// Package watchdog periodically sweeps the request store, closing idle
// requests and reminding the operator pool of unclaimed ones.
package watchdog

import (
	"context"
	"log/slog"
	"time"

	"github.com/user/switchboard/internal/directory"
	"github.com/user/switchboard/internal/engine"
	"github.com/user/switchboard/internal/locale"
	"github.com/user/switchboard/internal/store"
	"github.com/user/switchboard/internal/types"
)

type Watchdog struct {
	store      *store.RequestStore
	engine     *engine.Engine
	dir        *directory.Directory
	transport  types.Transport
	opLang     string
	idle       time.Duration
	escalation time.Duration
	interval   time.Duration
}

func New(st *store.RequestStore, eng *engine.Engine, dir *directory.Directory, transport types.Transport, operatorLanguage string, idle, escalation, interval time.Duration) *Watchdog {
	return &Watchdog{
		store:      st,
		engine:     eng,
		dir:        dir,
		transport:  transport,
		opLang:     operatorLanguage,
		idle:       idle,
		escalation: escalation,
		interval:   interval,
	}
}

// Start runs the sweep loop until the context is cancelled.
func (w *Watchdog) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	slog.Info("watchdog started",
		"interval", w.interval, "idle_timeout", w.idle, "escalation", w.escalation)
	for {
		select {
		case <-ticker.C:
			w.Sweep(ctx, time.Now())
		case <-ctx.Done():
			return
		}
	}
}

// Sweep inspects a stable snapshot of request ids taken at sweep start, so
// concurrent engine mutation of the store cannot disturb the iteration.
// Individual finalization failures log and the sweep continues.
func (w *Watchdog) Sweep(ctx context.Context, now time.Time) {
	for _, id := range w.store.IDs() {
		req, err := w.store.Get(id)
		if err != nil {
			continue // closed between snapshot and inspection
		}

		if now.Sub(req.LastActivityAt) > w.idle {
			slog.Info("closing idle request",
				"request_id", string(id), "idle", now.Sub(req.LastActivityAt))
			if err := w.engine.Close(ctx, id, types.InitiatorSystem); err != nil {
				slog.Error("idle close failed", "request_id", string(id), "error", err)
			}
			continue
		}

		if req.Status == types.StatusPending && now.Sub(req.EscalatedAt) > w.escalation {
			w.remind(ctx, id)
			if err := w.store.MarkEscalated(id, now); err != nil && err != store.ErrNotFound {
				slog.Warn("escalation bookkeeping failed", "request_id", string(id), "error", err)
			}
		}
	}
}

// remind sends a plain reminder to the pool without creating a new
// notification ref; the original fan-out message stays the claim surface.
func (w *Watchdog) remind(ctx context.Context, id types.RequestID) {
	text := locale.T(w.opLang, "pending_reminder")
	for _, opID := range w.dir.Recipients() {
		if _, err := w.transport.Deliver(ctx, int64(opID), types.Content{Text: text}); err != nil {
			slog.Warn("reminder delivery failed",
				"operator", int64(opID), "request_id", string(id), "error", err)
		}
	}
	slog.Info("escalated unclaimed request", "request_id", string(id))
}
