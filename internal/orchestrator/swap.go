package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/loykin/bluegreen/internal/history"
	"github.com/loykin/bluegreen/internal/metrics"
	"github.com/loykin/bluegreen/internal/notify"
	"github.com/loykin/bluegreen/internal/slot"
)

// Swap and redeploy outcome reasons as reported to callers.
const (
	ReasonSwapInProgress     = "swap is already in progress"
	ReasonRedeployRunning    = "redeploy is in progress"
	ReasonSwapRunning        = "swap is in progress"
	ReasonRedeployInProgress = "redeploy is already in progress"
	ReasonNotHealthy         = "non-active is not healthy"
	ReasonBothRejected       = "both servers rejected preparation"
	ReasonTargetRejected     = "target server rejected preparation"
	ReasonActiveRejected     = "current active server rejected preparation"
	ReasonServerError        = "server error"

	WarnCompensationFailed = "compensating cancel failed"
)

type SwapResult struct {
	OK      bool      `json:"ok"`
	Active  slot.Slot `json:"active,omitempty"`
	Reason  string    `json:"reason,omitempty"`
	Warning string    `json:"warning,omitempty"`
}

// Swap hands live traffic to the non-active slot using a two-phase
// prepare/commit protocol with both peers. Active state only changes once
// both peers prepared and the routing declaration has been rewritten.
func (o *Orchestrator) Swap(ctx context.Context) (res SwapResult) {
	from, reason := o.begin(opSwap)
	if reason != "" {
		o.log.Info("swap rejected", "reason", reason)
		return SwapResult{Reason: reason}
	}
	// once claimed, the protocol runs to the end: peers must hear about a
	// commit or a rollback even if the caller has gone away
	ctx = context.WithoutCancel(ctx)
	id := uuid.NewString()
	log := o.log.With("op", "swap", "id", id)
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error("swap panicked", "panic", fmt.Sprint(r))
			res = SwapResult{Reason: ReasonServerError}
		}
		o.end()
		o.finishSwap(ctx, id, started, from, res)
	}()
	return o.swap(ctx, log, from)
}

func (o *Orchestrator) swap(ctx context.Context, log *slog.Logger, from slot.Slot) SwapResult {
	to := from.Other()
	fromURL, toURL := o.slots[from].ManageURL, o.slots[to].ManageURL
	log.Info("swap requested", "from", from, "to", to)

	if !o.notify.CheckHealth(ctx, o.slots[to].Port) {
		log.Warn("swap aborted", "reason", ReasonNotHealthy, "target", to)
		return SwapResult{Reason: ReasonNotHealthy}
	}

	var toReady, fromReady bool
	var g errgroup.Group
	g.Go(func() error { toReady = o.notify.Send(ctx, toURL, notify.PrepareActive); return nil })
	g.Go(func() error { fromReady = o.notify.Send(ctx, fromURL, notify.PrepareNonActive); return nil })
	_ = g.Wait()

	switch {
	case !toReady && !fromReady:
		log.Warn("swap aborted", "reason", ReasonBothRejected)
		return SwapResult{Reason: ReasonBothRejected}
	case !toReady:
		res := SwapResult{Reason: ReasonTargetRejected}
		if !o.notify.Send(ctx, fromURL, notify.CancelPrepareNonActive) {
			res.Warning = o.compensationFailed(log, from, notify.CancelPrepareNonActive)
		}
		log.Warn("swap aborted", "reason", res.Reason)
		return res
	case !fromReady:
		res := SwapResult{Reason: ReasonActiveRejected}
		if !o.notify.Send(ctx, toURL, notify.CancelPrepareActive) {
			res.Warning = o.compensationFailed(log, to, notify.CancelPrepareActive)
		}
		log.Warn("swap aborted", "reason", res.Reason)
		return res
	}

	if err := o.commit(from, to); err != nil {
		log.Error("routing update failed, active slot unchanged", "error", err)
		return SwapResult{Reason: ReasonServerError}
	}
	log.Info("swap committed", "active", to)

	var h errgroup.Group
	h.Go(func() error {
		if !o.notify.Send(ctx, toURL, notify.Activated) {
			log.Warn("peer notification failed", "slot", to, "signal", notify.Activated)
		}
		return nil
	})
	h.Go(func() error {
		if !o.notify.Send(ctx, fromURL, notify.Deactivated) {
			log.Warn("peer notification failed", "slot", from, "signal", notify.Deactivated)
		}
		return nil
	})
	_ = h.Wait()

	return SwapResult{OK: true, Active: to}
}

// commit flips the active slot and rewrites the routing declaration. A
// failed write restores the previous active slot.
func (o *Orchestrator) commit(from, to slot.Slot) error {
	o.mu.Lock()
	o.active = to
	o.mu.Unlock()
	if err := o.routes.Write(to); err != nil {
		o.mu.Lock()
		o.active = from
		o.mu.Unlock()
		return err
	}
	metrics.SetActive(to.String(), slot.Server1.String(), slot.Server2.String())
	return nil
}

func (o *Orchestrator) compensationFailed(log *slog.Logger, s slot.Slot, sig notify.Signal) string {
	metrics.IncCompensationFailure()
	log.Warn("compensating cancel failed", "slot", s, "signal", sig)
	return WarnCompensationFailed
}

func (o *Orchestrator) finishSwap(ctx context.Context, id string, started time.Time, from slot.Slot, res SwapResult) {
	outcome := "ok"
	if !res.OK {
		outcome = res.Reason
	}
	finished := time.Now()
	metrics.ObserveSwap(outcome, finished.Sub(started).Seconds())
	active := from
	if res.OK {
		active = res.Active
	}
	o.record(ctx, history.Event{
		ID:         id,
		Kind:       history.KindSwap,
		Slot:       active.String(),
		OK:         res.OK,
		Reason:     res.Reason,
		Warning:    res.Warning,
		StartedAt:  started,
		FinishedAt: finished,
	})
}
