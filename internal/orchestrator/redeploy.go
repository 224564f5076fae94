package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/bluegreen/internal/history"
	"github.com/loykin/bluegreen/internal/metrics"
	"github.com/loykin/bluegreen/internal/slot"
)

type RedeployResult struct {
	OK         bool      `json:"ok"`
	Redeployed slot.Slot `json:"redeployed,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

// Redeploy stops the non-active slot, runs the update pipeline in its working
// directory and starts it again. A failing step leaves the slot stopped.
// Active state and routing are never touched.
func (o *Orchestrator) Redeploy(ctx context.Context) RedeployResult {
	active, reason := o.begin(opRedeploy)
	if reason != "" {
		o.log.Info("redeploy rejected", "reason", reason)
		return RedeployResult{Reason: reason}
	}
	defer o.end()

	target := active.Other()
	id := uuid.NewString()
	log := o.log.With("op", "redeploy", "id", id, "slot", target)
	started := time.Now()

	res := o.redeploy(ctx, target)
	if res.OK {
		log.Info("redeploy finished")
	} else {
		log.Error("redeploy failed, slot left stopped", "reason", res.Reason)
	}
	metrics.IncRedeploy(target.String(), res.OK)
	o.record(ctx, history.Event{
		ID:         id,
		Kind:       history.KindRedeploy,
		Slot:       target.String(),
		OK:         res.OK,
		Reason:     res.Reason,
		StartedAt:  started,
		FinishedAt: time.Now(),
	})
	return res
}

func (o *Orchestrator) redeploy(ctx context.Context, target slot.Slot) RedeployResult {
	name := target.String()
	if err := o.sup.Stop(ctx, name, o.grace); err != nil {
		o.log.Warn("shutdown before redeploy reported an error", "slot", target, "error", err)
	}
	if err := o.runner.Run(ctx, o.slots[target].Dir, o.steps); err != nil {
		return RedeployResult{Reason: err.Error()}
	}
	if _, err := o.sup.Start(name); err != nil {
		return RedeployResult{Reason: err.Error()}
	}
	return RedeployResult{OK: true, Redeployed: target}
}
