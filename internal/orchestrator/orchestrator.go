// Package orchestrator holds the active-slot state and drives the two
// operations that change the deployment: Swap, which hands live traffic to
// the other slot, and Redeploy, which rebuilds the slot that is not serving.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loykin/bluegreen/internal/history"
	"github.com/loykin/bluegreen/internal/notify"
	"github.com/loykin/bluegreen/internal/pipeline"
	"github.com/loykin/bluegreen/internal/process"
	"github.com/loykin/bluegreen/internal/slot"
)

// DefaultGrace is how long a slot gets to exit after SIGTERM during redeploy.
const DefaultGrace = 5 * time.Second

// Supervisor is the part of manager.Supervisor the orchestrator needs.
type Supervisor interface {
	Start(name string) (*process.Process, error)
	Stop(ctx context.Context, name string, grace time.Duration) error
}

// RouteWriter persists the routing declaration for an active slot.
type RouteWriter interface {
	Write(active slot.Slot) error
}

// StepRunner runs the redeploy steps in a working directory.
type StepRunner interface {
	Run(ctx context.Context, dir string, steps []pipeline.Step) error
}

// SlotConfig is the fixed wiring of one slot.
type SlotConfig struct {
	Port      int
	ManageURL string // peer-control base URL
	Dir       string // working directory for the redeploy steps
}

type Options struct {
	Slots      map[slot.Slot]SlotConfig
	Initial    slot.Slot // defaults to server1
	Grace      time.Duration
	Steps      []pipeline.Step // defaults to pipeline.DefaultSteps()
	Notify     *notify.Client
	Routes     RouteWriter
	Supervisor Supervisor
	Runner     StepRunner
	History    []history.Sink
	Log        *slog.Logger
}

type op int

const (
	opNone op = iota
	opSwap
	opRedeploy
)

// Orchestrator is safe for concurrent use. At most one swap or redeploy runs
// at a time; status reads are never blocked by either.
type Orchestrator struct {
	mu     sync.Mutex
	active slot.Slot
	busy   op

	slots  map[slot.Slot]SlotConfig
	grace  time.Duration
	steps  []pipeline.Step
	notify *notify.Client
	routes RouteWriter
	sup    Supervisor
	runner StepRunner
	sinks  []history.Sink
	log    *slog.Logger
}

func New(o Options) (*Orchestrator, error) {
	if o.Notify == nil || o.Routes == nil || o.Supervisor == nil || o.Runner == nil {
		return nil, errors.New("orchestrator: notify, routes, supervisor and runner are required")
	}
	for _, s := range slot.All() {
		if _, ok := o.Slots[s]; !ok {
			return nil, errors.New("orchestrator: missing configuration for " + s.String())
		}
	}
	if o.Initial == "" {
		o.Initial = slot.Server1
	}
	if !o.Initial.Valid() {
		return nil, slot.ErrUnknownSlot
	}
	if o.Grace <= 0 {
		o.Grace = DefaultGrace
	}
	if o.Steps == nil {
		o.Steps = pipeline.DefaultSteps()
	}
	if err := pipeline.ValidateSteps(o.Steps); err != nil {
		return nil, err
	}
	if o.Log == nil {
		o.Log = slog.Default()
	}
	return &Orchestrator{
		active: o.Initial,
		slots:  o.Slots,
		grace:  o.Grace,
		steps:  o.Steps,
		notify: o.Notify,
		routes: o.Routes,
		sup:    o.Supervisor,
		runner: o.Runner,
		sinks:  o.History,
		log:    o.Log,
	}, nil
}

func (o *Orchestrator) Active() slot.Slot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

func (o *Orchestrator) NonActive() slot.Slot { return o.Active().Other() }

// RolePrefix returns the capture prefix for s. The role is looked up for
// every line, so output written after a swap carries the new role.
func (o *Orchestrator) RolePrefix(s slot.Slot) process.PrefixFunc {
	return func(stream string) string {
		role := "non-active: "
		if o.Active() == s {
			role = "    active: "
		}
		return role + stream + ": "
	}
}

// Status is the health of both slots plus the current assignment.
type Status struct {
	Server1   bool      `json:"server1"`
	Server2   bool      `json:"server2"`
	Active    slot.Slot `json:"active"`
	NonActive slot.Slot `json:"non-active"`
}

// Status probes both slots concurrently. It never changes state.
func (o *Orchestrator) Status(ctx context.Context) Status {
	var h1, h2 bool
	var g errgroup.Group
	g.Go(func() error { h1 = o.notify.CheckHealth(ctx, o.slots[slot.Server1].Port); return nil })
	g.Go(func() error { h2 = o.notify.CheckHealth(ctx, o.slots[slot.Server2].Port); return nil })
	_ = g.Wait()
	active := o.Active()
	return Status{Server1: h1, Server2: h2, Active: active, NonActive: active.Other()}
}

// begin claims the single operation slot or returns the rejection reason.
func (o *Orchestrator) begin(want op) (slot.Slot, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch o.busy {
	case opNone:
		o.busy = want
		return o.active, ""
	case opSwap:
		if want == opSwap {
			return "", ReasonSwapInProgress
		}
		return "", ReasonSwapRunning
	default:
		if want == opRedeploy {
			return "", ReasonRedeployInProgress
		}
		return "", ReasonRedeployRunning
	}
}

func (o *Orchestrator) end() {
	o.mu.Lock()
	o.busy = opNone
	o.mu.Unlock()
}

func (o *Orchestrator) record(ctx context.Context, e history.Event) {
	for _, s := range o.sinks {
		if err := s.Send(ctx, e); err != nil {
			o.log.Warn("history sink failed", "kind", e.Kind, "id", e.ID, "error", err)
		}
	}
}
