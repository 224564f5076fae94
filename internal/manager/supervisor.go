package manager

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/loykin/bluegreen/internal/env"
	"github.com/loykin/bluegreen/internal/metrics"
	"github.com/loykin/bluegreen/internal/process"
)

// DefaultKillWait bounds the wait after SIGKILL.
const DefaultKillWait = time.Second

// Entity is a supervised program with the sink its output goes to. Prefix
// may be nil.
type Entity struct {
	Spec   process.Spec
	Sink   io.WriteCloser
	Prefix process.PrefixFunc
}

// Supervisor exclusively owns the process handles of every entity.
// No other component signals processes directly.
type Supervisor struct {
	mu       sync.Mutex
	entities map[string]Entity
	procs    map[string]*process.Process
	env      *env.Env
	log      *slog.Logger
	killWait time.Duration
}

func NewSupervisor(e *env.Env, log *slog.Logger) *Supervisor {
	if e == nil {
		e = env.New(true)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		entities: make(map[string]Entity),
		procs:    make(map[string]*process.Process),
		env:      e,
		log:      log,
		killWait: DefaultKillWait,
	}
}

// SetKillWait overrides the bounded wait that follows SIGKILL.
func (s *Supervisor) SetKillWait(d time.Duration) {
	s.mu.Lock()
	s.killWait = d
	s.mu.Unlock()
}

func (s *Supervisor) Register(ent Entity) error {
	if err := ent.Spec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[ent.Spec.Name]; ok {
		return fmt.Errorf("entity %s already registered", ent.Spec.Name)
	}
	s.entities[ent.Spec.Name] = ent
	return nil
}

// Start spawns the entity's program and records the new handle, replacing any
// previous handle that has already exited.
func (s *Supervisor) Start(name string) (*process.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ent, ok := s.entities[name]
	if !ok {
		return nil, fmt.Errorf("unknown entity %s", name)
	}
	if cur := s.procs[name]; cur != nil && !cur.Exited() {
		return nil, fmt.Errorf("entity %s already running with pid %d", name, cur.PID())
	}
	p, err := process.Start(ent.Spec, process.Options{
		Env:    s.env.Merge(ent.Spec.Env),
		Sink:   ent.Sink,
		Prefix: ent.Prefix,
		OnExit: s.onExit,
	})
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}
	s.procs[name] = p
	metrics.IncProcessStart(name)
	s.log.Info("process started", "name", name, "pid", p.PID(), "dir", ent.Spec.WorkDir)
	return p, nil
}

func (s *Supervisor) onExit(p *process.Process, err error) {
	metrics.IncProcessExit(p.Name())
	if err != nil {
		s.log.Info("process exited", "name", p.Name(), "pid", p.PID(), "error", err)
		return
	}
	s.log.Info("process exited", "name", p.Name(), "pid", p.PID())
}

// Get returns the current handle, or nil when the entity was never started
// or has been stopped through the supervisor.
func (s *Supervisor) Get(name string) *process.Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[name]
}

// Stop gracefully shuts the entity down and forgets its handle.
func (s *Supervisor) Stop(ctx context.Context, name string, grace time.Duration) error {
	s.mu.Lock()
	p := s.procs[name]
	kw := s.killWait
	s.mu.Unlock()
	if p == nil {
		return nil
	}
	err := GracefulShutdown(ctx, p, grace, kw)
	if !p.Exited() {
		s.log.Warn("process still running after forced kill wait", "name", name, "pid", p.PID())
	}
	s.mu.Lock()
	if s.procs[name] == p {
		delete(s.procs, name)
	}
	s.mu.Unlock()
	return err
}

// GracefulShutdown sends SIGTERM to h's process group, waits up to grace,
// escalates to SIGKILL and waits at most killWait more. It never blocks
// longer than grace+killWait and treats an already-exited process as done.
func GracefulShutdown(ctx context.Context, h process.Handle, grace, killWait time.Duration) error {
	if h == nil || h.PID() <= 0 {
		return nil
	}
	if err := h.Terminate(false); err != nil {
		return fmt.Errorf("terminate pid %d: %w", h.PID(), err)
	}
	if waitExit(ctx, h, grace) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := h.Terminate(true); err != nil {
		return fmt.Errorf("kill pid %d: %w", h.PID(), err)
	}
	waitExit(ctx, h, killWait)
	return nil
}

func waitExit(ctx context.Context, h process.Handle, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-h.Done():
		return true
	case <-t.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// ShutdownAll signals every owned process group without waiting.
func (s *Supervisor) ShutdownAll() {
	s.mu.Lock()
	procs := make([]*process.Process, 0, len(s.procs))
	for _, p := range s.procs {
		procs = append(procs, p)
	}
	s.mu.Unlock()
	for _, p := range procs {
		if err := p.Terminate(false); err != nil {
			s.log.Warn("signal failed", "name", p.Name(), "pid", p.PID(), "error", err)
		}
	}
}

// Statuses reports every registered entity, including ones that are down.
func (s *Supervisor) Statuses() []process.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entities))
	for n := range s.entities {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]process.Status, 0, len(names))
	for _, n := range names {
		if p := s.procs[n]; p != nil {
			out = append(out, p.Snapshot())
			continue
		}
		out = append(out, process.Status{Name: n})
	}
	return out
}

// Close releases the entity log sinks.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ent := range s.entities {
		if ent.Sink != nil {
			_ = ent.Sink.Close()
		}
	}
	return nil
}
