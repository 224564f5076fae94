package process

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/loykin/bluegreen/internal/logger"
)

// waitDelay bounds how long Wait keeps draining stdout/stderr after the
// child exited, in case a grandchild still holds the pipes open.
const waitDelay = 2 * time.Second

// Handle is the signalling capability the supervisor needs from a process.
type Handle interface {
	PID() int
	// Terminate signals the whole process group; forced selects SIGKILL over SIGTERM.
	Terminate(forced bool) error
	// Done is closed once the process has exited and been reaped.
	Done() <-chan struct{}
}

// PrefixFunc returns the text placed before each captured line of stream
// ("stdout" or "stderr"). It is called once per line.
type PrefixFunc func(stream string) string

type Options struct {
	Env    []string  // full environment; nil inherits the manager's
	Sink   io.Writer // destination of captured output lines
	Prefix PrefixFunc
	// OnExit runs in the reaping goroutine after Done is closed.
	OnExit func(p *Process, err error)
}

// Process owns one running child started in its own process group.
type Process struct {
	name      string
	pid       int
	startedAt time.Time
	done      chan struct{}

	mu        sync.Mutex
	exited    bool
	exitErr   error
	stoppedAt time.Time
}

// Start launches spec with stdin discarded and stdout/stderr captured line by line.
func Start(spec Spec, opts Options) (*Process, error) {
	cmd := spec.CommandContext(context.Background())
	if opts.Env != nil {
		cmd.Env = opts.Env
	}
	configureSysProcAttr(cmd)
	cmd.WaitDelay = waitDelay

	sink := opts.Sink
	if sink == nil {
		sink = io.Discard
	}
	stdout := logger.NewLineWriter(sink, streamPrefix(opts.Prefix, "stdout"))
	stderr := logger.NewLineWriter(sink, streamPrefix(opts.Prefix, "stderr"))
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p := &Process{
		name:      spec.Name,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	go func() {
		err := cmd.Wait()
		_ = stdout.Flush()
		_ = stderr.Flush()
		p.mu.Lock()
		p.exited = true
		p.exitErr = err
		p.stoppedAt = time.Now()
		p.mu.Unlock()
		close(p.done)
		if opts.OnExit != nil {
			opts.OnExit(p, err)
		}
	}()
	return p, nil
}

func streamPrefix(f PrefixFunc, stream string) func() string {
	if f == nil {
		return nil
	}
	return func() string { return f(stream) }
}

func (p *Process) Name() string { return p.name }

func (p *Process) PID() int {
	if p == nil {
		return 0
	}
	return p.pid
}

func (p *Process) Done() <-chan struct{} { return p.done }

// Exited reports whether the process has been reaped.
func (p *Process) Exited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}

// Terminate signals the process group. The group is signalled even after
// the leader was reaped so that children it left behind are caught; a
// group that no longer exists is not an error.
func (p *Process) Terminate(forced bool) error {
	if p == nil || p.pid <= 0 {
		return nil
	}
	return signalGroup(p.pid, forced)
}

func (p *Process) Snapshot() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := Status{
		Name:      p.name,
		PID:       p.pid,
		Running:   !p.exited,
		StartedAt: p.startedAt,
		StoppedAt: p.stoppedAt,
	}
	if p.exitErr != nil {
		st.ExitError = p.exitErr.Error()
	}
	return st
}
