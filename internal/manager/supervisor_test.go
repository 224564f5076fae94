package manager

import (
	"bytes"
	"context"
	"io"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loykin/bluegreen/internal/env"
	"github.com/loykin/bluegreen/internal/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHandle simulates a process that exits on SIGTERM and/or SIGKILL.
type fakeHandle struct {
	pid        int
	exitOnTerm bool
	exitOnKill bool

	mu      sync.Mutex
	signals []bool // forced flag per Terminate call
	done    chan struct{}
	closed  bool
}

func newFake(pid int, exitOnTerm, exitOnKill bool) *fakeHandle {
	return &fakeHandle{pid: pid, exitOnTerm: exitOnTerm, exitOnKill: exitOnKill, done: make(chan struct{})}
}

func (f *fakeHandle) PID() int              { return f.pid }
func (f *fakeHandle) Done() <-chan struct{} { return f.done }

func (f *fakeHandle) Terminate(forced bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, forced)
	if (forced && f.exitOnKill) || (!forced && f.exitOnTerm) {
		if !f.closed {
			close(f.done)
			f.closed = true
		}
	}
	return nil
}

func (f *fakeHandle) sent() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.signals...)
}

func TestGracefulShutdown_ExitsOnTerm(t *testing.T) {
	h := newFake(100, true, true)
	require.NoError(t, GracefulShutdown(context.Background(), h, time.Second, time.Second))
	assert.Equal(t, []bool{false}, h.sent())
}

func TestGracefulShutdown_EscalatesToKill(t *testing.T) {
	h := newFake(100, false, true)
	start := time.Now()
	require.NoError(t, GracefulShutdown(context.Background(), h, 50*time.Millisecond, time.Second))
	assert.Equal(t, []bool{false, true}, h.sent())
	assert.Less(t, time.Since(start), time.Second)
}

func TestGracefulShutdown_BoundedWhenUnresponsive(t *testing.T) {
	h := newFake(100, false, false)
	start := time.Now()
	require.NoError(t, GracefulShutdown(context.Background(), h, 30*time.Millisecond, 30*time.Millisecond))
	assert.Equal(t, []bool{false, true}, h.sent())
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestGracefulShutdown_NoPIDIsNoop(t *testing.T) {
	h := newFake(0, true, true)
	require.NoError(t, GracefulShutdown(context.Background(), h, time.Second, time.Second))
	assert.Empty(t, h.sent())
	require.NoError(t, GracefulShutdown(context.Background(), nil, time.Second, time.Second))
}

func TestGracefulShutdown_ContextCancelled(t *testing.T) {
	h := newFake(100, false, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := GracefulShutdown(ctx, h, time.Second, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []bool{false}, h.sent())
}

type bufSink struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *bufSink) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}
func (b *bufSink) Close() error { return nil }
func (b *bufSink) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

var _ io.WriteCloser = (*bufSink)(nil)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like shell and process groups")
	}
}

func TestSupervisor_StartStopLifecycle(t *testing.T) {
	requireUnix(t)
	s := NewSupervisor(env.New(true), nil)
	sink := &bufSink{}
	require.NoError(t, s.Register(Entity{
		Spec:   process.Spec{Name: "server1", Command: "sh -c 'echo started; exec sleep 30'"},
		Sink:   sink,
		Prefix: func(stream string) string { return "    active: " + stream + ": " },
	}))

	p, err := s.Start("server1")
	require.NoError(t, err)
	assert.Same(t, p, s.Get("server1"))

	_, err = s.Start("server1")
	assert.ErrorContains(t, err, "already running")

	require.Eventually(t, func() bool {
		return strings.Contains(sink.String(), "    active: stdout: started")
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, s.Stop(context.Background(), "server1", 2*time.Second))
	assert.True(t, p.Exited())
	assert.Nil(t, s.Get("server1"))

	sts := s.Statuses()
	require.Len(t, sts, 1)
	assert.Equal(t, "server1", sts[0].Name)
	assert.False(t, sts[0].Running)
}

func TestSupervisor_StopEscalatesOnIgnoredTerm(t *testing.T) {
	requireUnix(t)
	s := NewSupervisor(env.New(true), nil)
	s.SetKillWait(2 * time.Second)
	require.NoError(t, s.Register(Entity{
		Spec: process.Spec{Name: "stubborn", Command: `sh -c 'trap "" TERM; echo ready; while true; do sleep 0.1; done'`},
		Sink: &bufSink{},
	}))
	p, err := s.Start("stubborn")
	require.NoError(t, err)
	time.Sleep(200 * time.Millisecond)

	start := time.Now()
	require.NoError(t, s.Stop(context.Background(), "stubborn", 100*time.Millisecond))
	assert.True(t, p.Exited())
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestSupervisor_StopUnknownOrDownIsNoop(t *testing.T) {
	s := NewSupervisor(env.New(false), nil)
	assert.NoError(t, s.Stop(context.Background(), "server2", time.Second))
}

func TestSupervisor_RegisterValidates(t *testing.T) {
	s := NewSupervisor(env.New(false), nil)
	assert.Error(t, s.Register(Entity{Spec: process.Spec{Name: "x"}}))
	require.NoError(t, s.Register(Entity{Spec: process.Spec{Name: "x", Command: "true"}}))
	assert.ErrorContains(t, s.Register(Entity{Spec: process.Spec{Name: "x", Command: "true"}}), "already registered")
	_, err := s.Start("nope")
	assert.ErrorContains(t, err, "unknown entity")
}

func TestSupervisor_ShutdownAllDoesNotWait(t *testing.T) {
	requireUnix(t)
	s := NewSupervisor(env.New(true), nil)
	for _, n := range []string{"proxy", "server1", "server2"} {
		require.NoError(t, s.Register(Entity{Spec: process.Spec{Name: n, Command: "sleep 30"}, Sink: &bufSink{}}))
		_, err := s.Start(n)
		require.NoError(t, err)
	}
	start := time.Now()
	s.ShutdownAll()
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	for _, n := range []string{"proxy", "server1", "server2"} {
		p := s.Get(n)
		select {
		case <-p.Done():
		case <-time.After(5 * time.Second):
			t.Fatalf("%s did not exit after ShutdownAll", n)
		}
	}
}
