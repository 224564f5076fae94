//go:build !windows

package process

import (
	"bytes"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitDone(t *testing.T, h Handle, d time.Duration) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(d):
		t.Fatalf("process %d did not exit within %v", h.PID(), d)
	}
}

func TestStart_CapturesLinesWithPrefix(t *testing.T) {
	var sink syncBuffer
	p, err := Start(Spec{Name: "server1", Command: "sh -c 'echo out; echo err 1>&2'"}, Options{
		Sink:   &sink,
		Prefix: func(stream string) string { return "    active: " + stream + ": " },
	})
	require.NoError(t, err)
	waitDone(t, p, 5*time.Second)

	out := sink.String()
	assert.Contains(t, out, "    active: stdout: out\n")
	assert.Contains(t, out, "    active: stderr: err\n")
	assert.False(t, p.Snapshot().Running)
	assert.Empty(t, p.Snapshot().ExitError)
}

func TestStart_UsesEnvAndWorkDir(t *testing.T) {
	dir := t.TempDir()
	var sink syncBuffer
	p, err := Start(Spec{Name: "server2", Command: "sh -c 'echo $PORT; pwd'", WorkDir: dir}, Options{
		Env:  []string{"PORT=4001", "PATH=" + os.Getenv("PATH")},
		Sink: &sink,
	})
	require.NoError(t, err)
	waitDone(t, p, 5*time.Second)
	assert.Contains(t, sink.String(), " 4001\n")
	assert.Contains(t, sink.String(), dir)
}

func TestStart_OnExitReportsError(t *testing.T) {
	got := make(chan error, 1)
	p, err := Start(Spec{Name: "x", Command: "sh -c 'exit 3'"}, Options{
		OnExit: func(_ *Process, err error) { got <- err },
	})
	require.NoError(t, err)
	waitDone(t, p, 5*time.Second)
	select {
	case e := <-got:
		assert.Error(t, e)
	case <-time.After(time.Second):
		t.Fatal("OnExit not called")
	}
	assert.Contains(t, p.Snapshot().ExitError, "exit status 3")
}

func TestTerminate_SignalsGroup(t *testing.T) {
	// the shell forks a child sleep; both belong to the new process group
	p, err := Start(Spec{Name: "proxy", Command: "sh -c 'sleep 30 & wait'"}, Options{})
	require.NoError(t, err)
	require.NoError(t, p.Terminate(false))
	waitDone(t, p, 5*time.Second)
	assert.True(t, p.Exited())
}

func TestTerminate_AfterLeaderExitReachesOrphans(t *testing.T) {
	// the leader exits at once and leaves a background sleep in its group
	p, err := Start(Spec{Name: "server1", Command: "sh -c 'sleep 30 >/dev/null 2>&1 & exit 0'"}, Options{})
	require.NoError(t, err)
	waitDone(t, p, 5*time.Second)
	require.True(t, groupAlive(p.PID()), "background child should still be running")

	require.NoError(t, p.Terminate(false))
	assert.Eventually(t, func() bool { return !groupAlive(p.PID()) }, 5*time.Second, 20*time.Millisecond)
	assert.NoError(t, p.Terminate(true))
}

func TestTerminate_AfterExitWithoutChildren(t *testing.T) {
	p, err := Start(Spec{Name: "x", Command: "true"}, Options{})
	require.NoError(t, err)
	waitDone(t, p, 5*time.Second)
	assert.NoError(t, p.Terminate(false))
	assert.NoError(t, p.Terminate(true))
}

func groupAlive(pgid int) bool {
	return syscall.Kill(-pgid, 0) == nil
}

func TestTerminate_NilHandle(t *testing.T) {
	var p *Process
	assert.NoError(t, p.Terminate(true))
	assert.Equal(t, 0, p.PID())
}

func TestSignalGroup_MissingGroupIgnored(t *testing.T) {
	p, err := Start(Spec{Name: "x", Command: "true"}, Options{})
	require.NoError(t, err)
	waitDone(t, p, 5*time.Second)
	// pid is reaped; the group no longer exists
	assert.NoError(t, signalGroup(p.PID(), false))
}

func TestConfigureSysProcAttr_SetsPgid(t *testing.T) {
	cmd := Spec{Name: "x", Command: "true"}.CommandContext(t.Context())
	configureSysProcAttr(cmd)
	require.NotNil(t, cmd.SysProcAttr)
	assert.True(t, cmd.SysProcAttr.Setpgid)
}
