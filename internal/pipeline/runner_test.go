package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like shell")
	}
}

func TestRun_AllSucceedInDir(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	var out bytes.Buffer
	r := &Runner{Out: &out}
	err := r.Run(context.Background(), dir, []Step{
		{Name: "update", Command: "sh -c 'echo pulled; touch updated'"},
		{Name: "build", Command: "sh -c 'echo built 1>&2'"},
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "pulled")
	assert.Contains(t, out.String(), "built")
	_, statErr := os.Stat(filepath.Join(dir, "updated"))
	assert.NoError(t, statErr, "step must run in the slot directory")
}

func TestRun_StopsAtFirstFailure(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	r := &Runner{}
	err := r.Run(context.Background(), dir, []Step{
		{Name: "update", Command: "true"},
		{Name: "install", Command: "sh -c 'exit 7'"},
		{Name: "build", Command: "touch built"},
	})
	var ee *ExitError
	require.True(t, errors.As(err, &ee), "expected ExitError, got %v", err)
	assert.Equal(t, "install", ee.Step)
	assert.Equal(t, 7, ee.Code)
	assert.Equal(t, "sh -c 'exit 7' exited with code 7", err.Error())

	_, statErr := os.Stat(filepath.Join(dir, "built"))
	assert.True(t, os.IsNotExist(statErr), "steps after a failure must not run")
}

func TestRun_MissingBinary(t *testing.T) {
	err := (&Runner{}).Run(context.Background(), t.TempDir(), []Step{
		{Name: "update", Command: "definitely-not-a-real-binary-xyz"},
	})
	require.Error(t, err)
	var ee *ExitError
	assert.False(t, errors.As(err, &ee))
	assert.Contains(t, err.Error(), "definitely-not-a-real-binary-xyz")
}

func TestRun_StepTimeout(t *testing.T) {
	requireUnix(t)
	start := time.Now()
	err := (&Runner{}).Run(context.Background(), t.TempDir(), []Step{
		{Name: "test", Command: "sleep 5", Timeout: 100 * time.Millisecond},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestValidateSteps(t *testing.T) {
	require.NoError(t, ValidateSteps(DefaultSteps()))
	assert.ErrorContains(t, ValidateSteps([]Step{{Name: "a", Command: "x"}, {Name: "a", Command: "y"}}), "duplicate")
	assert.ErrorContains(t, ValidateSteps([]Step{{Name: "bad name", Command: "x"}}), "invalid characters")
	assert.ErrorContains(t, ValidateSteps([]Step{{Name: "a"}}), "requires command")
	assert.ErrorContains(t, ValidateSteps([]Step{{Name: "a", Command: "x", Timeout: -1}}), "negative")
}
