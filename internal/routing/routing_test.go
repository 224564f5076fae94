package routing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/loykin/bluegreen/internal/slot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func newTestWriter(t *testing.T) *Writer {
	t.Helper()
	return NewWriter(filepath.Join(t.TempDir(), "config", "slots.yml"), map[slot.Slot]int{
		slot.Server1: 4000,
		slot.Server2: 4001,
	})
}

func weights(t *testing.T, d Declaration, service string) map[string]int {
	t.Helper()
	svc, ok := d.HTTP.Services[service]
	require.True(t, ok, "missing service %s", service)
	require.NotNil(t, svc.Weighted)
	out := map[string]int{}
	for _, ws := range svc.Weighted.Services {
		out[ws.Name] = ws.Weight
	}
	return out
}

func readDecl(t *testing.T, path string) Declaration {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var d Declaration
	require.NoError(t, yaml.Unmarshal(b, &d))
	return d
}

func TestWrite_PrimaryFollowsActive(t *testing.T) {
	w := newTestWriter(t)
	for _, active := range slot.All() {
		require.NoError(t, w.Write(active))
		d := readDecl(t, w.Path)

		primary := weights(t, d, ServiceActive)
		preview := weights(t, d, ServiceNonActive)
		assert.Equal(t, 1, primary[ServiceName(active)])
		assert.Equal(t, 0, primary[ServiceName(active.Other())])
		assert.Equal(t, 0, preview[ServiceName(active)])
		assert.Equal(t, 1, preview[ServiceName(active.Other())])
	}
}

func TestWrite_RoutersAndUpstreams(t *testing.T) {
	w := newTestWriter(t)
	require.NoError(t, w.Write(slot.Server1))
	d := readDecl(t, w.Path)

	assert.Equal(t, Router{EntryPoints: []string{"web"}, Rule: "PathPrefix(`/`)", Service: ServiceActive}, d.HTTP.Routers[RouterPrimary])
	assert.Equal(t, Router{EntryPoints: []string{"web2"}, Rule: "PathPrefix(`/`)", Service: ServiceNonActive}, d.HTTP.Routers[RouterPreview])
	require.NotNil(t, d.HTTP.Services["s-server1"].LoadBalancer)
	assert.Equal(t, "http://localhost:4000", d.HTTP.Services["s-server1"].LoadBalancer.Servers[0].URL)
	assert.Equal(t, "http://localhost:4001", d.HTTP.Services["s-server2"].LoadBalancer.Servers[0].URL)
}

func TestWrite_LeavesNoTempFiles(t *testing.T) {
	w := newTestWriter(t)
	require.NoError(t, w.Write(slot.Server1))
	require.NoError(t, w.Write(slot.Server2))
	entries, err := os.ReadDir(filepath.Dir(w.Path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "slots.yml", entries[0].Name())
}

func TestRender_RejectsUnknownSlot(t *testing.T) {
	w := newTestWriter(t)
	_, err := w.Render("server3")
	assert.ErrorIs(t, err, slot.ErrUnknownSlot)
	assert.Error(t, w.Write(""))
	_, statErr := os.Stat(w.Path)
	assert.True(t, os.IsNotExist(statErr), "failed render must not create the file")
}

func TestWriteStatic_OnlyWhenMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "traefik.yml")
	wrote, err := WriteStatic(path, filepath.Join(dir, "slots.yml"), ":80", ":8080")
	require.NoError(t, err)
	assert.True(t, wrote)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var cfg StaticConfig
	require.NoError(t, yaml.Unmarshal(b, &cfg))
	assert.Equal(t, ":80", cfg.EntryPoints["web"].Address)
	assert.Equal(t, ":8080", cfg.EntryPoints["web2"].Address)
	assert.True(t, cfg.Providers.File.Watch)

	require.NoError(t, os.WriteFile(path, []byte("custom: true\n"), 0o644))
	wrote, err = WriteStatic(path, "ignored", ":1", ":2")
	require.NoError(t, err)
	assert.False(t, wrote)
	b, _ = os.ReadFile(path)
	assert.Equal(t, "custom: true\n", string(b))
}
