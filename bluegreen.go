// Package bluegreen runs a blue-green deployment manager: two slots of the
// same service, a reverse proxy whose routing follows the active slot, and a
// control API to swap traffic and redeploy the idle slot.
package bluegreen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/bluegreen/internal/config"
	"github.com/loykin/bluegreen/internal/env"
	"github.com/loykin/bluegreen/internal/history"
	"github.com/loykin/bluegreen/internal/history/factory"
	"github.com/loykin/bluegreen/internal/logger"
	"github.com/loykin/bluegreen/internal/manager"
	"github.com/loykin/bluegreen/internal/metrics"
	"github.com/loykin/bluegreen/internal/notify"
	"github.com/loykin/bluegreen/internal/orchestrator"
	"github.com/loykin/bluegreen/internal/pipeline"
	"github.com/loykin/bluegreen/internal/process"
	"github.com/loykin/bluegreen/internal/routing"
	iapi "github.com/loykin/bluegreen/internal/server"
	"github.com/loykin/bluegreen/internal/slot"
)

// Re-export core types for external consumers.

type Config = config.Config

type Status = orchestrator.Status

type SwapResult = orchestrator.SwapResult

type RedeployResult = orchestrator.RedeployResult

type ProcessStatus = process.Status

type HistoryEvent = history.Event

// ProxyEntity is the supervisor name of the reverse proxy.
const ProxyEntity = "proxy"

func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// Manager wires the supervisor, orchestrator, routing and history together.
type Manager struct {
	cfg     *config.Config
	log     *slog.Logger
	logSink io.WriteCloser
	sup     *manager.Supervisor
	orch    *orchestrator.Orchestrator
	routes  *routing.Writer
	sinks   []history.Sink
}

// New builds a Manager from c. Log records go to console and to the
// manager sink under c.Log.Dir. Nothing is spawned until Start.
func New(c *Config, console io.Writer) (*Manager, error) {
	if c == nil {
		return nil, errors.New("nil config")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	logSink := c.Log.Sink(logger.ManagerSink)
	log := logger.New(c.Log, console, logSink)

	pairs, err := c.GlobalEnv()
	if err != nil {
		_ = logSink.Close()
		return nil, err
	}
	e := env.New(c.UseOSEnv)
	e.Set(pairs...)

	sinks := make([]history.Sink, 0, len(c.History.DSNs))
	for _, dsn := range c.History.DSNs {
		s, err := factory.NewSinkFromDSN(dsn)
		if err != nil {
			closeSinks(sinks)
			_ = logSink.Close()
			return nil, fmt.Errorf("history sink: %w", err)
		}
		sinks = append(sinks, s)
	}

	sup := manager.NewSupervisor(e, log)
	sup.SetKillWait(c.KillWait)

	ports := make(map[slot.Slot]int, 2)
	slots := make(map[slot.Slot]orchestrator.SlotConfig, 2)
	for _, s := range slot.All() {
		sc := c.Slot(s)
		ports[s] = sc.Port
		slots[s] = orchestrator.SlotConfig{Port: sc.Port, ManageURL: sc.ManageURL, Dir: sc.Dir}
	}
	routes := routing.NewWriter(c.DynamicRoutesPath(), ports)

	nc := notify.NewClient(notify.NewHTTP(log))
	nc.Host = c.SlotHost
	nc.HealthTimeout = c.HealthTimeout
	nc.WebhookTimeout = c.WebhookTimeout

	orch, err := orchestrator.New(orchestrator.Options{
		Slots:      slots,
		Initial:    c.Active(),
		Grace:      c.Grace,
		Steps:      c.Steps(),
		Notify:     nc,
		Routes:     routes,
		Supervisor: sup,
		Runner:     &pipeline.Runner{Out: logSink, Env: e.Merge(nil), Log: log},
		History:    sinks,
		Log:        log,
	})
	if err != nil {
		closeSinks(sinks)
		_ = logSink.Close()
		return nil, err
	}

	m := &Manager{cfg: c, log: log, logSink: logSink, sup: sup, orch: orch, routes: routes, sinks: sinks}
	if err := m.register(); err != nil {
		_ = m.Close()
		return nil, err
	}
	return m, nil
}

func (m *Manager) register() error {
	c := m.cfg
	if c.Proxy.Enabled {
		err := m.sup.Register(manager.Entity{
			Spec: process.Spec{Name: ProxyEntity, Command: c.ProxyCommand(), WorkDir: c.ConfigDir},
			Sink: c.Log.Sink(ProxyEntity),
		})
		if err != nil {
			return err
		}
	}
	for _, s := range slot.All() {
		sc := c.Slot(s)
		spec := process.Spec{
			Name:    s.String(),
			Command: sc.Command,
			WorkDir: sc.Dir,
			Env:     append(append([]string{}, sc.Env...), "PORT="+strconv.Itoa(sc.Port)),
		}
		if err := m.sup.Register(manager.Entity{Spec: spec, Sink: c.Log.Sink(s.String()), Prefix: m.orch.RolePrefix(s)}); err != nil {
			return err
		}
	}
	return nil
}

// Start writes the proxy configuration for the initial active slot and
// spawns the proxy and both slots. A slot that fails to spawn is logged and
// left down; it can be brought back with a redeploy once it is non-active.
func (m *Manager) Start() error {
	c := m.cfg
	if err := os.MkdirAll(c.ConfigDir, 0o750); err != nil {
		return fmt.Errorf("config dir: %w", err)
	}
	wrote, err := routing.WriteStatic(c.StaticRoutesPath(), c.DynamicRoutesPath(), c.Proxy.PrimaryAddr, c.Proxy.PreviewAddr)
	if err != nil {
		return fmt.Errorf("write proxy static config: %w", err)
	}
	if wrote {
		m.log.Info("wrote proxy static config", "path", c.StaticRoutesPath())
	}
	active := m.orch.Active()
	if err := m.routes.Write(active); err != nil {
		return fmt.Errorf("write routing declaration: %w", err)
	}
	metrics.SetActive(active.String(), slot.Server1.String(), slot.Server2.String())

	names := []string{slot.Server1.String(), slot.Server2.String()}
	if c.Proxy.Enabled {
		names = append([]string{ProxyEntity}, names...)
	}
	for _, n := range names {
		if _, err := m.sup.Start(n); err != nil {
			m.log.Error("spawn failed", "name", n, "error", err)
		}
	}
	m.log.Info("manager started", "active", active, "addr", c.ManageAddr())
	return nil
}

func (m *Manager) Logger() *slog.Logger { return m.log }

func (m *Manager) Status(ctx context.Context) Status { return m.orch.Status(ctx) }

func (m *Manager) Swap(ctx context.Context) SwapResult { return m.orch.Swap(ctx) }

func (m *Manager) Redeploy(ctx context.Context) RedeployResult { return m.orch.Redeploy(ctx) }

func (m *Manager) Processes() []ProcessStatus { return m.sup.Statuses() }

// RecentHistory reads from the first configured sink that supports reading.
func (m *Manager) RecentHistory(ctx context.Context, limit int) ([]HistoryEvent, error) {
	if r := m.historyReader(); r != nil {
		return r.Recent(ctx, limit)
	}
	return nil, nil
}

func (m *Manager) historyReader() iapi.HistoryReader {
	for _, s := range m.sinks {
		if r, ok := s.(history.Reader); ok {
			return r
		}
	}
	return nil
}

// Handler returns the control API.
func (m *Manager) Handler() http.Handler {
	r := iapi.NewRouter(m.orch, m.sup, m.cfg.BasePath, m.log)
	if h := m.historyReader(); h != nil {
		r.WithHistory(h)
	}
	return r.Handler()
}

// Shutdown signals every supervised process group without waiting.
func (m *Manager) Shutdown() { m.sup.ShutdownAll() }

// StopAll gracefully stops every supervised process, waiting up to the
// configured grace per process.
func (m *Manager) StopAll(ctx context.Context) {
	for _, st := range m.sup.Statuses() {
		if err := m.sup.Stop(ctx, st.Name, m.cfg.Grace); err != nil {
			m.log.Warn("stop failed", "name", st.Name, "error", err)
		}
	}
}

// Close releases log and history sinks. It does not stop processes.
func (m *Manager) Close() error {
	closeSinks(m.sinks)
	_ = m.sup.Close()
	return m.logSink.Close()
}

func closeSinks(sinks []history.Sink) {
	for _, s := range sinks {
		_ = s.Close()
	}
}

// RenderRoutes returns the routing declaration c would produce for active.
func RenderRoutes(c *Config, active string) ([]byte, error) {
	s, err := slot.Parse(active)
	if err != nil {
		return nil, err
	}
	ports := map[slot.Slot]int{}
	for _, sl := range slot.All() {
		ports[sl] = c.Slot(sl).Port
	}
	return routing.NewWriter(c.DynamicRoutesPath(), ports).Render(s)
}

// NewHTTPServer starts the control API of m on addr.
func NewHTTPServer(addr string, m *Manager) (*http.Server, error) {
	return iapi.NewServer(addr, m.Handler(), m.log)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It returns any immediate listen error; otherwise it runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
