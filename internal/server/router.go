package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/bluegreen/internal/history"
	"github.com/loykin/bluegreen/internal/orchestrator"
	"github.com/loykin/bluegreen/internal/process"
)

// Deployer is the orchestrator surface exposed over HTTP.
type Deployer interface {
	Status(ctx context.Context) orchestrator.Status
	Swap(ctx context.Context) orchestrator.SwapResult
	Redeploy(ctx context.Context) orchestrator.RedeployResult
}

// ProcessLister reports supervised processes.
type ProcessLister interface {
	Statuses() []process.Status
}

// HistoryReader lists recorded swap and redeploy events.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Event, error)
}

// Router provides the control API.
// Endpoints:
//
//	GET  {basePath}/status
//	POST {basePath}/swap
//	POST {basePath}/redeploy-non-active
//	GET  {basePath}/processes
//	GET  {basePath}/history      query: limit=N (default 50)
//
// Logical failures are reported in the body with HTTP 200.
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	dep      Deployer
	procs    ProcessLister
	hist     HistoryReader
	basePath string
	log      *slog.Logger
}

// NewRouter constructs a Router. procs may be nil, in which case
// /processes returns an empty list.
func NewRouter(dep Deployer, procs ProcessLister, basePath string, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{dep: dep, procs: procs, basePath: sanitizeBase(basePath), log: log}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.POST("/swap", r.handleSwap)
	group.POST("/redeploy-non-active", r.handleRedeploy)
	group.GET("/processes", r.handleProcesses)
	group.GET("/history", r.handleHistory)
	return g
}

// WithHistory enables GET /history backed by h.
func (r *Router) WithHistory(h HistoryReader) *Router {
	r.hist = h
	return r
}

// NewServer starts a control API listener on addr. Listen errors are
// returned; serve errors after startup are logged.
func NewServer(addr string, h http.Handler, log *slog.Logger) (*http.Server, error) {
	if log == nil {
		log = slog.Default()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	// redeploys run the full build, so writes are not bounded here
	server := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error("control API stopped", "addr", server.Addr, "error", err)
		}
	}()
	return server, nil
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.dep.Status(c.Request.Context()))
}

func (r *Router) handleSwap(c *gin.Context) {
	res := r.dep.Swap(c.Request.Context())
	r.log.Info("POST /swap", "ok", res.OK, "active", res.Active, "reason", res.Reason)
	writeJSON(c, http.StatusOK, res)
}

func (r *Router) handleRedeploy(c *gin.Context) {
	// a client that hangs up must not abort a build halfway through
	ctx := context.WithoutCancel(c.Request.Context())
	res := r.dep.Redeploy(ctx)
	r.log.Info("POST /redeploy-non-active", "ok", res.OK, "redeployed", res.Redeployed, "reason", res.Reason)
	writeJSON(c, http.StatusOK, res)
}

func (r *Router) handleProcesses(c *gin.Context) {
	out := []process.Status{}
	if r.procs != nil {
		out = append(out, r.procs.Statuses()...)
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleHistory(c *gin.Context) {
	limit := 50
	if q := c.Query("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid limit"})
			return
		}
		limit = n
	}
	out := []history.Event{}
	if r.hist != nil {
		evts, err := r.hist.Recent(c.Request.Context(), limit)
		if err != nil {
			writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
			return
		}
		out = append(out, evts...)
	}
	writeJSON(c, http.StatusOK, out)
}
