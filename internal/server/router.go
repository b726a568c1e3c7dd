package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/vigil/internal/alert"
	"github.com/loykin/vigil/internal/health"
	"github.com/loykin/vigil/internal/monitor"
	"github.com/loykin/vigil/internal/provider"
	"github.com/loykin/vigil/internal/remedy"
)

// Router provides embeddable HTTP handlers for inspecting and driving
// the monitor.
// Endpoints:
//
//	GET  {basePath}/status      fleet snapshot with health summaries
//	GET  {basePath}/health      query: name=... (one) or none (all records)
//	GET  {basePath}/alerts      recent alerts, newest last
//	GET  {basePath}/logs        query: name=...&lines=50&error_only=1
//	POST {basePath}/check       run a deep-health pass now
//	POST {basePath}/remediate   query: name=...  manual restart
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	prov     provider.Provider
	store    *health.Store
	sched    *monitor.Scheduler
	alerts   *alert.Dispatcher
	basePath string
}

// NewRouter constructs a Router with a configurable basePath.
func NewRouter(prov provider.Provider, store *health.Store, sched *monitor.Scheduler, alerts *alert.Dispatcher, basePath string) *Router {
	return &Router{
		prov:     prov,
		store:    store,
		sched:    sched,
		alerts:   alerts,
		basePath: sanitizeBase(basePath),
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in
// any server or mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/health", r.handleHealth)
	group.GET("/alerts", r.handleAlerts)
	group.GET("/logs", r.handleLogs)
	group.POST("/check", r.handleCheck)
	group.POST("/remediate", r.handleRemediate)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, prov provider.Provider, store *health.Store, sched *monitor.Scheduler, alerts *alert.Dispatcher) *http.Server {
	r := NewRouter(prov, store, sched, alerts, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// statusEntry joins a live snapshot with its rolling health summary.
type statusEntry struct {
	provider.ProcessSnapshot
	ConsecutiveUnhealthy int    `json:"consecutive_unhealthy"`
	ProbeStatus          string `json:"probe_status,omitempty"`
}

func (r *Router) handleStatus(c *gin.Context) {
	snaps, err := r.prov.List(c.Request.Context())
	if err != nil {
		writeJSON(c, http.StatusBadGateway, errorResp{Error: err.Error()})
		return
	}
	out := make([]statusEntry, 0, len(snaps))
	for _, snap := range snaps {
		e := statusEntry{ProcessSnapshot: snap}
		if rec, ok := r.store.Lookup(snap.Name); ok {
			e.ConsecutiveUnhealthy = rec.ConsecutiveUnhealthy
			e.ProbeStatus = rec.ProbeStatus
		}
		out = append(out, e)
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleHealth(c *gin.Context) {
	name := c.Query("name")
	if name != "" {
		if !isSafeName(name) {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name"})
			return
		}
		rec, ok := r.store.Lookup(name)
		if !ok {
			writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown process: " + name})
			return
		}
		writeJSON(c, http.StatusOK, rec)
		return
	}
	names := r.store.Names()
	out := make([]health.Record, 0, len(names))
	for _, n := range names {
		if rec, ok := r.store.Lookup(n); ok {
			out = append(out, rec)
		}
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleAlerts(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.alerts.Recent())
}

func (r *Router) handleLogs(c *gin.Context) {
	name := c.Query("name")
	if name == "" || !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "name query param required"})
		return
	}
	lines := 50
	if s := c.Query("lines"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			lines = n
		}
	}
	errorOnly := c.Query("error_only") == "1" || c.Query("error_only") == "true"
	out, err := r.prov.Logs(c.Request.Context(), name, lines, errorOnly)
	if err != nil {
		writeJSON(c, http.StatusBadGateway, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleCheck(c *gin.Context) {
	if err := r.sched.DeepPass(c.Request.Context()); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, monitor.ErrPassInFlight) {
			status = http.StatusConflict
		}
		writeJSON(c, status, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleRemediate(c *gin.Context) {
	name := c.Query("name")
	if name == "" || !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "name query param required"})
		return
	}
	if err := remedy.RestartExcludingSelf(c.Request.Context(), r.prov, name, r.sched.Self()); err != nil {
		if errors.Is(err, remedy.ErrSelfTarget) {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
			return
		}
		writeJSON(c, http.StatusBadGateway, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
