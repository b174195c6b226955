// Package httpserver exposes the batch engine over a small JSON API:
// health and pool introspection, batch submission and cancellation,
// run history, and guarded SQL access to the run registry.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/quarrytools/quarry/internal/model"
	"github.com/quarrytools/quarry/internal/service"
)

// Deps wires the HTTP API to the running server. Runs, Schema, and
// Metrics may be nil; their routes then answer 503 (metrics is simply
// not registered).
type Deps struct {
	Service *service.Service
	Pool    model.PoolReporter
	Runs    model.RunLister
	Schema  model.SchemaQuerier
	Metrics http.Handler
}

// Server provides the HTTP API for the batch engine.
type Server struct {
	addr      string
	deps      Deps
	server    *http.Server
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// NewServer creates a new HTTP API server.
func NewServer(addr string, deps Deps) *Server {
	if addr == "" {
		addr = "0.0.0.0:3000"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:   addr,
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)
	r := s.router()

	s.server = &http.Server{
		Handler:           r,
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.startTime = time.Now()

	go s.server.Serve(listener)
	return nil
}

func (s *Server) router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/api/health", s.handleHealth)
	r.GET("/api/pool", s.handlePool)
	r.GET("/api/batch", s.handleBatchStatus)
	r.DELETE("/api/batch", s.handleBatchCancel)
	r.POST("/api/parse", s.handleParse)
	r.POST("/api/scan", s.handleScan)
	r.GET("/api/runs", s.handleRuns)
	r.GET("/api/schema", s.handleSchema)
	r.POST("/api/query", s.handleQuery)
	if s.deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.deps.Metrics))
	}
	return r
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	stats := s.deps.Pool.Stats()
	status := "ok"
	if stats.Healthy == 0 {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":          status,
		"uptime":          time.Since(s.startTime).String(),
		"workers_healthy": stats.Healthy,
		"workers_total":   stats.Size,
	})
}

func (s *Server) handlePool(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Pool.Stats())
}

func (s *Server) handleBatchStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Service.Status())
}

func (s *Server) handleBatchCancel(c *gin.Context) {
	running := s.deps.Service.Status().State == model.BatchRunning
	s.deps.Service.Cancel()
	c.JSON(http.StatusOK, gin.H{"cancelled": running})
}

// handleParse submits a batch and finishes it in the background; the
// response carries the run id for later correlation via /api/runs.
func (s *Server) handleParse(c *gin.Context) {
	var req model.ParseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	if req.StatsPath == "" || len(req.Vars) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "stats_path and vars are required"})
		return
	}

	handle, err := s.deps.Service.SubmitParse(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, model.ErrBusy) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	go func() {
		if _, _, err := s.deps.Service.FinishParse(context.Background(), req, handle); err != nil {
			log.Printf("httpserver: run %s: %v", handle.RunID, err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"run_id": handle.RunID,
		"files":  len(handle.Files),
	})
}

func (s *Server) handleScan(c *gin.Context) {
	var req model.ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	if req.StatsPath == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "stats_path is required"})
		return
	}

	rec, specs, err := s.deps.Service.RunScan(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, model.ErrBusy) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id":        rec.ID,
		"files_scanned": rec.FilesParsed,
		"variables":     specs,
	})
}

func (s *Server) handleRuns(c *gin.Context) {
	if s.deps.Runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run registry is disabled"})
		return
	}
	limit := model.DefaultRecentRuns
	if raw := c.Query("limit"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &limit); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
	}
	runs, err := s.deps.Runs.RecentRuns(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

func (s *Server) handleSchema(c *gin.Context) {
	if s.deps.Schema == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run registry is disabled"})
		return
	}
	description := s.deps.Schema.GetSchemaDescription()

	tables, err := s.deps.Schema.ExecuteQuery(
		"SELECT table_name, column_name, data_type FROM information_schema.columns WHERE table_schema = 'main' ORDER BY table_name, ordinal_position",
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read schema metadata"})
		return
	}

	schema := make(map[string][]map[string]string)
	for _, row := range tables {
		tableName := fmt.Sprintf("%v", row["table_name"])
		schema[tableName] = append(schema[tableName], map[string]string{
			"column": fmt.Sprintf("%v", row["column_name"]),
			"type":   fmt.Sprintf("%v", row["data_type"]),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"description": description,
		"tables":      schema,
	})
}

func (s *Server) handleQuery(c *gin.Context) {
	if s.deps.Schema == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run registry is disabled"})
		return
	}
	var req struct {
		SQL string `json:"sql" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body or missing sql field"})
		return
	}

	results, err := s.deps.Schema.ExecuteQuery(req.SQL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var columns []string
	if len(results) > 0 {
		for col := range results[0] {
			columns = append(columns, col)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"columns":   columns,
		"rows":      results,
		"row_count": len(results),
	})
}
