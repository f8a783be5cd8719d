// Package api is the thin read-only facade over the anomaly sink and the
// health counters. It never writes to the store.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"main/internal/obs"
	"main/internal/store"
	"main/internal/universe"

	"github.com/gin-gonic/gin"
	"github.com/yanun0323/logs"
)

// Server serves the anomaly listing and health endpoints.
type Server struct {
	engine   *gin.Engine
	sink     *store.AnomalySink
	bars     *store.BarStore
	universe *universe.Selector
	health   *obs.Health
}

func NewServer(sink *store.AnomalySink, bars *store.BarStore, sel *universe.Selector, health *obs.Health) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		engine:   gin.New(),
		sink:     sink,
		bars:     bars,
		universe: sel,
		health:   health,
	}

	s.engine.Use(gin.Recovery())
	group := s.engine.Group("/api")
	group.GET("/anomalies", s.listAnomalies)
	group.GET("/health", s.healthz)
	return s
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logs.Infof("api listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) listAnomalies(c *gin.Context) {
	filter := store.QueryFilter{
		Symbol:      c.Query("symbol"),
		AnomalyOnly: c.Query("anomaly_only") == "true",
	}
	if raw := c.Query("min_score"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid min_score"})
			return
		}
		filter.MinScore = v
	}
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		filter.Limit = v
	}

	records, err := s.sink.Query(c.Request.Context(), filter)
	if err != nil {
		logs.Errorf("query anomalies: %+v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(records), "anomalies": records})
}

func (s *Server) healthz(c *gin.Context) {
	stats, err := s.bars.Stats(c.Request.Context())
	if err != nil {
		logs.Errorf("bar stats: %+v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats failed"})
		return
	}

	var oldestBarAge float64
	if stats.OldestOpenTime > 0 {
		oldestBarAge = time.Since(time.UnixMilli(stats.OldestOpenTime)).Seconds()
	}

	snapshot := s.health.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"stored_row_count":          stats.RowCount,
		"oldest_bar_age_sec":        oldestBarAge,
		"active_universe_size":      s.universe.Size(),
		"last_scoring_pass_time":    timeOrNull(snapshot.LastScoringPass),
		"last_retention_sweep_time": timeOrNull(snapshot.LastRetentionSweep),
		"queue_drops":               snapshot.QueueDrops,
		"store_write_failures":      snapshot.StoreWriteFailures,
		"retention_failures":        snapshot.RetentionFailures,
		"degraded_symbols":          snapshot.DegradedSymbols,
	})
}

func timeOrNull(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
