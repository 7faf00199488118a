package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
}

func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

// Pinger is a dependency probed by the readiness check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RegisterHealthRoutes mounts live and ready probes on g.
func RegisterHealthRoutes(g *echo.Group, pool *pgxpool.Pool, deps map[string]Pinger) {
	g.GET("/health/live", LiveHandler())
	g.GET("/health/ready", ReadyHandler(pool, deps))
}

// LiveHandler answers as long as the process is serving.
func LiveHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyHandler pings every named dependency and reports 503 if any fails.
// A nil pool is skipped so the handler can be exercised without a database.
func ReadyHandler(pool *pgxpool.Pool, deps map[string]Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
		defer cancel()

		checks := make(map[string]string, len(deps)+1)
		healthy := true

		probe := func(name string, p Pinger) {
			if err := p.Ping(ctx); err != nil {
				checks[name] = err.Error()
				healthy = false
				return
			}
			checks[name] = "ok"
		}

		resp := map[string]interface{}{"checks": checks}
		if pool != nil {
			probe("postgres", pool)
			resp["pool"] = GetPoolStats(pool)
		}
		for name, p := range deps {
			probe(name, p)
		}

		if !healthy {
			resp["status"] = "unavailable"
			return c.JSON(http.StatusServiceUnavailable, resp)
		}
		resp["status"] = "ready"
		return c.JSON(http.StatusOK, resp)
	}
}
