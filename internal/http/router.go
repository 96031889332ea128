// Package httpapi wires the HTTP transport (Gin) to the ingest service,
// repository reader, and WebSocket hub. It centralizes the cross-cutting
// middleware chain: tracing, correlation IDs, structured logging, panic
// recovery, body-size capping, Prometheus metrics, rate limiting, CORS, and
// security headers.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate the correlation id
//  3. Logger: structured access logs
//  4. Recovery: panics become JSON 500s after the logger ran
//  5. Body size cap (1 MiB)
//  6. Metrics
//  7. Rate limiter (per client IP)
//  8. CORS, gzip, security headers
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/agrichain/telemetry-gateway/internal/config"
	"github.com/agrichain/telemetry-gateway/internal/http/handlers"
	"github.com/agrichain/telemetry-gateway/internal/http/middleware"
	"github.com/agrichain/telemetry-gateway/internal/http/ws"
)

// maxBodyBytes caps every request body; an oversized ingest payload fails
// the body read and gets a 400 "invalid HTTP request" rather than an
// unbounded read.
const maxBodyBytes = 1 << 20

// RegisterRoutes attaches all middleware and endpoints to the Gin engine.
func RegisterRoutes(r *gin.Engine, svc handlers.IngestService, reader handlers.TelemetryReader, hub *ws.Hub, cfg config.Config) {
	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured access logging
	r.Use(middleware.Logger())

	// 4) Panic recovery to JSON 500
	r.Use(middleware.Recovery())

	// 5) Global body size limit
	r.Use(limitBody(maxBodyBytes))

	// 6) Prometheus transport metrics and the scrape endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Token-bucket rate limiter per client IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst)
	r.Use(rl.Handler())

	// 8) CORS posture: allow all when no origins are configured
	if len(cfg.CORS.AllowedOrigins) == 0 {
		r.Use(cors.New(cors.Config{
			AllowAllOrigins: true,
			AllowMethods:    []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:    []string{"Origin", "Content-Type", "Accept"},
			ExposeHeaders:   []string{"X-Request-ID", "Content-Length"},
			MaxAge:          12 * time.Hour,
		}))
	} else {
		r.Use(cors.New(cors.Config{
			AllowOrigins:  cfg.CORS.AllowedOrigins,
			AllowMethods:  []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
			ExposeHeaders: []string{"X-Request-ID", "Content-Length"},
			MaxAge:        12 * time.Hour,
		}))
	}

	// Response compression; upgraded sockets must stay untouched
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/ws/"})))

	// Security headers
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS: cfg.Security.EnableHSTS,
		HSTSMaxAge: cfg.Security.HSTSMaxAge,
	}))

	// Fallback
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, "route not found")
	})

	// Liveness
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	h := handlers.New(svc, reader, hub)

	api := r.Group("/api/v1")
	{
		api.POST("/ingest", h.Ingest)
		api.GET("/metrics/overview", h.MetricsOverview)
		api.GET("/devices/:id/latest", h.DeviceLatest)
		api.GET("/batches/:code/trace", h.BatchTrace)
		api.GET("/transactions/:txHash", h.Transaction)
	}

	// Streaming subscribers
	r.GET("/ws/telemetry", hub.Subscribe(ws.ChannelTelemetry))
	r.GET("/ws/alerts", hub.Subscribe(ws.ChannelAlerts))
}

// limitBody caps the request body for all endpoints with http.MaxBytesReader;
// reads past the cap error out downstream instead of growing unbounded.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
