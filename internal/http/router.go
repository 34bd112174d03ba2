// Package httpapi wires the HTTP transport (Gin) to the sync engine's
// services, middleware, and route handlers. It centralizes cross-cutting
// concerns such as tracing, correlation IDs, logging, panic recovery,
// metrics, CORS, security headers, and rate limiting.
//
// Design goals:
//   - Observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
package httpapi

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tbourn/go-contact-sync/internal/config"
	"github.com/tbourn/go-contact-sync/internal/http/handlers"
	"github.com/tbourn/go-contact-sync/internal/http/middleware"
	"github.com/tbourn/go-contact-sync/internal/queue"
	"github.com/tbourn/go-contact-sync/internal/services"
)

// Deps bundles the constructed engine services the router exposes.
type Deps struct {
	Queue    *queue.Queue
	Sync     *services.SyncService
	Reads    *services.ReadService
	Sessions *services.SessionService
	Online   func() bool
}

// RegisterRoutes attaches all middleware and endpoints to the Gin engine.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger: structured access logs
//  4. Recovery: capture panics after logger
//  5. Gzip + body size limit
//  6. Metrics
//  7. CORS and security headers
//
// The manual sync trigger additionally sits behind a per-user token-bucket
// limiter so a hammered "sync now" button degrades to 429s.
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(gzip.Gzip(gzip.DefaultCompression))
	r.Use(limitBody(1 << 20))
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if len(cfg.CORS.AllowedOrigins) == 0 {
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-User-ID"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
		}))
	} else {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-User-ID"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: true,
		}))
	}

	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      true,
		EnablePolicy: true,
	}))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	statusH := &handlers.StatusHandler{Queue: deps.Queue, Sync: deps.Sync, Sessions: deps.Sessions, Online: deps.Online}
	syncH := &handlers.SyncHandler{Sync: deps.Sync, Sessions: deps.Sessions}
	queueH := &handlers.QueueHandler{Queue: deps.Queue, Sessions: deps.Sessions}
	sessionH := &handlers.SessionHandler{Sessions: deps.Sessions}
	readH := &handlers.ReadHandler{Reads: deps.Reads, Sessions: deps.Sessions}

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())

	api := r.Group(cfg.APIBasePath)
	{
		api.GET("/status", statusH.Get)
		api.POST("/sync", rl.Handler(), syncH.Trigger)

		api.POST("/queue", queueH.Enqueue)
		api.GET("/queue", queueH.List)
		api.DELETE("/queue/:id", queueH.Remove)

		api.PUT("/session", sessionH.Login)
		api.DELETE("/session", sessionH.Logout)

		api.GET("/read/*path", readH.Get)
	}
}

// limitBody rejects request bodies larger than n bytes.
func limitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}
