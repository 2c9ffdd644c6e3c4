// Package httpapi wires the HTTP transport (Gin) to the question pipeline,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// authentication, idempotency, rate limiting, CORS, and security headers.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/datachat-labs/go-datachat-backend/internal/config"
	"github.com/datachat-labs/go-datachat-backend/internal/http/handlers"
	"github.com/datachat-labs/go-datachat-backend/internal/http/middleware"
	"github.com/datachat-labs/go-datachat-backend/internal/llm"
	"github.com/datachat-labs/go-datachat-backend/internal/rag"
	"github.com/datachat-labs/go-datachat-backend/internal/repo"
	"github.com/datachat-labs/go-datachat-backend/internal/schema"
	"github.com/datachat-labs/go-datachat-backend/internal/services"
	"github.com/datachat-labs/go-datachat-backend/internal/tenant"
)

// Deps bundles the process-level collaborators the router injects into the
// pipeline: the application database, the tenant registry and data pools,
// the model client, and the vector store.
type Deps struct {
	DB       *gorm.DB
	Registry *tenant.Registry
	Pools    *tenant.Pools
	LLM      *llm.Client
	Vectors  *rag.QdrantStore
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given
// Gin engine and builds the pipeline from the injected dependencies.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Gzip (SSE path excluded; compression would buffer the stream)
//  8. CORS and security headers
//  9. Auth (bearer token → principal + tenant) on the API group
//  10. Idempotency validator (before rate limiter to allow bypass on replay)
//  11. Rate limiter (per tenant/user, bypass on replay)
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction (questions can carry PII)
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Gzip responses, except the event stream
	askPath := joinPath(cfg.APIBasePath, "/ask")
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{askPath})))

	// 8) CORS posture (safe defaults: allow all if none configured)
	useCORS(r, cfg)

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Dependency injection: pipeline ← components ← deps
	retriever := &rag.Retriever{
		Embedder: deps.LLM,
		Store:    deps.Vectors,
		TopK:     cfg.Qdrant.TopK,
	}
	maintainer := &services.SummaryMaintainer{
		LLM:         deps.LLM,
		MinMessages: cfg.Pipeline.SummaryMinMessages,
		Interval:    cfg.Pipeline.SummaryInterval,
	}
	pipeline := &services.Pipeline{
		DB:         deps.DB,
		Schema:     schema.Introspector{},
		Classifier: &services.Classifier{LLM: deps.LLM},
		Context:    &services.ContextBuilder{Retriever: retriever, RecentPairs: cfg.Pipeline.RecentPairs},
		Translator: &services.Translator{LLM: deps.LLM, MaxRows: cfg.Pipeline.MaxRows},
		Executor:   &services.Executor{AppDB: deps.DB},
		Summarizer: &services.Summarizer{LLM: deps.LLM, SampleRows: cfg.Pipeline.SampleRows},
		Chart:      &services.ChartInferrer{LLM: deps.LLM, MaxPoints: cfg.Pipeline.ChartMaxPoints},
		Assembler: &services.Assembler{
			DB:           deps.DB,
			Summary:      maintainer,
			Model:        cfg.LLM.Model,
			MaxRows:      cfg.Pipeline.MaxRows,
			CSVThreshold: cfg.Pipeline.CSVExportThreshold,
		},
		NonData:          &services.NonDataResponder{LLM: deps.LLM},
		Locks:            tenant.NewConversationLocks(),
		MaxQuestionRunes: cfg.Pipeline.MaxQuestionRunes,
	}
	h := handlers.New(deps.DB, pipeline, deps.Pools, cfg.IdempotencyTTL)

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(middleware.Auth(deps.Registry, cfg.JWTSecret, handlers.Fail))

	// Idempotency validation (after auth, before rate limiting)
	api.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200},
		func(ctx context.Context, tenantID, userID, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, deps.DB, tenantID, userID, key, now)
			if err != nil || rec == nil {
				return false, nil
			}
			return true, nil
		},
	))

	// Token-bucket rate limiter per tenant/user (IP before auth resolves)
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByPrincipalOrIP())
	api.Use(rl.Handler())

	{
		// Ask (streaming)
		api.POST("/ask", h.Ask)

		// Conversation history
		api.GET("/conversations", h.ListConversations)
		api.GET("/conversations/:id/messages", h.ListConversationMessages)
	}
}

// useCORS installs the CORS middleware, echoing the allow-list when one is
// configured and falling back to allow-all otherwise.
func useCORS(r *gin.Engine, cfg config.Config) {
	allowHeaders := []string{
		"Origin", "Content-Type", "Accept", "Authorization",
		middleware.HeaderIdempotencyKey,
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header.
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "Idempotency-Replayed"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
		return
	}

	allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
	for _, o := range cfg.CORS.AllowedOrigins {
		allowed[o] = struct{}{}
	}
	r.Use(func(c *gin.Context) {
		if origin := c.GetHeader("Origin"); origin != "" {
			if _, ok := allowed[origin]; ok {
				h := c.Writer.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
		}
		c.Next()
	})
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     allowHeaders,
		ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "Idempotency-Replayed"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
}

// limitBody caps the request body size for all endpoints using
// http.MaxBytesReader. Requests exceeding the cap fail on body read.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}

// joinPath concatenates a base path and a route without doubling slashes.
func joinPath(base, route string) string {
	if base == "" || base == "/" {
		return route
	}
	if base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	return base + route
}
