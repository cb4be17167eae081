package api

import (
	"net/http"

	"github.com/Rainbow-0328/dianping/internal/logging"
	"github.com/Rainbow-0328/dianping/internal/metrics"
	"github.com/Rainbow-0328/dianping/internal/observability"
	"github.com/Rainbow-0328/dianping/internal/ratelimit"
)

// ServerConfig contains dependencies for the HTTP server.
type ServerConfig struct {
	Handler *Handler
	// Limiter throttles claims per user when set.
	Limiter *ratelimit.Limiter
}

// NewHTTPHandler builds the routed, instrumented handler.
func NewHTTPHandler(cfg ServerConfig) http.Handler {
	if cfg.Handler.Identity == nil {
		cfg.Handler.Identity = HeaderIdentity{}
	}

	if cfg.Limiter != nil {
		cfg.Handler.claimLimit = ratelimit.Middleware(cfg.Limiter, userKey(cfg.Handler.Identity), RateLimitedBody)
	}

	mux := http.NewServeMux()
	cfg.Handler.RegisterRoutes(mux)
	mux.Handle("GET /metrics", metrics.Handler())

	return observability.HTTPMiddleware(mux)
}

// StartHTTPServer creates and starts the HTTP server.
func StartHTTPServer(addr string, cfg ServerConfig) *http.Server {
	server := &http.Server{
		Addr:    addr,
		Handler: NewHTTPHandler(cfg),
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Op().Error("HTTP server error", "error", err)
		}
	}()

	return server
}

func userKey(id Identity) ratelimit.KeyFunc {
	return func(r *http.Request) string {
		if u, ok := id.User(r); ok {
			return ratelimit.KeyForUser(u.ID)
		}
		return ""
	}
}
