package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/netbridge/internal/logger"
	"github.com/marmos91/netbridge/pkg/api/handlers"
)

// NewRouter creates the chi router with all middleware and routes.
//
// Routes:
//   - GET /healthz - Liveness probe
//   - GET /api/v1/channels - All channel snapshots
//   - GET /api/v1/channels/{n} - One channel snapshot
//   - GET /metrics - Prometheus exposition, when metricsHandler is non-nil
func NewRouter(channels handlers.ChannelSource, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	healthHandler := handlers.NewHealthHandler(channels)
	channelHandler := handlers.NewChannelHandler(channels)

	r.Get("/healthz", healthHandler.Liveness)

	r.Route("/api/v1/channels", func(r chi.Router) {
		r.Get("/", channelHandler.List)
		r.Get("/{n}", channelHandler.Get)
	})

	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	return r
}

// requestLogger logs requests using the internal logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			logger.HTTPRequestID(requestID),
			"method", r.Method,
			logger.Path(r.URL.Path),
			logger.ClientAddr(r.RemoteAddr),
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Info("API request completed",
			logger.HTTPRequestID(requestID),
			"method", r.Method,
			logger.Path(r.URL.Path),
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			logger.DurationMs(float64(time.Since(start).Microseconds())/1000),
		)
	})
}
