package rpc

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/nftwatch/nftwatch/internal/rpc/handlers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// NewMux serves the status endpoint and, when gatherer is set, /metrics.
func NewMux(status handlers.StreamStatusProvider, gatherer prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()

	statusHandler := handlers.StatusGetHandler(status)
	getStatus := func(r *http.Request) (any, error) {
		return statusHandler(r)
	}
	// HEAD lets health probes check the server without reading the body
	handlers.SetupHandlers(mux, handlers.MethodHandlers{
		handlers.CreateApiV1Path("status"): {
			handlers.HTTP_GET:  getStatus,
			handlers.HTTP_HEAD: getStatus,
		},
	})
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func StartRPCServer(port int, status handlers.StreamStatusProvider, gatherer prometheus.Gatherer, ctx context.Context) func() {
	zap.L().Info("Starting RPC server on port", zap.Int("port", port))

	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{
		Addr:              addr,
		Handler:           loggingMiddleware(NewMux(status, gatherer)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil {
			if err == http.ErrServerClosed {
				zap.L().Info("RPC server closed")
			} else {
				zap.L().Fatal("starting RPC server failed", zap.Error(err))
			}
		}
	}()
	closeFunc := func() {
		zap.L().Info("Closing RPC server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			zap.L().Error("server shutdown failed", zap.Error(err))
		}
	}
	return closeFunc
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{w, http.StatusOK}
		next.ServeHTTP(rw, r)

		// scrapes would flood the log
		level := zap.InfoLevel
		if r.URL.Path == "/metrics" {
			level = zap.DebugLevel
		}
		zap.L().Log(level, "Request",
			zap.String("ip", r.RemoteAddr),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rw.statusCode),
		)
	})
}
