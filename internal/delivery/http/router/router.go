package router

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sorinflow/divar-crawler/internal/delivery/http/handler"
	"github.com/sorinflow/divar-crawler/internal/delivery/http/middleware"
)

func New(h *handler.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.HandleHealthCheck)

	mux.HandleFunc("POST /api/scraper/start", h.HandleStartJob)
	mux.HandleFunc("GET /api/scraper/jobs", h.HandleListJobs)
	mux.HandleFunc("GET /api/scraper/jobs/{id}", h.HandleGetJob)
	mux.HandleFunc("POST /api/scraper/jobs/{id}/cancel", h.HandleCancelJob)
	mux.HandleFunc("GET /api/scraper/cities", h.HandleListCities)
	mux.HandleFunc("GET /api/scraper/categories", h.HandleListCategories)

	mux.HandleFunc("POST /api/auth/login", h.HandleRequestOtp)
	mux.HandleFunc("POST /api/auth/verify", h.HandleVerifyOtp)
	mux.HandleFunc("GET /api/auth/status", h.HandleAuthStatus)
	mux.HandleFunc("POST /api/auth/refresh", h.HandleRefreshSession)
	mux.HandleFunc("POST /api/auth/logout", h.HandleLogout)

	mux.HandleFunc("GET /api/proxies", h.HandleListProxies)
	mux.HandleFunc("POST /api/proxies", h.HandleAddProxy)
	mux.HandleFunc("POST /api/proxies/import", h.HandleImportProxies)
	mux.HandleFunc("POST /api/proxies/{id}/test", h.HandleTestProxy)
	mux.HandleFunc("PUT /api/proxies/{id}/active", h.HandleSetProxyActive)

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	// Apply middlewares
	var chainedHandler http.Handler = mux
	chainedHandler = middleware.Metrics(chainedHandler)
	chainedHandler = middleware.Logging(chainedHandler)

	return chainedHandler
}
