package httpx

import (
	"net/http"

	"github.com/openparcel/jobcore/internal/service"
)

// RouterServices holds the services needed by the HTTP router.
type RouterServices struct {
	Dispatcher *service.Dispatcher
	Reader     *service.Reader
}

// NewRouter creates and configures the API router.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	jobHandlers := &JobHandlers{Dispatcher: services.Dispatcher, Reader: services.Reader}
	registerJobRoutes(mux, jobHandlers)

	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))

	return mux
}

func registerJobRoutes(mux *http.ServeMux, h *JobHandlers) {
	mux.HandleFunc("POST /api/tenants/{tenant}/jobs", h.SubmitJob)
	mux.HandleFunc("GET /api/tenants/{tenant}/jobs/stats", h.Stats)
	mux.HandleFunc("GET /api/tenants/{tenant}/jobs/{id}/status", h.GetStatus)
	mux.HandleFunc("GET /api/tenants/{tenant}/jobs/{id}/result", h.GetResult)
}
