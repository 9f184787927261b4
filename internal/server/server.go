// Package server exposes the classification core over HTTP.
//
// All routes are JSON except GET /v1/training-data, which streams JSON Lines,
// and /v1/predict/stream, which upgrades to a WebSocket for interactive bulk
// classification. Every route runs behind the observability middleware, so
// responses carry an X-Correlation-ID header tied to the request's trace.
package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nventro/ledgerlens/internal/config"
	"github.com/nventro/ledgerlens/internal/feedback"
	"github.com/nventro/ledgerlens/internal/health"
	"github.com/nventro/ledgerlens/internal/inference"
	"github.com/nventro/ledgerlens/internal/observe"
	"github.com/nventro/ledgerlens/internal/taxonomy"
)

// Server holds the HTTP handler dependencies. Construct with [New] and mount
// via [Server.Routes].
type Server struct {
	svc      *inference.Service
	registry *config.Registry
	health   *health.Handler
	metrics  *observe.Metrics
}

// New creates a Server around the inference service. The registry is used by
// the model swap endpoint to construct replacement embedding providers.
func New(svc *inference.Service, registry *config.Registry, h *health.Handler, m *observe.Metrics) *Server {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Server{svc: svc, registry: registry, health: h, metrics: m}
}

// Routes builds the full route table wrapped in the observability middleware.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/predict", s.handlePredict)
	mux.HandleFunc("POST /v1/predict/bulk", s.handlePredictBulk)
	mux.HandleFunc("GET /v1/predict/stream", s.handlePredictStream)
	mux.HandleFunc("POST /v1/explain", s.handleExplain)

	mux.HandleFunc("GET /v1/labels", s.handleListLabels)
	mux.HandleFunc("PUT /v1/labels/{id}", s.handleUpsertLabel)
	mux.HandleFunc("DELETE /v1/labels/{id}", s.handleDeleteLabel)
	mux.HandleFunc("POST /v1/labels/bulk", s.handleBulkLabels)

	mux.HandleFunc("POST /v1/feedback", s.handleFeedback)
	mux.HandleFunc("GET /v1/training-data", s.handleTrainingData)

	mux.HandleFunc("GET /v1/model", s.handleGetModel)
	mux.HandleFunc("POST /v1/model/swap", s.handleSwapModel)

	mux.Handle("GET /metrics", promhttp.Handler())
	if s.health != nil {
		s.health.Register(mux)
	}

	return observe.Middleware(s.metrics)(mux)
}

// errorBody is the uniform JSON error envelope.
type errorBody struct {
	Error string `json:"error"`
}

// writeJSON encodes v with the given status. Encoding failures surface as a
// bare 500; by then the status line may already be written, so no recovery
// is attempted.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding response failed"}`, http.StatusInternalServerError)
	}
}

// writeError maps a service error to its HTTP status and writes the error
// envelope.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorBody{Error: err.Error()})
}

// statusFor maps service-layer errors onto HTTP status codes. Unrecognised
// errors are internal.
func statusFor(err error) int {
	switch {
	case errors.Is(err, inference.ErrEmptyText):
		return http.StatusBadRequest
	case errors.Is(err, taxonomy.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, taxonomy.ErrModelSwapped):
		return http.StatusConflict
	case errors.Is(err, feedback.ErrUnknownLabel):
		return http.StatusUnprocessableEntity
	case errors.Is(err, inference.ErrNothingToExplain):
		return http.StatusUnprocessableEntity
	case errors.Is(err, config.ErrProviderNotRegistered):
		return http.StatusBadRequest
	case inference.IsEmbeddingError(err):
		// The input was fine; the model backend was not.
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decode unmarshals the request body into v, limiting reads to maxBodyBytes.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return nil
}

// maxBodyBytes caps request bodies. Bulk uploads of tens of thousands of
// transaction lines fit comfortably; anything bigger should be chunked.
const maxBodyBytes = 16 << 20
