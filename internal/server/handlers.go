package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nventro/ledgerlens/internal/config"
	"github.com/nventro/ledgerlens/internal/feedback"
	"github.com/nventro/ledgerlens/internal/inference"
	"github.com/nventro/ledgerlens/internal/observe"
	"github.com/nventro/ledgerlens/internal/taxonomy"
)

// predictRequest is the body of POST /v1/predict and /v1/explain.
type predictRequest struct {
	Text string `json:"text"`
}

// handlePredict classifies a single transaction description.
func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return
	}

	pred, err := s.svc.Predict(r.Context(), req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pred)
}

// bulkRequest is the body of POST /v1/predict/bulk.
type bulkRequest struct {
	Texts []string `json:"texts"`
}

// bulkItem is one entry of the bulk response, index-aligned with the request.
type bulkItem struct {
	Prediction *inference.Prediction `json:"prediction,omitempty"`
	Error      string                `json:"error,omitempty"`
}

// handlePredictBulk classifies a batch of transaction descriptions. The
// response array is index-aligned with the request: item i always answers
// text i, and a failed item carries its error without affecting siblings.
func (s *Server) handlePredictBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return
	}
	if len(req.Texts) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "texts must not be empty"})
		return
	}

	outcomes := s.svc.PredictBulk(r.Context(), req.Texts)
	items := make([]bulkItem, len(outcomes))
	for i, o := range outcomes {
		if o.Err != nil {
			items[i] = bulkItem{Error: o.Err.Error()}
			continue
		}
		items[i] = bulkItem{Prediction: o.Prediction}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": items})
}

// explainResponse pairs a prediction with its generated justification.
type explainResponse struct {
	Prediction  *inference.Prediction `json:"prediction"`
	Explanation string                `json:"explanation"`
}

// handleExplain classifies a transaction and generates a natural-language
// justification for the verdict in one round trip.
func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return
	}

	pred, err := s.svc.Predict(r.Context(), req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	explanation, err := s.svc.Explain(r.Context(), pred)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, explainResponse{Prediction: pred, Explanation: explanation})
}

// handleListLabels returns the live taxonomy, ordered by label ID.
func (s *Server) handleListLabels(w http.ResponseWriter, _ *http.Request) {
	labels := s.svc.Taxonomy()
	writeJSON(w, http.StatusOK, map[string]any{
		"model_version": s.svc.ModelVersion(),
		"labels":        labels,
	})
}

// labelRequest is the body of PUT /v1/labels/{id}.
type labelRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// handleUpsertLabel creates or updates one label. The label is embedded,
// persisted, and live for ranking by the time the response is written.
func (s *Server) handleUpsertLabel(w http.ResponseWriter, r *http.Request) {
	var req labelRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return
	}

	label := taxonomy.Label{
		ID:          r.PathValue("id"),
		Name:        req.Name,
		Description: req.Description,
	}
	if err := label.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	if err := s.svc.UpsertLabel(r.Context(), label); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, label)
}

// handleDeleteLabel removes a label from the live taxonomy. Deleting an
// unknown ID succeeds: the label is not live either way.
func (s *Server) handleDeleteLabel(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.RemoveLabel(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// bulkLabelsRequest is the body of POST /v1/labels/bulk.
type bulkLabelsRequest struct {
	Labels []taxonomy.Label `json:"labels"`
}

// handleBulkLabels imports labels best-effort and reports per-label failures
// alongside the count of successful imports.
func (s *Server) handleBulkLabels(w http.ResponseWriter, r *http.Request) {
	var req bulkLabelsRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return
	}
	if len(req.Labels) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "labels must not be empty"})
		return
	}

	imported, err := s.svc.UpsertLabels(r.Context(), req.Labels)
	resp := map[string]any{"imported": imported}
	status := http.StatusOK
	if err != nil {
		resp["errors"] = err.Error()
		if imported == 0 {
			status = http.StatusBadGateway
		} else {
			status = http.StatusMultiStatus
		}
	}
	writeJSON(w, status, resp)
}

// handleFeedback records a human correction to a prediction.
func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var fb feedback.Feedback
	if err := decode(r, &fb); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return
	}
	if err := fb.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	if err := s.svc.RecordFeedback(r.Context(), fb); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
}

// handleTrainingData streams the accumulated training pairs as JSON Lines.
// The cursor is lazy, so arbitrarily large datasets stream without buffering
// in memory.
func (s *Server) handleTrainingData(w http.ResponseWriter, r *http.Request) {
	export, err := s.svc.ExportTrainingData(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	defer export.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	count := 0
	for export.Next() {
		if err := enc.Encode(export.Pair()); err != nil {
			observe.Logger(r.Context()).Warn("training data stream aborted", "error", err, "written", count)
			return
		}
		count++
	}
	if err := export.Err(); err != nil {
		// Headers are gone; all we can do is cut the stream and log.
		observe.Logger(r.Context()).Error("training data export failed mid-stream", "error", err, "written", count)
	}
}

// handleGetModel reports the embedding model currently in service.
func (s *Server) handleGetModel(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"model_version": s.svc.ModelVersion(),
		"labels":        len(s.svc.Taxonomy()),
	})
}

// swapModelRequest mirrors the config file's providers.embeddings block.
type swapModelRequest struct {
	Name    string         `json:"name"`
	APIKey  string         `json:"api_key,omitempty"`
	BaseURL string         `json:"base_url,omitempty"`
	Model   string         `json:"model"`
	Options map[string]any `json:"options,omitempty"`
}

// handleSwapModel replaces the embedding provider at runtime. The request
// body is a provider entry in the same shape as the config file's
// providers.embeddings block. The taxonomy is fully re-embedded before the
// response is written.
func (s *Server) handleSwapModel(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "model swapping is not enabled"})
		return
	}

	var req swapModelRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "provider name is required"})
		return
	}

	provider, err := s.registry.CreateEmbeddings(config.ProviderEntry{
		Name:    req.Name,
		APIKey:  req.APIKey,
		BaseURL: req.BaseURL,
		Model:   req.Model,
		Options: req.Options,
	})
	if err != nil {
		writeError(w, fmt.Errorf("create provider: %w", err))
		return
	}

	if err := s.svc.SwapModel(r.Context(), provider); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"model_version": s.svc.ModelVersion(),
		"labels":        len(s.svc.Taxonomy()),
	})
}
