package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nventro/ledgerlens/internal/classify"
	"github.com/nventro/ledgerlens/internal/config"
	"github.com/nventro/ledgerlens/internal/feedback"
	"github.com/nventro/ledgerlens/internal/inference"
	"github.com/nventro/ledgerlens/internal/taxonomy"
	"github.com/nventro/ledgerlens/pkg/provider/embeddings"
	"github.com/nventro/ledgerlens/pkg/provider/embeddings/mock"
)

// Label vectors and merchant texts live in a 3-dimensional toy space where
// fuel transactions land on fuel and dining on dining.
var serverTestVectors = map[string][]float32{
	"Fuel: gas stations, petrol":  {1, 0, 0},
	"Dining: restaurants, coffee": {0, 1, 0},
	"SHELL FUEL PUMP 22":          {0.95, 0.05, 0},
	"STARBUCKS #1234":             {0.05, 0.9, 0.05},
}

func newTestServer(t *testing.T) (*Server, *mock.Provider) {
	t.Helper()

	p := &mock.Provider{
		DimensionsValue: 3,
		ModelIDValue:    "test-embed-v1",
		EmbedFunc: func(text string) ([]float32, error) {
			if vec, ok := serverTestVectors[text]; ok {
				return vec, nil
			}
			return []float32{0.2, 0.2, 0.2}, nil
		},
	}
	cache := taxonomy.NewVectorCache(p)

	svc, err := inference.New(inference.Config{
		Classifier:         classify.Config{HighConfidence: 0.78, AmbiguityMargin: 0.05, TopK: 3},
		MaxBulkConcurrency: 2,
		EmbedBatchSize:     2,
	}, inference.Deps{
		Cache:    cache,
		Feedback: feedback.NewFileStore(t.TempDir() + "/feedback.jsonl"),
	})
	if err != nil {
		t.Fatalf("inference.New: %v", err)
	}

	ctx := context.Background()
	seed := []taxonomy.Label{
		{ID: "fuel", Name: "Fuel", Description: "gas stations, petrol"},
		{ID: "dining", Name: "Dining", Description: "restaurants, coffee"},
	}
	for _, l := range seed {
		if err := svc.UpsertLabel(ctx, l); err != nil {
			t.Fatalf("seed label %q: %v", l.ID, err)
		}
	}

	registry := config.NewRegistry()
	registry.RegisterEmbeddings("mock", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return &mock.Provider{
			DimensionsValue: 3,
			ModelIDValue:    "mock/" + entry.Model,
			EmbedFunc: func(string) ([]float32, error) {
				return []float32{0, 0, 1}, nil
			},
		}, nil
	})

	return New(svc, registry, nil, nil), p
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body %s)", err, rec.Body.String())
	}
}

func TestHandlePredict(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Routes()

	rec := doJSON(t, h, http.MethodPost, "/v1/predict", map[string]string{"text": "SHELL FUEL PUMP 22"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var pred inference.Prediction
	decodeBody(t, rec, &pred)
	if pred.Tier != classify.TierAccepted {
		t.Errorf("tier = %q, want accepted", pred.Tier)
	}
	if pred.Top.LabelID != "fuel" {
		t.Errorf("top = %q, want fuel", pred.Top.LabelID)
	}
	if pred.ID == "" || pred.ModelVersion != "test-embed-v1" {
		t.Errorf("prediction metadata incomplete: %+v", pred)
	}
}

func TestHandlePredict_EmptyText(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Routes()

	rec := doJSON(t, h, http.MethodPost, "/v1/predict", map[string]string{"text": "   "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var body errorBody
	decodeBody(t, rec, &body)
	if body.Error == "" {
		t.Error("error envelope is empty")
	}
}

func TestHandlePredict_MalformedJSON(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Routes()

	req := httptest.NewRequest(http.MethodPost, "/v1/predict", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandlePredict_UnknownFieldRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Routes()

	rec := doJSON(t, h, http.MethodPost, "/v1/predict", map[string]string{"txt": "SHELL"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for unknown field", rec.Code)
	}
}

func TestHandlePredict_ProviderDown(t *testing.T) {
	srv, p := newTestServer(t)
	h := srv.Routes()

	p.EmbedFunc = func(string) ([]float32, error) {
		return nil, context.DeadlineExceeded
	}
	rec := doJSON(t, h, http.MethodPost, "/v1/predict", map[string]string{"text": "SHELL FUEL PUMP 22"})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502 when the model backend fails", rec.Code)
	}
}

func TestHandlePredictBulk(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Routes()

	rec := doJSON(t, h, http.MethodPost, "/v1/predict/bulk", map[string]any{
		"texts": []string{"SHELL FUEL PUMP 22", "", "STARBUCKS #1234"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Results []struct {
			Prediction *inference.Prediction `json:"prediction"`
			Error      string                `json:"error"`
		} `json:"results"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Results) != 3 {
		t.Fatalf("results = %d, want 3", len(resp.Results))
	}
	if resp.Results[0].Prediction == nil || resp.Results[0].Prediction.Top.LabelID != "fuel" {
		t.Errorf("results[0] = %+v, want fuel", resp.Results[0])
	}
	if resp.Results[1].Error == "" || resp.Results[1].Prediction != nil {
		t.Errorf("results[1] = %+v, want an error for the empty item", resp.Results[1])
	}
	if resp.Results[2].Prediction == nil || resp.Results[2].Prediction.Top.LabelID != "dining" {
		t.Errorf("results[2] = %+v, want dining", resp.Results[2])
	}
}

func TestHandlePredictBulk_EmptyTexts(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Routes()

	rec := doJSON(t, h, http.MethodPost, "/v1/predict/bulk", map[string]any{"texts": []string{}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleLabels_UpsertListDelete(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Routes()

	rec := doJSON(t, h, http.MethodPut, "/v1/labels/travel", map[string]string{
		"name":        "Travel",
		"description": "flights, hotels",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/labels", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list struct {
		ModelVersion string           `json:"model_version"`
		Labels       []taxonomy.Label `json:"labels"`
	}
	decodeBody(t, rec, &list)
	if list.ModelVersion != "test-embed-v1" {
		t.Errorf("model_version = %q", list.ModelVersion)
	}
	if len(list.Labels) != 3 {
		t.Fatalf("labels = %d, want 3", len(list.Labels))
	}
	// Ordered by ID: dining, fuel, travel.
	if list.Labels[2].ID != "travel" {
		t.Errorf("labels[2] = %q, want travel", list.Labels[2].ID)
	}

	rec = doJSON(t, h, http.MethodDelete, "/v1/labels/travel", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/v1/labels", nil)
	decodeBody(t, rec, &list)
	if len(list.Labels) != 2 {
		t.Errorf("labels = %d after delete, want 2", len(list.Labels))
	}
}

func TestHandleUpsertLabel_InvalidBody(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Routes()

	// Name is required.
	rec := doJSON(t, h, http.MethodPut, "/v1/labels/x", map[string]string{"description": "no name"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleBulkLabels_PartialFailure(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Routes()

	rec := doJSON(t, h, http.MethodPost, "/v1/labels/bulk", map[string]any{
		"labels": []map[string]string{
			{"id": "travel", "name": "Travel"},
			{"id": "broken"}, // no name
		},
	})
	if rec.Code != http.StatusMultiStatus {
		t.Fatalf("status = %d, want 207", rec.Code)
	}
	var resp struct {
		Imported int    `json:"imported"`
		Errors   string `json:"errors"`
	}
	decodeBody(t, rec, &resp)
	if resp.Imported != 1 {
		t.Errorf("imported = %d, want 1", resp.Imported)
	}
	if !strings.Contains(resp.Errors, "broken") {
		t.Errorf("errors = %q, want mention of the failed label", resp.Errors)
	}
}

func TestHandleFeedback(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Routes()

	rec := doJSON(t, h, http.MethodPost, "/v1/feedback", map[string]string{
		"transaction_text":   "SHELL FUEL PUMP 22",
		"predicted_label_id": "dining",
		"corrected_label_id": "fuel",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestHandleFeedback_UnknownLabel(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Routes()

	rec := doJSON(t, h, http.MethodPost, "/v1/feedback", map[string]string{
		"transaction_text":   "SHELL FUEL PUMP 22",
		"corrected_label_id": "no-such-label",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
}

func TestHandleTrainingData_Streams(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Routes()

	for _, text := range []string{"SHELL FUEL PUMP 22", "CHEVRON 7781"} {
		rec := doJSON(t, h, http.MethodPost, "/v1/feedback", map[string]string{
			"transaction_text":   text,
			"corrected_label_id": "fuel",
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("feedback status = %d", rec.Code)
		}
	}

	rec := doJSON(t, h, http.MethodGet, "/v1/training-data", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("content type = %q", ct)
	}

	var pairs []feedback.TrainingPair
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		var pair feedback.TrainingPair
		if err := json.Unmarshal(scanner.Bytes(), &pair); err != nil {
			t.Fatalf("bad line %q: %v", scanner.Text(), err)
		}
		pairs = append(pairs, pair)
	}
	if len(pairs) != 2 {
		t.Fatalf("streamed %d pairs, want 2", len(pairs))
	}
	if pairs[0].LabelID != "fuel" || pairs[0].TransactionText != "SHELL FUEL PUMP 22" {
		t.Errorf("pairs[0] = %+v", pairs[0])
	}
}

func TestHandleModel_GetAndSwap(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Routes()

	rec := doJSON(t, h, http.MethodGet, "/v1/model", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var info struct {
		ModelVersion string `json:"model_version"`
		Labels       int    `json:"labels"`
	}
	decodeBody(t, rec, &info)
	if info.ModelVersion != "test-embed-v1" || info.Labels != 2 {
		t.Errorf("model info = %+v", info)
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/model/swap", map[string]any{
		"name":  "mock",
		"model": "v2",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("swap status = %d, body %s", rec.Code, rec.Body.String())
	}
	decodeBody(t, rec, &info)
	if info.ModelVersion != "mock/v2" {
		t.Errorf("model_version = %q after swap", info.ModelVersion)
	}
	if info.Labels != 2 {
		t.Errorf("labels = %d after swap, want the full taxonomy re-embedded", info.Labels)
	}
}

func TestHandleSwapModel_UnknownProvider(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Routes()

	rec := doJSON(t, h, http.MethodPost, "/v1/model/swap", map[string]any{"name": "never-registered"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{inference.ErrEmptyText, http.StatusBadRequest},
		{taxonomy.ErrNotFound, http.StatusNotFound},
		{taxonomy.ErrModelSwapped, http.StatusConflict},
		{feedback.ErrUnknownLabel, http.StatusUnprocessableEntity},
		{inference.ErrNothingToExplain, http.StatusUnprocessableEntity},
		{config.ErrProviderNotRegistered, http.StatusBadRequest},
		{&inference.EmbeddingError{Err: context.DeadlineExceeded}, http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
