package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// newEmbedServer returns a test server that answers /api/embed with one
// fixed-dimension vector per input text.
func newEmbedServer(t *testing.T, dims int) (*httptest.Server, *[]embedRequest) {
	t.Helper()
	var requests []embedRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		requests = append(requests, req)

		resp := embedResponse{Model: req.Model, Embeddings: make([][]float32, len(req.Input))}
		for i := range req.Input {
			vec := make([]float32, dims)
			vec[i%dims] = 1
			resp.Embeddings[i] = vec
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func TestProvider_Embed(t *testing.T) {
	srv, requests := newEmbedServer(t, 4)
	p, err := New(srv.URL, "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	vec, err := p.Embed(context.Background(), "SHELL FUEL PUMP 22")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 4 {
		t.Errorf("vector length = %d, want 4", len(vec))
	}
	if len(*requests) != 1 {
		t.Fatalf("requests = %d, want 1", len(*requests))
	}
	got := (*requests)[0]
	if got.Model != "nomic-embed-text" {
		t.Errorf("model = %q", got.Model)
	}
	if len(got.Input) != 1 || got.Input[0] != "SHELL FUEL PUMP 22" {
		t.Errorf("input = %v", got.Input)
	}
}

func TestProvider_EmbedBatch(t *testing.T) {
	srv, requests := newEmbedServer(t, 4)
	p, err := New(srv.URL, "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	texts := []string{"one", "two", "three"}
	vecs, err := p.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("vectors = %d, want 3", len(vecs))
	}
	// All texts travel in one request.
	if len(*requests) != 1 {
		t.Errorf("requests = %d, want 1", len(*requests))
	}
}

func TestProvider_EmbedBatchEmpty(t *testing.T) {
	srv, requests := newEmbedServer(t, 4)
	p, err := New(srv.URL, "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	vecs, err := p.EmbedBatch(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Errorf("EmbedBatch(nil) = %v, %v; want nil, nil", vecs, err)
	}
	if len(*requests) != 0 {
		t.Error("empty batch must not hit the network")
	}
}

func TestProvider_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	p, err := New(srv.URL, "missing-model")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestProvider_Dimensions(t *testing.T) {
	// Known models resolve without touching the network.
	p, err := New("http://localhost:1", "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := p.Dimensions(); got != 768 {
		t.Errorf("dimensions = %d, want 768", got)
	}

	// WithDimensions overrides the table.
	p, err = New("http://localhost:1", "nomic-embed-text", WithDimensions(256))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := p.Dimensions(); got != 256 {
		t.Errorf("dimensions = %d, want 256", got)
	}

	// Unknown models probe the live server once.
	srv, requests := newEmbedServer(t, 7)
	p, err = New(srv.URL, "custom-model")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := p.Dimensions(); got != 7 {
		t.Errorf("dimensions = %d, want probed 7", got)
	}
	p.Dimensions()
	if len(*requests) != 1 {
		t.Errorf("probe requests = %d, want exactly 1", len(*requests))
	}
}

func TestNew_RequiresModel(t *testing.T) {
	if _, err := New("", ""); err == nil {
		t.Fatal("expected error for empty model")
	}
}

func TestProvider_ModelID(t *testing.T) {
	p, err := New("", "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.ModelID() != "nomic-embed-text" {
		t.Errorf("model id = %q", p.ModelID())
	}
}
