package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nventro/ledgerlens/pkg/provider/embeddings/mock"
)

func TestFallbackGroup_PrimaryFirst(t *testing.T) {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{})
	fg.AddFallback("secondary", "secondary")

	var used string
	err := fg.Execute(func(v string) error {
		used = v
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if used != "primary" {
		t.Errorf("used = %q, want primary", used)
	}
}

func TestFallbackGroup_FailsOverInOrder(t *testing.T) {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{})
	fg.AddFallback("secondary", "secondary")
	fg.AddFallback("tertiary", "tertiary")

	var tried []string
	err := fg.Execute(func(v string) error {
		tried = append(tried, v)
		if v != "tertiary" {
			return errBackend
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := []string{"primary", "secondary", "tertiary"}
	if len(tried) != len(want) {
		t.Fatalf("tried = %v, want %v", tried, want)
	}
	for i := range want {
		if tried[i] != want[i] {
			t.Fatalf("tried = %v, want %v", tried, want)
		}
	}
}

func TestFallbackGroup_AllFailed(t *testing.T) {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{})
	fg.AddFallback("secondary", "secondary")

	err := fg.Execute(func(string) error { return errBackend })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestFallbackGroup_SkipsOpenBreaker(t *testing.T) {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	fg.AddFallback("secondary", "secondary")

	// Trip the primary's breaker.
	_ = fg.Execute(func(v string) error {
		if v == "primary" {
			return errBackend
		}
		return nil
	})

	// The primary is now skipped without being called.
	var tried []string
	err := fg.Execute(func(v string) error {
		tried = append(tried, v)
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(tried) != 1 || tried[0] != "secondary" {
		t.Errorf("tried = %v, want only secondary", tried)
	}
}

func TestExecuteWithResult(t *testing.T) {
	fg := NewFallbackGroup(1, "primary", FallbackConfig{})
	fg.AddFallback("secondary", 2)

	got, err := ExecuteWithResult(fg, func(v int) (string, error) {
		if v == 1 {
			return "", errBackend
		}
		return "from-secondary", nil
	})
	if err != nil {
		t.Fatalf("ExecuteWithResult: %v", err)
	}
	if got != "from-secondary" {
		t.Errorf("result = %q", got)
	}
}

func TestExecuteWithResult_AllFailed(t *testing.T) {
	fg := NewFallbackGroup(1, "only", FallbackConfig{})

	_, err := ExecuteWithResult(fg, func(int) (string, error) {
		return "", errBackend
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestEmbeddingsFallback_FailsOver(t *testing.T) {
	primary := &mock.Provider{
		DimensionsValue: 3,
		ModelIDValue:    "embed-v1",
		EmbedErr:        errBackend,
		EmbedBatchErr:   errBackend,
	}
	backup := &mock.Provider{
		DimensionsValue: 3,
		ModelIDValue:    "embed-v1",
		EmbedResult:     []float32{1, 0, 0},
	}

	ef := NewEmbeddingsFallback(primary, "primary", FallbackConfig{})
	ef.AddFallback("backup", backup)

	vec, err := ef.Embed(context.Background(), "SHELL FUEL PUMP 22")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("vector length = %d, want 3", len(vec))
	}
	if len(backup.EmbedCalls) != 1 {
		t.Errorf("backup calls = %d, want 1", len(backup.EmbedCalls))
	}

	// Identity comes from the primary entry regardless of who served the call.
	if ef.ModelID() != "embed-v1" {
		t.Errorf("model id = %q", ef.ModelID())
	}
	if ef.Dimensions() != 3 {
		t.Errorf("dimensions = %d", ef.Dimensions())
	}
}
