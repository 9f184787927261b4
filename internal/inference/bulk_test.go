package inference

import (
	"context"
	"errors"
	"testing"

	"github.com/nventro/ledgerlens/internal/classify"
)

func TestPredictBulk_OutcomeAlignment(t *testing.T) {
	svc, _ := newTestService(t, testConfig())
	seedLabels(t, svc)

	texts := []string{
		"SHELL FUEL PUMP 22",
		"",
		"STARBUCKS #1234",
		"   ",
		"WHOLEFDS MKT",
	}
	outcomes := svc.PredictBulk(context.Background(), texts)
	if len(outcomes) != len(texts) {
		t.Fatalf("outcomes = %d, want %d", len(outcomes), len(texts))
	}

	if outcomes[0].Err != nil || outcomes[0].Prediction.Top.LabelID != "fuel" {
		t.Errorf("outcome[0] = %+v, want a fuel prediction", outcomes[0])
	}
	if !errors.Is(outcomes[1].Err, ErrEmptyText) {
		t.Errorf("outcome[1].Err = %v, want ErrEmptyText", outcomes[1].Err)
	}
	if outcomes[2].Err != nil || outcomes[2].Prediction.Top.LabelID != "dining" {
		t.Errorf("outcome[2] = %+v, want a dining prediction", outcomes[2])
	}
	if !errors.Is(outcomes[3].Err, ErrEmptyText) {
		t.Errorf("outcome[3].Err = %v, want ErrEmptyText", outcomes[3].Err)
	}
	if outcomes[4].Err != nil || outcomes[4].Prediction.Tier != classify.TierAmbiguous {
		t.Errorf("outcome[4] = %+v, want an ambiguous prediction", outcomes[4])
	}

	// Prediction i must answer text i.
	for i, o := range outcomes {
		if o.Prediction != nil && o.Prediction.Text != texts[i] {
			t.Errorf("outcome[%d] answers %q, want %q", i, o.Prediction.Text, texts[i])
		}
	}
}

func TestPredictBulk_UsesBatchedEmbedding(t *testing.T) {
	svc, td := newTestService(t, testConfig())
	seedLabels(t, svc)
	td.embedder.Reset()

	texts := []string{"SHELL FUEL PUMP 22", "STARBUCKS #1234", "WHOLEFDS MKT", "MYSTERY VENDOR"}
	outcomes := svc.PredictBulk(context.Background(), texts)
	for i, o := range outcomes {
		if o.Err != nil {
			t.Fatalf("outcome[%d] failed: %v", i, o.Err)
		}
	}

	// EmbedBatchSize is 2, so four items arrive as two batch calls and no
	// single-item calls.
	if got := len(td.embedder.EmbedBatchCalls); got != 2 {
		t.Errorf("batch calls = %d, want 2", got)
	}
	if got := len(td.embedder.EmbedCalls); got != 0 {
		t.Errorf("single embed calls = %d, want 0", got)
	}
}

func TestPredictBulk_BatchFailureRetriesPerItem(t *testing.T) {
	svc, td := newTestService(t, testConfig())
	seedLabels(t, svc)
	td.embedder.Reset()

	// The batched path fails wholesale; the per-item path works, except for
	// one poisoned input.
	poisoned := errors.New("token limit exceeded")
	td.embedder.EmbedBatchFunc = func([]string) ([][]float32, error) {
		return nil, errors.New("batch rejected")
	}
	td.embedder.EmbedFunc = func(text string) ([]float32, error) {
		if text == "POISONED ITEM" {
			return nil, poisoned
		}
		return testVectors[text], nil
	}

	texts := []string{"SHELL FUEL PUMP 22", "POISONED ITEM"}
	outcomes := svc.PredictBulk(context.Background(), texts)

	if outcomes[0].Err != nil {
		t.Errorf("outcome[0].Err = %v, healthy sibling must survive the batch failure", outcomes[0].Err)
	}
	if outcomes[0].Prediction == nil || outcomes[0].Prediction.Top.LabelID != "fuel" {
		t.Errorf("outcome[0] = %+v, want a fuel prediction", outcomes[0])
	}
	if !errors.Is(outcomes[1].Err, poisoned) {
		t.Errorf("outcome[1].Err = %v, want the poisoned item's cause", outcomes[1].Err)
	}
	if !IsEmbeddingError(outcomes[1].Err) {
		t.Error("per-item embed failure should be an EmbeddingError")
	}
}

func TestPredictBulk_CancelledContext(t *testing.T) {
	svc, _ := newTestService(t, testConfig())
	seedLabels(t, svc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	texts := []string{"SHELL FUEL PUMP 22", "", "STARBUCKS #1234"}
	outcomes := svc.PredictBulk(ctx, texts)
	if len(outcomes) != len(texts) {
		t.Fatalf("outcomes = %d, want %d even under cancellation", len(outcomes), len(texts))
	}

	// Unusable input is diagnosed before any provider work.
	if !errors.Is(outcomes[1].Err, ErrEmptyText) {
		t.Errorf("outcome[1].Err = %v, want ErrEmptyText", outcomes[1].Err)
	}
	// Valid items never reached the provider.
	for _, i := range []int{0, 2} {
		if !errors.Is(outcomes[i].Err, context.Canceled) {
			t.Errorf("outcome[%d].Err = %v, want context.Canceled", i, outcomes[i].Err)
		}
	}
}

func TestPredictBulk_EmptyTaxonomy(t *testing.T) {
	svc, _ := newTestService(t, testConfig())

	outcomes := svc.PredictBulk(context.Background(), []string{"SHELL FUEL PUMP 22"})
	if outcomes[0].Err != nil {
		t.Fatalf("err = %v, empty taxonomy is not an error", outcomes[0].Err)
	}
	if outcomes[0].Prediction.Tier != classify.TierUnclassifiable {
		t.Errorf("tier = %q, want unclassifiable", outcomes[0].Prediction.Tier)
	}
}

func TestPredictBulk_SingleSnapshotPerBatch(t *testing.T) {
	svc, td := newTestService(t, testConfig())
	seedLabels(t, svc)

	// A label mutation while the batch is in flight must not affect items
	// still being processed: every item ranks against the snapshot taken at
	// the start. The mock provider gives a convenient interception point.
	mutated := false
	td.embedder.EmbedBatchFunc = func(texts []string) ([][]float32, error) {
		if !mutated {
			mutated = true
			svc.RemoveLabel(context.Background(), "fuel")
		}
		out := make([][]float32, len(texts))
		for i, text := range texts {
			out[i] = testVectors[text]
		}
		return out, nil
	}

	outcomes := svc.PredictBulk(context.Background(), []string{"SHELL FUEL PUMP 22"})
	if outcomes[0].Err != nil {
		t.Fatalf("err = %v", outcomes[0].Err)
	}
	if outcomes[0].Prediction.Top.LabelID != "fuel" {
		t.Errorf("top = %q; the mid-batch removal must not affect the in-flight snapshot", outcomes[0].Prediction.Top.LabelID)
	}
}
