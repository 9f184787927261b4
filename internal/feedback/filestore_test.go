package feedback

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func tempStorePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "feedback.jsonl")
}

func collect(t *testing.T, store Store) []TrainingPair {
	t.Helper()
	export, err := store.ExportTrainingData(context.Background())
	if err != nil {
		t.Fatalf("ExportTrainingData: %v", err)
	}
	defer export.Close()

	var pairs []TrainingPair
	for export.Next() {
		pairs = append(pairs, export.Pair())
	}
	if err := export.Err(); err != nil {
		t.Fatalf("export iteration: %v", err)
	}
	return pairs
}

func TestFileStore_RecordAndExport(t *testing.T) {
	store := NewFileStore(tempStorePath(t))
	ctx := context.Background()

	entries := []Feedback{
		{TransactionText: "SHELL FUEL PUMP 22", PredictedLabelID: "auto", CorrectedLabelID: "fuel"},
		{TransactionText: "STARBUCKS #1234", CorrectedLabelID: "dining"},
		{TransactionText: "WHOLEFDS MKT", PredictedLabelID: "dining", CorrectedLabelID: "groceries"},
	}
	for _, fb := range entries {
		if err := store.Record(ctx, fb); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	pairs := collect(t, store)
	if len(pairs) != 3 {
		t.Fatalf("exported %d pairs, want 3", len(pairs))
	}
	// Oldest first, text paired with the corrected label.
	want := []TrainingPair{
		{TransactionText: "SHELL FUEL PUMP 22", LabelID: "fuel"},
		{TransactionText: "STARBUCKS #1234", LabelID: "dining"},
		{TransactionText: "WHOLEFDS MKT", LabelID: "groceries"},
	}
	for i := range want {
		if pairs[i] != want[i] {
			t.Errorf("pair[%d] = %+v, want %+v", i, pairs[i], want[i])
		}
	}
}

func TestFileStore_RecordAssignsIDAndTimestamp(t *testing.T) {
	path := tempStorePath(t)
	store := NewFileStore(path)

	before := time.Now().UTC().Add(-time.Second)
	err := store.Record(context.Background(), Feedback{
		TransactionText:  "SHELL FUEL PUMP 22",
		CorrectedLabelID: "fuel",
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var fb Feedback
	if err := json.Unmarshal(data[:len(data)-1], &fb); err != nil {
		t.Fatalf("decode persisted entry: %v", err)
	}
	if fb.ID == "" {
		t.Error("persisted entry has no generated ID")
	}
	if fb.CreatedAt.Before(before) || fb.CreatedAt.After(time.Now().UTC().Add(time.Second)) {
		t.Errorf("created_at = %v, want roughly now", fb.CreatedAt)
	}
}

func TestFileStore_RecordRejectsInvalidEntry(t *testing.T) {
	path := tempStorePath(t)
	store := NewFileStore(path)
	ctx := context.Background()

	if err := store.Record(ctx, Feedback{CorrectedLabelID: "fuel"}); err == nil {
		t.Error("expected error for empty transaction text")
	}
	if err := store.Record(ctx, Feedback{TransactionText: "SHELL"}); err == nil {
		t.Error("expected error for empty corrected label")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("rejected entries must not create the file")
	}
}

func TestFileStore_ExportWithoutFile(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "never-written.jsonl"))
	pairs := collect(t, store)
	if len(pairs) != 0 {
		t.Errorf("exported %d pairs from a store that never recorded, want 0", len(pairs))
	}
}

func TestFileStore_AppendsAcrossInstances(t *testing.T) {
	path := tempStorePath(t)
	ctx := context.Background()

	first := NewFileStore(path)
	if err := first.Record(ctx, Feedback{TransactionText: "SHELL FUEL PUMP 22", CorrectedLabelID: "fuel"}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	// A restarted process opens the same file and appends.
	second := NewFileStore(path)
	if err := second.Record(ctx, Feedback{TransactionText: "STARBUCKS #1234", CorrectedLabelID: "dining"}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	pairs := collect(t, second)
	if len(pairs) != 2 {
		t.Fatalf("exported %d pairs, want 2", len(pairs))
	}
	if pairs[0].LabelID != "fuel" || pairs[1].LabelID != "dining" {
		t.Errorf("pairs out of order: %+v", pairs)
	}
}

func TestFileStore_ExportSnapshotIsRestartable(t *testing.T) {
	store := NewFileStore(tempStorePath(t))
	ctx := context.Background()

	for _, text := range []string{"A ONE", "B TWO", "C THREE"} {
		if err := store.Record(ctx, Feedback{TransactionText: text, CorrectedLabelID: "misc"}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	// Abandon a cursor partway through; a fresh cursor starts at the top.
	export, err := store.ExportTrainingData(ctx)
	if err != nil {
		t.Fatalf("ExportTrainingData: %v", err)
	}
	if !export.Next() {
		t.Fatal("expected at least one pair")
	}
	if err := export.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	pairs := collect(t, store)
	if len(pairs) != 3 {
		t.Errorf("restarted export yielded %d pairs, want 3", len(pairs))
	}
	if pairs[0].TransactionText != "A ONE" {
		t.Errorf("restarted export starts at %q, want the oldest entry", pairs[0].TransactionText)
	}
}

func TestFileStore_CorruptLineSurfacesError(t *testing.T) {
	path := tempStorePath(t)
	store := NewFileStore(path)
	ctx := context.Background()

	if err := store.Record(ctx, Feedback{TransactionText: "SHELL", CorrectedLabelID: "fuel"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := f.WriteString("{not json\n"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	f.Close()

	export, err := store.ExportTrainingData(ctx)
	if err != nil {
		t.Fatalf("ExportTrainingData: %v", err)
	}
	defer export.Close()

	if !export.Next() {
		t.Fatal("the valid first line should still be readable")
	}
	if export.Next() {
		t.Fatal("iteration should stop at the corrupt line")
	}
	if export.Err() == nil {
		t.Error("Err() should report the decode failure")
	}
}
