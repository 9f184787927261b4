package feedback

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Compile-time interface check.
var _ Store = (*FileStore)(nil)

// FileStore persists feedback as JSON lines in a local file. It is the
// zero-infrastructure option for single-instance deployments; use
// [PostgresStore] when the service already has a database.
//
// Thread-safe for concurrent use.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a FileStore that writes to the given path.
// The file is created on first write if it does not exist.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Record implements [Store]. The entry is assigned an ID and timestamp if it
// does not carry them and appended as one JSON line.
func (fs *FileStore) Record(ctx context.Context, fb Feedback) error {
	if err := fb.Validate(); err != nil {
		return err
	}
	if fb.ID == "" {
		fb.ID = uuid.NewString()
	}
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(fb)
	if err != nil {
		return fmt.Errorf("feedback: marshal: %w", err)
	}
	data = append(data, '\n')

	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, err := os.OpenFile(fs.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("feedback: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("feedback: write: %w", err)
	}
	return nil
}

// ExportTrainingData implements [Store]. Each call opens the file fresh, so
// the cursor always starts at the oldest entry and reflects everything
// recorded before the call. A store that has never recorded anything exports
// an empty (but valid) cursor.
func (fs *FileStore) ExportTrainingData(ctx context.Context) (Export, error) {
	f, err := os.Open(fs.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &fileExport{}, nil
		}
		return nil, fmt.Errorf("feedback: open export: %w", err)
	}
	return &fileExport{file: f, scanner: bufio.NewScanner(f)}, nil
}

// fileExport iterates JSON lines from the feedback file. The zero value is
// an exhausted cursor.
type fileExport struct {
	file    *os.File
	scanner *bufio.Scanner
	current TrainingPair
	err     error
}

// Next implements [Export].
func (e *fileExport) Next() bool {
	if e.scanner == nil || e.err != nil {
		return false
	}
	for e.scanner.Scan() {
		var fb Feedback
		if err := json.Unmarshal(e.scanner.Bytes(), &fb); err != nil {
			e.err = fmt.Errorf("feedback: decode entry: %w", err)
			return false
		}
		e.current = TrainingPair{
			TransactionText: fb.TransactionText,
			LabelID:         fb.CorrectedLabelID,
		}
		return true
	}
	e.err = e.scanner.Err()
	return false
}

// Pair implements [Export].
func (e *fileExport) Pair() TrainingPair {
	return e.current
}

// Err implements [Export].
func (e *fileExport) Err() error {
	return e.err
}

// Close implements [Export].
func (e *fileExport) Close() error {
	if e.file == nil {
		return nil
	}
	return e.file.Close()
}
