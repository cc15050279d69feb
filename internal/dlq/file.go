package dlq

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileQueue appends failed events to an NDJSON file. Single-instance
// only; intended for development deployments without NATS.
type FileQueue struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// NewFileQueue creates (or reopens) a file-backed DLQ under basePath.
func NewFileQueue(basePath string) (*FileQueue, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create dlq dir: %w", err)
	}
	path := filepath.Join(basePath, "failed-events.ndjson")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open dlq file: %w", err)
	}
	return &FileQueue{path: path, f: f}, nil
}

// Write records a failed event as one NDJSON line.
func (q *FileQueue) Write(ctx context.Context, raw json.RawMessage, cause error, reason string) error {
	if q == nil {
		return nil
	}

	failed := FailedEvent{
		Timestamp: time.Now().UTC(),
		Raw:       raw,
		Error:     cause.Error(),
		Reason:    reason,
	}
	line, err := json.Marshal(failed)
	if err != nil {
		return fmt.Errorf("marshal dlq entry: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if _, err := q.f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write dlq entry: %w", err)
	}
	return nil
}

// List returns up to limit recorded events, oldest first.
func (q *FileQueue) List(limit int) ([]FailedEvent, error) {
	if q == nil {
		return nil, fmt.Errorf("dlq not enabled")
	}
	if limit <= 0 {
		limit = 100
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	f, err := os.Open(q.path)
	if err != nil {
		return nil, fmt.Errorf("open dlq file: %w", err)
	}
	defer f.Close()

	var events []FailedEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() && len(events) < limit {
		var failed FailedEvent
		if err := json.Unmarshal(scanner.Bytes(), &failed); err != nil {
			continue
		}
		events = append(events, failed)
	}
	return events, scanner.Err()
}

func (q *FileQueue) Close() error {
	if q == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.f.Close()
}
