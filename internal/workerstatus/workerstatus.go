// Package workerstatus implements the heartbeat/health component (C10):
// atomic status-file persistence for long-running workers (the Genesys
// connector, the AudioHook listener) and the health-check reader that
// backs their HTTP health endpoints.
package workerstatus

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/MrWong99/realtime-telemetry/internal/realtime/model"
)

// Writer atomically persists a worker's status to a JSON file: write to a
// temp file in the same directory, then rename into place, so a reader
// never observes a partially written file.
type Writer struct {
	path string
}

// NewWriter returns a [Writer] that persists to path.
func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

// Write serialises status and atomically replaces the file at w.path.
func (w *Writer) Write(status model.WorkerStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("workerstatus: marshal: %w", err)
	}

	dir := filepath.Dir(w.path)
	tmp, err := os.CreateTemp(dir, ".workerstatus-*.tmp")
	if err != nil {
		return fmt.Errorf("workerstatus: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("workerstatus: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("workerstatus: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, w.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("workerstatus: rename into place: %w", err)
	}
	return nil
}

// Health is the JSON shape served by the health endpoints: §6's
// {healthy, state, age_seconds, stale_after_seconds, status_path, status}.
type Health struct {
	Healthy           bool               `json:"healthy"`
	State             model.WorkerState  `json:"state"`
	AgeSeconds        float64            `json:"age_seconds"`
	StaleAfterSeconds float64            `json:"stale_after_seconds"`
	StatusPath        string             `json:"status_path"`
	Status            model.WorkerStatus `json:"status"`
}

// Reader reads a worker's status file and derives its health for the
// corresponding HTTP health endpoint.
type Reader struct {
	path              string
	staleAfterSeconds float64
	now               func() time.Time
}

// NewReader returns a [Reader] for the status file at path, considering a
// status stale after staleAfterSeconds of silence.
func NewReader(path string, staleAfterSeconds float64) *Reader {
	return &Reader{path: path, staleAfterSeconds: staleAfterSeconds, now: time.Now}
}

// Read loads the status file and computes its health. A file IO failure
// is returned as an error so the HTTP layer can respond 500, per §4.10.
func (r *Reader) Read() (Health, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return Health{}, fmt.Errorf("workerstatus: read %s: %w", r.path, err)
	}

	var status model.WorkerStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return Health{}, fmt.Errorf("workerstatus: parse %s: %w", r.path, err)
	}

	age := r.now().Sub(status.UpdatedAt).Seconds()
	healthy := age <= r.staleAfterSeconds && status.State != model.WorkerError && status.State != model.WorkerStopped

	return Health{
		Healthy:           healthy,
		State:             status.State,
		AgeSeconds:        age,
		StaleAfterSeconds: r.staleAfterSeconds,
		StatusPath:        r.path,
		Status:            status,
	}, nil
}
