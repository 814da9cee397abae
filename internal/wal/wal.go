// Package wal persists raw forecast-ingest payloads before they are
// parsed, so submissions lost to a crash or rejected as malformed can
// be replayed against the endpoint that received them.
package wal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// IngestWAL appends one record per incoming request to a daily log
// file, fsync'd before the request proceeds to parsing. Records carry
// the receiving endpoint so a replay can re-dispatch each body to the
// handler that originally took it.
type IngestWAL struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// Record is one logged submission. Body is the raw request payload,
// exactly as received; base64 on the wire via encoding/json.
type Record struct {
	Timestamp time.Time `json:"ts"`
	Endpoint  string    `json:"endpoint"`
	Body      []byte    `json:"body"`
}

// Decode unmarshals the raw body into the request type the endpoint
// expects, e.g. a pipeline.Request for /v1/forecast.
func (rec Record) Decode(v any) error {
	if err := json.Unmarshal(rec.Body, v); err != nil {
		return fmt.Errorf("decode %s record from %s: %w", rec.Endpoint, rec.Timestamp.Format(time.RFC3339), err)
	}
	return nil
}

// NewIngestWAL opens (or creates) the log file for today under dir.
func NewIngestWAL(dir string) (*IngestWAL, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create WAL directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("ingest-%s.wal", time.Now().Format("20060102")))
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open WAL file: %w", err)
	}

	return &IngestWAL{file: file, path: path}, nil
}

// Append logs one request body for an endpoint and fsyncs before
// returning. Callers invoke this before parsing the body, so even
// payloads that later fail validation are recoverable.
func (w *IngestWAL) Append(endpoint string, body []byte) error {
	line, err := json.Marshal(Record{
		Timestamp: time.Now().UTC(),
		Endpoint:  endpoint,
		Body:      body,
	})
	if err != nil {
		return fmt.Errorf("encode WAL record: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write WAL record: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("sync WAL: %w", err)
	}
	return nil
}

// Path returns the log file currently being appended to.
func (w *IngestWAL) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.path
}

// Close flushes and closes the log file.
func (w *IngestWAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.file.Sync(); err != nil {
		return err
	}
	return w.file.Close()
}

// Replay streams every well-formed record of a log file to handle,
// oldest first. Corrupt lines are counted and skipped rather than
// aborting the replay; the skip count lets the operator decide whether
// the file needs manual inspection.
func Replay(path string, handle func(Record) error) (skipped int, err error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 8<<20)
	for scanner.Scan() {
		var rec Record
		if jerr := json.Unmarshal(scanner.Bytes(), &rec); jerr != nil || rec.Endpoint == "" {
			skipped++
			continue
		}
		if herr := handle(rec); herr != nil {
			return skipped, herr
		}
	}
	return skipped, scanner.Err()
}

// ReadAll collects every well-formed record of a log file, for callers
// that want the submissions rather than a streaming dispatch.
func ReadAll(path string) ([]Record, error) {
	var records []Record
	_, err := Replay(path, func(rec Record) error {
		records = append(records, rec)
		return nil
	})
	return records, err
}

// Rotate closes the current log and opens today's file, returning the
// new WAL and the path of the closed one for archival.
func Rotate(dir string, current *IngestWAL) (*IngestWAL, string, error) {
	oldPath := current.Path()
	if err := current.Close(); err != nil {
		return nil, "", fmt.Errorf("close current WAL: %w", err)
	}

	next, err := NewIngestWAL(dir)
	if err != nil {
		return nil, "", err
	}
	return next, oldPath, nil
}
