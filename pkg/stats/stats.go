// Package stats writes an append-only JSON-lines record of everything the
// bridge did, for offline analysis of experiments.
package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/wddbridge/pkg/logger"
)

// Constants for the statistics sink.
const (
	datePlaceholder = "<date>"
	filePermission  = 0o600
	defaultBuffer   = 1024
)

// Recorder accepts statistics records. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Log(ctx context.Context, event string, fields ...logger.Field)
	Close() error
}

// Nop returns a Recorder that discards everything.
func Nop() Recorder { return nopRecorder{} }

type nopRecorder struct{}

func (nopRecorder) Log(context.Context, string, ...logger.Field) {}
func (nopRecorder) Close() error                                 { return nil }

// FileRecorder appends one JSON object per record to a file. The file name may
// contain "<date>", which is replaced by the current UTC date for every record
// so long-running experiments roll over to a new file each day.
type FileRecorder struct {
	pattern string
	token   string
	now     func() time.Time
	records chan map[string]any

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	done      chan struct{}
	log       logger.Logger
}

// Option configures a FileRecorder.
type Option func(*FileRecorder)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *FileRecorder) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger sets the logger used for write failures.
func WithLogger(l logger.Logger) Option {
	return func(r *FileRecorder) {
		if l != nil {
			r.log = l
		}
	}
}

// NewFileRecorder starts the background writer.
func NewFileRecorder(pattern string, opts ...Option) (*FileRecorder, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, fmt.Errorf("stats: empty file name")
	}
	r := &FileRecorder{
		pattern: pattern,
		token:   uuid.NewString(),
		now:     time.Now,
		records: make(chan map[string]any, defaultBuffer),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.Get().Named("stats")
	}
	go r.run()
	return r, nil
}

// Token identifies this process run in every record.
func (r *FileRecorder) Token() string { return r.token }

// Log queues a record. Records are dropped once the recorder is closed.
func (r *FileRecorder) Log(ctx context.Context, event string, fields ...logger.Field) {
	payload := make(map[string]any, len(fields)+3)
	for _, f := range fields {
		payload[f.Key] = normalize(f.Value)
	}
	payload["message"] = event
	payload["log_timestamp"] = r.now().UTC().Format(time.RFC3339Nano)
	payload["token"] = r.token

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.records <- payload:
	case <-ctx.Done():
	}
}

// Close flushes pending records and stops the writer.
func (r *FileRecorder) Close() error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.records)
		r.mu.Unlock()
	})
	<-r.done
	return nil
}

func (r *FileRecorder) run() {
	defer close(r.done)
	for payload := range r.records {
		if err := r.write(payload); err != nil {
			r.log.Error(context.Background(), "failed to write statistics record", logger.Error(err))
		}
	}
}

func (r *FileRecorder) write(payload map[string]any) error {
	buf, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	name := r.FileName()
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, filePermission)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	if _, err := f.Write(append(buf, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("append %s: %w", name, err)
	}
	return f.Close()
}

// FileName returns the file the next record goes to.
func (r *FileRecorder) FileName() string {
	if !strings.Contains(r.pattern, datePlaceholder) {
		return r.pattern
	}
	return strings.ReplaceAll(r.pattern, datePlaceholder, r.now().UTC().Format(time.DateOnly))
}

func normalize(v any) any {
	switch val := v.(type) {
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case time.Duration:
		return val.Seconds()
	case error:
		return val.Error()
	case fmt.Stringer:
		return val.String()
	default:
		return v
	}
}
