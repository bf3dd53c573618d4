package auditsink

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"github.com/astro-web3/projecthub-auth/internal/domain/audit"
	"github.com/astro-web3/projecthub-auth/pkg/logger"
	"github.com/astro-web3/projecthub-auth/pkg/metrics"
)

const DefaultBufferSize = 1024

// LineWriter persists encoded audit lines. Close flushes anything buffered.
type LineWriter interface {
	WriteLine(ctx context.Context, line []byte) error
	Close(ctx context.Context) error
}

// AsyncSink hands records to a single background writer through a bounded
// queue. When the queue is full records are dropped and counted; Emit never
// waits on storage.
type AsyncSink struct {
	queue  chan audit.Record
	writer LineWriter
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewAsyncSink(writer LineWriter, bufferSize int) *AsyncSink {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	s := &AsyncSink{
		queue:  make(chan audit.Record, bufferSize),
		writer: writer,
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *AsyncSink) Emit(ctx context.Context, rec audit.Record) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return
	}
	select {
	case s.queue <- rec:
	default:
		metrics.ObserveAuditDropped()
		logger.WarnContext(ctx, "audit record dropped",
			slog.String("request_id", rec.RequestID),
			slog.String("type", string(rec.Type)),
		)
	}
}

func (s *AsyncSink) run() {
	defer close(s.done)
	ctx := context.Background()

	for rec := range s.queue {
		line, err := json.Marshal(rec)
		if err != nil {
			logger.ErrorContext(ctx, "failed to encode audit record",
				slog.String("request_id", rec.RequestID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := s.writer.WriteLine(ctx, line); err != nil {
			logger.ErrorContext(ctx, "failed to write audit record",
				slog.String("request_id", rec.RequestID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Close stops accepting records, drains the queue and closes the writer.
// It gives up waiting when ctx ends.
func (s *AsyncSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.writer.Close(ctx)
}

// StreamWriter writes newline-delimited JSON to w.
type StreamWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewStreamWriter(w io.Writer) *StreamWriter {
	return &StreamWriter{w: w}
}

func (s *StreamWriter) WriteLine(_ context.Context, line []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	_, err := s.w.Write(buf)
	return err
}

func (s *StreamWriter) Close(context.Context) error { return nil }
