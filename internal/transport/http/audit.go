package http

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/astro-web3/projecthub-auth/internal/domain/audit"
	"github.com/astro-web3/projecthub-auth/internal/domain/identity"
	"github.com/astro-web3/projecthub-auth/pkg/logger"
	"github.com/gin-gonic/gin"
)

type auditConfig struct {
	sink         audit.Sink
	redactor     *audit.Redactor
	filter       *audit.Filter
	captureBytes int
}

// auditMiddleware emits a REQUEST and a RESPONSE record for every audited
// path. Both records are built in one deferred finalizer so an aborted or
// panicking request still produces the pair. Failures while auditing are
// logged and swallowed; a handler panic is re-raised after the records are
// emitted.
func auditMiddleware(cfg auditConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.filter.ShouldAudit(c.Request.URL.Path) {
			c.Next()
			return
		}

		start := time.Now()
		entry := requestSnapshot{
			method:      c.Request.Method,
			url:         c.Request.URL.RequestURI(),
			headers:     cfg.redactor.Headers(c.Request.Header),
			contentType: c.Request.Header.Get("Content-Type"),
		}
		entry.body, entry.oversize = captureRequestBody(c.Request, cfg.captureBytes)

		capture := &responseCapture{ResponseWriter: c.Writer, limit: cfg.captureBytes}
		c.Writer = capture

		defer func() {
			recovered := recover()
			emitAuditPair(c, cfg, entry, capture, start, recovered)
			if recovered != nil {
				panic(recovered)
			}
		}()

		c.Next()
	}
}

type requestSnapshot struct {
	method      string
	url         string
	headers     map[string]string
	contentType string
	body        []byte
	oversize    int64
}

func emitAuditPair(
	c *gin.Context,
	cfg auditConfig,
	entry requestSnapshot,
	capture *responseCapture,
	start time.Time,
	recovered any,
) {
	ctx := c.Request.Context()
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "audit logging failed", slog.Any("panic", r))
		}
	}()

	user := audit.AnonymousUser
	if p, ok := identity.FromContext(ctx); ok {
		user = p.Subject
	}
	requestID := c.GetString(requestIDKey)

	cfg.sink.Emit(ctx, audit.Record{
		Timestamp: start.UTC(),
		Type:      audit.DirectionRequest,
		RequestID: requestID,
		Method:    entry.method,
		URL:       entry.url,
		User:      user,
		Headers:   entry.headers,
		Body:      auditBody(cfg.redactor, entry.contentType, entry.body, entry.oversize),
	})

	status := capture.Status()
	elapsed := time.Since(start).Milliseconds()
	resp := audit.Record{
		Timestamp:    time.Now().UTC(),
		Type:         audit.DirectionResponse,
		RequestID:    requestID,
		Method:       entry.method,
		URL:          entry.url,
		User:         user,
		ResponseTime: &elapsed,
		Headers:      cfg.redactor.Headers(capture.Header()),
	}

	switch {
	case recovered != nil:
		status = http.StatusInternalServerError
		resp.Error = fmt.Sprint(recovered)
	case status >= http.StatusInternalServerError && len(c.Errors) > 0:
		resp.Error = c.Errors.Last().Error()
	default:
		resp.Body = auditBody(cfg.redactor, capture.Header().Get("Content-Type"), capture.body.Bytes(), capture.oversize())
	}
	resp.Status = &status

	cfg.sink.Emit(ctx, resp)
}

func auditBody(r *audit.Redactor, contentType string, body []byte, oversize int64) any {
	if oversize > 0 {
		return audit.OversizeMarker(oversize)
	}
	if len(body) == 0 {
		return nil
	}
	return r.Body(contentType, body)
}

// captureRequestBody reads up to limit bytes and puts them back in front of
// the unread remainder so the handler sees the full stream. When the body is
// longer than limit the second result is its size (or a lower bound when the
// length is unknown) and the captured prefix must not be logged.
func captureRequestBody(r *http.Request, limit int) ([]byte, int64) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, 0
	}

	buf, err := io.ReadAll(io.LimitReader(r.Body, int64(limit)+1))
	r.Body = readCloser{
		Reader: io.MultiReader(bytes.NewReader(buf), r.Body),
		Closer: r.Body,
	}
	if err != nil {
		logger.WarnContext(r.Context(), "audit could not read request body", slog.String("error", err.Error()))
		return nil, 0
	}

	if len(buf) > limit {
		return nil, max(r.ContentLength, int64(len(buf)))
	}
	return buf, 0
}

type readCloser struct {
	io.Reader
	io.Closer
}

// responseCapture tees the first limit bytes of the response body.
type responseCapture struct {
	gin.ResponseWriter
	body    bytes.Buffer
	limit   int
	written int64
}

func (w *responseCapture) Write(b []byte) (int, error) {
	w.tee(b)
	return w.ResponseWriter.Write(b)
}

func (w *responseCapture) WriteString(s string) (int, error) {
	w.tee([]byte(s))
	return w.ResponseWriter.WriteString(s)
}

func (w *responseCapture) tee(b []byte) {
	w.written += int64(len(b))
	if room := w.limit - w.body.Len(); room > 0 {
		w.body.Write(b[:min(room, len(b))])
	}
}

func (w *responseCapture) oversize() int64 {
	if w.written > int64(w.limit) {
		return w.written
	}
	return 0
}
