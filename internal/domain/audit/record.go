package audit

import (
	"context"
	"time"
)

type Direction string

const (
	DirectionRequest  Direction = "REQUEST"
	DirectionResponse Direction = "RESPONSE"
)

// AnonymousUser attributes records of requests without a principal.
const AnonymousUser = "anonymous"

// Record is one audit log line. Body has already been redacted.
type Record struct {
	Timestamp    time.Time         `json:"timestamp"`
	Type         Direction         `json:"type"`
	RequestID    string            `json:"requestId,omitempty"`
	Method       string            `json:"method"`
	URL          string            `json:"url"`
	User         string            `json:"user"`
	Status       *int              `json:"status,omitempty"`
	ResponseTime *int64            `json:"responseTime,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	Body         any               `json:"body,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// Sink receives audit records. Emit must not block the caller on slow
// storage and must not fail the request.
type Sink interface {
	Emit(ctx context.Context, rec Record)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, rec Record)

func (f SinkFunc) Emit(ctx context.Context, rec Record) { f(ctx, rec) }

// Discard drops every record.
var Discard Sink = SinkFunc(func(context.Context, Record) {})
