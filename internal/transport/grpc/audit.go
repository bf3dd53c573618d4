package grpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"connectrpc.com/connect"
	"github.com/astro-web3/projecthub-auth/internal/domain/audit"
	"github.com/astro-web3/projecthub-auth/internal/ids"
	"github.com/astro-web3/projecthub-auth/pkg/logger"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

const (
	requestIDHeader = "X-Request-ID"
	maxRequestIDLen = 128
)

type auditConfig struct {
	sink         audit.Sink
	redactor     *audit.Redactor
	filter       *audit.Filter
	captureBytes int
}

type auditUserKey struct{}

// setAuditUser attributes the current call to subject once a handler has
// authenticated the caller.
func setAuditUser(ctx context.Context, subject string) {
	if slot, ok := ctx.Value(auditUserKey{}).(*string); ok {
		*slot = subject
	}
}

// auditInterceptor emits a REQUEST and a RESPONSE record per audited
// procedure, with messages rendered as JSON and redacted. A handler panic is
// recorded and then re-raised.
func auditInterceptor(cfg auditConfig) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (resp connect.AnyResponse, err error) {
			procedure := req.Spec().Procedure
			if !cfg.filter.ShouldAudit(procedure) {
				return next(ctx, req)
			}

			start := time.Now()
			requestID := strings.TrimSpace(req.Header().Get(requestIDHeader))
			if requestID == "" || len(requestID) > maxRequestIDLen || strings.ContainsAny(requestID, "\r\n") {
				requestID = ids.New()
			}
			user := audit.AnonymousUser
			ctx = context.WithValue(ctx, auditUserKey{}, &user)

			base := audit.Record{
				RequestID: requestID,
				Method:    req.HTTPMethod(),
				URL:       procedure,
			}
			reqRec := base
			reqRec.Timestamp = start.UTC()
			reqRec.Type = audit.DirectionRequest
			reqRec.Headers = cfg.redactor.Headers(req.Header())
			reqRec.Body = cfg.messageBody(req.Any())

			defer func() {
				recovered := recover()
				func() {
					defer func() {
						if r := recover(); r != nil {
							logger.ErrorContext(ctx, "audit logging failed", slog.Any("panic", r))
						}
					}()

					reqRec.User = user
					cfg.sink.Emit(ctx, reqRec)

					elapsed := time.Since(start).Milliseconds()
					respRec := base
					respRec.Timestamp = time.Now().UTC()
					respRec.Type = audit.DirectionResponse
					respRec.User = user
					respRec.ResponseTime = &elapsed

					status := http.StatusOK
					switch {
					case recovered != nil:
						status = http.StatusInternalServerError
						respRec.Error = fmt.Sprint(recovered)
					case err != nil:
						status = httpStatus(connect.CodeOf(err))
						respRec.Error = errorText(err)
					case resp != nil:
						respRec.Headers = cfg.redactor.Headers(resp.Header())
						respRec.Body = cfg.messageBody(resp.Any())
					}
					respRec.Status = &status
					cfg.sink.Emit(ctx, respRec)
				}()
				if recovered != nil {
					panic(recovered)
				}
			}()

			return next(ctx, req)
		}
	}
}

// messageBody renders msg as JSON and redacts it like an HTTP body.
func (cfg auditConfig) messageBody(msg any) any {
	m, ok := msg.(proto.Message)
	if !ok || m == nil {
		return nil
	}
	b, err := protojson.Marshal(m)
	if err != nil {
		return nil
	}
	if cfg.captureBytes > 0 && len(b) > cfg.captureBytes {
		return audit.OversizeMarker(int64(len(b)))
	}
	return cfg.redactor.Body("application/json", b)
}

func errorText(err error) string {
	var cerr *connect.Error
	if errors.As(err, &cerr) {
		return cerr.Code().String() + ": " + cerr.Message()
	}
	return err.Error()
}

// httpStatus follows the connect protocol's code to status mapping.
func httpStatus(code connect.Code) int {
	switch code {
	case connect.CodeInvalidArgument, connect.CodeFailedPrecondition, connect.CodeOutOfRange:
		return http.StatusBadRequest
	case connect.CodeUnauthenticated:
		return http.StatusUnauthorized
	case connect.CodePermissionDenied:
		return http.StatusForbidden
	case connect.CodeNotFound:
		return http.StatusNotFound
	case connect.CodeAlreadyExists, connect.CodeAborted:
		return http.StatusConflict
	case connect.CodeResourceExhausted:
		return http.StatusTooManyRequests
	case connect.CodeUnimplemented:
		return http.StatusNotImplemented
	case connect.CodeUnavailable:
		return http.StatusServiceUnavailable
	case connect.CodeDeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
