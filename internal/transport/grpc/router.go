package grpc

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"connectrpc.com/connect"
	"github.com/astro-web3/projecthub-auth/internal/domain/audit"
	"github.com/astro-web3/projecthub-auth/internal/ratelimit"
	"github.com/astro-web3/projecthub-auth/pkg/logger"
)

const defaultCaptureBytes = 64 * 1024

// RouterOptions carries the audit pipeline and login limiter shared with the
// HTTP surface. A nil AuditSink disables auditing.
type RouterOptions struct {
	AuditSink      audit.Sink
	Redactor       *audit.Redactor
	AuditFilter    *audit.Filter
	CaptureBytes   int
	LoginLimiter   *ratelimit.Limiter
	TrustedProxies []netip.Prefix
}

// NewRouter mounts the AuthService behind, outermost first: recovery,
// audit, login limiting, access log.
func NewRouter(handler AuthServiceHandler, opts RouterOptions) http.Handler {
	mux := http.NewServeMux()

	interceptors := []connect.Interceptor{recoveryInterceptor()}
	if opts.AuditSink != nil {
		redactor := opts.Redactor
		if redactor == nil {
			redactor = audit.NewRedactor("", 0)
		}
		captureBytes := opts.CaptureBytes
		if captureBytes <= 0 {
			captureBytes = defaultCaptureBytes
		}
		interceptors = append(interceptors, auditInterceptor(auditConfig{
			sink:         opts.AuditSink,
			redactor:     redactor,
			filter:       opts.AuditFilter,
			captureBytes: captureBytes,
		}))
	}
	interceptors = append(interceptors,
		loginRateLimitInterceptor(opts.LoginLimiter, opts.TrustedProxies),
		loggingInterceptor(),
	)

	path, httpHandler := NewAuthServiceHandler(handler, connect.WithInterceptors(interceptors...))
	mux.Handle(path, httpHandler)

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return mux
}

// recoveryInterceptor turns a handler panic into CodeInternal.
func recoveryInterceptor() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (resp connect.AnyResponse, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorContext(ctx, "panic recovered",
						slog.String("procedure", req.Spec().Procedure),
						slog.Any("panic", r),
					)
					resp, err = nil, connect.NewError(connect.CodeInternal, fmt.Errorf("internal error"))
				}
			}()
			return next(ctx, req)
		}
	}
}

func loggingInterceptor() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			duration := time.Since(start)

			if err != nil {
				logger.WarnContext(ctx, "request failed",
					slog.String("method", req.Spec().Procedure),
					slog.Duration("duration", duration),
					slog.String("code", connect.CodeOf(err).String()),
				)
			} else {
				logger.InfoContext(ctx, "request completed",
					slog.String("method", req.Spec().Procedure),
					slog.Duration("duration", duration),
				)
			}

			return resp, err
		}
	}
}
