package grpc

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/netip"
	"strconv"

	"connectrpc.com/connect"
	"github.com/astro-web3/projecthub-auth/internal/ratelimit"
	"github.com/astro-web3/projecthub-auth/pkg/logger"
)

// loginRateLimitInterceptor applies the shared per-IP login limiter to the
// Login procedure. Forwarding headers count only from trusted proxies.
func loginRateLimitInterceptor(limiter *ratelimit.Limiter, trusted []netip.Prefix) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		if limiter == nil {
			return next
		}
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			if req.Spec().Procedure != AuthServiceLoginProcedure {
				return next(ctx, req)
			}

			ip := ratelimit.ClientIP(req.Peer().Addr, req.Header().Get("X-Forwarded-For"), trusted)
			if ok, wait := limiter.Reserve(ip); !ok {
				logger.WarnContext(ctx, "login rate limit exceeded", slog.String("client_ip", ip))
				cerr := connect.NewError(connect.CodeResourceExhausted, errors.New("too many login attempts"))
				cerr.Meta().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				return nil, cerr
			}
			return next(ctx, req)
		}
	}
}
