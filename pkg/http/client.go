package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/astro-web3/projecthub-auth/pkg/tracer"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultTimeout   = 10 * time.Second
	DefaultRetry     = 2
	DefaultUserAgent = "projecthub-auth"
)

type Options struct {
	Timeout    time.Duration
	RetryCount int
	UserAgent  string
}

var (
	//nolint:gochecknoglobals // Global HTTP client is intentional for application-wide requests
	client *resty.Client
	//nolint:gochecknoglobals // Global once is intentional for thread-safe initialization
	once sync.Once
	//nolint:gochecknoglobals // set by Init before the first request
	options = Options{Timeout: DefaultTimeout, RetryCount: DefaultRetry, UserAgent: DefaultUserAgent}
)

// Init sets the shared client options. It only has an effect before the
// first request.
func Init(opts Options) {
	if opts.Timeout > 0 {
		options.Timeout = opts.Timeout
	}
	if opts.RetryCount >= 0 {
		options.RetryCount = opts.RetryCount
	}
	if opts.UserAgent != "" {
		options.UserAgent = opts.UserAgent
	}
}

func getClient() *resty.Client {
	once.Do(func() {
		client = resty.New().
			SetTimeout(options.Timeout).
			SetRetryCount(options.RetryCount).
			SetHeader("User-Agent", options.UserAgent).
			SetHeader("Accept", "application/json")
	})
	return client
}

// Client returns the shared HTTP client instance.
func Client() *resty.Client {
	return getClient()
}

type RequestOption func(*resty.Request)

func WithAuthToken(token string) RequestOption {
	return func(r *resty.Request) {
		if token != "" {
			r.SetAuthToken(token)
		}
	}
}

func WithBody(body any) RequestOption {
	return func(r *resty.Request) {
		r.SetHeader("Content-Type", "application/json")
		r.SetBody(body)
	}
}

// WithResult decodes a 2xx response into result.
func WithResult(result any) RequestOption {
	return func(r *resty.Request) {
		if result != nil {
			r.SetResult(result)
		}
	}
}

// WithPathParams fills {name} placeholders in the URL, escaping each value.
func WithPathParams(params map[string]string) RequestOption {
	return func(r *resty.Request) {
		r.SetPathParams(params)
	}
}

func WithHeader(key, value string) RequestOption {
	return func(r *resty.Request) {
		r.SetHeader(key, value)
	}
}

func Request(ctx context.Context, method, url string, opts ...RequestOption) (*resty.Response, error) {
	ctx, span := startClientSpan(ctx, "http.Request", method, url)
	defer span.End()

	request := getClient().R().SetContext(ctx)

	for _, opt := range opts {
		opt(request)
	}

	injectTracingHeaders(ctx, request)

	resp, err := request.Execute(method, url)

	recordSpan(span, resp, err)
	return resp, err
}

func Get(ctx context.Context, url string, opts ...RequestOption) (*resty.Response, error) {
	return Request(ctx, http.MethodGet, url, opts...)
}

func Post(ctx context.Context, url string, opts ...RequestOption) (*resty.Response, error) {
	return Request(ctx, http.MethodPost, url, opts...)
}

func injectTracingHeaders(ctx context.Context, request *resty.Request) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(request.Header))
}

func startClientSpan(
	ctx context.Context,
	spanName string,
	method string,
	url string,
) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	return tracer.Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.url", url),
		),
	)
}

func recordSpan(span trace.Span, resp *resty.Response, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	if resp == nil {
		return
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode()))
	if resp.IsError() {
		span.SetStatus(codes.Error, resp.Status())
		return
	}
	span.SetStatus(codes.Ok, "")
}
