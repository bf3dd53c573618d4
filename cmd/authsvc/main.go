package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/astro-web3/projecthub-auth/internal/config"
	"github.com/astro-web3/projecthub-auth/internal/di"
	grpctransport "github.com/astro-web3/projecthub-auth/internal/transport/grpc"
	httptransport "github.com/astro-web3/projecthub-auth/internal/transport/http"
	"github.com/astro-web3/projecthub-auth/pkg/logger"
	"github.com/astro-web3/projecthub-auth/pkg/otel"
	"github.com/astro-web3/projecthub-auth/pkg/tracer"
)

const (
	shutdownTimeoutSeconds = 10
	serviceName            = "projecthub-auth"
)

var version = "dev"

type server interface {
	Addr() string
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

func main() {
	cfg := config.MustLoad()
	logger.InitLogger(cfg.Observability.LogLevel, cfg.Observability.Format, cfg.Observability.LogSource)

	ctx := context.Background()
	otelCfg := otel.DefaultConfig()
	otelCfg.ServiceName = serviceName
	otelCfg.ServiceVersion = version
	otelCfg.Environment = os.Getenv("APP_ENV")
	otelCfg.EndpointURL = cfg.Observability.TracingEndpointURL
	otelCfg.Enabled = cfg.Observability.TraceEnabled
	if err := tracer.Init(ctx, otelCfg); err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}

	container, err := di.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to build services: %v", err)
	}

	httpServer, err := httptransport.NewServer(container)
	if err != nil {
		log.Fatalf("Failed to build HTTP server: %v", err)
	}
	servers := []server{
		httpServer,
		grpctransport.NewServer(container),
	}

	serverErrChan := make(chan error, len(servers))
	for _, srv := range servers {
		go func() {
			logger.InfoContext(ctx, "starting server",
				slog.String("addr", srv.Addr()),
				slog.String("mode", cfg.Server.Mode),
			)
			if listenErr := srv.ListenAndServe(); listenErr != nil &&
				!errors.Is(listenErr, http.ErrServerClosed) {
				serverErrChan <- listenErr
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Println("Shutting down servers...")
	case serverErr := <-serverErrChan:
		log.Printf("Server error, shutting down: %v", serverErr)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		shutdownTimeoutSeconds*time.Second,
	)
	defer shutdownCancel()

	for _, srv := range servers {
		if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Printf("Server %s forced to shutdown: %v", srv.Addr(), shutdownErr)
		}
	}

	if closeErr := container.Close(shutdownCtx); closeErr != nil {
		log.Printf("Failed to release resources: %v", closeErr)
	} else {
		log.Println("Audit sink flushed and stores closed")
	}

	if shutdownErr := otel.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Printf("Failed to shutdown tracer provider: %v", shutdownErr)
	} else {
		log.Println("Tracer provider stopped gracefully")
	}
}
