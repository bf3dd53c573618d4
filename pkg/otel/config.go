package otel

import (
	"go.opentelemetry.io/otel/attribute"
)

// Config selects the span exporter. An empty EndpointURL or Enabled=false
// installs a no-op provider; grpc:// endpoints use OTLP/gRPC, anything else
// OTLP/HTTP.
type Config struct {
	ServiceName        string
	ServiceVersion     string
	Environment        string
	EndpointURL        string
	Enabled            bool
	SampleRatio        float64
	Insecure           bool
	ResourceAttributes map[string]string
}

func DefaultConfig() Config {
	return Config{
		ServiceName:        "projecthub-auth",
		ServiceVersion:     "dev",
		SampleRatio:        1.0,
		Insecure:           true,
		ResourceAttributes: make(map[string]string),
	}
}

func (c Config) resourceAttributes() []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(c.ResourceAttributes)+3)
	attrs = append(attrs, attribute.String("service.name", c.ServiceName))
	if c.ServiceVersion != "" {
		attrs = append(attrs, attribute.String("service.version", c.ServiceVersion))
	}
	if c.Environment != "" {
		attrs = append(attrs, attribute.String("deployment.environment.name", c.Environment))
	}
	for k, v := range c.ResourceAttributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}
