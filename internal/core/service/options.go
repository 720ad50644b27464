package service

import (
	"time"

	"go.opentelemetry.io/otel"
)

const tracerName = "github.com/99minutos/identity-service/internal/core/service"

var tracer = otel.Tracer(tracerName)

type options struct {
	now func() time.Time
}

// Option customises a service at construction time.
type Option func(*options)

// WithClock replaces time.Now. Used by tests to pin timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
