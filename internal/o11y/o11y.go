package o11y

import (
	"context"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/trace"
)

type Observability struct {
	Logger   *slog.Logger
	Tracer   *trace.TracerProvider
	Registry *prometheus.Registry
	Metrics  *Metrics
}

func Setup(ctx context.Context, otlpEndpoint string) (*Observability, func(), error) {
	// Initialize slog
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// Initialize OpenTelemetry (with sampling)
	exporter, _ := otlptracehttp.New(ctx,
		otlptracehttp.WithInsecure(),
		otlptracehttp.WithEndpoint(otlpEndpoint),
	)
	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithSampler(trace.ParentBased(
			trace.TraceIDRatioBased(1),
		)),
	)
	otel.SetTracerProvider(tp)

	registry := prometheus.NewRegistry()

	cleanup := func() {
		tp.Shutdown(ctx)
	}

	return &Observability{
		Logger:   logger,
		Tracer:   tp,
		Registry: registry,
		Metrics:  NewMetrics(registry),
	}, cleanup, nil
}

// Metrics are the booking engine's domain counters, alongside the HTTP
// metrics the middleware registers.
type Metrics struct {
	BookingsCreated  *prometheus.CounterVec
	BookingConflicts prometheus.Counter
	TokensIssued     prometheus.Counter
	RefundFollowups  prometheus.Counter
}

func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		BookingsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookings_created_total",
				Help: "Bookings created, by booking type",
			},
			[]string{"type"},
		),
		BookingConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "booking_conflicts_total",
			Help: "Booking creations lost to an availability conflict",
		}),
		TokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "verification_tokens_issued_total",
			Help: "Verification tokens issued",
		}),
		RefundFollowups: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "refund_followups_total",
			Help: "Refunds that failed and were queued for manual follow-up",
		}),
	}
	reg.MustRegister(m.BookingsCreated, m.BookingConflicts, m.TokensIssued, m.RefundFollowups)
	return m
}
