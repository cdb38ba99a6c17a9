package grpcserver

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// Metrics holds the Prometheus collectors of the gRPC server.
type Metrics struct {
	requestCount *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
}

// NewMetrics creates the server metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dimred_grpc_requests_total",
				Help: "Total number of gRPC requests processed.",
			},
			[]string{"method", "code"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dimred_method_run_duration_seconds",
				Help:    "Duration of method runs.",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
			[]string{"method"},
		),
	}

	for _, c := range []prometheus.Collector{m.requestCount, m.runDuration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// UnaryInterceptor counts requests by full method name and status code.
func (m *Metrics) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		m.requestCount.WithLabelValues(info.FullMethod, status.Code(err).String()).Inc()
		return resp, err
	}
}

func (m *Metrics) observeRun(method string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}
