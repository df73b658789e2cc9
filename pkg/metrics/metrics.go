// Package metrics exports probe results for Prometheus scraping.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"
	"udpprobe/pkg/window"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "udpprobe"

type Metrics struct {
	registry *prometheus.Registry
	sent     prometheus.Counter
	lost     prometheus.Counter
	reorders prometheus.Counter
	windows  prometheus.Counter
	invalid  prometheus.Counter
	latency  prometheus.Histogram
	stdDev   prometheus.Gauge
}

func New(target string) *Metrics {
	labels := prometheus.Labels{"target": target}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "packets_sent_total", ConstLabels: labels,
			Help: "Ping packets sent, counted when their window is finalized.",
		}),
		lost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "packets_lost_total", ConstLabels: labels,
			Help: "Ping packets without a reply by the end of the grace period.",
		}),
		reorders: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reorders_total", ConstLabels: labels,
			Help: "Replies received out of send order.",
		}),
		windows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "windows_total", ConstLabels: labels,
			Help: "Finalized one-second windows.",
		}),
		invalid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "invalid_responses_total", ConstLabels: labels,
			Help: "Datagrams discarded for a wrong size, tag or source.",
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "latency_ms", ConstLabels: labels,
			Help:    "Mean round trip time of each window, in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		stdDev: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "window_latency_stddev_ms", ConstLabels: labels,
			Help: "Round trip time standard deviation of the last window, in milliseconds.",
		}),
	}
	m.registry.MustRegister(m.sent, m.lost, m.reorders, m.windows, m.invalid, m.latency, m.stdDev)
	return m
}

func (m *Metrics) ObserveWindow(r window.Result) {
	m.windows.Inc()
	m.sent.Add(float64(r.Sent))
	m.lost.Add(float64(r.Lost))
	m.reorders.Add(float64(r.Reorders))
	if r.Latency.Samples > 0 {
		m.latency.Observe(milliseconds(r.Latency.Mean))
	}
	if r.Latency.Samples > 1 {
		m.stdDev.Set(milliseconds(r.Latency.StdDev))
	}
}

func (m *Metrics) InvalidResponse() {
	m.invalid.Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listen: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("serving metrics on http://%s/metrics", ln.Addr())
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics server: %v", err)
		}
	}()
	return nil
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
