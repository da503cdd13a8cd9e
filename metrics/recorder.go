// Package metrics exposes job counters over prometheus and per-invocation spans over otel.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/chengcxy/docshift/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder 使用私有 registry, 多个 job 实例互不干扰
type Recorder struct {
	registry *prometheus.Registry

	uris         *prometheus.CounterVec
	retries      *prometheus.CounterVec
	threads      prometheus.Gauge
	taskDuration *prometheus.HistogramVec
}

func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Recorder{
		registry: registry,
		uris: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docshift_uris_total",
			Help: "URIs processed, by outcome.",
		}, []string{"status"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docshift_retries_total",
			Help: "Invocation retries, by error kind.",
		}, []string{"kind"}),
		threads: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docshift_threads",
			Help: "Current worker thread count.",
		}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docshift_task_duration_seconds",
			Help:    "Duration of task invocations including retries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"phase", "status"}),
	}
	registry.MustRegister(r.uris, r.retries, r.threads, r.taskDuration)
	return r
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) Completed(n int) {
	r.uris.WithLabelValues("completed").Add(float64(n))
}

func (r *Recorder) Failed(n int) {
	r.uris.WithLabelValues("failed").Add(float64(n))
}

func (r *Recorder) Retry(kind string) {
	r.retries.WithLabelValues(kind).Inc()
}

func (r *Recorder) SetThreads(n int) {
	r.threads.Set(float64(n))
}

func (r *Recorder) ObserveTask(phase, status string, d time.Duration) {
	r.taskDuration.WithLabelValues(phase, status).Observe(d.Seconds())
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (r *Recorder) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Infof("metrics listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
