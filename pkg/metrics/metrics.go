package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Recorder holds the Prometheus collectors for the mirroring pipeline.
// All methods are safe to call on a nil *Recorder, which records nothing.
type Recorder struct {
	registry       *prometheus.Registry
	pagesTotal     *prometheus.CounterVec
	assetsTotal    *prometheus.CounterVec
	retriesTotal   *prometheus.CounterVec
	fetchDuration  *prometheus.HistogramVec
	frontierLength *prometheus.GaugeVec
}

// NewRecorder registers the collectors on a fresh registry
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		pagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "site_mirror_pages_total",
			Help: "Pages processed, by terminal status.",
		}, []string{"site", "status"}),
		assetsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "site_mirror_assets_total",
			Help: "Static resources processed, by download outcome.",
		}, []string{"site", "status"}),
		retriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "site_mirror_retries_total",
			Help: "Retries scheduled by the retry policy, by error category.",
		}, []string{"category"}),
		fetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "site_mirror_fetch_duration_seconds",
			Help:    "Duration of page fetches including retries.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"strategy", "outcome"}),
		frontierLength: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "site_mirror_frontier_length",
			Help: "Tasks waiting in the crawl frontier.",
		}, []string{"site"}),
	}
}

// Registry exposes the underlying registry (used by tests and custom exporters)
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) PageProcessed(site, status string) {
	if r == nil {
		return
	}
	r.pagesTotal.WithLabelValues(site, status).Inc()
}

func (r *Recorder) AssetProcessed(site, status string) {
	if r == nil {
		return
	}
	r.assetsTotal.WithLabelValues(site, status).Inc()
}

func (r *Recorder) RetryScheduled(category string) {
	if r == nil {
		return
	}
	r.retriesTotal.WithLabelValues(category).Inc()
}

// ObserveFetch records one page fetch; strategy is "direct" or "render"
func (r *Recorder) ObserveFetch(strategy, outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.fetchDuration.WithLabelValues(strategy, outcome).Observe(d.Seconds())
}

func (r *Recorder) SetFrontierLength(site string, n int) {
	if r == nil {
		return
	}
	r.frontierLength.WithLabelValues(site).Set(float64(n))
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, r *Recorder, log *logrus.Entry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.Registry(), promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Infof("Serving metrics on http://%s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
