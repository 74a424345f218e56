package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the scheduling core.
type Metrics struct {
	registry             *prometheus.Registry
	fragmentsLoadedTotal prometheus.Counter
	fragmentsBufferedTotal prometheus.Counter
	fragLoadRetriesTotal prometheus.Counter
	fragLoadErrorsTotal  prometheus.Counter
	backtracksTotal      prometheus.Counter
	levelSwitchesTotal   prometheus.Counter
	stallsTotal          prometheus.Counter
	bufferLength         prometheus.Gauge
	currentLevel         prometheus.Gauge
	lastLoadKbps         prometheus.Gauge
}

// New creates and registers the scheduler metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		fragmentsLoadedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_fragments_loaded_total",
			Help: "Total number of fragment loads completed",
		}),
		fragmentsBufferedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_fragments_buffered_total",
			Help: "Total number of fragments fully appended to the buffer",
		}),
		fragLoadRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_fragment_load_retries_total",
			Help: "Total number of fragment load retries scheduled",
		}),
		fragLoadErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_fragment_load_errors_total",
			Help: "Total number of fragment load failures",
		}),
		backtracksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_backtracks_total",
			Help: "Total number of keyframe backtracks",
		}),
		levelSwitchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_level_switches_total",
			Help: "Total number of observed quality level switches",
		}),
		stallsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_playback_stalls_total",
			Help: "Total number of detected playback stalls",
		}),
		bufferLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hls_buffer_length_seconds",
			Help: "Buffered time ahead of the playhead",
		}),
		currentLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hls_current_level",
			Help: "Index of the currently selected quality level",
		}),
		lastLoadKbps: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hls_last_load_kbps",
			Help: "Measured bandwidth of the last fragment load",
		}),
	}

	registry.MustRegister(
		m.fragmentsLoadedTotal,
		m.fragmentsBufferedTotal,
		m.fragLoadRetriesTotal,
		m.fragLoadErrorsTotal,
		m.backtracksTotal,
		m.levelSwitchesTotal,
		m.stallsTotal,
		m.bufferLength,
		m.currentLevel,
		m.lastLoadKbps,
	)
	return m
}

// Handler returns the scrape handler for the private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) FragmentLoaded()      { m.fragmentsLoadedTotal.Inc() }
func (m *Metrics) FragmentBuffered()    { m.fragmentsBufferedTotal.Inc() }
func (m *Metrics) FragLoadRetry()       { m.fragLoadRetriesTotal.Inc() }
func (m *Metrics) FragLoadError()       { m.fragLoadErrorsTotal.Inc() }
func (m *Metrics) Backtrack()           { m.backtracksTotal.Inc() }
func (m *Metrics) LevelSwitch()         { m.levelSwitchesTotal.Inc() }
func (m *Metrics) Stall()               { m.stallsTotal.Inc() }
func (m *Metrics) SetBufferLength(v float64) { m.bufferLength.Set(v) }
func (m *Metrics) SetCurrentLevel(v int)     { m.currentLevel.Set(float64(v)) }
func (m *Metrics) SetLastLoadKbps(v float64) { m.lastLoadKbps.Set(v) }
