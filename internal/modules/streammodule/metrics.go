package streammodule

import (
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultSampleInterval is the metrics sampling cadence
const DefaultSampleInterval = time.Second

// PromMetrics is the Prometheus instrument set shared by all collectors
// registered against one registry. Per-session series are labeled by
// session_id and removed when the session's collector stops.
type PromMetrics struct {
	bandwidthMbps *prometheus.GaugeVec
	latencyMs     *prometheus.GaugeVec
	bufferHealth  *prometheus.GaugeVec
	droppedFrames *prometheus.GaugeVec
	rebuffers     *prometheus.CounterVec
	rebufferMs    *prometheus.CounterVec
}

// NewPromMetrics creates and registers the playback instrument set
func NewPromMetrics(reg prometheus.Registerer) *PromMetrics {
	m := &PromMetrics{
		bandwidthMbps: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stagepass_playback_bandwidth_mbps",
			Help: "Estimated bandwidth of the active stream in Mbps",
		}, []string{"session_id"}),
		latencyMs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stagepass_playback_latency_ms",
			Help: "Estimated delivery latency in milliseconds",
		}, []string{"session_id"}),
		bufferHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stagepass_playback_buffer_health_seconds",
			Help: "Seconds of media buffered ahead of the playhead",
		}, []string{"session_id"}),
		droppedFrames: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stagepass_playback_dropped_frames",
			Help: "Dropped frame count reported by the backend",
		}, []string{"session_id"}),
		rebuffers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stagepass_playback_rebuffers_total",
			Help: "Number of rebuffer events",
		}, []string{"session_id"}),
		rebufferMs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stagepass_playback_rebuffer_milliseconds_total",
			Help: "Total time spent rebuffering in milliseconds",
		}, []string{"session_id"}),
	}
	if reg != nil {
		reg.MustRegister(m.bandwidthMbps, m.latencyMs, m.bufferHealth, m.droppedFrames, m.rebuffers, m.rebufferMs)
	}
	return m
}

func (m *PromMetrics) remove(sessionID string) {
	m.bandwidthMbps.DeleteLabelValues(sessionID)
	m.latencyMs.DeleteLabelValues(sessionID)
	m.bufferHealth.DeleteLabelValues(sessionID)
	m.droppedFrames.DeleteLabelValues(sessionID)
	m.rebuffers.DeleteLabelValues(sessionID)
	m.rebufferMs.DeleteLabelValues(sessionID)
}

// MetricsCollector samples the active BackendAdapter's counters on a fixed
// interval and maintains the SessionMetrics snapshot. It never runs without
// an attached adapter and stops synchronously on session destroy.
type MetricsCollector struct {
	logger    hclog.Logger
	sessionID string
	interval  time.Duration
	prom      *PromMetrics
	onSample  func(SessionMetrics)

	mu            sync.Mutex
	adapter       BackendAdapter
	quality       func() string
	snapshot      SessionMetrics
	bufferingStart *time.Time // set while a rebuffer is in progress

	ticker  *time.Ticker
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewMetricsCollector creates a collector for one session. A zero interval
// selects the 1-second default. prom may be nil. onSample, when set, is
// invoked with the fresh snapshot after every tick.
func NewMetricsCollector(logger hclog.Logger, sessionID string, interval time.Duration, prom *PromMetrics, onSample func(SessionMetrics)) *MetricsCollector {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	return &MetricsCollector{
		logger:    logger.Named("metrics-collector"),
		sessionID: sessionID,
		interval:  interval,
		prom:      prom,
		onSample:  onSample,
		snapshot:  SessionMetrics{CurrentQuality: QualityLabelAuto},
	}
}

// Attach points the collector at the active adapter and the session's
// current-quality accessor. Sampling only produces data while attached.
func (c *MetricsCollector) Attach(adapter BackendAdapter, quality func() string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adapter = adapter
	c.quality = quality
}

// Detach clears the adapter reference. Subsequent ticks are no-ops.
func (c *MetricsCollector) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adapter = nil
	c.quality = nil
}

// Start begins the sampling loop. Starting a running collector is a no-op.
func (c *MetricsCollector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.ticker = time.NewTicker(c.interval)
	c.stopCh = make(chan struct{})
	c.wg.Add(1)
	go c.run(c.ticker, c.stopCh)
}

// Stop halts sampling synchronously: when it returns, no further tick will
// fire. A stale tick into a destroyed adapter is a correctness bug, not an
// optimization concern. Idempotent.
func (c *MetricsCollector) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.ticker.Stop()
	close(c.stopCh)
	c.mu.Unlock()

	c.wg.Wait()
	if c.prom != nil {
		c.prom.remove(c.sessionID)
	}
}

// RecordBufferingStart marks the beginning of a rebuffer
func (c *MetricsCollector) RecordBufferingStart() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bufferingStart != nil {
		return
	}
	now := time.Now()
	c.bufferingStart = &now
	c.snapshot.RebufferCount++
	if c.prom != nil {
		c.prom.rebuffers.WithLabelValues(c.sessionID).Inc()
	}
}

// RecordBufferingEnd closes an in-progress rebuffer and accumulates its
// duration. Safe to call without a matching start.
func (c *MetricsCollector) RecordBufferingEnd() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bufferingStart == nil {
		return
	}
	elapsed := time.Since(*c.bufferingStart).Milliseconds()
	c.bufferingStart = nil
	c.snapshot.TotalRebufferMs += elapsed
	if c.prom != nil {
		c.prom.rebufferMs.WithLabelValues(c.sessionID).Add(float64(elapsed))
	}
}

// Snapshot returns a copy of the current metrics
func (c *MetricsCollector) Snapshot() SessionMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

func (c *MetricsCollector) run(ticker *time.Ticker, stopCh chan struct{}) {
	defer c.wg.Done()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			c.sample()
		}
	}
}

// sample pulls counters from the attached adapter and updates the snapshot
func (c *MetricsCollector) sample() {
	c.mu.Lock()
	if c.adapter == nil {
		c.mu.Unlock()
		return
	}
	stats := c.adapter.Stats()
	c.snapshot.BandwidthMbps = stats.BandwidthBps / 1e6
	c.snapshot.LatencyMs = stats.LatencyMs
	c.snapshot.BufferHealthSeconds = stats.BufferHealthSeconds
	if c.snapshot.BufferHealthSeconds < 0 {
		c.snapshot.BufferHealthSeconds = 0
	}
	c.snapshot.DroppedFrames = stats.DroppedFrames
	if c.quality != nil {
		c.snapshot.CurrentQuality = c.quality()
	}
	snap := c.snapshot
	onSample := c.onSample
	c.mu.Unlock()

	if c.prom != nil {
		c.prom.bandwidthMbps.WithLabelValues(c.sessionID).Set(snap.BandwidthMbps)
		c.prom.latencyMs.WithLabelValues(c.sessionID).Set(snap.LatencyMs)
		c.prom.bufferHealth.WithLabelValues(c.sessionID).Set(snap.BufferHealthSeconds)
		c.prom.droppedFrames.WithLabelValues(c.sessionID).Set(float64(snap.DroppedFrames))
	}
	if onSample != nil {
		onSample(snap)
	}
}
