// Package metrics exposes the LLMQ subsystem's Prometheus instrumentation,
// mirroring the teacher's module/metrics package (promauto-registered
// collectors grouped by subsystem, see module/metrics/compliance.go).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespaceLLMQ = "llmq"

const (
	subsystemDKG         = "dkg"
	subsystemSigning     = "signing"
	subsystemShares      = "shares"
	subsystemInstantSend = "instantsend"
	subsystemCache       = "cache"
)

// CacheMetrics is the narrow capability trait the quorum store (C4) and
// InstantSend engine (C7) read-through caches report through, mirroring the
// teacher's module.CacheMetrics interface (storage/badger/cache.go).
type CacheMetrics interface {
	CacheEntries(resource string, entries uint)
	CacheHit(resource string)
	CacheMiss(resource string)
}

// Collector implements CacheMetrics plus the LLMQ-specific gauges/counters
// named throughout spec.md: DKG phase duration, signing latency, islock
// conflict counts.
type Collector struct {
	cacheEntries *prometheus.GaugeVec
	cacheHits    *prometheus.CounterVec
	cacheMisses  *prometheus.CounterVec

	dkgPhaseDuration    *prometheus.HistogramVec
	dkgSessionsStarted  *prometheus.CounterVec
	dkgSessionsFailed   *prometheus.CounterVec
	dkgMisbehavior      *prometheus.CounterVec

	signingLatency     *prometheus.HistogramVec
	signingShares      *prometheus.CounterVec
	signingRecovered   *prometheus.CounterVec

	shareBatchSize   prometheus.Histogram
	shareBatchMisses prometheus.Counter
	shareQuotaDrops  *prometheus.CounterVec

	islocksCreated    prometheus.Counter
	islocksConflicted prometheus.Counter
	islocksSuperseded prometheus.Counter
}

// NewCollector registers and returns the LLMQ metrics collector.
func NewCollector() *Collector {
	return &Collector{
		cacheEntries: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespaceLLMQ,
			Subsystem: subsystemCache,
			Name:      "entries",
			Help:      "number of entries in an LLMQ read-through cache",
		}, []string{"resource"}),
		cacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceLLMQ,
			Subsystem: subsystemCache,
			Name:      "hits_total",
			Help:      "total cache hits for an LLMQ read-through cache",
		}, []string{"resource"}),
		cacheMisses: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceLLMQ,
			Subsystem: subsystemCache,
			Name:      "misses_total",
			Help:      "total cache misses for an LLMQ read-through cache",
		}, []string{"resource"}),

		dkgPhaseDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespaceLLMQ,
			Subsystem: subsystemDKG,
			Name:      "phase_duration_seconds",
			Help:      "wall-clock duration of one DKG phase window",
		}, []string{"phase"}),
		dkgSessionsStarted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceLLMQ,
			Subsystem: subsystemDKG,
			Name:      "sessions_started_total",
			Help:      "total DKG sessions started, by quorum type",
		}, []string{"llmq_type"}),
		dkgSessionsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceLLMQ,
			Subsystem: subsystemDKG,
			Name:      "sessions_failed_total",
			Help:      "total DKG sessions abandoned without a final commitment, by quorum type",
		}, []string{"llmq_type"}),
		dkgMisbehavior: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceLLMQ,
			Subsystem: subsystemDKG,
			Name:      "misbehavior_score_total",
			Help:      "sum of misbehavior score increments assessed during DKG sessions",
		}, []string{"llmq_type", "reason"}),

		signingLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespaceLLMQ,
			Subsystem: subsystemSigning,
			Name:      "recovery_latency_seconds",
			Help:      "time from first signature share to recovered signature",
		}, []string{"llmq_type"}),
		signingShares: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceLLMQ,
			Subsystem: subsystemSigning,
			Name:      "shares_received_total",
			Help:      "total signature shares accepted by the signing engine",
		}, []string{"llmq_type"}),
		signingRecovered: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceLLMQ,
			Subsystem: subsystemSigning,
			Name:      "recovered_total",
			Help:      "total recovered signatures produced",
		}, []string{"llmq_type"}),

		shareBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespaceLLMQ,
			Subsystem: subsystemShares,
			Name:      "batch_size",
			Help:      "number of shares verified per batch",
			Buckets:   []float64{1, 2, 4, 8, 16},
		}),
		shareBatchMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceLLMQ,
			Subsystem: subsystemShares,
			Name:      "batch_misses_total",
			Help:      "total batches that failed verification and fell back to per-share checks",
		}),
		shareQuotaDrops: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceLLMQ,
			Subsystem: subsystemShares,
			Name:      "quota_drops_total",
			Help:      "shares dropped for exceeding a peer's outstanding-unverified-share quota",
		}, []string{"llmq_type"}),

		islocksCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceLLMQ,
			Subsystem: subsystemInstantSend,
			Name:      "locks_created_total",
			Help:      "total InstantSend locks produced locally or accepted from peers",
		}),
		islocksConflicted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceLLMQ,
			Subsystem: subsystemInstantSend,
			Name:      "conflicts_total",
			Help:      "total detected InstantSend lock conflicts",
		}),
		islocksSuperseded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceLLMQ,
			Subsystem: subsystemInstantSend,
			Name:      "superseded_total",
			Help:      "total InstantSend locks removed due to ChainLock supersession",
		}),
	}
}

func (c *Collector) CacheEntries(resource string, entries uint) {
	c.cacheEntries.WithLabelValues(resource).Set(float64(entries))
}

func (c *Collector) CacheHit(resource string) {
	c.cacheHits.WithLabelValues(resource).Inc()
}

func (c *Collector) CacheMiss(resource string) {
	c.cacheMisses.WithLabelValues(resource).Inc()
}

func (c *Collector) DKGPhaseDuration(phase string, d time.Duration) {
	c.dkgPhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

func (c *Collector) DKGSessionStarted(llmqType string) {
	c.dkgSessionsStarted.WithLabelValues(llmqType).Inc()
}

func (c *Collector) DKGSessionFailed(llmqType string) {
	c.dkgSessionsFailed.WithLabelValues(llmqType).Inc()
}

func (c *Collector) DKGMisbehavior(llmqType, reason string, score int) {
	c.dkgMisbehavior.WithLabelValues(llmqType, reason).Add(float64(score))
}

func (c *Collector) SigningShareReceived(llmqType string) {
	c.signingShares.WithLabelValues(llmqType).Inc()
}

func (c *Collector) SigningRecovered(llmqType string, latency time.Duration) {
	c.signingRecovered.WithLabelValues(llmqType).Inc()
	c.signingLatency.WithLabelValues(llmqType).Observe(latency.Seconds())
}

func (c *Collector) ShareBatchVerified(size int, missed bool) {
	c.shareBatchSize.Observe(float64(size))
	if missed {
		c.shareBatchMisses.Inc()
	}
}

func (c *Collector) ShareQuotaDrop(llmqType string) {
	c.shareQuotaDrops.WithLabelValues(llmqType).Inc()
}

func (c *Collector) InstantSendLockCreated() {
	c.islocksCreated.Inc()
}

func (c *Collector) InstantSendLockConflicted() {
	c.islocksConflicted.Inc()
}

func (c *Collector) InstantSendLockSuperseded() {
	c.islocksSuperseded.Inc()
}

// NoopCollector satisfies CacheMetrics plus every Collector method consumers
// call, without touching a Prometheus registry; used by unit tests in the
// same fashion as the teacher's module/metrics/noop.go.
type NoopCollector struct{}

func (NoopCollector) CacheEntries(string, uint)                  {}
func (NoopCollector) CacheHit(string)                            {}
func (NoopCollector) CacheMiss(string)                           {}
func (NoopCollector) DKGPhaseDuration(string, time.Duration)     {}
func (NoopCollector) DKGSessionStarted(string)                   {}
func (NoopCollector) DKGSessionFailed(string)                    {}
func (NoopCollector) DKGMisbehavior(string, string, int)         {}
func (NoopCollector) SigningShareReceived(string)                {}
func (NoopCollector) SigningRecovered(string, time.Duration)     {}
func (NoopCollector) ShareBatchVerified(int, bool)                {}
func (NoopCollector) ShareQuotaDrop(string)                      {}
func (NoopCollector) InstantSendLockCreated()                    {}
func (NoopCollector) InstantSendLockConflicted()                 {}
func (NoopCollector) InstantSendLockSuperseded()                 {}
