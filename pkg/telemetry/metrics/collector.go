package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/beacon/pkg/config"
)

// MaxEventTypes bounds the distinct event type label values.
const MaxEventTypes = 256

// Collector owns every pipeline metric and the registry they live in.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	eventMetrics     *EventMetrics
	retentionMetrics *RetentionMetrics
	producerMetrics  *ProducerMetrics

	cardinalityLimiter *CardinalityLimiter
}

// NewCollector creates a collector registered in registry. A nil registry
// creates a fresh one.
//
// Example:
//
//	collector := metrics.NewCollector(&config.MetricsConfig{
//		Enabled:   true,
//		Namespace: "beacon",
//	}, nil)
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := *cfg
	if c.Namespace == "" {
		c.Namespace = config.DefaultMetricsNamespace
	}

	return &Collector{
		config:             &c,
		registry:           registry,
		eventMetrics:       NewEventMetrics(&c, registry),
		retentionMetrics:   NewRetentionMetrics(&c, registry),
		producerMetrics:    NewProducerMetrics(&c, registry),
		cardinalityLimiter: NewCardinalityLimiter(MaxEventTypes),
	}
}

func (c *Collector) enabled() bool {
	return c != nil && c.config.Enabled
}

// EventWritten counts one durable event of type typ.
func (c *Collector) EventWritten(typ string) {
	if !c.enabled() {
		return
	}
	if !c.cardinalityLimiter.Allow(typ) {
		typ = "other"
	}
	c.eventMetrics.RecordWritten(typ)
}

// EventDropped counts one dropped event.
func (c *Collector) EventDropped(reason string) {
	if !c.enabled() {
		return
	}
	c.eventMetrics.RecordDropped(reason)
}

// RecordSweep records the outcome of one retention sweep.
func (c *Collector) RecordSweep(ageDeleted, sizeDeleted int, bytesFreed int64, duration time.Duration, err error) {
	if !c.enabled() {
		return
	}
	c.retentionMetrics.RecordSweep(ageDeleted, sizeDeleted, bytesFreed, duration, err)
}

// SetProducerRunning records a producer's run state.
func (c *Collector) SetProducerRunning(producer string, running bool) {
	if !c.enabled() {
		return
	}
	c.producerMetrics.SetRunning(producer, running)
}

// RecordHang counts one hang report.
func (c *Collector) RecordHang() {
	if !c.enabled() {
		return
	}
	c.producerMetrics.RecordHang()
}

// RecordCrash counts one crash report of type typ.
func (c *Collector) RecordCrash(typ string, isRepeat bool) {
	if !c.enabled() {
		return
	}
	c.producerMetrics.RecordCrash(typ, isRepeat)
}

// RecordReload counts one configuration apply.
func (c *Collector) RecordReload(err error) {
	if !c.enabled() {
		return
	}
	c.producerMetrics.RecordReload(err)
}

// RecordListenerPanic counts one recovered listener panic.
func (c *Collector) RecordListenerPanic() {
	if !c.enabled() {
		return
	}
	c.producerMetrics.RecordListenerPanic()
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// CardinalityLimiter bounds the number of distinct label values.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a limiter for maxCardinality values.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether value is already tracked or can still be added.
func (cl *CardinalityLimiter) Allow(value string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[value]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.current[value]; exists {
		return true
	}
	if len(cl.current) >= cl.maxCardinality {
		return false
	}
	cl.current[value] = struct{}{}
	return true
}

// Count returns the current cardinality.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
