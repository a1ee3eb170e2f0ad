// ABOUTME: go-metrics counters and timers describing collector activity
// ABOUTME: Registered in a caller supplied registry so hosts can report them

package collector

import (
	metrics "github.com/rcrowley/go-metrics"
)

const (
	metricPasses    = "cc.passes"
	metricAborted   = "cc.aborted-passes"
	metricVisited   = "cc.visited"
	metricCollected = "cc.collected"
	metricSuspects  = "cc.suspects"
	metricForgets   = "cc.forgets"
	metricIgnored   = "cc.ignored"
	metricFaults    = "cc.faults"
	metricPassTime  = "cc.pass-time"
	metricCandidate = "cc.candidates"
)

type collectorMetrics struct {
	passes     metrics.Counter
	aborted    metrics.Counter
	visited    metrics.Counter
	collected  metrics.Counter
	suspects   metrics.Counter
	forgets    metrics.Counter
	ignored    metrics.Counter
	faults     metrics.Counter
	passTime   metrics.Timer
	candidates metrics.Gauge
}

func newCollectorMetrics(r metrics.Registry) *collectorMetrics {
	return &collectorMetrics{
		passes:     metrics.GetOrRegisterCounter(metricPasses, r),
		aborted:    metrics.GetOrRegisterCounter(metricAborted, r),
		visited:    metrics.GetOrRegisterCounter(metricVisited, r),
		collected:  metrics.GetOrRegisterCounter(metricCollected, r),
		suspects:   metrics.GetOrRegisterCounter(metricSuspects, r),
		forgets:    metrics.GetOrRegisterCounter(metricForgets, r),
		ignored:    metrics.GetOrRegisterCounter(metricIgnored, r),
		faults:     metrics.GetOrRegisterCounter(metricFaults, r),
		passTime:   metrics.GetOrRegisterTimer(metricPassTime, r),
		candidates: metrics.GetOrRegisterGauge(metricCandidate, r),
	}
}

// Metrics returns the collector's metrics keyed by name
func (c *Collector) Metrics() map[string]interface{} {
	return map[string]interface{}{
		metricPasses:    c.metrics.passes,
		metricAborted:   c.metrics.aborted,
		metricVisited:   c.metrics.visited,
		metricCollected: c.metrics.collected,
		metricSuspects:  c.metrics.suspects,
		metricForgets:   c.metrics.forgets,
		metricIgnored:   c.metrics.ignored,
		metricFaults:    c.metrics.faults,
		metricPassTime:  c.metrics.passTime,
		metricCandidate: c.metrics.candidates,
	}
}
