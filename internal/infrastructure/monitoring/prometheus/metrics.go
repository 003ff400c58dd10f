package prometheus

import (
	"time"
)

// ServiceMetrics are the metrics of the application layer and the worker;
// sampler internals are recorded by the engine metrics.
type ServiceMetrics struct {
	RunsTotal              CounterVec
	RunDuration            HistogramVec
	ActiveRuns             GaugeVec
	SinkFailuresTotal      CounterVec
	MessagesTotal          CounterVec
	MessageProcessDuration HistogramVec
	HealthCheckStatus      GaugeVec
}

var (
	DefaultRunDurationBuckets     = []float64{.1, .5, 1, 5, 10, 30, 60, 300, 900, 3600}
	DefaultMessageDurationBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 60}
)

// NewServiceMetrics registers all service metrics on collector.
func NewServiceMetrics(collector MetricsCollector) *ServiceMetrics {
	return &ServiceMetrics{
		RunsTotal:              collector.RegisterCounter("runs_total", "Inference runs by method and final status", "method", "status"),
		RunDuration:            collector.RegisterHistogram("run_duration_seconds", "Wall time of inference runs", DefaultRunDurationBuckets, "method"),
		ActiveRuns:             collector.RegisterGauge("active_runs", "Inference runs in progress", "method"),
		SinkFailuresTotal:      collector.RegisterCounter("sink_failures_total", "Failed writes to result sinks", "sink"),
		MessagesTotal:          collector.RegisterCounter("messages_total", "Consumed messages by outcome", "topic", "result"),
		MessageProcessDuration: collector.RegisterHistogram("message_process_duration_seconds", "Message handling duration", DefaultMessageDurationBuckets, "topic"),
		HealthCheckStatus:      collector.RegisterGauge("health_check_status", "Health check status (1=up, 0=down)", "component"),
	}
}

// RunStarted marks a run of method as active and returns the function that
// records its outcome.
func (m *ServiceMetrics) RunStarted(method string) func(status string) {
	if m == nil {
		return func(string) {}
	}
	m.ActiveRuns.WithLabelValues(method).Inc()
	timer := NewTimer(m.RunDuration.WithLabelValues(method))
	return func(status string) {
		timer.ObserveDuration()
		m.ActiveRuns.WithLabelValues(method).Dec()
		m.RunsTotal.WithLabelValues(method, status).Inc()
	}
}

func (m *ServiceMetrics) RecordSinkFailure(sink string) {
	if m == nil {
		return
	}
	m.SinkFailuresTotal.WithLabelValues(sink).Inc()
}

func (m *ServiceMetrics) RecordMessage(topic string, err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.MessagesTotal.WithLabelValues(topic, result).Inc()
	m.MessageProcessDuration.WithLabelValues(topic).Observe(d.Seconds())
}

func (m *ServiceMetrics) SetHealth(component string, up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	m.HealthCheckStatus.WithLabelValues(component).Set(v)
}

//Personal.AI order the ending
