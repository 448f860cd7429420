package prom

import (
	"sync"

	xhttp "github.com/nimasrn/campaign-dispatcher/pkg/http"
	"github.com/nimasrn/campaign-dispatcher/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

const (
	SystemDispatch = "dispatch"
	SystemTracking = "tracking"
)

const (
	MetricRecipientsTotal     = "recipients_total"
	MetricRunsTotal           = "runs_total"
	MetricSendDuration        = "send_duration_seconds"
	MetricTrackingEventsTotal = "events_total"
	MetricActiveRuns          = "active_runs"
	MetricQueueMessages       = "queue_messages"
)

var lockCreateMetricLock = &sync.Mutex{}
var namespace = "none"

var MetricSystemEnabled = false

var MetricCollectionCounterVec = make(map[string]*prometheus.CounterVec)
var MetricCollectionHistogramVec = make(map[string]*prometheus.HistogramVec)
var MetricCollectionGaugeVec = make(map[string]*prometheus.GaugeVec)

var defaultLabels prometheus.Labels

// Create registers every metric the service emits. Until it is called the
// helpers below are no-ops.
func Create(host string, env string, nameSpace string) error {
	defaultLabels = prometheus.Labels{"env": env, "instance": host}
	namespace = nameSpace

	var err error
	hasError := func(e error) {
		if err == nil && e != nil {
			err = e
		}
	}

	hasError(createCounterVec(SystemDispatch, MetricRecipientsTotal, "Recipients attempted by outcome.", []string{"outcome"}))
	hasError(createCounterVec(SystemDispatch, MetricRunsTotal, "Dispatch runs by final state.", []string{"state"}))
	hasError(createHistogramVec(SystemDispatch, MetricSendDuration, "SMTP send latency.", []string{"outcome"}))
	hasError(createGaugeVec(SystemDispatch, MetricActiveRuns, "Dispatch runs currently executing in this process.", nil))
	hasError(createGaugeVec(SystemDispatch, MetricQueueMessages, "Start event stream depth by state (pending, dead_letters).", []string{"state"}))
	hasError(createCounterVec(SystemTracking, MetricTrackingEventsTotal, "Tracking hits by event type and whether they were recorded.", []string{"type", "recorded"}))

	MetricSystemEnabled = err == nil
	return err
}

// NewServer returns an engine exposing the default registry on path.
func NewServer(path string) *xhttp.Engine {
	s := xhttp.CreateServer()
	s.GET(path, fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler()))
	return s
}

func createCounterVec(subsystem, name, help string, labels []string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()
	MetricCollectionCounterVec[subsystem+name] = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: defaultLabels,
	}, labels)
	return prometheus.Register(MetricCollectionCounterVec[subsystem+name])
}

func createHistogramVec(subsystem, name, help string, labels []string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()
	MetricCollectionHistogramVec[subsystem+name] = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: defaultLabels,
		Buckets:     prometheus.DefBuckets,
	}, labels)
	return prometheus.Register(MetricCollectionHistogramVec[subsystem+name])
}

func createGaugeVec(subsystem, name, help string, labels []string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()
	MetricCollectionGaugeVec[subsystem+name] = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: defaultLabels,
	}, labels)
	return prometheus.Register(MetricCollectionGaugeVec[subsystem+name])
}

func AddCounterVec(subsystem, name string, num float64, labelValues ...string) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := MetricCollectionCounterVec[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Add(num)
		return
	}
	logger.Warn("[metrics-server] counter vec not found", "subsystem", subsystem, "name", name)
}

func IncCounterVec(subsystem, name string, labelValues ...string) {
	AddCounterVec(subsystem, name, 1, labelValues...)
}

func AddHistogramVec(subsystem, name string, number float64, labelValues ...string) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := MetricCollectionHistogramVec[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Observe(number)
		return
	}
	logger.Warn("[metrics-server] histogram vec not found", "subsystem", subsystem, "name", name)
}

func gaugeVec(subsystem, name string) *prometheus.GaugeVec {
	if !MetricSystemEnabled {
		return nil
	}
	v, ok := MetricCollectionGaugeVec[subsystem+name]
	if !ok {
		logger.Warn("[metrics-server] gauge vec not found", "subsystem", subsystem, "name", name)
		return nil
	}
	return v
}

func AddGaugeVec(subsystem, name string, delta float64, labelValues ...string) {
	if v := gaugeVec(subsystem, name); v != nil {
		v.WithLabelValues(labelValues...).Add(delta)
	}
}

func SetGaugeVec(subsystem, name string, value float64, labelValues ...string) {
	if v := gaugeVec(subsystem, name); v != nil {
		v.WithLabelValues(labelValues...).Set(value)
	}
}

func IncRecipientOutcome(outcome string) {
	IncCounterVec(SystemDispatch, MetricRecipientsTotal, outcome)
}

func IncRunResult(state string) {
	IncCounterVec(SystemDispatch, MetricRunsTotal, state)
}

func AddSendDuration(seconds float64, outcome string) {
	AddHistogramVec(SystemDispatch, MetricSendDuration, seconds, outcome)
}

func IncTrackingEvent(eventType string, recorded bool) {
	r := "false"
	if recorded {
		r = "true"
	}
	IncCounterVec(SystemTracking, MetricTrackingEventsTotal, eventType, r)
}

// AddActiveRuns moves the in-process run gauge by delta (+1 on start, -1 on exit).
func AddActiveRuns(delta float64) {
	AddGaugeVec(SystemDispatch, MetricActiveRuns, delta)
}

func SetQueueMessages(state string, n int64) {
	SetGaugeVec(SystemDispatch, MetricQueueMessages, float64(n), state)
}
