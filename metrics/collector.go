// Package metrics exposes pipeline events as Prometheus metrics.
package metrics

import (
	"context"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/GoCodeAlone/persistunit"
)

// ObserverID identifies the collector among pipeline observers.
const ObserverID = "metrics"

// Collector is a pipeline observer counting test outcomes, decorator
// applications and teardown failures, and timing tests.
type Collector struct {
	tests            *prometheus.CounterVec
	decorators       *prometheus.CounterVec
	teardownFailures *prometheus.CounterVec
	fixtures         *prometheus.CounterVec
	duration         *prometheus.HistogramVec
}

// NewCollector creates the metrics. Register them with MustRegister.
func NewCollector() *Collector {
	return &Collector{
		tests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "persistunit_tests_total",
				Help: "Tests run through the decorator pipeline by outcome",
			},
			[]string{"class", "outcome"},
		),
		decorators: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "persistunit_decorator_applications_total",
				Help: "Decorator applications by decorator and outcome",
			},
			[]string{"decorator", "outcome"},
		),
		teardownFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "persistunit_teardown_failures_total",
				Help: "Failures while releasing test resources",
			},
			[]string{"decorator"},
		),
		fixtures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "persistunit_fixture_runs_total",
				Help: "Global fixture steps by fixture and phase",
			},
			[]string{"fixture", "phase"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "persistunit_test_duration_seconds",
				Help:    "Duration of decorated test executions",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
			},
			[]string{"class"},
		),
	}
}

// MustRegister registers every metric of c with reg.
func (c *Collector) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(c.tests, c.decorators, c.teardownFailures, c.fixtures, c.duration)
}

func (c *Collector) ObserverID() string { return ObserverID }

// OnEvent updates the metrics matching event. Unknown event types are ignored.
func (c *Collector) OnEvent(_ context.Context, event cloudevents.Event) error {
	data, err := persistunit.DecodeEventData(event)
	if err != nil {
		return err
	}

	switch event.Type() {
	case persistunit.EventTypeTestPassed:
		c.tests.WithLabelValues(data.Class, "passed").Inc()
		c.duration.WithLabelValues(data.Class).Observe(data.DurationMS / 1000)
	case persistunit.EventTypeTestFailed:
		c.tests.WithLabelValues(data.Class, "failed").Inc()
		c.duration.WithLabelValues(data.Class).Observe(data.DurationMS / 1000)
	case persistunit.EventTypeDecoratorExited:
		outcome := "ok"
		if data.Error != "" {
			outcome = "error"
		}
		c.decorators.WithLabelValues(data.Decorator, outcome).Inc()
	case persistunit.EventTypeTeardownFailed:
		c.teardownFailures.WithLabelValues(data.Decorator).Inc()
	case persistunit.EventTypeFixtureBefore:
		c.fixtures.WithLabelValues(data.Decorator, "before").Inc()
	case persistunit.EventTypeFixtureAfter:
		c.fixtures.WithLabelValues(data.Decorator, "after").Inc()
	}
	return nil
}
