package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/authkeeper"
)

// Failure kinds recorded on refresh errors.
const (
	FailureTerminal  = "terminal"
	FailureTransient = "transient"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Refresh metrics
	RefreshAttemptsTotal metric.Int64Counter
	RefreshErrorsTotal   metric.Int64Counter
	RefreshJoinedTotal   metric.Int64Counter
	RefreshDuration      metric.Float64Histogram

	// Session lifecycle metrics
	SessionsEstablishedTotal metric.Int64Counter
	SignOutsTotal            metric.Int64Counter
	TimersScheduledTotal     metric.Int64Counter
	RedirectsTotal           metric.Int64Counter

	// Session cache metrics
	SessionCacheHitsTotal   metric.Int64Counter
	SessionCacheMissesTotal metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// FailureKind returns the attribute set used to label refresh errors.
func FailureKind(terminal bool) metric.MeasurementOption {
	kind := FailureTransient
	if terminal {
		kind = FailureTerminal
	}
	return metric.WithAttributes(attribute.String("kind", kind))
}

// Reason returns the attribute set used to label lifecycle counters.
func Reason(reason string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("reason", reason))
}

func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.RefreshAttemptsTotal, _ = meter.Int64Counter(
		"authkeeper.refresh.attempts.total",
		metric.WithDescription("Total number of token refresh calls sent to the backend"),
		metric.WithUnit("{refresh}"),
	)

	m.RefreshErrorsTotal, _ = meter.Int64Counter(
		"authkeeper.refresh.errors.total",
		metric.WithDescription("Total number of failed token refresh calls"),
		metric.WithUnit("{error}"),
	)

	m.RefreshJoinedTotal, _ = meter.Int64Counter(
		"authkeeper.refresh.joined.total",
		metric.WithDescription("Total number of refresh requests served by an attempt already in flight"),
		metric.WithUnit("{request}"),
	)

	m.RefreshDuration, _ = meter.Float64Histogram(
		"authkeeper.refresh.duration",
		metric.WithDescription("Duration of token refresh calls"),
		metric.WithUnit("ms"),
	)

	m.SessionsEstablishedTotal, _ = meter.Int64Counter(
		"authkeeper.sessions.established.total",
		metric.WithDescription("Total number of sessions established by login, restore or refresh"),
		metric.WithUnit("{session}"),
	)

	m.SignOutsTotal, _ = meter.Int64Counter(
		"authkeeper.sessions.signouts.total",
		metric.WithDescription("Total number of sign outs"),
		metric.WithUnit("{signout}"),
	)

	m.TimersScheduledTotal, _ = meter.Int64Counter(
		"authkeeper.timers.scheduled.total",
		metric.WithDescription("Total number of refresh timers scheduled"),
		metric.WithUnit("{timer}"),
	)

	m.RedirectsTotal, _ = meter.Int64Counter(
		"authkeeper.redirects.total",
		metric.WithDescription("Total number of navigation redirects issued"),
		metric.WithUnit("{redirect}"),
	)

	m.SessionCacheHitsTotal, _ = meter.Int64Counter(
		"authkeeper.session_cache.hits.total",
		metric.WithDescription("Total number of session reads served from cache"),
		metric.WithUnit("{read}"),
	)

	m.SessionCacheMissesTotal, _ = meter.Int64Counter(
		"authkeeper.session_cache.misses.total",
		metric.WithDescription("Total number of session reads sent to the backend"),
		metric.WithUnit("{read}"),
	)

	return m
}
