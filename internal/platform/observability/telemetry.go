package observability

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Instrumentation scope shared by every storefront component.
const instrumentationName = "finitefield.org/hanko-storefront"

// Tracer returns the tracer registered on the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// Meter returns the meter registered on the global provider.
func Meter() metric.Meter {
	return otel.GetMeterProvider().Meter(instrumentationName)
}

// Counter registers an Int64Counter, logging and returning nil when registration fails.
// Callers must tolerate a nil counter.
func Counter(meter metric.Meter, logger *zap.Logger, name, description string) metric.Int64Counter {
	if meter == nil {
		meter = Meter()
	}
	counter, err := meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		OrNop(logger).Warn("observability: unable to register counter", zap.String("metric", name), zap.Error(err))
		return nil
	}
	return counter
}
