// Package telemetry wraps a partition with OpenTelemetry spans and metrics.
//
// Instruments come from the global providers, so nothing is exported unless
// the host process installs an SDK.
package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName    = "github.com/roach88/tapestore"
	instrumentationVersion = "0.1.0"
)

// Attribute keys.
const (
	AttrPartitionID    = attribute.Key("tapestore.partition.id")
	AttrStreamID       = attribute.Key("tapestore.stream.id")
	AttrCommitID       = attribute.Key("tapestore.commit.id")
	AttrCommitSequence = attribute.Key("tapestore.commit.sequence")
	AttrFromEvent      = attribute.Key("tapestore.stream.from_event")
	AttrEventCount     = attribute.Key("tapestore.events.count")
	AttrResultCount    = attribute.Key("tapestore.query.result_count")
	AttrRemove         = attribute.Key("tapestore.truncate.remove")
	AttrOperation      = attribute.Key("tapestore.operation")
	AttrErrorKind      = attribute.Key("tapestore.error.kind")
	AttrConflictType   = attribute.Key("tapestore.conflict.type")
)

var (
	meter  = otel.Meter(instrumentationName, metric.WithInstrumentationVersion(instrumentationVersion))
	tracer = otel.Tracer(instrumentationName, trace.WithInstrumentationVersion(instrumentationVersion))

	Operations, _ = meter.Int64Counter(
		"tapestore.partition.operations",
		metric.WithDescription("Number of partition operations"),
		metric.WithUnit("{operation}"),
	)

	OperationDuration, _ = meter.Float64Histogram(
		"tapestore.partition.duration",
		metric.WithDescription("Partition operation duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)

	OperationErrors, _ = meter.Int64Counter(
		"tapestore.partition.errors",
		metric.WithDescription("Number of failed partition operations"),
		metric.WithUnit("{error}"),
	)

	CommitsAppended, _ = meter.Int64Counter(
		"tapestore.commits.appended",
		metric.WithDescription("Number of commits appended"),
		metric.WithUnit("{commit}"),
	)

	EventsAppended, _ = meter.Int64Counter(
		"tapestore.events.appended",
		metric.WithDescription("Number of events appended to streams"),
		metric.WithUnit("{event}"),
	)

	EventsLoaded, _ = meter.Int64Counter(
		"tapestore.events.loaded",
		metric.WithDescription("Number of events loaded from streams"),
		metric.WithUnit("{event}"),
	)

	Conflicts, _ = meter.Int64Counter(
		"tapestore.append.conflicts",
		metric.WithDescription("Number of rejected appends by conflict type"),
		metric.WithUnit("{conflict}"),
	)
)
