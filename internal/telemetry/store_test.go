package telemetry

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/roach88/tapestore/internal/model"
	"github.com/roach88/tapestore/internal/partition"
	"github.com/roach88/tapestore/internal/schema"
	"github.com/roach88/tapestore/internal/testutil"
)

var (
	spans  = tracetest.NewSpanRecorder()
	reader = sdkmetric.NewManualReader()
)

// The global providers delegate only once, so they are installed for the
// whole package before any instrument is used.
func TestMain(m *testing.M) {
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)))
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	os.Exit(m.Run())
}

func createTestStore(t *testing.T) partition.CommitStore {
	t.Helper()
	p := partition.New("", schema.Options{DataDir: t.TempDir()}, partition.WithClock(testutil.NewDeterministicClock()))
	require.NoError(t, p.Open(context.Background()))
	t.Cleanup(func() { p.Close() })
	return WithTelemetry(p)
}

func findSpan(t *testing.T, name string) sdktrace.ReadOnlySpan {
	t.Helper()
	ended := spans.Ended()
	for i := len(ended) - 1; i >= 0; i-- {
		if ended[i].Name() == name {
			return ended[i]
		}
	}
	t.Fatalf("span %s not recorded", name)
	return nil
}

func counterTotal(t *testing.T, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func histogramSum(t *testing.T, name string) float64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var total float64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			hist, ok := m.Data.(metricdata.Histogram[float64])
			require.True(t, ok, "%s is not a float64 histogram", name)
			for _, dp := range hist.DataPoints {
				total += dp.Sum
			}
		}
	}
	return total
}

func TestMillis(t *testing.T) {
	assert.InDelta(t, 0.25, millis(250*time.Microsecond), 1e-9)
	assert.InDelta(t, 1500.0, millis(1500*time.Millisecond), 1e-9)
}

func TestDurationRecordsSubMillisecond(t *testing.T) {
	s := createTestStore(t)
	before := histogramSum(t, "tapestore.partition.duration")

	_, err := s.QueryAll(context.Background())
	require.NoError(t, err)

	assert.Greater(t, histogramSum(t, "tapestore.partition.duration"), before)
}

func TestAppend_RecordsSpanAndMetrics(t *testing.T) {
	s := createTestStore(t)
	beforeCommits := counterTotal(t, "tapestore.commits.appended")
	beforeEvents := counterTotal(t, "tapestore.events.appended")

	stored, err := s.Append(context.Background(), testutil.Commit("S", 0, 3))
	require.NoError(t, err)
	assert.Equal(t, "S:0", stored.StreamIDCommitSequence)

	span := findSpan(t, "Partition.Append")
	assert.Equal(t, codes.Ok, span.Status().Code)
	attrs := map[string]any{}
	for _, kv := range span.Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, "master", attrs[string(AttrPartitionID)])
	assert.Equal(t, "S", attrs[string(AttrStreamID)])
	assert.Equal(t, int64(3), attrs[string(AttrEventCount)])

	assert.Equal(t, int64(1), counterTotal(t, "tapestore.commits.appended")-beforeCommits)
	assert.Equal(t, int64(3), counterTotal(t, "tapestore.events.appended")-beforeEvents)
}

func TestAppend_ConflictRecorded(t *testing.T) {
	s := createTestStore(t)
	before := counterTotal(t, "tapestore.append.conflicts")

	_, err := s.Append(context.Background(), model.NewCommit("a", "", "S", 0, nil))
	require.NoError(t, err)
	_, err = s.Append(context.Background(), model.NewCommit("b", "", "S", 0, nil))
	require.True(t, partition.IsConcurrency(err), "errors must pass through unchanged: %v", err)

	span := findSpan(t, "Partition.Append")
	assert.Equal(t, codes.Error, span.Status().Code)
	require.NotEmpty(t, span.Events(), "error must be recorded on the span")
	assert.Equal(t, int64(1), counterTotal(t, "tapestore.append.conflicts")-before)
}

func TestQueryStream_CountsLoadedEvents(t *testing.T) {
	s := createTestStore(t)
	_, err := s.AppendBatch(context.Background(), testutil.Stream("S", 2, 3, 1))
	require.NoError(t, err)
	before := counterTotal(t, "tapestore.events.loaded")

	commits, err := s.QueryStream(context.Background(), "S", 4)
	require.NoError(t, err)
	assert.Len(t, testutil.EventIDs(commits), 2)
	assert.Equal(t, int64(2), counterTotal(t, "tapestore.events.loaded")-before)

	span := findSpan(t, "Partition.QueryStream")
	assert.Equal(t, codes.Ok, span.Status().Code)
}

func TestPassThrough(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	assert.Equal(t, "master", s.ID())

	_, err := s.StoreSnapshot(ctx, "S", []byte(`{"v":1}`), 1)
	require.NoError(t, err)
	snap, ok, err := s.LoadSnapshot(ctx, "S")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, snap.Version)
	require.NoError(t, s.RemoveSnapshots(ctx, "S"))

	_, err = s.GetUndispatched(ctx)
	assert.True(t, partition.IsNotImplemented(err))

	_, err = s.ApplyCommitHeader(ctx, "missing", model.Header{"a": 1})
	assert.True(t, partition.IsNotFound(err))
	assert.Equal(t, codes.Error, findSpan(t, "Partition.ApplyCommitHeader").Status().Code)
}
