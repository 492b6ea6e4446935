package scanner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/zjrosen/wcroots/internal/registry"
	"github.com/zjrosen/wcroots/internal/tracing"
)

func TestScan_RecordsPassSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	fs := memFs(t, "/ws/a/.svn", "/ws/old/.svn", "/ws/plain")
	s, _, opener := newScanner(fs, Config{}, WithTracer(provider.Tracer("test")))
	opener.errs["/ws/old"] = registry.ErrOutdatedWorkingCopy

	s.Scan(context.Background(), "/ws", 0)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	span := spans[0]
	require.Equal(t, tracing.SpanScanPass, span.Name)

	attrs := map[string]int64{}
	for _, kv := range span.Attributes {
		attrs[string(kv.Key)] = kv.Value.AsInt64()
	}
	require.Equal(t, int64(1), attrs[tracing.AttrScanSeeds])
	require.Equal(t, int64(0), attrs[tracing.AttrScanLevel])
	require.Equal(t, int64(4), attrs[tracing.AttrScanVisited])
	require.Equal(t, int64(1), attrs[tracing.AttrScanFound])

	var events []string
	for _, ev := range span.Events {
		events = append(events, ev.Name)
	}
	require.ElementsMatch(t, []string{tracing.EventRepositoryFound, tracing.EventUpgradeRequired}, events)
}
