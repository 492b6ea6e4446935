package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span names.
const (
	SpanScanPass       = "scan.pass"
	SpanRepositoryOpen = "repository.open"
	SpanRescan         = "workspace.rescan"
	SpanUpgrade        = "repository.upgrade"
)

// Span attribute keys.
const (
	AttrScanSeeds   = "scan.seeds"
	AttrScanLevel   = "scan.level"
	AttrScanVisited = "scan.visited"
	AttrScanFound   = "scan.found"

	AttrRepoRoot = "repository.root"
	AttrRepoID   = "repository.id"

	AttrPathCount = "paths.count"

	AttrErrorMessage = "error.message"
)

// Event names.
const (
	EventRepositoryFound  = "repository.found"
	EventUpgradeRequired  = "upgrade.required"
	EventRepositoryClosed = "repository.closed"
)

// RecordError marks span as failed. A nil err is ignored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String(AttrErrorMessage, err.Error()))
}
