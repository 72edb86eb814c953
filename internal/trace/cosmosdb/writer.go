package cosmosdb

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ahrav/go-flowevals/internal/trace"
)

// Writer persists batches of spans into one collection.
type Writer struct {
	items        ItemCreator
	blobs        BlobUploader
	blobBaseURI  string
	collectionID string
	createdBy    map[string]any
	logger       *slog.Logger
}

// NewWriter returns a Writer. A nil logger uses the default logger.
func NewWriter(items ItemCreator, blobs BlobUploader, blobBaseURI, collectionID string, createdBy map[string]any, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		items:        items,
		blobs:        blobs,
		blobBaseURI:  blobBaseURI,
		collectionID: collectionID,
		createdBy:    createdBy,
		logger:       logger.With("component", "trace_writer", "collection_id", collectionID),
	}
}

// PersistAll persists every span, continuing past failures. The returned
// error joins all failures.
func (w *Writer) PersistAll(ctx context.Context, spans []trace.Span) error {
	var errs []error
	for _, src := range spans {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		span := NewSpan(src, w.collectionID, w.createdBy)
		if err := span.Persist(ctx, w.items, w.blobs, w.blobBaseURI); err != nil {
			w.logger.ErrorContext(ctx, "span persist failed",
				"trace_id", src.TraceID(), "span_id", src.SpanID, "error", err)
			errs = append(errs, err)
			continue
		}
		w.logger.DebugContext(ctx, "span persisted",
			"trace_id", src.TraceID(), "span_id", src.SpanID, "events", len(span.ExternalEventDataURIs))
	}
	return errors.Join(errs...)
}
