package logging

import (
	"context"
	"log/slog"

	"weft/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldJobID is the standardized structured logging key for queue job identifiers.
	FieldJobID = "job_id"
	// FieldStage is the standardized structured logging key for pipeline stage names.
	FieldStage = "stage"
	// FieldBook is the standardized structured logging key for book names.
	FieldBook = "book"
	// FieldChapter is the standardized structured logging key for chapter numbers.
	FieldChapter = "chapter"
	// FieldProvider is the standardized structured logging key for model backend identifiers.
	FieldProvider = "provider"
	// FieldModel is the standardized structured logging key for model names.
	FieldModel = "model"
	// FieldChunkIndex is the standardized structured logging key for 1-based chunk position.
	FieldChunkIndex = "chunk_index"
	// FieldChunkCount is the standardized structured logging key for the total chunks of a chapter.
	FieldChunkCount = "chunk_count"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if id, ok := services.JobIDFromContext(ctx); ok {
		fields = append(fields, slog.Int64(FieldJobID, id))
	}
	if stage, ok := services.StageFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStage, stage))
	}
	if book, ok := services.BookFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldBook, book))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
