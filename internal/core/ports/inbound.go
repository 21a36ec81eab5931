package ports

import (
	"context"

	"github.com/kirillkom/doc-converter/internal/core/domain"
)

// Converter runs the full classify -> select -> execute path for one document.
type Converter interface {
	Convert(ctx context.Context, doc domain.Document) (*domain.Conversion, error)
}

// BatchService is the inbound contract of the batch scheduler.
type BatchService interface {
	Submit(ctx context.Context, docs []domain.Document, settings domain.BatchSettings) (string, error)
	Status(ctx context.Context, jobID string) (*domain.BatchJob, error)
	Cancel(ctx context.Context, jobID string) error
	Results(ctx context.Context, jobID string) ([]domain.ItemResult, error)
}
