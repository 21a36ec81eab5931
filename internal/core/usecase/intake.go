package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/kirillkom/doc-converter/internal/core/domain"
	"github.com/kirillkom/doc-converter/internal/core/ports"
)

const defaultMaxDocumentBytes int64 = 64 << 20

// IntakeUseCase turns queued submissions into scheduler batches by loading
// every referenced document from storage.
type IntakeUseCase struct {
	source   ports.DocumentSource
	batches  ports.BatchService
	maxBytes int64
}

func NewIntakeUseCase(source ports.DocumentSource, batches ports.BatchService, maxDocumentBytes int64) *IntakeUseCase {
	if maxDocumentBytes <= 0 {
		maxDocumentBytes = defaultMaxDocumentBytes
	}
	return &IntakeUseCase{
		source:   source,
		batches:  batches,
		maxBytes: maxDocumentBytes,
	}
}

// Accept matches ports.SubmissionHandler.
func (uc *IntakeUseCase) Accept(ctx context.Context, sub ports.Submission) (string, error) {
	if len(sub.Items) == 0 {
		return "", domain.WrapError(domain.ErrInvalidInput, "accept submission", errors.New("submission has no items"))
	}

	docs := make([]domain.Document, 0, len(sub.Items))
	for i, item := range sub.Items {
		doc, err := uc.load(ctx, item)
		if err != nil {
			return "", fmt.Errorf("load item %d: %w", i, err)
		}
		docs = append(docs, doc)
	}
	return uc.batches.Submit(ctx, docs, sub.Settings)
}

func (uc *IntakeUseCase) load(ctx context.Context, item ports.SubmissionItem) (domain.Document, error) {
	if strings.TrimSpace(item.StorageKey) == "" {
		return domain.Document{}, domain.WrapError(domain.ErrInvalidInput, "load document", errors.New("empty storage key"))
	}
	rc, err := uc.source.Open(ctx, item.StorageKey)
	if err != nil {
		return domain.Document{}, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, uc.maxBytes+1))
	if err != nil {
		return domain.Document{}, fmt.Errorf("read %s: %w", item.StorageKey, err)
	}
	if int64(len(data)) > uc.maxBytes {
		return domain.Document{}, &domain.CapacityExceededError{
			Reason: "document size " + item.StorageKey,
			Limit:  uc.maxBytes,
			Needed: int64(len(data)),
		}
	}

	name := item.Name
	if name == "" {
		name = path.Base(item.StorageKey)
	}
	return domain.NewDocument(name, item.MediaType, data), nil
}
