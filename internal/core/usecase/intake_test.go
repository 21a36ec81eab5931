package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/kirillkom/doc-converter/internal/core/domain"
	"github.com/kirillkom/doc-converter/internal/core/ports"
)

type sourceFake struct {
	files map[string][]byte
}

func (f *sourceFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := f.files[key]
	if !ok {
		return nil, domain.WrapError(domain.ErrInvalidInput, "open document", errors.New("missing"))
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type batchServiceFake struct {
	docs     []domain.Document
	settings domain.BatchSettings
}

func (f *batchServiceFake) Submit(_ context.Context, docs []domain.Document, settings domain.BatchSettings) (string, error) {
	f.docs = docs
	f.settings = settings
	return "job-1", nil
}
func (f *batchServiceFake) Status(context.Context, string) (*domain.BatchJob, error) { return nil, nil }
func (f *batchServiceFake) Cancel(context.Context, string) error                     { return nil }
func (f *batchServiceFake) Results(context.Context, string) ([]domain.ItemResult, error) {
	return nil, nil
}

func TestIntakeLoadsDocumentsAndSubmits(t *testing.T) {
	source := &sourceFake{files: map[string][]byte{
		"inbox/notes.txt": []byte("plain notes"),
		"inbox/scan.bin":  []byte("%PDF-1.4\n"),
	}}
	batches := &batchServiceFake{}
	uc := NewIntakeUseCase(source, batches, 1024)

	jobID, err := uc.Accept(context.Background(), ports.Submission{
		Items: []ports.SubmissionItem{
			{StorageKey: "inbox/notes.txt"},
			{Name: "scan", StorageKey: "inbox/scan.bin"},
		},
		Settings: domain.BatchSettings{Label: "nightly"},
	})
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	if jobID != "job-1" {
		t.Fatalf("unexpected job id %q", jobID)
	}
	if len(batches.docs) != 2 || batches.settings.Label != "nightly" {
		t.Fatalf("unexpected submit: %+v", batches)
	}
	if batches.docs[0].Name != "notes.txt" || batches.docs[0].MediaType != domain.MediaTypePlainText {
		t.Fatalf("unexpected first doc %q %q", batches.docs[0].Name, batches.docs[0].MediaType)
	}
	if batches.docs[1].MediaType != domain.MediaTypePDF {
		t.Fatalf("expected sniffed pdf, got %q", batches.docs[1].MediaType)
	}
}

func TestIntakeRejectsOversizedDocument(t *testing.T) {
	source := &sourceFake{files: map[string][]byte{"big.txt": bytes.Repeat([]byte("a"), 32)}}
	batches := &batchServiceFake{}
	uc := NewIntakeUseCase(source, batches, 16)

	_, err := uc.Accept(context.Background(), ports.Submission{Items: []ports.SubmissionItem{{StorageKey: "big.txt"}}})
	var capErr *domain.CapacityExceededError
	if !errors.As(err, &capErr) || capErr.Limit != 16 {
		t.Fatalf("expected capacity error, got %v", err)
	}
	if batches.docs != nil {
		t.Fatalf("nothing should be submitted")
	}
}

func TestIntakeRejectsEmptyAndMissingItems(t *testing.T) {
	uc := NewIntakeUseCase(&sourceFake{files: map[string][]byte{}}, &batchServiceFake{}, 0)
	ctx := context.Background()

	if _, err := uc.Accept(ctx, ports.Submission{}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for empty submission, got %v", err)
	}
	if _, err := uc.Accept(ctx, ports.Submission{Items: []ports.SubmissionItem{{StorageKey: "nope"}}}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for missing key, got %v", err)
	}
}
