package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/doc-converter/internal/core/domain"
)

// ConvertUseCase runs the single-document pipeline:
// classify, select strategies, execute the fallback chain.
type ConvertUseCase struct {
	classifier *ContentClassifier
	selector   *StrategySelector
	engine     *ExecutionEngine
}

func NewConvertUseCase(classifier *ContentClassifier, selector *StrategySelector, engine *ExecutionEngine) *ConvertUseCase {
	return &ConvertUseCase{
		classifier: classifier,
		selector:   selector,
		engine:     engine,
	}
}

func (uc *ConvertUseCase) Convert(ctx context.Context, doc domain.Document) (*domain.Conversion, error) {
	classification, err := uc.classifier.Classify(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("classify document: %w", err)
	}

	strategies := uc.selector.Select(classification)
	conversion, err := uc.engine.Execute(ctx, doc, classification.Source, strategies)
	if err != nil {
		return nil, fmt.Errorf("convert %s as %s: %w", doc.Name, classification.ContentType, err)
	}
	conversion.Classification = classification

	slog.Info("document_converted",
		"document", doc.Name,
		"content_type", classification.ContentType,
		"strategy", conversion.Strategy,
		"accepted", conversion.Accepted,
		"overall", conversion.Quality.Overall,
		"attempts", len(conversion.Attempts),
	)
	return conversion, nil
}
