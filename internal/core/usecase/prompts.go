package usecase

import (
	"fmt"
	"unicode/utf8"

	"github.com/kirillkom/doc-converter/internal/core/domain"
)

const maxTextLayerHint = 2000

func buildVisionPrompt(variant domain.Variant, page, pages int, textLayer string) string {
	prompt := `Extract all text from this image exactly as it appears.
Preserve reading order, line breaks and paragraph structure.
Do not summarize, translate or describe the image. Return only the extracted text.
If the image contains no text, return an empty response.`

	switch variant {
	case domain.VariantFormAware:
		prompt += `
The image is a form. Output each field as "label: value" on its own line, keeping empty fields with an empty value.
Render checkboxes as [x] or [ ].`
	case domain.VariantTableAware:
		prompt += `
The image contains tables. Render every table as a Markdown table with a header row.
Keep text outside tables as plain paragraphs.`
	case domain.VariantHandwriting:
		prompt += `
The text is handwritten. Transcribe it faithfully, marking illegible words as [illegible].`
	}

	if pages > 1 {
		prompt += fmt.Sprintf("\nThis is page %d of %d.", page+1, pages)
	}

	if textLayer != "" {
		if len(textLayer) > maxTextLayerHint {
			textLayer = textLayer[:maxTextLayerHint]
			for !utf8.ValidString(textLayer) {
				textLayer = textLayer[:len(textLayer)-1]
			}
		}
		prompt += `
The document also carries an embedded text layer that may be incomplete or out of order.
Use it to resolve unclear characters, but trust the image:
` + textLayer
	}
	return prompt
}
