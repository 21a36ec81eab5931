package domain

import (
	"bytes"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const (
	MediaTypePDF       = "application/pdf"
	MediaTypePNG       = "image/png"
	MediaTypeJPEG      = "image/jpeg"
	MediaTypeTIFF      = "image/tiff"
	MediaTypeBMP       = "image/bmp"
	MediaTypeWEBP      = "image/webp"
	MediaTypeDOCX      = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MediaTypeXLSX      = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MediaTypePlainText = "text/plain"
	MediaTypeMarkdown  = "text/markdown"
	MediaTypeUnknown   = "application/octet-stream"
)

// Document is an immutable input handle. Callers must not modify Data after
// handing the document to the pipeline.
type Document struct {
	Name      string `json:"name,omitempty"`
	MediaType string `json:"media_type"`
	Data      []byte `json:"-"`
}

func NewDocument(name, declaredType string, data []byte) Document {
	return Document{
		Name:      name,
		MediaType: ResolveMediaType(name, declaredType, data),
		Data:      data,
	}
}

func (d Document) Size() int { return len(d.Data) }

func (d Document) IsImage() bool {
	switch d.MediaType {
	case MediaTypePNG, MediaTypeJPEG, MediaTypeTIFF, MediaTypeBMP, MediaTypeWEBP:
		return true
	default:
		return false
	}
}

// IsPaginated reports whether the container holds pages that can be sampled.
func (d Document) IsPaginated() bool {
	return d.MediaType == MediaTypePDF
}

// ResolveMediaType prefers magic bytes, then the declared type, then the file
// extension.
func ResolveMediaType(name, declared string, data []byte) string {
	if sniffed := sniffMediaType(data); sniffed != "" {
		if sniffed == "application/zip" {
			return zipMediaType(name, declared)
		}
		return sniffed
	}

	declared = strings.ToLower(strings.TrimSpace(declared))
	if idx := strings.Index(declared, ";"); idx >= 0 {
		declared = strings.TrimSpace(declared[:idx])
	}
	if declared != "" && declared != MediaTypeUnknown {
		return declared
	}

	if byExt := mediaTypeByExtension(name); byExt != "" {
		return byExt
	}
	if len(data) > 0 && utf8.Valid(data) {
		return MediaTypePlainText
	}
	return MediaTypeUnknown
}

func sniffMediaType(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte("%PDF-")):
		return MediaTypePDF
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return MediaTypePNG
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return MediaTypeJPEG
	case bytes.HasPrefix(data, []byte("II*\x00")), bytes.HasPrefix(data, []byte("MM\x00*")):
		return MediaTypeTIFF
	case bytes.HasPrefix(data, []byte("BM")) && len(data) > 14:
		return MediaTypeBMP
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return MediaTypeWEBP
	case bytes.HasPrefix(data, []byte("PK\x03\x04")):
		return "application/zip"
	default:
		return ""
	}
}

func zipMediaType(name, declared string) string {
	switch {
	case strings.Contains(declared, "wordprocessingml"):
		return MediaTypeDOCX
	case strings.Contains(declared, "spreadsheetml"):
		return MediaTypeXLSX
	}
	if byExt := mediaTypeByExtension(name); byExt == MediaTypeDOCX || byExt == MediaTypeXLSX {
		return byExt
	}
	return "application/zip"
}

func mediaTypeByExtension(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return MediaTypePDF
	case ".png":
		return MediaTypePNG
	case ".jpg", ".jpeg":
		return MediaTypeJPEG
	case ".tif", ".tiff":
		return MediaTypeTIFF
	case ".bmp":
		return MediaTypeBMP
	case ".webp":
		return MediaTypeWEBP
	case ".docx":
		return MediaTypeDOCX
	case ".xlsx":
		return MediaTypeXLSX
	case ".txt", ".text", ".log", ".csv":
		return MediaTypePlainText
	case ".md", ".markdown":
		return MediaTypeMarkdown
	default:
		return ""
	}
}
