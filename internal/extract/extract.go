// Package extract turns uploaded document bytes into plain text.
//
// Supported media types: PDF, plain text, markdown, and DOCX. Unknown
// types are rejected before any parsing work. Extraction failure is
// fatal for the document; no partial result is returned.
package extract

import (
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

var (
	// ErrUnsupportedMediaType indicates the declared media type is not
	// on the allow-list.
	ErrUnsupportedMediaType = errors.New("unsupported media type")

	// ErrExtractionFailed indicates the document bytes could not be
	// parsed as the declared type.
	ErrExtractionFailed = errors.New("text extraction failed")
)

// Kind identifies a supported document format.
type Kind string

const (
	KindPDF      Kind = "pdf"
	KindText     Kind = "text"
	KindMarkdown Kind = "markdown"
	KindDocx     Kind = "docx"
)

// mediaTypeKinds is the media-type allow-list.
var mediaTypeKinds = map[string]Kind{
	"application/pdf":    KindPDF,
	"text/plain":         KindText,
	"text/markdown":      KindMarkdown,
	"text/x-markdown":    KindMarkdown,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": KindDocx,
}

// extensionKinds resolves the format when the declared media type is
// generic (e.g. application/octet-stream from naive clients).
var extensionKinds = map[string]Kind{
	".pdf":      KindPDF,
	".txt":      KindText,
	".md":       KindMarkdown,
	".markdown": KindMarkdown,
	".docx":     KindDocx,
}

// DetectKind resolves the document format from the declared media type,
// falling back to the filename extension for generic declarations.
// Returns ErrUnsupportedMediaType when neither resolves.
func DetectKind(mediaType, filename string) (Kind, error) {
	if mediaType != "" {
		parsed, _, err := mime.ParseMediaType(mediaType)
		if err == nil {
			if kind, ok := mediaTypeKinds[strings.ToLower(parsed)]; ok {
				return kind, nil
			}
			// Generic declarations fall through to the extension check.
			if parsed != "application/octet-stream" {
				return "", fmt.Errorf("%w: %q", ErrUnsupportedMediaType, mediaType)
			}
		}
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if kind, ok := extensionKinds[ext]; ok {
		return kind, nil
	}
	return "", fmt.Errorf("%w: %q (filename %q)", ErrUnsupportedMediaType, mediaType, filename)
}

// Text extracts plain text from document bytes of the given kind.
func Text(kind Kind, data []byte) (string, error) {
	switch kind {
	case KindPDF:
		return pdfText(data)
	case KindText, KindMarkdown:
		return plainText(data)
	case KindDocx:
		return docxText(data)
	default:
		return "", fmt.Errorf("%w: kind %q", ErrUnsupportedMediaType, kind)
	}
}

// plainText validates and decodes UTF-8 text content.
func plainText(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: content is not valid UTF-8", ErrExtractionFailed)
	}
	return string(data), nil
}
