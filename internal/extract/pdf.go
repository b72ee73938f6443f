package extract

import (
	"fmt"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// pdfText extracts text from every page of a PDF document.
func pdfText(data []byte) (string, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return "", fmt.Errorf("%w: opening pdf: %w", ErrExtractionFailed, err)
	}
	defer doc.Close()

	var pages []string
	for i := 0; i < doc.NumPage(); i++ {
		text, err := doc.Text(i)
		if err != nil {
			return "", fmt.Errorf("%w: extracting page %d: %w", ErrExtractionFailed, i, err)
		}
		if strings.TrimSpace(text) != "" {
			pages = append(pages, text)
		}
	}

	if len(pages) == 0 {
		return "", fmt.Errorf("%w: pdf contains no extractable text", ErrExtractionFailed)
	}
	return strings.Join(pages, "\n\n"), nil
}
