// Package pdfutil checks downloaded note documents without rendering them.
package pdfutil

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"

	pdf "github.com/ledongthuc/pdf"
)

// DefaultPreviewLen bounds the text kept by Inspect.
const DefaultPreviewLen = 280

// Info summarises a PDF artifact.
type Info struct {
	Pages   int
	Preview string
}

// Inspect parses data as a PDF and returns its page count and the first
// previewLen characters of text. A previewLen of zero uses DefaultPreviewLen.
func Inspect(data []byte, previewLen int) (Info, error) {
	if previewLen <= 0 {
		previewLen = DefaultPreviewLen
	}
	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Info{}, fmt.Errorf("new pdf reader: %w", err)
	}
	info := Info{Pages: doc.NumPage()}
	text, err := extractText(doc, previewLen)
	if err != nil {
		return info, err
	}
	info.Preview = preview(text, previewLen)
	return info, nil
}

// ExtractText returns the plain text of every page.
func ExtractText(data []byte) (string, error) {
	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("new pdf reader: %w", err)
	}
	return extractText(doc, 0)
}

// extractText stops reading pages once limit characters were collected. A
// limit of zero reads everything.
func extractText(doc *pdf.Reader, limit int) (string, error) {
	var builder strings.Builder
	total := doc.NumPage()
	for page := 1; page <= total; page++ {
		p := doc.Page(page)
		if p.V.IsNull() {
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", page, err)
		}
		builder.WriteString(content)
		builder.WriteString("\n")
		if limit > 0 && builder.Len() >= limit {
			break
		}
	}
	return builder.String(), nil
}

func preview(text string, limit int) string {
	text = strings.Join(strings.FieldsFunc(text, unicode.IsSpace), " ")
	runes := []rune(text)
	if len(runes) > limit {
		return string(runes[:limit])
	}
	return text
}
