// Package extract converts raw file bytes of a declared media type into
// plain text for chunking. Unknown types are rejected before any parsing
// work; parse failures carry the underlying cause and are terminal for an
// ingestion run.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// ErrUnsupportedMediaType is returned for media types the extractor does not
// recognize. Checked before any parsing happens.
var ErrUnsupportedMediaType = errors.New("unsupported media type")

// ParseError wraps a decode/parse failure for a recognized media type.
type ParseError struct {
	MediaType string
	Cause     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing %s content: %v", e.MediaType, e.Cause)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

// Recognized media types.
const (
	MediaTypePDF  = "application/pdf"
	MediaTypeText = "text/plain"
	MediaTypeCSV  = "text/csv"
	MediaTypeJSON = "application/json"
	MediaTypeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// Supported reports whether the declared media type can be extracted.
func Supported(mediaType string) bool {
	switch normalizeMediaType(mediaType) {
	case MediaTypePDF, MediaTypeText, MediaTypeCSV, MediaTypeJSON, MediaTypeDOCX:
		return true
	}
	return false
}

// Text converts data of the declared media type into plain text.
// Returns ErrUnsupportedMediaType for unrecognized types and a *ParseError
// for corrupt or undecodable content.
func Text(data []byte, mediaType string) (string, error) {
	mt := normalizeMediaType(mediaType)
	switch mt {
	case MediaTypePDF:
		return pdfText(data)
	case MediaTypeText, MediaTypeCSV, MediaTypeJSON:
		if !utf8.Valid(data) {
			return "", &ParseError{MediaType: mt, Cause: errors.New("content is not valid UTF-8")}
		}
		return string(data), nil
	case MediaTypeDOCX:
		return docxText(data)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMediaType, mediaType)
	}
}

// normalizeMediaType strips parameters ("text/plain; charset=utf-8") and
// lowercases the type.
func normalizeMediaType(mediaType string) string {
	mt, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(mediaType))
	}
	return mt
}

// pdfText extracts text page by page, preserving page order and discarding
// layout. The pdf library panics on some malformed files, so the whole parse
// runs under a recover that converts panics into a ParseError.
func pdfText(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ParseError{MediaType: MediaTypePDF, Cause: fmt.Errorf("malformed pdf: %v", r)}
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", &ParseError{MediaType: MediaTypePDF, Cause: err}
	}

	var sb strings.Builder
	fonts := make(map[string]*pdf.Font)
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(fonts)
		if err != nil {
			return "", &ParseError{MediaType: MediaTypePDF, Cause: fmt.Errorf("page %d: %w", i, err)}
		}
		sb.WriteString(pageText)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}
