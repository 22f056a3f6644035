package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// docxText extracts the raw text of a word-processor XML document,
// discarding formatting. A DOCX file is a ZIP archive whose main content
// lives in word/document.xml; text is collected from <w:t> runs, with
// paragraph ends and explicit breaks becoming newlines.
func docxText(data []byte) (string, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", &ParseError{MediaType: MediaTypeDOCX, Cause: fmt.Errorf("opening archive: %w", err)}
	}

	for _, file := range reader.File {
		if file.Name != "word/document.xml" {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return "", &ParseError{MediaType: MediaTypeDOCX, Cause: fmt.Errorf("opening document.xml: %w", err)}
		}
		text, err := documentXMLText(rc)
		rc.Close()
		if err != nil {
			return "", &ParseError{MediaType: MediaTypeDOCX, Cause: err}
		}
		return text, nil
	}

	return "", &ParseError{MediaType: MediaTypeDOCX, Cause: errors.New("archive has no word/document.xml")}
}

func documentXMLText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)

	var sb strings.Builder
	var inText bool
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("decoding document.xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "br":
				sb.WriteString("\n")
			case "tab":
				sb.WriteString("\t")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
	return sb.String(), nil
}
