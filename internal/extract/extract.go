// Package extract turns uploaded document bytes into plain text.
package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"

	"github.com/kailas-cloud/docrag/internal/domain"
)

// Media types with a dedicated reader.
const (
	TypePDF      = "application/pdf"
	TypeHTML     = "text/html"
	TypeXHTML    = "application/xhtml+xml"
	TypeXLSX     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	TypeDOCX     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	typeOctet    = "application/octet-stream"
	typeZip      = "application/zip"
	docxBodyPart = "word/document.xml"
)

// verbatim lists media types whose bytes are already the text.
var verbatim = map[string]bool{
	"text/plain":       true,
	"text/markdown":    true,
	"text/x-markdown":  true,
	"text/csv":         true,
	"application/json": true,
	"application/csv":  true,
}

type readerFunc func(content []byte) (string, error)

// Extractor dispatches on media type to a format reader.
type Extractor struct {
	readers map[string]readerFunc
}

// New creates an Extractor with every supported format registered.
func New() *Extractor {
	return &Extractor{
		readers: map[string]readerFunc{
			TypePDF:   readPDF,
			TypeHTML:  readHTML,
			TypeXHTML: readHTML,
			TypeXLSX:  readXLSX,
			TypeDOCX:  readDOCX,
		},
	}
}

// Supports reports whether contentType maps to a known reader.
func (e *Extractor) Supports(contentType string) bool {
	mt := mediaType(contentType)
	_, ok := e.readers[mt]
	return ok || verbatim[mt] || strings.HasPrefix(mt, "text/")
}

// Extract returns the plain text of content. Empty content and unsupported
// types yield "" without error. Corrupt content of a known type fails with
// domain.ErrExtraction.
func (e *Extractor) Extract(ctx context.Context, content []byte, contentType string) (string, error) {
	if len(content) == 0 {
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("extract: %w", err)
	}

	mt := mediaType(contentType)
	if mt == "" || mt == typeOctet {
		mt = mediaType(http.DetectContentType(content))
		if mt == typeZip {
			mt = sniffOOXML(content)
		}
	}

	if verbatim[mt] {
		return strings.ToValidUTF8(string(content), "�"), nil
	}
	read, ok := e.readers[mt]
	if !ok {
		if strings.HasPrefix(mt, "text/") {
			return strings.ToValidUTF8(string(content), "�"), nil
		}
		return "", nil
	}

	text, err := safeRead(read, content)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", domain.ErrExtraction, mt, err)
	}
	return strings.TrimSpace(text), nil
}

func mediaType(contentType string) string {
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(contentType)
	}
	return mt
}

// sniffOOXML tells Office Open XML packages apart from other zip archives
// by their part names.
func sniffOOXML(content []byte) string {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return typeZip
	}
	for _, f := range zr.File {
		switch {
		case f.Name == docxBodyPart:
			return TypeDOCX
		case strings.HasPrefix(f.Name, "xl/"):
			return TypeXLSX
		}
	}
	return typeZip
}

// safeRead converts reader panics on malformed input into errors.
func safeRead(read readerFunc, content []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed content: %v", r)
		}
	}()
	return read(content)
}

func readPDF(content []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(text)
	}
	return b.String(), nil
}

func readHTML(content []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript").Remove()

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	return strings.Join(strings.Fields(root.Text()), " "), nil
}

func readXLSX(content []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		for _, row := range rows {
			line := strings.TrimSpace(strings.Join(row, "\t"))
			if line == "" {
				continue
			}
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(line)
		}
	}
	return b.String(), nil
}

type docxBody struct {
	Paragraphs []struct {
		Runs []struct {
			Text []string `xml:"t"`
		} `xml:"r"`
	} `xml:"body>p"`
}

func readDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}

	for _, f := range zr.File {
		if f.Name != docxBodyPart {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("open %s: %w", docxBodyPart, err)
		}
		raw, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return "", fmt.Errorf("read %s: %w", docxBodyPart, err)
		}

		var body docxBody
		if err := xml.Unmarshal(raw, &body); err != nil {
			return "", fmt.Errorf("decode %s: %w", docxBodyPart, err)
		}
		paras := make([]string, 0, len(body.Paragraphs))
		for _, p := range body.Paragraphs {
			var b strings.Builder
			for _, r := range p.Runs {
				for _, t := range r.Text {
					b.WriteString(t)
				}
			}
			paras = append(paras, b.String())
		}
		return strings.Join(paras, "\n"), nil
	}
	return "", fmt.Errorf("missing %s", docxBodyPart)
}
