package documents

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// FitzParser extracts text locally with MuPDF. It is the offline fallback
// when no parsing service is configured; page labels are 1-based page numbers.
type FitzParser struct{}

// NewFitzParser creates a local PDF parser.
func NewFitzParser() *FitzParser {
	return &FitzParser{}
}

// Parse extracts one ParsedUnit per page of the PDF at path.
func (p *FitzParser) Parse(ctx context.Context, path string) ([]ParsedUnit, error) {
	if !strings.EqualFold(filepath.Ext(path), ".pdf") {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(path))
	}

	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	fileName := filepath.Base(path)
	var units []ParsedUnit
	for i := 0; i < doc.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := doc.Text(i)
		if err != nil {
			continue
		}
		units = append(units, ParsedUnit{
			Text:       text,
			PageLabel:  strconv.Itoa(i + 1),
			SourceFile: fileName,
		})
	}
	return units, nil
}
