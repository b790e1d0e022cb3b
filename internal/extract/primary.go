//go:build !nofitz

package extract

import (
	"context"
	"fmt"
	"image"
	"os"

	"github.com/gen2brain/go-fitz"
	"github.com/ledongthuc/pdf"

	"github.com/feichai0017/pdf-alttext/internal/models"
	"github.com/feichai0017/pdf-alttext/pkg/logger"
)

// Primary walks the PDF object model to find where images are drawn and crops
// them out of a MuPDF page render.
type Primary struct {
	logger logger.Logger
}

func NewPrimary(log logger.Logger) *Primary {
	return &Primary{logger: log.Named("primary")}
}

func (p *Primary) Name() string { return primaryName }

func (p *Primary) Available() error {
	return nil
}

func (p *Primary) Open(path string) (Document, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pdf: %w", err)
	}
	doc, err := fitz.New(path)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to open pdf for rendering: %w", err)
	}
	if parsed, rendered := reader.NumPage(), doc.NumPage(); parsed != rendered {
		p.logger.Warn("Page count mismatch, pages past the parsed count yield no images",
			logger.String("path", path),
			logger.Int("parsed_pages", parsed),
			logger.Int("rendered_pages", rendered),
		)
	}
	return &primaryDocument{file: f, reader: reader, doc: doc, logger: p.logger}, nil
}

type primaryDocument struct {
	file   *os.File
	reader *pdf.Reader
	doc    *fitz.Document
	logger logger.Logger
}

func (d *primaryDocument) PageCount() int {
	return d.doc.NumPage()
}

func (d *primaryDocument) ExtractPage(ctx context.Context, req PageRequest) ([]models.ImageRecord, error) {
	page := d.reader.Page(req.Page)
	if page.V.IsNull() {
		return nil, nil
	}

	placements, err := findPlacements(page)
	if err != nil {
		d.logger.Warn("Content stream ended early",
			logger.Int("page", req.Page),
			logger.Int("found", len(placements)),
			logger.Error(err),
		)
	}

	render := func(scale float64) (image.Image, error) {
		return d.doc.ImageDPI(req.Page-1, 72*scale)
	}
	records, skipped, err := cropPlacements(req, newPageGeometry(page), placements, render)
	for _, e := range skipped {
		d.logger.Warn("Skipped image", logger.Int("page", req.Page), logger.Error(e))
	}
	return records, err
}

func (d *primaryDocument) Close() error {
	err := d.doc.Close()
	if cerr := d.file.Close(); err == nil {
		err = cerr
	}
	return err
}
