package extract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/disintegration/imaging"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	_ "golang.org/x/image/tiff"

	"github.com/feichai0017/pdf-alttext/internal/models"
	"github.com/feichai0017/pdf-alttext/pkg/logger"
)

// Fallback pulls the raw image streams referenced by each page with pdfcpu.
// Pure Go, no rendering: images are emitted at their native resolution.
type Fallback struct {
	logger logger.Logger
}

func NewFallback(log logger.Logger) *Fallback {
	return &Fallback{logger: log.Named("fallback")}
}

func (f *Fallback) Name() string { return "pdfcpu" }

func (f *Fallback) Available() error { return nil }

func (f *Fallback) Open(path string) (Document, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}
	defer file.Close()

	ctx, err := api.ReadValidateAndOptimize(file, model.NewDefaultConfiguration())
	if err != nil {
		return nil, fmt.Errorf("failed to read pdf: %w", err)
	}
	return &fallbackDocument{ctx: ctx, logger: f.logger}, nil
}

type fallbackDocument struct {
	ctx    *model.Context
	logger logger.Logger
}

func (d *fallbackDocument) PageCount() int {
	return d.ctx.PageCount
}

func (d *fallbackDocument) ExtractPage(ctx context.Context, req PageRequest) ([]models.ImageRecord, error) {
	images, err := pdfcpu.ExtractPageImages(d.ctx, req.Page, false)
	if err != nil {
		return nil, fmt.Errorf("failed to extract images from page %d: %w", req.Page, err)
	}

	objNrs := make([]int, 0, len(images))
	for nr := range images {
		objNrs = append(objNrs, nr)
	}
	sort.Ints(objNrs)

	var records []models.ImageRecord
	for _, nr := range objNrs {
		if err := ctx.Err(); err != nil {
			return records, err
		}
		img := images[nr]
		rec, err := d.save(img, req)
		if err != nil {
			d.logger.Warn("Skipped image",
				logger.Int("page", req.Page),
				logger.Int("obj", nr),
				logger.Error(err),
			)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (d *fallbackDocument) save(img model.Image, req PageRequest) (models.ImageRecord, error) {
	data, err := io.ReadAll(img)
	if err != nil {
		return models.ImageRecord{}, fmt.Errorf("failed to read image stream: %w", err)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return models.ImageRecord{}, fmt.Errorf("failed to decode image header: %w", err)
	}
	if area := int64(cfg.Width) * int64(cfg.Height); req.MaxPixels > 0 && area > req.MaxPixels {
		return models.ImageRecord{}, fmt.Errorf("%w: %d pixels on page %d", models.ErrImageTooLarge, area, req.Page)
	}

	decoded, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return models.ImageRecord{}, fmt.Errorf("failed to decode image: %w", err)
	}

	name := req.Names.Next()
	path := filepath.Join(req.OutDir, name)
	if err := imaging.Save(decoded, path); err != nil {
		return models.ImageRecord{}, fmt.Errorf("failed to save %s: %w", name, err)
	}
	return models.ImageRecord{Name: name, Path: path, Page: req.Page}, nil
}

func (d *fallbackDocument) Close() error {
	d.ctx = nil
	return nil
}
