package extract

import (
	"fmt"
	"image"
	"path/filepath"

	"github.com/disintegration/imaging"

	"github.com/feichai0017/pdf-alttext/internal/models"
)

// renderFunc renders the whole page at scale.
type renderFunc func(scale float64) (image.Image, error)

// cropPlacements renders the page once and cuts every placement out of it.
// Placements over the pixel ceiling fail individually and are reported in
// skipped; they never stop their siblings.
func cropPlacements(req PageRequest, geo pageGeometry, placements []placement, render renderFunc) (records []models.ImageRecord, skipped []error, err error) {
	type target struct {
		name string
		rect image.Rectangle
	}

	targets := make([]target, 0, len(placements))
	for _, pl := range placements {
		r := geo.device(pl.BBox, req.Scale)
		area := int64(r.Dx()) * int64(r.Dy())
		if req.MaxPixels > 0 && area > req.MaxPixels {
			skipped = append(skipped, fmt.Errorf("%w: %s on page %d covers %d pixels", models.ErrImageTooLarge, pl.Name, req.Page, area))
			continue
		}
		targets = append(targets, target{name: pl.Name, rect: r})
	}
	if len(targets) == 0 {
		return nil, skipped, nil
	}

	page, err := render(req.Scale)
	if err != nil {
		return nil, skipped, fmt.Errorf("failed to render page %d: %w", req.Page, err)
	}

	for _, t := range targets {
		r := t.rect.Intersect(page.Bounds())
		if r.Dx() < 1 || r.Dy() < 1 {
			continue
		}
		name := req.Names.Next()
		path := filepath.Join(req.OutDir, name)
		if err := imaging.Save(imaging.Crop(page, r), path); err != nil {
			skipped = append(skipped, fmt.Errorf("failed to save %s: %w", name, err))
			continue
		}
		records = append(records, models.ImageRecord{Name: name, Path: path, Page: req.Page})
	}
	return records, skipped, nil
}
