package extract

import (
	"context"
	"fmt"

	"github.com/feichai0017/pdf-alttext/internal/models"
)

const primaryName = "mupdf"

// Strategy is one way of pulling images out of a PDF.
type Strategy interface {
	Name() string
	// Available reports whether the strategy can run in this process.
	Available() error
	Open(path string) (Document, error)
}

// Document is an opened PDF bound to a strategy.
type Document interface {
	PageCount() int
	ExtractPage(ctx context.Context, req PageRequest) ([]models.ImageRecord, error)
	Close() error
}

// PageRequest describes a single page extraction.
type PageRequest struct {
	Page      int // 1-based
	Scale     float64
	OutDir    string
	MaxPixels int64
	Names     *Namer
}

// PageError ties a strategy failure to the page it happened on.
type PageError struct {
	Page int
	Err  error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("page %d: %v", e.Page, e.Err)
}

func (e *PageError) Unwrap() error { return e.Err }

// Namer hands out sequential output names for one extraction run.
type Namer struct {
	n int
}

func (n *Namer) Next() string {
	n.n++
	return fmt.Sprintf("Extracted_Image_%d.png", n.n)
}
