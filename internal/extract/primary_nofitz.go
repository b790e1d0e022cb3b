//go:build nofitz

package extract

import (
	"fmt"

	"github.com/feichai0017/pdf-alttext/internal/models"
	"github.com/feichai0017/pdf-alttext/pkg/logger"
)

// Primary is unavailable in builds without MuPDF.
type Primary struct{}

func NewPrimary(logger.Logger) *Primary {
	return &Primary{}
}

func (p *Primary) Name() string { return primaryName }

func (p *Primary) Available() error {
	return fmt.Errorf("%w: built with nofitz", models.ErrExtractorUnavailable)
}

func (p *Primary) Open(string) (Document, error) {
	return nil, p.Available()
}
