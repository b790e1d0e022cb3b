//go:build !nofitz

package extract

import (
	"context"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/pdf-alttext/pkg/logger"
)

func TestPrimaryCropsPlacements(t *testing.T) {
	log := logger.NewTestLogger()
	p := NewPrimary(log)
	require.NoError(t, p.Available())

	doc, err := p.Open(writeFixturePDF(t))
	require.NoError(t, err)
	defer doc.Close()
	require.Equal(t, 3, doc.PageCount())
	assert.Equal(t, 3, doc.(*primaryDocument).reader.NumPage())
	assert.False(t, log.HasMessage("WARN", "Page count mismatch, pages past the parsed count yield no images"))

	dir := t.TempDir()
	names := &Namer{}
	req := func(page int) PageRequest {
		return PageRequest{Page: page, Scale: 1, OutDir: dir, MaxPixels: 50_000_000, Names: names}
	}

	page1, err := doc.ExtractPage(context.Background(), req(1))
	require.NoError(t, err)
	require.Len(t, page1, 3)
	for i, r := range page1 {
		assert.Equal(t, 1, r.Page)
		assert.FileExists(t, r.Path)
		if i == 0 {
			img, err := imaging.Open(r.Path)
			require.NoError(t, err)
			assert.Equal(t, 100, img.Bounds().Dx())
			assert.Equal(t, 50, img.Bounds().Dy())
		}
	}

	page2, err := doc.ExtractPage(context.Background(), req(2))
	require.NoError(t, err)
	assert.Empty(t, page2)

	page3, err := doc.ExtractPage(context.Background(), req(3))
	require.NoError(t, err)
	require.Len(t, page3, 1)
	assert.Equal(t, "Extracted_Image_4.png", page3[0].Name)
}
