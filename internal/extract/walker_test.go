package extract

import (
	"image"
	"testing"

	"github.com/ledongthuc/pdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertRect(t *testing.T, want, got rect) {
	t.Helper()
	assert.InDelta(t, want.X0, got.X0, 1e-6)
	assert.InDelta(t, want.Y0, got.Y0, 1e-6)
	assert.InDelta(t, want.X1, got.X1, 1e-6)
	assert.InDelta(t, want.Y1, got.Y1, 1e-6)
}

func TestMatrixMul(t *testing.T) {
	scale := matrix{2, 0, 0, 3, 0, 0}
	shift := matrix{1, 0, 0, 1, 10, 20}

	// scale first, then translate
	x, y := scale.mul(shift).apply(1, 1)
	assert.InDelta(t, 12.0, x, 1e-9)
	assert.InDelta(t, 23.0, y, 1e-9)

	// translate first, then scale
	x, y = shift.mul(scale).apply(1, 1)
	assert.InDelta(t, 22.0, x, 1e-9)
	assert.InDelta(t, 63.0, y, 1e-9)
}

func TestUnitBoxRotated(t *testing.T) {
	// 90 degree rotation of a 40x20 image placed at (100, 100)
	box := unitBox(matrix{0, 40, -20, 0, 100, 100})
	assertRect(t, rect{80, 100, 100, 140}, box)
	assert.False(t, box.empty())

	assert.True(t, unitBox(matrix{0, 0, 0, 0, 5, 5}).empty())
}

func TestPageGeometryDevice(t *testing.T) {
	box := rect{X0: 10, Y0: 20, X1: 110, Y1: 70}

	tests := []struct {
		rotate int
		w, h   int
		want   image.Rectangle
	}{
		{0, 612, 792, image.Rect(10, 722, 110, 772)},
		{90, 792, 612, image.Rect(20, 10, 70, 110)},
		{180, 612, 792, image.Rect(502, 20, 602, 70)},
		{270, 792, 612, image.Rect(722, 502, 772, 602)},
	}
	for _, tt := range tests {
		g := pageGeometry{Box: rect{0, 0, 612, 792}, Rotate: tt.rotate}
		w, h := g.size(1)
		assert.Equal(t, tt.w, w, "rotate %d", tt.rotate)
		assert.Equal(t, tt.h, h, "rotate %d", tt.rotate)
		assert.Equal(t, tt.want, g.device(box, 1), "rotate %d", tt.rotate)
	}

	g := pageGeometry{Box: rect{0, 0, 612, 792}}
	assert.Equal(t, image.Rect(20, 1444, 220, 1544), g.device(box, 2))
}

func TestFindPlacements(t *testing.T) {
	f, r, err := pdf.Open(writeFixturePDF(t))
	require.NoError(t, err)
	defer f.Close()
	require.Equal(t, 3, r.NumPage())

	page1, err := findPlacements(r.Page(1))
	require.NoError(t, err)
	require.Len(t, page1, 3)
	assert.Equal(t, "Im1", page1[0].Name)
	assertRect(t, rect{10, 20, 110, 70}, page1[0].BBox)
	assert.Equal(t, "Im2", page1[1].Name)
	assertRect(t, rect{200, 300, 260, 360}, page1[1].BBox)
	assert.Equal(t, "Im1", page1[2].Name, "image drawn through the form")
	assertRect(t, rect{50, 400, 80, 430}, page1[2].BBox)

	page2, err := findPlacements(r.Page(2))
	require.NoError(t, err)
	assert.Empty(t, page2)

	page3, err := findPlacements(r.Page(3))
	require.NoError(t, err)
	require.Len(t, page3, 1)
	assertRect(t, rect{0, 0, 612, 792}, page3[0].BBox)

	g := newPageGeometry(r.Page(1))
	assert.Equal(t, rect{0, 0, 612, 792}, g.Box, "MediaBox inherited from the page tree")
	assert.Equal(t, 0, g.Rotate)
}
