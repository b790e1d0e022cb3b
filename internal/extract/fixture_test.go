package extract

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// pdfBuilder assembles a small PDF with a correct xref table.
type pdfBuilder struct {
	b       bytes.Buffer
	offsets []int
}

func newPDFBuilder() *pdfBuilder {
	p := &pdfBuilder{offsets: []int{0}}
	p.b.WriteString("%PDF-1.4\n")
	return p
}

func (p *pdfBuilder) object(body string) {
	p.offsets = append(p.offsets, p.b.Len())
	fmt.Fprintf(&p.b, "%d 0 obj\n%s\nendobj\n", len(p.offsets)-1, body)
}

func (p *pdfBuilder) stream(dict string, data []byte) {
	p.offsets = append(p.offsets, p.b.Len())
	fmt.Fprintf(&p.b, "%d 0 obj\n<< %s /Length %d >>\nstream\n", len(p.offsets)-1, dict, len(data))
	p.b.Write(data)
	p.b.WriteString("\nendstream\nendobj\n")
}

func (p *pdfBuilder) bytes() []byte {
	xref := p.b.Len()
	fmt.Fprintf(&p.b, "xref\n0 %d\n", len(p.offsets))
	p.b.WriteString("0000000000 65535 f \n")
	for _, off := range p.offsets[1:] {
		fmt.Fprintf(&p.b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&p.b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(p.offsets), xref)
	return p.b.Bytes()
}

func solidJPEG(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

// writeFixturePDF writes a three page document:
//
//	page 1: Im1 at [100 0 0 50 10 20], Im2 at [60 0 0 60 200 300] and form
//	        Fm1 (Matrix [1 0 0 1 50 400]) drawing Im1 at 30x30
//	page 2: no images
//	page 3: Im2 covering the page
func writeFixturePDF(t *testing.T) string {
	t.Helper()
	const jpegDict = "/Type /XObject /Subtype /Image /Width 8 /Height 8 /ColorSpace /DeviceRGB /BitsPerComponent 8 /Filter /DCTDecode"

	p := newPDFBuilder()
	p.object("<< /Type /Catalog /Pages 2 0 R >>")
	p.object("<< /Type /Pages /Kids [3 0 R 4 0 R 5 0 R] /Count 3 /MediaBox [0 0 612 792] >>")
	p.object("<< /Type /Page /Parent 2 0 R /Resources << /XObject << /Im1 6 0 R /Im2 7 0 R /Fm1 8 0 R >> >> /Contents 9 0 R >>")
	p.object("<< /Type /Page /Parent 2 0 R /Resources << >> /Contents 10 0 R >>")
	p.object("<< /Type /Page /Parent 2 0 R /Resources << /XObject << /Im2 7 0 R >> >> /Contents 11 0 R >>")
	p.stream(jpegDict, solidJPEG(t, color.RGBA{R: 255, A: 255}))
	p.stream(jpegDict, solidJPEG(t, color.RGBA{B: 255, A: 255}))
	p.stream("/Type /XObject /Subtype /Form /BBox [0 0 100 100] /Matrix [1 0 0 1 50 400] /Resources << /XObject << /Im1 6 0 R >> >>",
		[]byte("q 30 0 0 30 0 0 cm /Im1 Do Q"))
	p.stream("", []byte(strings.Join([]string{
		"q 100 0 0 50 10 20 cm /Im1 Do Q",
		"q 60 0 0 60 200 300 cm /Im2 Do Q",
		"/Fm1 Do",
	}, "\n")))
	p.stream("", []byte("q Q"))
	p.stream("", []byte("q 612 0 0 792 0 0 cm /Im2 Do Q"))

	path := filepath.Join(t.TempDir(), "fixture.pdf")
	require.NoError(t, os.WriteFile(path, p.bytes(), 0o644))
	return path
}
