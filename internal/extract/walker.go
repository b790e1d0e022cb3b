package extract

import (
	"fmt"
	"image"
	"math"

	"github.com/ledongthuc/pdf"
)

// maxFormDepth bounds recursion into nested form XObjects.
const maxFormDepth = 8

// matrix is a PDF transformation [a b c d e f].
type matrix [6]float64

var identity = matrix{1, 0, 0, 1, 0, 0}

// mul returns m × n in PDF row-vector convention.
func (m matrix) mul(n matrix) matrix {
	return matrix{
		m[0]*n[0] + m[1]*n[2],
		m[0]*n[1] + m[1]*n[3],
		m[2]*n[0] + m[3]*n[2],
		m[2]*n[1] + m[3]*n[3],
		m[4]*n[0] + m[5]*n[2] + n[4],
		m[4]*n[1] + m[5]*n[3] + n[5],
	}
}

func (m matrix) apply(x, y float64) (float64, float64) {
	return x*m[0] + y*m[2] + m[4], x*m[1] + y*m[3] + m[5]
}

// rect is an axis aligned box in PDF user space.
type rect struct {
	X0, Y0, X1, Y1 float64
}

func (r rect) empty() bool {
	return r.X1 <= r.X0 || r.Y1 <= r.Y0
}

// unitBox is the image space unit square mapped through m.
func unitBox(m matrix) rect {
	r := rect{X0: math.Inf(1), Y0: math.Inf(1), X1: math.Inf(-1), Y1: math.Inf(-1)}
	for _, c := range [][2]float64{{0, 0}, {1, 0}, {0, 1}, {1, 1}} {
		x, y := m.apply(c[0], c[1])
		r.X0, r.X1 = math.Min(r.X0, x), math.Max(r.X1, x)
		r.Y0, r.Y1 = math.Min(r.Y0, y), math.Max(r.Y1, y)
	}
	return r
}

// placement is one image drawn on a page.
type placement struct {
	Name string
	BBox rect
}

// pageGeometry maps user space to rendered pixels.
type pageGeometry struct {
	Box    rect
	Rotate int
}

func newPageGeometry(page pdf.Page) pageGeometry {
	box := inherited(page.V, "CropBox")
	if box.Len() != 4 {
		box = inherited(page.V, "MediaBox")
	}
	g := pageGeometry{Box: rect{0, 0, 612, 792}}
	if box.Len() == 4 {
		x0, y0 := box.Index(0).Float64(), box.Index(1).Float64()
		x1, y1 := box.Index(2).Float64(), box.Index(3).Float64()
		g.Box = rect{math.Min(x0, x1), math.Min(y0, y1), math.Max(x0, x1), math.Max(y0, y1)}
	}
	g.Rotate = ((int(inherited(page.V, "Rotate").Int64()) % 360) + 360) % 360
	return g
}

// size is the rendered page size in pixels at scale.
func (g pageGeometry) size(scale float64) (int, int) {
	w := (g.Box.X1 - g.Box.X0) * scale
	h := (g.Box.Y1 - g.Box.Y0) * scale
	if g.Rotate == 90 || g.Rotate == 270 {
		w, h = h, w
	}
	return int(math.Ceil(w)), int(math.Ceil(h))
}

// device converts a user space box to a pixel rectangle of the rendered page.
func (g pageGeometry) device(r rect, scale float64) image.Rectangle {
	w := (g.Box.X1 - g.Box.X0) * scale
	h := (g.Box.Y1 - g.Box.Y0) * scale

	toPixel := func(x, y float64) (float64, float64) {
		u := (x - g.Box.X0) * scale
		v := (g.Box.Y1 - y) * scale
		switch g.Rotate {
		case 90:
			return h - v, u
		case 180:
			return w - u, h - v
		case 270:
			return v, w - u
		}
		return u, v
	}

	ax, ay := toPixel(r.X0, r.Y0)
	bx, by := toPixel(r.X1, r.Y1)
	return image.Rect(
		int(math.Floor(math.Min(ax, bx))),
		int(math.Floor(math.Min(ay, by))),
		int(math.Ceil(math.Max(ax, bx))),
		int(math.Ceil(math.Max(ay, by))),
	)
}

func inherited(v pdf.Value, key string) pdf.Value {
	for depth := 0; !v.IsNull() && depth < 32; depth++ {
		if r := v.Key(key); !r.IsNull() {
			return r
		}
		v = v.Key("Parent")
	}
	return pdf.Value{}
}

// walker interprets content streams and records image draws.
type walker struct {
	placements []placement
}

// findPlacements walks the page content, descending into form XObjects. On a
// malformed stream it returns whatever was found before the failure together
// with the error.
func findPlacements(page pdf.Page) ([]placement, error) {
	w := &walker{}
	resources := page.Resources()
	contents := page.V.Key("Contents")

	ctm := identity
	switch contents.Kind() {
	case pdf.Stream:
		if err := w.interpret(contents, resources, &ctm, 0); err != nil {
			return w.placements, err
		}
	case pdf.Array:
		for i := 0; i < contents.Len(); i++ {
			if err := w.interpret(contents.Index(i), resources, &ctm, 0); err != nil {
				return w.placements, err
			}
		}
	}
	return w.placements, nil
}

func (w *walker) interpret(strm, resources pdf.Value, ctm *matrix, depth int) (err error) {
	if strm.Kind() != pdf.Stream {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("content stream: %v", r)
		}
	}()

	var saved []matrix
	pdf.Interpret(strm, func(stk *pdf.Stack, op string) {
		n := stk.Len()
		args := make([]pdf.Value, n)
		for i := n - 1; i >= 0; i-- {
			args[i] = stk.Pop()
		}

		switch op {
		case "q":
			saved = append(saved, *ctm)
		case "Q":
			if len(saved) > 0 {
				*ctm = saved[len(saved)-1]
				saved = saved[:len(saved)-1]
			}
		case "cm":
			if len(args) != 6 {
				return
			}
			var m matrix
			for i := range m {
				m[i] = args[i].Float64()
			}
			*ctm = m.mul(*ctm)
		case "Do":
			if len(args) != 1 {
				return
			}
			w.draw(args[0].Name(), resources, *ctm, depth)
		}
	})
	return nil
}

func (w *walker) draw(name string, resources pdf.Value, ctm matrix, depth int) {
	xobj := resources.Key("XObject").Key(name)
	switch xobj.Key("Subtype").Name() {
	case "Image":
		if box := unitBox(ctm); !box.empty() {
			w.placements = append(w.placements, placement{Name: name, BBox: box})
		}
	case "Form":
		if depth >= maxFormDepth {
			return
		}
		formCTM := ctm
		if m := xobj.Key("Matrix"); m.Len() == 6 {
			var fm matrix
			for i := range fm {
				fm[i] = m.Index(i).Float64()
			}
			formCTM = fm.mul(ctm)
		}
		formResources := xobj.Key("Resources")
		if formResources.IsNull() {
			formResources = resources
		}
		// a broken form only loses its own images
		_ = w.interpret(xobj, formResources, &formCTM, depth+1)
	}
}
