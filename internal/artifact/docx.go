package artifact

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/disintegration/imaging"
	"github.com/fumiama/go-docx"

	"github.com/feichai0017/pdf-alttext/internal/models"
	"github.com/feichai0017/pdf-alttext/pkg/logger"
)

const (
	emuPerInch = 914400

	TextImageNotFound = "[Image not found]"
	TextImageError    = "[Error displaying image]"
)

// Item is one entry of the results document together with the image file it describes.
type Item struct {
	Entry     models.AltTextEntry
	ImagePath string
}

// DocumentWriter renders alt-text results into a document file.
type DocumentWriter interface {
	WriteDocument(path string, items []Item) error
}

// DocxWriter writes a Word document: for every item the image at one inch
// width, a right aligned italic page label and the alt text paragraph.
type DocxWriter struct {
	logger logger.Logger
}

func NewDocxWriter(log logger.Logger) *DocxWriter {
	return &DocxWriter{logger: log.Named("docx")}
}

func (w *DocxWriter) WriteDocument(path string, items []Item) error {
	doc := docx.New().WithDefaultTheme()

	for _, it := range items {
		w.addImage(doc, it)
		doc.AddParagraph().AddText(it.Entry.AltText)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	if _, err := doc.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write document: %w", err)
	}
	return f.Close()
}

func (w *DocxWriter) addImage(doc *docx.Docx, it Item) {
	if _, err := os.Stat(it.ImagePath); errors.Is(err, fs.ErrNotExist) {
		doc.AddParagraph().AddText(TextImageNotFound)
		return
	}

	if err := embed(doc, it.ImagePath); err != nil {
		w.logger.Warn("Could not add image",
			logger.String("image", it.Entry.Image),
			logger.Error(err),
		)
		doc.AddParagraph().AddText(TextImageError)
		return
	}

	para := doc.AddParagraph().Justification("end")
	para.AddText("Page " + pageLabel(it.Entry.Page)).Italic()
}

// embed re-encodes the image as PNG and adds it scaled to one inch width.
func embed(doc *docx.Docx, path string) error {
	img, err := imaging.Open(path)
	if err != nil {
		return err
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return fmt.Errorf("empty image")
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return err
	}

	run, err := doc.AddParagraph().AddInlineDrawing(buf.Bytes())
	if err != nil {
		return err
	}
	for _, child := range run.Children {
		if d, ok := child.(*docx.Drawing); ok && d.Inline != nil {
			d.Inline.Size(emuPerInch, int64(emuPerInch)*int64(b.Dy())/int64(b.Dx()))
		}
	}
	return nil
}

func pageLabel(page int) string {
	if page <= 0 {
		return "?"
	}
	return strconv.Itoa(page)
}
