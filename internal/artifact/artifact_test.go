package artifact

import (
	"archive/zip"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/pdf-alttext/internal/models"
	"github.com/feichai0017/pdf-alttext/pkg/logger"
)

func readDocx(t *testing.T, path string) (string, []string) {
	t.Helper()
	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()

	var body string
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		body = string(data)
	}
	return body, names
}

func TestDocxWriter(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "Extracted_Image_1.png")
	require.NoError(t, imaging.Save(imaging.New(200, 100, color.White), good))
	broken := filepath.Join(dir, "Extracted_Image_2.png")
	require.NoError(t, os.WriteFile(broken, []byte("not a png"), 0o644))

	items := []Item{
		{Entry: models.AltTextEntry{Image: "Extracted_Image_1.png", AltText: "A white rectangle", Page: 3}, ImagePath: good},
		{Entry: models.AltTextEntry{Image: "Extracted_Image_2.png", AltText: "second"}, ImagePath: broken},
		{Entry: models.AltTextEntry{Image: "gone.png", AltText: "[No alt text generated]"}, ImagePath: filepath.Join(dir, "gone.png")},
	}

	log := logger.NewTestLogger()
	out := filepath.Join(dir, "alt_text_results_s1_en.docx")
	require.NoError(t, NewDocxWriter(log).WriteDocument(out, items))

	body, names := readDocx(t, out)
	require.NotEmpty(t, body)

	assert.Contains(t, body, "Page 3")
	assert.Contains(t, body, `w:val="end"`)
	assert.Contains(t, body, "A white rectangle")
	assert.Contains(t, body, TextImageError)
	assert.Contains(t, body, TextImageNotFound)
	assert.Contains(t, body, "[No alt text generated]")
	assert.Less(t, strings.Index(body, "Page 3"), strings.Index(body, "A white rectangle"))
	assert.Less(t, strings.Index(body, TextImageError), strings.Index(body, "second"))

	var media int
	for _, n := range names {
		if strings.HasPrefix(n, "word/media/") {
			media++
		}
	}
	assert.Equal(t, 1, media)
	assert.True(t, log.HasMessage("WARN", "Could not add image"))
}

func TestDocxWriterEmpty(t *testing.T) {
	out := filepath.Join(t.TempDir(), "empty.docx")
	require.NoError(t, NewDocxWriter(logger.NewNop()).WriteDocument(out, nil))
	assert.FileExists(t, out)
}

func TestPageLabel(t *testing.T) {
	assert.Equal(t, "?", pageLabel(0))
	assert.Equal(t, "12", pageLabel(12))
}

func TestRenderPanel(t *testing.T) {
	entries := []models.AltTextEntry{
		{Image: "a.png", AltText: "A <b>bold</b> claim", Page: 2, Thumb: "/api/v1/sessions/s1/images/a.png"},
		{Image: "b.png", AltText: "[Error generating alt text]"},
	}
	data, err := RenderPanel(PanelTitle("es"), entries)
	require.NoError(t, err)
	html := string(data)

	assert.Contains(t, html, "<title>Alt Text Copy Panel (ES)</title>")
	assert.Contains(t, html, `<pre id="alt1" class="alt">A &lt;b&gt;bold&lt;/b&gt; claim</pre>`)
	assert.Contains(t, html, `id="alt2"`)
	assert.Contains(t, html, `src="/api/v1/sessions/s1/images/a.png"`)
	assert.Contains(t, html, `<span class="page">Page 2</span>`)
	assert.Equal(t, 1, strings.Count(html, `class="thumb"`))
	assert.Contains(t, html, "copyAll()")
	assert.Equal(t, 2, strings.Count(html, `<div class="item">`))
}

func TestWritePanel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "copy_panel_s1.html")
	require.NoError(t, WritePanel(path, PanelTitle("en"), nil))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Alt Text Copy Panel (EN)")
}
