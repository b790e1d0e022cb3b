package artifact

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/feichai0017/pdf-alttext/internal/models"
	"github.com/feichai0017/pdf-alttext/internal/progress"
)

var panelTemplate = template.Must(template.New("panel").Funcs(template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}).Parse(`<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<meta name="viewport" content="width=device-width, initial-scale=1">
<style>
  body { font-family: system-ui, -apple-system, Segoe UI, Roboto, Arial, sans-serif; margin: 24px; }
  .toolbar { display:flex; gap:8px; align-items:center; margin-bottom:16px; flex-wrap: wrap; }
  .item { border:1px solid #ddd; border-radius:12px; padding:12px; margin:12px 0; background:#fafafa; }
  .item button { cursor:pointer; }
  .alt { white-space: pre-wrap; word-wrap: break-word; margin:8px 0; background:#fff; padding:8px; border-radius:8px; border:1px solid #eee; }
  .page { font-size: 12px; color:#666; }
  .thumb { max-height:64px; max-width:96px; margin-right:8px; border-radius:8px; vertical-align: middle; }
  .meta { display:flex; gap:8px; align-items:center; margin-bottom:6px; }
  #toast { position:fixed; right:16px; bottom:16px; background:#222; color:#fff; padding:10px 14px; border-radius:10px; opacity:0; transition:opacity .2s; }
  #toast.show { opacity:0.92; }
</style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="toolbar">
    <button onclick="copyAll()">Copy all</button>
    <span id="count"></span>
  </div>
{{- range $i, $e := .Entries}}
  <div class="item">
    <div class="meta">
      {{if $e.Thumb}}<img src="{{$e.Thumb}}" alt="" class="thumb"/>{{end}}
      {{if $e.Page}}<span class="page">Page {{$e.Page}}</span>{{end}}
    </div>
    <pre id="alt{{inc $i}}" class="alt">{{$e.AltText}}</pre>
    <button onclick="copyText('alt{{inc $i}}')">Copy</button>
  </div>
{{- end}}
  <div id="toast" role="status" aria-live="polite">Copied!</div>
<script>
  function showToast(msg) {
    const t = document.getElementById('toast');
    t.textContent = msg || 'Copied!';
    t.classList.add('show');
    setTimeout(() => t.classList.remove('show'), 900);
  }
  async function copyText(elemId) {
    const el = document.getElementById(elemId);
    const txt = el ? el.textContent : '';
    try {
      await navigator.clipboard.writeText(txt);
      showToast('Copied');
    } catch (e) {
      const r = document.createRange(); r.selectNode(el);
      const sel = window.getSelection(); sel.removeAllRanges(); sel.addRange(r);
      document.execCommand('copy'); sel.removeAllRanges();
      showToast('Copied');
    }
  }
  async function copyAll() {
    const nodes = document.querySelectorAll('.alt');
    const block = Array.from(nodes).map(n => n.textContent.trim()).filter(Boolean).join('\n\n');
    try {
      await navigator.clipboard.writeText(block);
      showToast('All copied');
    } catch (e) {
      const ta = document.createElement('textarea');
      ta.value = block; document.body.appendChild(ta); ta.select();
      document.execCommand('copy'); document.body.removeChild(ta);
      showToast('All copied');
    }
  }
  document.getElementById('count').textContent = document.querySelectorAll('.item').length + ' items';
</script>
</body>
</html>
`))

// PanelTitle is the heading of the copy panel for lang.
func PanelTitle(lang string) string {
	return fmt.Sprintf("Alt Text Copy Panel (%s)", strings.ToUpper(lang))
}

// RenderPanel renders the review page for entries.
func RenderPanel(title string, entries []models.AltTextEntry) ([]byte, error) {
	var buf bytes.Buffer
	if err := panelTemplate.Execute(&buf, struct {
		Title   string
		Entries []models.AltTextEntry
	}{title, entries}); err != nil {
		return nil, fmt.Errorf("failed to render copy panel: %w", err)
	}
	return buf.Bytes(), nil
}

// WritePanel renders the panel and stores it atomically at path.
func WritePanel(path, title string, entries []models.AltTextEntry) error {
	data, err := RenderPanel(title, entries)
	if err != nil {
		return err
	}
	return progress.WriteFileAtomic(path, data)
}
