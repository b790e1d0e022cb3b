package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/feichai0017/pdf-alttext/internal/models"
)

const (
	uploadsDir   = "uploads"
	extractedDir = "extracted"
	outputDir    = "output"
)

// Paths is the on-disk layout of one session. Every field lives under Root.
type Paths struct {
	Root      string
	Uploads   string
	Extracted string
	Output    string

	ImageProgress string
	ImageStatus   string
	AltProgress   string
	PageNumbers   string
	Images        string
	Error         string
	Session       string
}

// Upload is where the session's source document is stored.
func (p Paths) Upload(filename string) string {
	return filepath.Join(p.Uploads, filepath.Base(filename))
}

// Artifacts names the per-language outputs of one alt-text run.
type Artifacts struct {
	Document string
	Results  string
	// Ready exists once Document and Results are complete.
	Ready string
}

// Artifacts derives the output files for lang. Every path stays inside Output.
func (p Paths) Artifacts(sid, lang string) (Artifacts, error) {
	if err := CheckLang(lang); err != nil {
		return Artifacts{}, err
	}

	var a Artifacts
	for _, f := range []struct {
		dst  *string
		name string
	}{
		{&a.Document, fmt.Sprintf("alt_text_results_%s_%s.docx", sid, lang)},
		{&a.Results, fmt.Sprintf("alt_text_results_%s_%s.json", sid, lang)},
		{&a.Ready, fmt.Sprintf("ready_%s_%s.txt", sid, lang)},
	} {
		path, err := p.outputFile(f.name)
		if err != nil {
			return Artifacts{}, err
		}
		*f.dst = path
	}
	return a, nil
}

func (p Paths) outputFile(name string) (string, error) {
	if strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("%w: %q", models.ErrInvalidPath, name)
	}
	target := filepath.Join(p.Output, name)
	rel, err := filepath.Rel(p.Output, target)
	if err != nil || rel != name {
		return "", fmt.Errorf("%w: %q", models.ErrInvalidPath, name)
	}
	return target, nil
}

// language codes such as "en", "es", "pt-br" or "zh_hant"
var langPattern = regexp.MustCompile(`^[a-z]{2,8}([-_][a-z0-9]{1,8})?$`)

// CheckLang rejects language codes that cannot be used in artifact names.
func CheckLang(lang string) error {
	if !langPattern.MatchString(lang) {
		return fmt.Errorf("%w: language %q", models.ErrInvalidPath, lang)
	}
	return nil
}

func (p Paths) CopyPanel(sid string) string {
	return filepath.Join(p.Output, fmt.Sprintf("copy_panel_%s.html", sid))
}

// PageIndex reads the persisted name→page mapping. A missing file yields an empty index.
func (p Paths) PageIndex() (models.PageIndex, error) {
	idx := models.PageIndex{}
	data, err := os.ReadFile(p.PageNumbers)
	if errors.Is(err, os.ErrNotExist) {
		return idx, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read page index: %w", err)
	}
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("failed to decode page index: %w", err)
	}
	return idx, nil
}

// ImageList reads the ordered image list written after extraction.
func (p Paths) ImageList() ([]string, error) {
	data, err := os.ReadFile(p.Images)
	if err != nil {
		return nil, err
	}
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, fmt.Errorf("failed to decode image list: %w", err)
	}
	return names, nil
}

// Manager owns the sessions root directory.
type Manager struct {
	root string
}

func NewManager(root string) (*Manager, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sessions root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sessions root: %w", err)
	}
	return &Manager{root: abs}, nil
}

func (m *Manager) Root() string {
	return m.root
}

// Paths derives the layout for sid without touching the filesystem.
func (m *Manager) Paths(sid string) Paths {
	root := filepath.Join(m.root, sid)
	return Paths{
		Root:          root,
		Uploads:       filepath.Join(root, uploadsDir),
		Extracted:     filepath.Join(root, extractedDir),
		Output:        filepath.Join(root, outputDir),
		ImageProgress: filepath.Join(root, "progress_image.txt"),
		ImageStatus:   filepath.Join(root, "status_image.txt"),
		AltProgress:   filepath.Join(root, "progress_alt.txt"),
		PageNumbers:   filepath.Join(root, "page_numbers.json"),
		Images:        filepath.Join(root, "images.json"),
		Error:         filepath.Join(root, "error.txt"),
		Session:       filepath.Join(root, "session.json"),
	}
}

// Create makes the session directories. Safe to call more than once.
func (m *Manager) Create(sid string) (Paths, error) {
	if err := checkID(sid); err != nil {
		return Paths{}, err
	}
	p := m.Paths(sid)
	for _, dir := range []string{p.Uploads, p.Extracted, p.Output} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Paths{}, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return p, nil
}

// Validate reports whether sid names an existing session directory.
func (m *Manager) Validate(sid string) bool {
	if checkID(sid) != nil {
		return false
	}
	info, err := os.Stat(m.Paths(sid).Root)
	return err == nil && info.IsDir()
}

// Lookup returns the paths of an existing session.
func (m *Manager) Lookup(sid string) (Paths, error) {
	if !m.Validate(sid) {
		return Paths{}, fmt.Errorf("%w: %q", models.ErrInvalidSession, sid)
	}
	return m.Paths(sid), nil
}

// Resolve maps a caller supplied file name to a path inside the session's
// extracted directory.
func (m *Manager) Resolve(sid, filename string) (string, error) {
	p, err := m.Lookup(sid)
	if err != nil {
		return "", err
	}
	if filename == "" || filepath.IsAbs(filename) || strings.ContainsRune(filename, 0) {
		return "", fmt.Errorf("%w: %q", models.ErrInvalidPath, filename)
	}

	target := filepath.Join(p.Extracted, filename)
	rel, err := filepath.Rel(p.Extracted, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", models.ErrInvalidPath, filename)
	}
	return target, nil
}

// Remove deletes the session tree.
func (m *Manager) Remove(sid string) error {
	p, err := m.Lookup(sid)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(p.Root); err != nil {
		return fmt.Errorf("failed to remove session %s: %w", sid, err)
	}
	return nil
}

// Stale lists sessions whose directory has not been modified since olderThan ago.
func (m *Manager) Stale(olderThan time.Duration, now time.Time) ([]string, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	cutoff := now.Add(-olderThan)
	var stale []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		stale = append(stale, e.Name())
	}
	return stale, nil
}

// Reap removes the sessions reported by Stale.
func (m *Manager) Reap(olderThan time.Duration, now time.Time) ([]string, error) {
	stale, err := m.Stale(olderThan, now)
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, sid := range stale {
		if err := os.RemoveAll(filepath.Join(m.root, sid)); err != nil {
			return removed, fmt.Errorf("failed to remove session %s: %w", sid, err)
		}
		removed = append(removed, sid)
	}
	return removed, nil
}

func checkID(sid string) error {
	if sid == "" || sid == "." || sid == ".." || strings.ContainsAny(sid, `/\`) || strings.ContainsRune(sid, 0) {
		return fmt.Errorf("%w: %q", models.ErrInvalidSession, sid)
	}
	return nil
}
