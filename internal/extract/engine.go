package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/feichai0017/pdf-alttext/config"
	"github.com/feichai0017/pdf-alttext/internal/models"
	"github.com/feichai0017/pdf-alttext/internal/progress"
	"github.com/feichai0017/pdf-alttext/internal/workspace"
	"github.com/feichai0017/pdf-alttext/pkg/logger"
)

const (
	StatusScanning    = "Scanning PDF for images..."
	StatusExtracting  = "Extracting images…"
	StatusUnavailable = "Primary extractor unavailable, using fallback..."
	StatusFallback    = "Memory limit reached, using fallback extractor..."
	StatusRetrying    = "Primary extractor failed, trying fallback..."
)

const (
	scaleStep     = 0.1
	scaleFloorGap = 0.45
	headroom      = 500 * mb
)

// Config tunes the engine. SoftLimit is compared against process RSS.
type Config struct {
	SoftLimit     uint64
	Scale         float64
	MinScale      float64
	MaxBBoxPixels int64
	MemLogEvery   int
}

// ConfigFrom converts the extraction section of the service configuration.
func ConfigFrom(c config.ExtractionConfig) Config {
	return Config{
		SoftLimit:     uint64(c.SoftMemLimitMB) * mb,
		Scale:         c.RenderScale,
		MinScale:      c.MinScale,
		MaxBBoxPixels: c.MaxBBoxPixels,
		MemLogEvery:   c.MemLogEvery,
	}
}

// MemoryHook observes process memory at the periodic reclamation point.
type MemoryHook func(page int, rss uint64)

// Engine runs page by page extraction with the primary strategy and switches
// to the fallback strategy when the primary cannot finish.
type Engine struct {
	primary  Strategy
	fallback Strategy
	probe    MemoryProbe
	tracker  *progress.Tracker
	sessions *workspace.Manager
	cfg      Config
	hook     MemoryHook
	logger   logger.Logger
}

type Option func(*Engine)

func WithProbe(p MemoryProbe) Option {
	return func(e *Engine) {
		e.probe = p
	}
}

func WithMemoryHook(h MemoryHook) Option {
	return func(e *Engine) {
		e.hook = h
	}
}

func WithStrategies(primary, fallback Strategy) Option {
	return func(e *Engine) {
		e.primary = primary
		e.fallback = fallback
	}
}

func NewEngine(sessions *workspace.Manager, tracker *progress.Tracker, cfg Config, log logger.Logger, opts ...Option) *Engine {
	log = log.Named("extract")
	e := &Engine{
		primary:  NewPrimary(log),
		fallback: NewFallback(log),
		probe:    NewProcessProbe(),
		tracker:  tracker,
		sessions: sessions,
		cfg:      cfg,
		logger:   log,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg.MemLogEvery <= 0 {
		e.cfg.MemLogEvery = 8
	}
	if e.cfg.MinScale <= 0 {
		e.cfg.MinScale = 0.4
	}
	return e
}

// Run extracts every image of pdfPath into the session's extracted directory
// and persists the image list and page index.
func (e *Engine) Run(ctx context.Context, sid, pdfPath string) ([]models.ImageRecord, error) {
	paths, err := e.sessions.Lookup(sid)
	if err != nil {
		return nil, err
	}
	log := e.logger.With(logger.String("sid", sid))
	e.status(paths, StatusScanning)

	start := time.Now()
	records, used, err := e.extract(ctx, paths, pdfPath, log)
	if err != nil {
		return nil, err
	}

	if err := persistIndex(paths, records); err != nil {
		return nil, err
	}

	log.Info("Extraction finished",
		logger.String("strategy", used),
		logger.Int("images", len(records)),
		logger.Duration("elapsed", time.Since(start)),
	)
	return records, nil
}

func (e *Engine) extract(ctx context.Context, paths workspace.Paths, pdfPath string, log logger.Logger) ([]models.ImageRecord, string, error) {
	if err := e.primary.Available(); err != nil {
		log.Warn("Primary extractor unavailable", logger.Error(err))
		e.status(paths, StatusUnavailable)
		records, err := e.runStrategy(ctx, e.fallback, false, paths, pdfPath, log)
		return records, e.fallback.Name(), err
	}

	records, err := e.runStrategy(ctx, e.primary, true, paths, pdfPath, log)
	if err == nil {
		return records, e.primary.Name(), nil
	}
	if ctx.Err() != nil {
		return nil, e.primary.Name(), err
	}

	signal := ShouldFallback(err)
	log.Warn("Primary extractor failed, switching to fallback",
		logger.Bool("resource_signal", signal),
		logger.Error(err),
	)
	if signal {
		e.status(paths, StatusFallback)
	} else {
		e.status(paths, StatusRetrying)
	}

	if cerr := resetDir(paths.Extracted); cerr != nil {
		return nil, e.fallback.Name(), cerr
	}
	records, ferr := e.runStrategy(ctx, e.fallback, false, paths, pdfPath, log)
	if ferr == nil {
		return records, e.fallback.Name(), nil
	}
	if signal {
		return nil, e.fallback.Name(), ferr
	}
	log.Error("Fallback extractor failed too", logger.Error(ferr))
	return nil, e.primary.Name(), fmt.Errorf("%w: %w", models.ErrExtractorFailed, err)
}

// runStrategy extracts all pages with s. guarded enables the memory ceiling
// checks and adaptive scale, which only apply to the rendering extractor.
func (e *Engine) runStrategy(ctx context.Context, s Strategy, guarded bool, paths workspace.Paths, pdfPath string, log logger.Logger) ([]models.ImageRecord, error) {
	doc, err := s.Open(pdfPath)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	total := doc.PageCount()
	log.Info("Extracting images",
		logger.String("strategy", s.Name()),
		logger.Int("pages", total),
	)

	scale := e.cfg.Scale
	names := &Namer{}
	var records []models.ImageRecord

	for page := 1; page <= total; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rss := e.rss(log)
		if guarded && e.cfg.SoftLimit > 0 {
			if rss > e.cfg.SoftLimit {
				return nil, fmt.Errorf("%w: rss %d MB over soft limit %d MB before page %d",
					models.ErrResourceExhausted, rss/mb, e.cfg.SoftLimit/mb, page)
			}
			if rss+headroom > e.cfg.SoftLimit && scale > scaleFloorGap {
				scale = max(e.cfg.MinScale, scale-scaleStep)
				log.Warn("Memory pressure, lowering render scale",
					logger.Int("page", page),
					logger.Uint64("rss_mb", rss/mb),
					logger.Float64("scale", scale),
				)
			}
		}

		recs, err := doc.ExtractPage(ctx, PageRequest{
			Page:      page,
			Scale:     scale,
			OutDir:    paths.Extracted,
			MaxPixels: e.cfg.MaxBBoxPixels,
			Names:     names,
		})
		if err != nil {
			return nil, &PageError{Page: page, Err: err}
		}
		records = append(records, recs...)

		_ = e.tracker.WriteProgress(paths.ImageProgress, page*100/total)
		if page == 1 {
			e.status(paths, StatusExtracting)
		}
		if page%e.cfg.MemLogEvery == 0 {
			runtime.GC()
			rss = e.rss(log)
			log.Debug("Memory checkpoint",
				logger.Int("page", page),
				logger.Uint64("rss_mb", rss/mb),
			)
			if e.hook != nil {
				e.hook(page, rss)
			}
		}
	}
	return records, nil
}

func (e *Engine) rss(log logger.Logger) uint64 {
	rss, err := e.probe.RSS()
	if err != nil {
		log.Debug("Memory probe failed", logger.Error(err))
		return 0
	}
	return rss
}

func (e *Engine) status(paths workspace.Paths, text string) {
	_ = e.tracker.WriteStatus(paths.ImageStatus, text)
}

var fallbackSignals = []string{
	"out of memory",
	"cannot allocate",
	"segfault",
	"139",
}

// ShouldFallback reports whether err is a resource or availability signal from
// the primary extractor. Other errors still get a fallback attempt, but the
// original error wins if that attempt fails too.
//
// Only the extractor's own message is matched, never the page prefix added by
// the engine.
func ShouldFallback(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, models.ErrResourceExhausted) || errors.Is(err, models.ErrExtractorUnavailable) {
		return true
	}

	var pe *PageError
	if errors.As(err, &pe) {
		err = pe.Err
	}
	msg := strings.ToLower(err.Error())
	for _, s := range fallbackSignals {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return strings.Contains(msg, primaryName) && strings.Contains(msg, "not available")
}

func persistIndex(paths workspace.Paths, records []models.ImageRecord) error {
	index, err := json.Marshal(models.Index(records))
	if err != nil {
		return fmt.Errorf("failed to encode page index: %w", err)
	}
	if err := progress.WriteFileAtomic(paths.PageNumbers, index); err != nil {
		return fmt.Errorf("failed to write page index: %w", err)
	}

	names, err := json.Marshal(models.Names(records))
	if err != nil {
		return fmt.Errorf("failed to encode image list: %w", err)
	}
	if err := progress.WriteFileAtomic(paths.Images, names); err != nil {
		return fmt.Errorf("failed to write image list: %w", err)
	}
	return nil
}

func resetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to clear %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to recreate %s: %w", dir, err)
	}
	return nil
}
