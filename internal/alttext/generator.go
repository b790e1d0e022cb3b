package alttext

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/pdf-alttext/config"
	"github.com/feichai0017/pdf-alttext/internal/agent/vision"
	"github.com/feichai0017/pdf-alttext/internal/models"
	"github.com/feichai0017/pdf-alttext/internal/progress"
	"github.com/feichai0017/pdf-alttext/internal/workspace"
	"github.com/feichai0017/pdf-alttext/pkg/logger"
)

// Placeholders written in place of alt text.
const (
	PlaceholderFailed = "[Error generating alt text]"
	PlaceholderEmpty  = "[No alt text generated]"
	placeholderError  = "[Error: %s]"
)

type Config struct {
	Workers      int
	MaxDimension int
	MaxTokens    int
	Attempts     int
	BackoffMin   time.Duration
	BackoffMax   time.Duration
	Multiplier   float64
}

func ConfigFrom(c config.AltTextConfig) Config {
	return Config{
		Workers:      c.Workers,
		MaxDimension: c.MaxDimension,
		MaxTokens:    c.MaxTokens,
		Attempts:     c.Attempts,
		BackoffMin:   c.BackoffMin,
		BackoffMax:   c.BackoffMax,
		Multiplier:   c.Multiplier,
	}
}

// ImageURL builds the thumbnail reference for an extracted image.
type ImageURL func(sid, name string) string

// PrefixImageURL serves thumbnails from prefix/<sid>/images/<name>.
func PrefixImageURL(prefix string) ImageURL {
	return func(sid, name string) string {
		return path.Join(prefix, sid, "images", url.PathEscape(name))
	}
}

// Generator produces alt text for a list of extracted images with a bounded
// worker pool.
type Generator struct {
	sessions  *workspace.Manager
	tracker   *progress.Tracker
	describer vision.Describer
	models    []string
	cfg       Config
	imageURL  ImageURL
	logger    logger.Logger
}

type Option func(*Generator)

func WithImageURL(fn ImageURL) Option {
	return func(g *Generator) {
		g.imageURL = fn
	}
}

func NewGenerator(sessions *workspace.Manager, tracker *progress.Tracker, describer vision.Describer, modelOrder []string, cfg Config, log logger.Logger, opts ...Option) *Generator {
	g := &Generator{
		sessions:  sessions,
		tracker:   tracker,
		describer: describer,
		models:    modelOrder,
		cfg:       cfg,
		imageURL:  PrefixImageURL("/api/v1/sessions"),
		logger:    log.Named("alttext"),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.cfg.Workers <= 0 {
		g.cfg.Workers = 1
	}
	if g.cfg.Attempts <= 0 {
		g.cfg.Attempts = 1
	}
	if len(g.models) == 0 {
		g.models = []string{""}
	}
	return g
}

// Generate returns one entry per image, in input order. Individual failures
// become placeholder text; the returned error is only set for an unknown
// session, an unreadable page index or a cancelled context.
func (g *Generator) Generate(ctx context.Context, sid string, images []string, lang string) ([]models.AltTextEntry, error) {
	paths, err := g.sessions.Lookup(sid)
	if err != nil {
		return nil, err
	}
	log := g.logger.With(logger.String("sid", sid), logger.String("lang", lang))

	total := len(images)
	if total == 0 {
		_ = g.tracker.WriteAltProgress(paths.AltProgress, 100, 0, 0)
		return []models.AltTextEntry{}, nil
	}
	_ = g.tracker.WriteAltProgress(paths.AltProgress, 0, 0, total)

	pages, err := paths.PageIndex()
	if err != nil {
		return nil, err
	}

	log.Info("Starting alt text generation",
		logger.Int("images", total),
		logger.Int("workers", g.cfg.Workers),
	)

	results := make([]models.AltTextEntry, total)
	var (
		mu   sync.Mutex
		done int
	)

	var eg errgroup.Group
	eg.SetLimit(g.cfg.Workers)
	for i, name := range images {
		i, name := i, name
		eg.Go(func() error {
			results[i] = g.process(ctx, sid, name, lang, pages, log)

			mu.Lock()
			defer mu.Unlock()
			done++
			_ = g.tracker.WriteAltProgress(paths.AltProgress, done*100/total, done, total)
			log.Debug("Alt text progress",
				logger.Int("done", done),
				logger.Int("total", total),
			)
			return nil
		})
	}
	_ = eg.Wait()

	log.Info("Alt text generation finished", logger.Int("images", total))
	return results, ctx.Err()
}

func (g *Generator) process(ctx context.Context, sid, name, lang string, pages models.PageIndex, log logger.Logger) (entry models.AltTextEntry) {
	entry = models.AltTextEntry{Image: name, Page: pages[name]}
	log = log.With(logger.String("image", name))

	defer func() {
		if r := recover(); r != nil {
			log.Error("Alt text worker panicked", logger.Any("panic", r), logger.Stack())
			entry.AltText = PlaceholderFailed
			entry.Thumb = ""
		}
	}()

	imgPath, err := g.sessions.Resolve(sid, name)
	if err != nil {
		log.Warn("Rejected image name", logger.Error(err))
		entry.AltText = PlaceholderFailed
		return entry
	}
	if _, err := os.Stat(imgPath); err == nil {
		entry.Thumb = g.imageURL(sid, name)
	}

	text, err := g.describe(ctx, imgPath, lang, log)
	switch {
	case err != nil:
		log.Warn("Failed to generate alt text", logger.Error(err))
		entry.AltText = fmt.Sprintf(placeholderError, errorDetail(err))
	case text == "":
		entry.AltText = PlaceholderEmpty
	default:
		entry.AltText = text
	}
	return entry
}

// describe tries each model in order. When every model fails the first
// model's error is reported.
func (g *Generator) describe(ctx context.Context, imgPath, lang string, log logger.Logger) (string, error) {
	b64, err := vision.LoadForVision(imgPath, g.cfg.MaxDimension)
	if err != nil {
		return "", err
	}

	req := vision.Request{
		ImageBase64: b64,
		MimeType:    "image/png",
		Prompt:      Prompt(lang),
		System:      SystemPrompt,
		MaxTokens:   g.cfg.MaxTokens,
	}

	var firstErr error
	for _, model := range g.models {
		req.Model = model
		text, err := g.callWithRetry(ctx, req, log)
		if err == nil {
			return text, nil
		}
		if firstErr == nil {
			firstErr = err
		}
		if ctx.Err() != nil {
			break
		}
		log.Info("Vision model failed, trying next", logger.String("model", model), logger.Error(err))
	}
	return "", fmt.Errorf("%w: %w", models.ErrAICallFailed, firstErr)
}

// errorDetail strips the sentinel prefix so placeholders carry the provider message.
func errorDetail(err error) string {
	if u, ok := err.(interface{ Unwrap() []error }); ok && errors.Is(err, models.ErrAICallFailed) {
		for _, e := range u.Unwrap() {
			if e != models.ErrAICallFailed {
				return e.Error()
			}
		}
	}
	return err.Error()
}
