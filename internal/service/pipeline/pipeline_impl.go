package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/feichai0017/pdf-alttext/internal/agent/vision"
	"github.com/feichai0017/pdf-alttext/internal/artifact"
	"github.com/feichai0017/pdf-alttext/internal/models"
	"github.com/feichai0017/pdf-alttext/internal/progress"
	"github.com/feichai0017/pdf-alttext/internal/utils/validator"
	"github.com/feichai0017/pdf-alttext/internal/workspace"
	"github.com/feichai0017/pdf-alttext/pkg/converters"
	"github.com/feichai0017/pdf-alttext/pkg/logger"
	"github.com/feichai0017/pdf-alttext/pkg/queue"
	"github.com/feichai0017/pdf-alttext/pkg/storage"
)

const (
	StatusQueued = "Queued…"
	StatusDone   = "Done"
	StatusError  = "Error"

	defaultLang = "en"
)

var listableExt = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".webp": true}

// Extractor pulls the images out of a session's PDF.
type Extractor interface {
	Run(ctx context.Context, sid, pdfPath string) ([]models.ImageRecord, error)
}

// Generator produces one alt-text entry per image, in order.
type Generator interface {
	Generate(ctx context.Context, sid string, images []string, lang string) ([]models.AltTextEntry, error)
}

type ServiceConfig struct {
	SessionTTL time.Duration
	// ArtifactPolls and ArtifactInterval bound how long Artifact waits for a
	// run that is still assembling its output.
	ArtifactPolls    int
	ArtifactInterval time.Duration
}

// PipelineService 实现 Service
type PipelineService struct {
	sessions  *workspace.Manager
	tracker   *progress.Tracker
	queue     queue.Queue
	extractor Extractor
	generator Generator
	writer    artifact.DocumentWriter
	converter *converters.JSONConverter
	validator *validator.DocumentValidator
	storage   storage.Storage
	logger    logger.Logger
	config    *ServiceConfig

	// session.json 读改写
	mu  sync.Mutex
	now func() time.Time
}

type Deps struct {
	Sessions  *workspace.Manager
	Tracker   *progress.Tracker
	Queue     queue.Queue
	Extractor Extractor
	Generator Generator
	Writer    artifact.DocumentWriter
	Validator *validator.DocumentValidator
	// Storage is optional; nil disables artifact mirroring.
	Storage storage.Storage
}

func NewService(deps Deps, log logger.Logger, cfg *ServiceConfig) *PipelineService {
	if cfg == nil {
		cfg = &ServiceConfig{}
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 6 * time.Hour
	}
	if cfg.ArtifactPolls <= 0 {
		cfg.ArtifactPolls = 10
	}
	if cfg.ArtifactInterval <= 0 {
		cfg.ArtifactInterval = time.Second
	}
	if deps.Writer == nil {
		deps.Writer = artifact.NewDocxWriter(log)
	}
	if deps.Validator == nil {
		deps.Validator = validator.NewDocumentValidator(log, nil)
	}

	return &PipelineService{
		sessions:  deps.Sessions,
		tracker:   deps.Tracker,
		queue:     deps.Queue,
		extractor: deps.Extractor,
		generator: deps.Generator,
		writer:    deps.Writer,
		converter: converters.NewJSONConverter(),
		validator: deps.Validator,
		storage:   deps.Storage,
		logger:    log.Named("pipeline"),
		config:    cfg,
		now:       time.Now,
	}
}

// CreateSession validates the upload and stores it in a fresh workspace.
func (s *PipelineService) CreateSession(ctx context.Context, filename string, size int64, r io.Reader) (*models.Session, error) {
	s.logger.Info("Starting file upload",
		logger.String("filename", filename),
		logger.Int64("size", size),
	)

	body, err := s.validator.Validate(filename, size, r)
	if err != nil {
		return nil, err
	}

	sid := uuid.New().String()[:8]
	paths, err := s.sessions.Create(sid)
	if err != nil {
		return nil, err
	}

	name := filepath.Base(filename)
	written, err := saveUpload(paths.Upload(name), body)
	if err != nil {
		s.logger.Error("Failed to store upload",
			logger.String("sid", sid),
			logger.String("filename", name),
			logger.Error(err),
		)
		_ = s.sessions.Remove(sid)
		if errors.Is(err, validator.ErrInvalidUpload) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to store file: %w", err)
	}

	now := s.now()
	sess := &models.Session{
		ID:        sid,
		Root:      paths.Root,
		Filename:  name,
		FileSize:  written,
		State:     models.StateCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := writeSession(paths, sess); err != nil {
		_ = s.sessions.Remove(sid)
		return nil, err
	}

	s.logger.Info("Session created",
		logger.String("sid", sid),
		logger.String("filename", name),
		logger.Int64("size", written),
	)
	return sess, nil
}

func saveUpload(path string, r io.Reader) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// ScheduleExtraction resets the extraction channel and submits the stage.
func (s *PipelineService) ScheduleExtraction(ctx context.Context, sid string) (string, error) {
	paths, err := s.sessions.Lookup(sid)
	if err != nil {
		return "", err
	}

	s.tracker.Reset(paths.ImageProgress)
	_ = s.tracker.WriteProgress(paths.ImageProgress, 0)
	_ = s.tracker.WriteStatus(paths.ImageStatus, StatusQueued)
	removeStale(paths.Error)

	return s.enqueue(ctx, &queue.Task{
		Type:     queue.TaskTypeExtractImages,
		Payload:  map[string]interface{}{"session_id": sid},
		Metadata: map[string]string{"session_id": sid},
	})
}

// ScheduleAltText resets the alt-text channel and submits the stage.
func (s *PipelineService) ScheduleAltText(ctx context.Context, sid string, images []string, lang string) (string, error) {
	if len(images) == 0 {
		return "", fmt.Errorf("%w: no images provided", models.ErrInvalidRequest)
	}
	lang, err := parseLang(lang)
	if err != nil {
		return "", err
	}

	paths, err := s.sessions.Lookup(sid)
	if err != nil {
		return "", err
	}
	out, err := paths.Artifacts(sid, lang)
	if err != nil {
		return "", err
	}

	s.tracker.Reset(paths.AltProgress)
	_ = s.tracker.WriteAltProgress(paths.AltProgress, 0, 0, len(images))
	removeStale(paths.Error)
	removeStale(out.Ready)

	return s.enqueue(ctx, &queue.Task{
		Type: queue.TaskTypeGenerateAltText,
		Payload: map[string]interface{}{
			"session_id": sid,
			"images":     images,
			"lang":       lang,
		},
		Metadata: map[string]string{"session_id": sid, "lang": lang},
	})
}

func (s *PipelineService) enqueue(ctx context.Context, task *queue.Task) (string, error) {
	if err := s.queue.Enqueue(ctx, task); err != nil {
		s.logger.Error("Failed to enqueue task",
			logger.String("type", task.Type),
			logger.String("sid", task.Metadata["session_id"]),
			logger.Error(err),
		)
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}

	s.logger.Info("Task queued",
		logger.String("taskId", task.ID),
		logger.String("type", task.Type),
		logger.String("sid", task.Metadata["session_id"]),
	)
	return task.ID, nil
}

// HandleExtraction runs the extraction stage to completion.
func (s *PipelineService) HandleExtraction(ctx context.Context, sid string) error {
	paths, err := s.sessions.Lookup(sid)
	if err != nil {
		return err
	}
	log := s.logger.With(logger.String("sid", sid))

	sess, err := readSession(paths)
	if err != nil {
		s.failExtraction(paths, err, log)
		return err
	}
	s.setState(paths, models.StateExtracting, log)

	pdfPath := paths.Upload(sess.Filename)
	log.Info("Extraction started", logger.String("pdf", pdfPath))

	records, err := s.extractor.Run(ctx, sid, pdfPath)
	if err != nil {
		s.failExtraction(paths, err, log)
		return err
	}

	_ = s.tracker.WriteProgress(paths.ImageProgress, 100)
	_ = s.tracker.WriteStatus(paths.ImageStatus, StatusDone)
	s.setState(paths, models.StateExtracted, log)

	log.Info("Extraction done", logger.Int("images", len(records)))
	return nil
}

func (s *PipelineService) failExtraction(paths workspace.Paths, cause error, log logger.Logger) {
	log.Error("Extraction failed", logger.Error(cause))
	s.writeError(paths, cause, log)
	_ = s.tracker.WriteProgress(paths.ImageProgress, -1)
	_ = s.tracker.WriteStatus(paths.ImageStatus, StatusError)
	s.setState(paths, models.StateFailed, log)
}

// HandleAltText runs the alt-text stage and assembles its artifacts.
func (s *PipelineService) HandleAltText(ctx context.Context, sid string, images []string, lang string) error {
	paths, err := s.sessions.Lookup(sid)
	if err != nil {
		return err
	}
	log := s.logger.With(logger.String("sid", sid), logger.String("lang", lang))
	lang, err = parseLang(lang)
	if err != nil {
		s.failAltText(paths, err, log)
		return err
	}
	out, err := paths.Artifacts(sid, lang)
	if err != nil {
		s.failAltText(paths, err, log)
		return err
	}

	if err := os.MkdirAll(paths.Output, 0o755); err != nil {
		s.failAltText(paths, err, log)
		return err
	}
	s.setState(paths, models.StateGenerating, log)

	start := s.now()
	entries, genErr := s.generator.Generate(ctx, sid, images, lang)
	if genErr != nil && entries == nil {
		s.failAltText(paths, genErr, log)
		return genErr
	}

	// a failed run still leaves whatever it produced in the document
	docPath := out.Document
	if err := s.writer.WriteDocument(docPath, s.items(sid, entries)); err != nil {
		log.Error("Failed to write document", logger.Error(err))
		if genErr == nil {
			genErr = fmt.Errorf("failed to write document: %w", err)
		}
	}
	if genErr != nil {
		s.failAltText(paths, genErr, log)
		return genErr
	}

	if err := progress.WriteFileAtomic(out.Ready, []byte("ready")); err != nil {
		s.failAltText(paths, err, log)
		return err
	}
	log.Info("Saved document", logger.String("path", docPath))

	panelPath := paths.CopyPanel(sid)
	if err := artifact.WritePanel(panelPath, artifact.PanelTitle(lang), entries); err != nil {
		log.Error("Failed to write copy panel", logger.Error(err))
	}

	resultsPath := out.Results
	if err := s.writeResults(paths, resultsPath, sid, lang, entries, s.now().Sub(start)); err != nil {
		log.Error("Failed to write results", logger.Error(err))
	}

	if s.storage != nil {
		s.mirror(ctx, sid, log, docPath, panelPath, resultsPath)
	}

	_ = s.tracker.WriteAltProgress(paths.AltProgress, 100, len(entries), len(entries))
	s.setState(paths, models.StateComplete, log)
	log.Info("Alt text run complete", logger.Int("entries", len(entries)))
	return nil
}

func (s *PipelineService) failAltText(paths workspace.Paths, cause error, log logger.Logger) {
	log.Error("Alt text generation failed", logger.Error(cause))
	s.writeError(paths, cause, log)
	cur := s.tracker.ReadAltProgress(paths.AltProgress)
	_ = s.tracker.WriteAltProgress(paths.AltProgress, -1, cur.Done, cur.Total)
	s.setState(paths, models.StateFailed, log)
}

func (s *PipelineService) items(sid string, entries []models.AltTextEntry) []artifact.Item {
	items := make([]artifact.Item, len(entries))
	for i, e := range entries {
		// an unresolvable name leaves ImagePath empty, which renders as not found
		p, _ := s.sessions.Resolve(sid, e.Image)
		items[i] = artifact.Item{Entry: e, ImagePath: p}
	}
	return items
}

func (s *PipelineService) writeResults(paths workspace.Paths, target, sid, lang string, entries []models.AltTextEntry, took time.Duration) error {
	meta := converters.ResultsMetadata{
		SessionID:    sid,
		Language:     lang,
		ProcessingMs: took.Milliseconds(),
	}
	if sess, err := readSession(paths); err == nil {
		meta.FileName = sess.Filename
	}

	doc, err := s.converter.Convert(meta, entries)
	if err != nil {
		return err
	}
	data, err := s.converter.Marshal(doc)
	if err != nil {
		return err
	}
	return progress.WriteFileAtomic(target, data)
}

func (s *PipelineService) mirror(ctx context.Context, sid string, log logger.Logger, files ...string) {
	for _, f := range files {
		key, err := storage.PutFile(ctx, s.storage, sid, f)
		if err != nil {
			log.Warn("Failed to mirror artifact",
				logger.String("file", filepath.Base(f)),
				logger.Error(err),
			)
			continue
		}
		log.Debug("Mirrored artifact", logger.String("key", key))
	}
}

func (s *PipelineService) writeError(paths workspace.Paths, cause error, log logger.Logger) {
	if err := os.WriteFile(paths.Error, []byte(cause.Error()+"\n"), 0o644); err != nil {
		log.Error("Failed to write error marker", logger.Error(err))
	}
}

// ListImages returns the persisted image list. Before it exists the listing is
// empty while extraction runs, and a directory scan afterwards.
func (s *PipelineService) ListImages(sid string) ([]string, error) {
	paths, err := s.sessions.Lookup(sid)
	if err != nil {
		return nil, err
	}

	names, err := paths.ImageList()
	if err == nil {
		return names, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if s.tracker.ReadProgress(paths.ImageProgress) < 100 {
		return []string{}, nil
	}

	entries, err := os.ReadDir(paths.Extracted)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	names = []string{}
	for _, e := range entries {
		if e.Type().IsRegular() && listableExt[strings.ToLower(filepath.Ext(e.Name()))] {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// ImagePath resolves name to an existing extracted image.
func (s *PipelineService) ImagePath(sid, name string) (string, error) {
	p, err := s.sessions.Resolve(sid, name)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(p)
	if err != nil {
		return "", fmt.Errorf("image %q: %w", name, fs.ErrNotExist)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %q", models.ErrInvalidPath, name)
	}
	return p, nil
}

// FlipImage mirrors an extracted image in place.
func (s *PipelineService) FlipImage(sid, name, direction string) error {
	proc, err := vision.NewFlipProcessor(direction)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidRequest, err)
	}
	p, err := s.ImagePath(sid, name)
	if err != nil {
		return err
	}

	img, err := imaging.Open(p)
	if err != nil {
		return fmt.Errorf("failed to open image: %w", err)
	}
	img, err = vision.Apply(img, proc)
	if err != nil {
		return err
	}

	// 同目录临时文件再替换，避免读者看到半张图
	tmp := filepath.Join(filepath.Dir(p), ".flip-"+filepath.Base(p))
	if err := imaging.Save(img, tmp); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to save image: %w", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace image: %w", err)
	}

	s.logger.Info("Image flipped",
		logger.String("sid", sid),
		logger.String("image", name),
		logger.String("direction", direction),
	)
	return nil
}

// Artifact returns the path of a finished artifact, waiting a bounded time
// for a run that is still writing it.
func (s *PipelineService) Artifact(ctx context.Context, sid, lang string, kind ArtifactKind) (string, error) {
	paths, err := s.sessions.Lookup(sid)
	if err != nil {
		return "", err
	}
	lang, err = parseLang(lang)
	if err != nil {
		return "", err
	}
	out, err := paths.Artifacts(sid, lang)
	if err != nil {
		return "", err
	}

	var target string
	polls := s.config.ArtifactPolls
	switch kind {
	case ArtifactDocument:
		target = out.Document
	case ArtifactResults:
		target = out.Results
	case ArtifactPanel:
		target = paths.CopyPanel(sid)
		polls = 1
	default:
		return "", fmt.Errorf("%w: unknown artifact %q", models.ErrInvalidRequest, kind)
	}

	ready := func() bool {
		if !exists(target) {
			return false
		}
		return kind == ArtifactPanel || exists(out.Ready)
	}

	for i := 0; i < polls; i++ {
		if ready() {
			return target, nil
		}
		if i == polls-1 {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.config.ArtifactInterval):
		}
	}
	return "", fmt.Errorf("%w: %s %s", models.ErrArtifactNotReady, kind, filepath.Base(target))
}

func (s *PipelineService) JobStatus(ctx context.Context, taskID string) (*queue.TaskStatus, error) {
	status, err := s.queue.GetTaskStatus(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to get task status: %w", err)
	}
	return status, nil
}

// Remove deletes a session workspace. Mirrored objects age out through Reap.
func (s *PipelineService) Remove(ctx context.Context, sid string) error {
	paths, err := s.sessions.Lookup(sid)
	if err != nil {
		return err
	}
	s.forget(paths)
	if err := s.sessions.Remove(sid); err != nil {
		return err
	}
	s.logger.Info("Session removed", logger.String("sid", sid))
	return nil
}

// Reap removes sessions idle for longer than the configured TTL.
func (s *PipelineService) Reap(ctx context.Context) ([]string, error) {
	removed, err := s.sessions.Reap(s.config.SessionTTL, s.now())
	for _, sid := range removed {
		s.forget(s.sessions.Paths(sid))
	}
	if err != nil {
		return removed, err
	}

	if s.storage != nil {
		if err := s.storage.CleanupBefore(ctx, s.now().Add(-s.config.SessionTTL)); err != nil {
			s.logger.Warn("Failed to clean up mirrored artifacts", logger.Error(err))
		}
	}

	s.logger.Info("Completed sessions cleanup",
		logger.Int("removed", len(removed)),
		logger.Duration("ttl", s.config.SessionTTL),
	)
	return removed, nil
}

func (s *PipelineService) forget(paths workspace.Paths) {
	s.tracker.Reset(paths.ImageProgress)
	s.tracker.Reset(paths.AltProgress)
}

func (s *PipelineService) setState(paths workspace.Paths, state models.SessionState, log logger.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := readSession(paths)
	if err != nil {
		log.Warn("Failed to read session", logger.Error(err))
		return
	}
	sess.State = state
	sess.UpdatedAt = s.now()
	if err := writeSession(paths, sess); err != nil {
		log.Warn("Failed to update session state", logger.Error(err))
	}
}

func readSession(paths workspace.Paths) (*models.Session, error) {
	data, err := os.ReadFile(paths.Session)
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	var sess models.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &sess, nil
}

func writeSession(paths workspace.Paths, sess *models.Session) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	return progress.WriteFileAtomic(paths.Session, data)
}

// parseLang lower-cases lang, defaults it to English and rejects codes that
// cannot appear in an artifact name.
func parseLang(lang string) (string, error) {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" {
		return defaultLang, nil
	}
	if err := workspace.CheckLang(lang); err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrInvalidRequest, err)
	}
	return lang, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// removeStale drops a marker left by a previous run. Missing is fine.
func removeStale(path string) {
	_ = os.Remove(path)
}
