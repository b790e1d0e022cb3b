package pipeline

import (
	"context"
	"io"

	"github.com/feichai0017/pdf-alttext/internal/models"
	"github.com/feichai0017/pdf-alttext/internal/progress"
	"github.com/feichai0017/pdf-alttext/pkg/queue"
)

// ArtifactKind selects one of the files produced by an alt-text run.
type ArtifactKind string

const (
	ArtifactDocument ArtifactKind = "document"
	ArtifactResults  ArtifactKind = "results"
	ArtifactPanel    ArtifactKind = "panel"
)

// ProgressEvent is one observation of the extraction stage.
type ProgressEvent struct {
	Percent int
	Status  string
	// Error carries the failure detail once Percent is negative.
	Error string
}

// Service runs the two pipeline stages for isolated sessions.
type Service interface {
	CreateSession(ctx context.Context, filename string, size int64, r io.Reader) (*models.Session, error)
	ScheduleExtraction(ctx context.Context, sid string) (string, error)
	ScheduleAltText(ctx context.Context, sid string, images []string, lang string) (string, error)
	HandleExtraction(ctx context.Context, sid string) error
	HandleAltText(ctx context.Context, sid string, images []string, lang string) error

	ExtractionEvents(ctx context.Context, sid string) (<-chan ProgressEvent, error)
	AltTextEvents(ctx context.Context, sid string) (<-chan progress.Alt, error)

	ListImages(sid string) ([]string, error)
	ImagePath(sid, name string) (string, error)
	FlipImage(sid, name, direction string) error
	Artifact(ctx context.Context, sid, lang string, kind ArtifactKind) (string, error)
	JobStatus(ctx context.Context, taskID string) (*queue.TaskStatus, error)

	Remove(ctx context.Context, sid string) error
	Reap(ctx context.Context) ([]string, error)
}
