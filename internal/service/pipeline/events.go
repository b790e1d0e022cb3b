package pipeline

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/feichai0017/pdf-alttext/internal/progress"
)

const unknownError = "(unknown)"

// ExtractionEvents streams the extraction progress of sid. An event is sent
// whenever the percent or the status text changes; the channel closes after a
// terminal percent or when ctx is done.
func (s *PipelineService) ExtractionEvents(ctx context.Context, sid string) (<-chan ProgressEvent, error) {
	paths, err := s.sessions.Lookup(sid)
	if err != nil {
		return nil, err
	}

	out := make(chan ProgressEvent)
	go func() {
		defer close(out)
		var last ProgressEvent
		sent := false
		for {
			changed := s.tracker.Changed()
			cur := ProgressEvent{
				Percent: s.tracker.ReadProgress(paths.ImageProgress),
				Status:  s.tracker.ReadStatus(paths.ImageStatus),
			}
			if cur.Percent < 0 {
				cur.Error = readError(paths.Error)
			}
			if !sent || cur != last {
				select {
				case out <- cur:
				case <-ctx.Done():
					return
				}
				last, sent = cur, true
			}
			if cur.Percent >= 100 || cur.Percent < 0 {
				return
			}
			if !wait(ctx, changed, s.tracker) {
				return
			}
		}
	}()
	return out, nil
}

// AltTextEvents streams the alt-text progress triple of sid.
func (s *PipelineService) AltTextEvents(ctx context.Context, sid string) (<-chan progress.Alt, error) {
	paths, err := s.sessions.Lookup(sid)
	if err != nil {
		return nil, err
	}
	return s.tracker.WatchAlt(ctx, paths.AltProgress), nil
}

func wait(ctx context.Context, changed <-chan struct{}, t *progress.Tracker) bool {
	timer := time.NewTimer(t.PollInterval())
	defer timer.Stop()
	select {
	case <-changed:
	case <-timer.C:
	case <-ctx.Done():
		return false
	}
	return true
}

func readError(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return unknownError
	}
	msg := strings.ReplaceAll(strings.TrimSpace(string(data)), "\n", " ")
	if msg == "" {
		return unknownError
	}
	return msg
}
