package alttext

import (
	"context"
	"errors"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/pdf-alttext/internal/agent/vision"
	"github.com/feichai0017/pdf-alttext/internal/models"
	"github.com/feichai0017/pdf-alttext/internal/progress"
	"github.com/feichai0017/pdf-alttext/internal/workspace"
	"github.com/feichai0017/pdf-alttext/pkg/logger"
)

// fakeDescriber answers from fn and counts calls per model.
type fakeDescriber struct {
	fn func(req vision.Request) (string, error)

	mu       sync.Mutex
	calls    map[string]int
	prompts  []string
	inflight int32
	peak     int32
}

func (f *fakeDescriber) Describe(ctx context.Context, req vision.Request) (string, error) {
	n := atomic.AddInt32(&f.inflight, 1)
	defer atomic.AddInt32(&f.inflight, -1)
	for {
		p := atomic.LoadInt32(&f.peak)
		if n <= p || atomic.CompareAndSwapInt32(&f.peak, p, n) {
			break
		}
	}

	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[req.Model]++
	f.prompts = append(f.prompts, req.Prompt)
	f.mu.Unlock()

	return f.fn(req)
}

func (f *fakeDescriber) count(model string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[model]
}

type genFixture struct {
	gen     *Generator
	tracker *progress.Tracker
	paths   workspace.Paths
	log     *logger.TestLogger
}

func testConfig() Config {
	return Config{
		Workers:      3,
		MaxDimension: 1024,
		MaxTokens:    150,
		Attempts:     3,
		BackoffMin:   time.Millisecond,
		BackoffMax:   2 * time.Millisecond,
		Multiplier:   1,
	}
}

func newGenFixture(t *testing.T, d vision.Describer, images int) *genFixture {
	t.Helper()
	m, err := workspace.NewManager(t.TempDir())
	require.NoError(t, err)
	paths, err := m.Create("s1")
	require.NoError(t, err)

	pages := make([]string, 0, images)
	for i := 1; i <= images; i++ {
		name := imageName(i)
		require.NoError(t, imaging.Save(imaging.New(40, 20, color.White), filepath.Join(paths.Extracted, name)))
		pages = append(pages, `"`+name+`":`+string(rune('0'+i%10)))
	}
	require.NoError(t, os.WriteFile(paths.PageNumbers, []byte("{"+strings.Join(pages, ",")+"}"), 0o644))

	tr := progress.NewTracker()
	log := logger.NewTestLogger()
	return &genFixture{
		gen:     NewGenerator(m, tr, d, []string{"gpt-4o-mini", "gpt-4o"}, testConfig(), log),
		tracker: tr,
		paths:   paths,
		log:     log,
	}
}

func imageName(i int) string {
	return "Extracted_Image_" + string(rune('0'+i)) + ".png"
}

func TestGenerateKeepsInputOrder(t *testing.T) {
	d := &fakeDescriber{fn: func(req vision.Request) (string, error) {
		time.Sleep(time.Duration(len(req.ImageBase64)%7) * time.Millisecond)
		return " alt ", nil
	}}
	f := newGenFixture(t, d, 6)

	images := []string{imageName(5), imageName(2), imageName(6), imageName(1), imageName(4), imageName(3)}
	entries, err := f.gen.Generate(context.Background(), "s1", images, "en")
	require.NoError(t, err)

	require.Len(t, entries, len(images))
	for i, e := range entries {
		assert.Equal(t, images[i], e.Image)
		assert.Equal(t, " alt ", e.AltText)
		assert.Equal(t, "/api/v1/sessions/s1/images/"+images[i], e.Thumb)
	}
	assert.Equal(t, 5, entries[0].Page)
	assert.Equal(t, 2, entries[1].Page)

	assert.LessOrEqual(t, atomic.LoadInt32(&d.peak), int32(3))
	assert.Equal(t, progress.Alt{Percent: 100, Done: 6, Total: 6}, f.tracker.ReadAltProgress(f.paths.AltProgress))
}

func TestGenerateProgressStrictlyIncreases(t *testing.T) {
	var (
		f        *genFixture
		mu       sync.Mutex
		observed []progress.Alt
	)
	d := &fakeDescriber{fn: func(vision.Request) (string, error) {
		mu.Lock()
		observed = append(observed, f.tracker.ReadAltProgress(f.paths.AltProgress))
		mu.Unlock()
		return "ok", nil
	}}
	f = newGenFixture(t, d, 4)
	f.gen.cfg.Workers = 1

	_, err := f.gen.Generate(context.Background(), "s1", []string{imageName(1), imageName(2), imageName(3), imageName(4)}, "en")
	require.NoError(t, err)

	require.Len(t, observed, 4)
	for i, a := range observed {
		assert.Equal(t, i, a.Done)
		assert.Equal(t, 4, a.Total)
		assert.Equal(t, i*100/4, a.Percent)
	}
	assert.Equal(t, "100|4|4", f.tracker.ReadAltProgress(f.paths.AltProgress).String())
}

func TestGenerateEmptyList(t *testing.T) {
	f := newGenFixture(t, &fakeDescriber{}, 0)
	entries, err := f.gen.Generate(context.Background(), "s1", nil, "en")
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, progress.Alt{Percent: 100}, f.tracker.ReadAltProgress(f.paths.AltProgress))
}

func TestGenerateUnknownSession(t *testing.T) {
	f := newGenFixture(t, &fakeDescriber{}, 0)
	_, err := f.gen.Generate(context.Background(), "nope", []string{"a.png"}, "en")
	assert.ErrorIs(t, err, models.ErrInvalidSession)
}

func TestGenerateRetriesThenFallsBackToSecondModel(t *testing.T) {
	d := &fakeDescriber{fn: func(req vision.Request) (string, error) {
		if req.Model == "gpt-4o-mini" {
			return "", errors.New("rate limited")
		}
		return "from the larger model", nil
	}}
	f := newGenFixture(t, d, 1)

	entries, err := f.gen.Generate(context.Background(), "s1", []string{imageName(1)}, "en")
	require.NoError(t, err)
	assert.Equal(t, "from the larger model", entries[0].AltText)
	assert.Equal(t, 3, d.count("gpt-4o-mini"))
	assert.Equal(t, 1, d.count("gpt-4o"))
	assert.True(t, f.log.HasMessage("WARN", "Vision call failed, retrying"))
}

func TestGenerateSucceedsOnThirdAttempt(t *testing.T) {
	var calls int32
	d := &fakeDescriber{fn: func(vision.Request) (string, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return "", errors.New("503 service unavailable")
		}
		return "a bar chart of sales", nil
	}}
	f := newGenFixture(t, d, 1)

	entries, err := f.gen.Generate(context.Background(), "s1", []string{imageName(1)}, "en")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a bar chart of sales", entries[0].AltText)
	assert.Equal(t, 3, d.count("gpt-4o-mini"))
	assert.Zero(t, d.count("gpt-4o"), "the cheap model recovered, no switch")
}

func TestGenerateTransientFailuresEverywhere(t *testing.T) {
	d := &fakeDescriber{fn: func(vision.Request) (string, error) {
		return "", errors.New("upstream timeout")
	}}
	f := newGenFixture(t, d, 2)

	entries, err := f.gen.Generate(context.Background(), "s1", []string{imageName(1), imageName(2)}, "en")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, "[Error: upstream timeout]", e.AltText)
	}
	assert.Equal(t, 6, d.count("gpt-4o-mini"))
	assert.Equal(t, 6, d.count("gpt-4o"))
	assert.Equal(t, progress.Alt{Percent: 100, Done: 2, Total: 2}, f.tracker.ReadAltProgress(f.paths.AltProgress))
}

func TestGeneratePermanentErrorSkipsRetries(t *testing.T) {
	d := &fakeDescriber{fn: func(req vision.Request) (string, error) {
		return "", vision.Permanent(errors.New("invalid api key " + req.Model))
	}}
	f := newGenFixture(t, d, 1)

	entries, err := f.gen.Generate(context.Background(), "s1", []string{imageName(1)}, "en")
	require.NoError(t, err)
	assert.Equal(t, 1, d.count("gpt-4o-mini"))
	assert.Equal(t, 1, d.count("gpt-4o"))
	assert.Equal(t, "[Error: invalid api key gpt-4o-mini]", entries[0].AltText, "first model's error is reported")
}

func TestGeneratePlaceholders(t *testing.T) {
	d := &fakeDescriber{fn: func(vision.Request) (string, error) {
		return "", nil
	}}
	f := newGenFixture(t, d, 1)

	entries, err := f.gen.Generate(context.Background(), "s1", []string{imageName(1), "missing.png", "../escape.png"}, "en")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, PlaceholderEmpty, entries[0].AltText)

	assert.True(t, strings.HasPrefix(entries[1].AltText, "[Error: "), entries[1].AltText)
	assert.Empty(t, entries[1].Thumb)
	assert.Zero(t, entries[1].Page)

	assert.Equal(t, PlaceholderFailed, entries[2].AltText)
}

func TestGenerateRecoversWorkerPanic(t *testing.T) {
	d := &fakeDescriber{fn: func(vision.Request) (string, error) {
		panic("provider bug")
	}}
	f := newGenFixture(t, d, 2)

	entries, err := f.gen.Generate(context.Background(), "s1", []string{imageName(1), imageName(2)}, "en")
	require.NoError(t, err)
	for _, e := range entries {
		assert.Equal(t, PlaceholderFailed, e.AltText)
		assert.Empty(t, e.Thumb)
	}
	assert.Equal(t, progress.Alt{Percent: 100, Done: 2, Total: 2}, f.tracker.ReadAltProgress(f.paths.AltProgress))
	assert.True(t, f.log.HasMessage("ERROR", "Alt text worker panicked"))
}

func TestPrompt(t *testing.T) {
	assert.Equal(t, prompts["en"], Prompt("en"))
	assert.Equal(t, prompts["es"], Prompt("ES"))
	assert.Equal(t, "Generate alt text in fr using the same rules: be concise unless the image is a chart or diagram.", Prompt("fr"))
}

func TestClampedBackOff(t *testing.T) {
	b := newClampedBackOff(4*time.Second, 10*time.Second, 1)
	assert.Equal(t, 4*time.Second, b.NextBackOff())
	assert.Equal(t, 4*time.Second, b.NextBackOff())
	assert.Equal(t, 8*time.Second, b.NextBackOff())
	assert.Equal(t, 10*time.Second, b.NextBackOff())

	b.Reset()
	assert.Equal(t, 4*time.Second, b.NextBackOff())
}

func TestPrefixImageURL(t *testing.T) {
	fn := PrefixImageURL("/api/v1/sessions/")
	assert.Equal(t, "/api/v1/sessions/abc/images/Extracted_Image_1.png", fn("abc", "Extracted_Image_1.png"))
}
