package progress

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/feichai0017/pdf-alttext/pkg/logger"
)

// DefaultPollInterval bounds how long a watcher sleeps when no write wakes it.
const DefaultPollInterval = 250 * time.Millisecond

// Alt is the alt-text progress triple.
type Alt struct {
	Percent int
	Done    int
	Total   int
}

func (a Alt) String() string {
	return fmt.Sprintf("%d|%d|%d", a.Percent, a.Done, a.Total)
}

// Terminal reports whether no further updates are expected.
func (a Alt) Terminal() bool {
	return a.Percent >= 100 || a.Percent < 0
}

// ParseAlt reads "percent|done|total". A bare percent is accepted.
func ParseAlt(s string) (Alt, error) {
	parts := strings.Split(strings.TrimSpace(s), "|")
	var a Alt
	var err error
	if a.Percent, err = strconv.Atoi(parts[0]); err != nil {
		return Alt{}, fmt.Errorf("invalid alt progress %q: %w", s, err)
	}
	if len(parts) == 3 {
		if a.Done, err = strconv.Atoi(parts[1]); err != nil {
			return Alt{}, fmt.Errorf("invalid alt progress %q: %w", s, err)
		}
		if a.Total, err = strconv.Atoi(parts[2]); err != nil {
			return Alt{}, fmt.Errorf("invalid alt progress %q: %w", s, err)
		}
	}
	return a, nil
}

// Tracker keeps progress and status per key (the durable file path) in memory
// and mirrors them to disk. Writers are serialised; readers only take the cache
// read lock.
type Tracker struct {
	mu sync.Mutex

	cacheMu  sync.RWMutex
	progress map[string]int
	alt      map[string]Alt
	status   map[string]string
	failed   map[string]bool
	written  map[string]int
	changed  chan struct{}

	poll time.Duration
	log  logger.Logger
}

type Option func(*Tracker)

func WithPollInterval(d time.Duration) Option {
	return func(t *Tracker) {
		t.poll = d
	}
}

func WithLogger(l logger.Logger) Option {
	return func(t *Tracker) {
		t.log = l
	}
}

func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		progress: make(map[string]int),
		alt:      make(map[string]Alt),
		status:   make(map[string]string),
		failed:   make(map[string]bool),
		written:  make(map[string]int),
		changed:  make(chan struct{}),
		poll:     DefaultPollInterval,
		log:      logger.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Reset forgets cached state for key, including a recorded failure.
func (t *Tracker) Reset(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cacheMu.Lock()
	delete(t.progress, key)
	delete(t.alt, key)
	delete(t.failed, key)
	delete(t.written, key)
	t.cacheMu.Unlock()
}

// WriteProgress records percent for key. Values lower than the current one are
// dropped, and after a negative value nothing but another negative is accepted
// until Reset. Disk writes happen on multiples of five and on terminal values.
func (t *Tracker) WriteProgress(key string, percent int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cacheMu.Lock()
	cur, seen := t.progress[key]
	if t.failed[key] && percent >= 0 || seen && percent >= 0 && percent < cur {
		t.cacheMu.Unlock()
		return nil
	}
	t.progress[key] = percent
	if percent < 0 {
		t.failed[key] = true
	}
	t.cacheMu.Unlock()
	defer t.broadcast()

	if percent%5 == 0 || percent >= 100 || percent < 0 {
		return t.flush(key, strconv.Itoa(percent))
	}
	return nil
}

func (t *Tracker) ReadProgress(key string) int {
	t.cacheMu.RLock()
	v, ok := t.progress[key]
	t.cacheMu.RUnlock()
	if ok {
		return v
	}

	data, err := os.ReadFile(key)
	if err != nil {
		return 0
	}
	v, err = strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return v
}

// WriteAltProgress records the alt-text triple. The file is rewritten only when
// the percent changes or the value is terminal.
func (t *Tracker) WriteAltProgress(key string, percent, done, total int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := Alt{Percent: percent, Done: done, Total: total}

	t.cacheMu.Lock()
	cur, seen := t.alt[key]
	if t.failed[key] && percent >= 0 || seen && percent >= 0 && (percent < cur.Percent || done < cur.Done) {
		t.cacheMu.Unlock()
		return nil
	}
	t.alt[key] = next
	if percent < 0 {
		t.failed[key] = true
	}
	last, flushed := t.written[key]
	t.cacheMu.Unlock()
	defer t.broadcast()

	if flushed && last == percent && !next.Terminal() {
		return nil
	}
	if err := t.flush(key, next.String()); err != nil {
		return err
	}
	t.cacheMu.Lock()
	t.written[key] = percent
	t.cacheMu.Unlock()
	return nil
}

func (t *Tracker) ReadAltProgress(key string) Alt {
	t.cacheMu.RLock()
	v, ok := t.alt[key]
	t.cacheMu.RUnlock()
	if ok {
		return v
	}

	data, err := os.ReadFile(key)
	if err != nil {
		return Alt{}
	}
	a, err := ParseAlt(string(data))
	if err != nil {
		return Alt{}
	}
	return a
}

// WriteStatus records free text. Last write wins.
func (t *Tracker) WriteStatus(key, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cacheMu.Lock()
	t.status[key] = text
	t.cacheMu.Unlock()
	defer t.broadcast()

	return t.flush(key, text)
}

func (t *Tracker) ReadStatus(key string) string {
	t.cacheMu.RLock()
	v, ok := t.status[key]
	t.cacheMu.RUnlock()
	if ok {
		return v
	}

	data, err := os.ReadFile(key)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Changed returns a channel closed on the next write to any key.
func (t *Tracker) Changed() <-chan struct{} {
	t.cacheMu.RLock()
	defer t.cacheMu.RUnlock()
	return t.changed
}

// PollInterval is the fallback wake-up period for watchers.
func (t *Tracker) PollInterval() time.Duration {
	return t.poll
}

// Watch streams distinct progress values for key until a terminal value has been
// sent or ctx is done.
func (t *Tracker) Watch(ctx context.Context, key string) <-chan int {
	out := make(chan int)
	go func() {
		defer close(out)
		last, sent := 0, false
		for {
			changed := t.Changed()
			cur := t.ReadProgress(key)
			if !sent || cur != last {
				select {
				case out <- cur:
				case <-ctx.Done():
					return
				}
				last, sent = cur, true
			}
			if cur >= 100 || cur < 0 {
				return
			}
			if !t.wait(ctx, changed) {
				return
			}
		}
	}()
	return out
}

// WatchAlt is Watch for the alt-text triple.
func (t *Tracker) WatchAlt(ctx context.Context, key string) <-chan Alt {
	out := make(chan Alt)
	go func() {
		defer close(out)
		var last Alt
		sent := false
		for {
			changed := t.Changed()
			cur := t.ReadAltProgress(key)
			if !sent || cur != last {
				select {
				case out <- cur:
				case <-ctx.Done():
					return
				}
				last, sent = cur, true
			}
			if cur.Terminal() {
				return
			}
			if !t.wait(ctx, changed) {
				return
			}
		}
	}()
	return out
}

func (t *Tracker) wait(ctx context.Context, changed <-chan struct{}) bool {
	timer := time.NewTimer(t.poll)
	defer timer.Stop()
	select {
	case <-changed:
	case <-timer.C:
	case <-ctx.Done():
		return false
	}
	return true
}

func (t *Tracker) broadcast() {
	t.cacheMu.Lock()
	close(t.changed)
	t.changed = make(chan struct{})
	t.cacheMu.Unlock()
}

// flush writes data to key through a temp file and rename so readers never see
// a partial value.
func (t *Tracker) flush(key, data string) error {
	if err := WriteFileAtomic(key, []byte(data)); err != nil {
		t.log.Error("Failed to persist progress",
			logger.String("key", key),
			logger.Error(err),
		)
		return err
	}
	return nil
}

// WriteFileAtomic replaces path with data via a temp file in the same directory.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
