package alttext

import (
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/feichai0017/pdf-alttext/internal/agent/vision"
	"github.com/feichai0017/pdf-alttext/pkg/logger"
)

// clampedBackOff waits mult*2^n seconds for the n-th retry, clamped to [min, max].
type clampedBackOff struct {
	min, max time.Duration
	mult     float64
	n        int
}

func newClampedBackOff(min, max time.Duration, mult float64) *clampedBackOff {
	return &clampedBackOff{min: min, max: max, mult: mult}
}

func (b *clampedBackOff) NextBackOff() time.Duration {
	b.n++
	d := time.Duration(b.mult * math.Pow(2, float64(b.n)) * float64(time.Second))
	if d > b.max {
		d = b.max
	}
	if d < b.min {
		d = b.min
	}
	return d
}

func (b *clampedBackOff) Reset() {
	b.n = 0
}

// callWithRetry runs one model up to cfg.Attempts times. Permanent errors stop
// the retries for that model.
func (g *Generator) callWithRetry(ctx context.Context, req vision.Request, log logger.Logger) (string, error) {
	retries := g.cfg.Attempts - 1
	if retries < 0 {
		retries = 0
	}
	b := backoff.WithContext(
		backoff.WithMaxRetries(newClampedBackOff(g.cfg.BackoffMin, g.cfg.BackoffMax, g.cfg.Multiplier), uint64(retries)),
		ctx,
	)

	var text string
	op := func() error {
		out, err := g.describer.Describe(ctx, req)
		if err != nil {
			if vision.IsPermanent(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		text = out
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("Vision call failed, retrying",
			logger.String("model", req.Model),
			logger.Duration("wait", wait),
			logger.Error(err),
		)
	}

	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return "", err
	}
	return text, nil
}
