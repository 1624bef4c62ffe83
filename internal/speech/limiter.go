package speech

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// The endpoint allows roughly 50 requests per minute on the standard tier and
// 3 per minute on HD. Spacing requests at least this far apart keeps a long
// chunk run under the allowance without ever tripping 429s.
const (
	DefaultStandardInterval = time.Minute / 50
	DefaultHDInterval       = time.Minute / 3
)

// Limiter gates outbound synthesis requests. Wait blocks until the next
// request may be sent or the context is cancelled.
type Limiter interface {
	Wait(ctx context.Context, hd bool) error
}

// intervalLimiter spaces requests by a tier-dependent minimum interval.
// A single underlying limiter is shared across tiers so a burst of standard
// requests still counts against a following HD request.
type intervalLimiter struct {
	mu       sync.Mutex
	lim      *rate.Limiter
	standard rate.Limit
	hd       rate.Limit
}

// NewIntervalLimiter builds the default request gate. Non-positive intervals
// fall back to the tier defaults.
func NewIntervalLimiter(standard, hd time.Duration) Limiter {
	if standard <= 0 {
		standard = DefaultStandardInterval
	}
	if hd <= 0 {
		hd = DefaultHDInterval
	}
	return &intervalLimiter{
		lim:      rate.NewLimiter(rate.Every(standard), 1),
		standard: rate.Every(standard),
		hd:       rate.Every(hd),
	}
}

func (l *intervalLimiter) Wait(ctx context.Context, hd bool) error {
	l.mu.Lock()
	if hd {
		l.lim.SetLimit(l.hd)
	} else {
		l.lim.SetLimit(l.standard)
	}
	l.mu.Unlock()
	return l.lim.Wait(ctx)
}
