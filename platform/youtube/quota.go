package youtube

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DefaultDailyQuota is the default Data API allowance per project and day.
const DefaultDailyQuota = 10000

// Unit costs of the calls the uploader makes.
const (
	CostList        = 1
	CostWrite       = 50
	CostVideoInsert = 1600
)

// ErrQuotaExhausted is returned before a call that the remaining daily
// quota cannot cover, and after YouTube reported the quota exceeded.
var ErrQuotaExhausted = errors.New("youtube: daily quota exhausted")

// Quota is a local estimate of the remaining daily units. YouTube does not
// expose the live figure; the estimate resets 24h after it started.
type Quota struct {
	limit  int
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	remaining int
	resetAt   time.Time
	exhausted bool
}

func NewQuota(limit int, logger *slog.Logger) *Quota {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Quota{limit: limit, logger: logger, now: time.Now}
	q.remaining = limit
	q.resetAt = q.now().Add(24 * time.Hour)
	return q
}

func (q *Quota) rollover() {
	if now := q.now(); !now.Before(q.resetAt) {
		q.remaining = q.limit
		q.exhausted = false
		q.resetAt = now.Add(24 * time.Hour)
		q.logger.Info("youtube quota reset")
	}
}

// Reserve deducts units, or fails without deducting when they exceed the
// remaining estimate.
func (q *Quota) Reserve(units int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rollover()
	if q.exhausted || units > q.remaining {
		if !q.exhausted {
			q.logger.Warn("youtube quota exhausted", "remaining", q.remaining, "needed", units)
			q.exhausted = true
		}
		return ErrQuotaExhausted
	}
	q.remaining -= units
	q.logger.Debug("youtube quota usage", "units", units, "remaining", q.remaining)
	return nil
}

// MarkExhausted records that YouTube rejected a call for quota.
func (q *Quota) MarkExhausted() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.exhausted {
		q.logger.Warn("youtube reported quota exceeded", "estimated_remaining", q.remaining)
	}
	q.exhausted = true
	q.remaining = 0
}

func (q *Quota) Remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rollover()
	return q.remaining
}

func (q *Quota) Exhausted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rollover()
	return q.exhausted
}
