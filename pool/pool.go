package pool

import (
	"fmt"
	"sync"
	"time"

	"github.com/nijaru/yt-script/errors"
	"github.com/sirupsen/logrus"
)

// Policy controls how long a failing entry is kept out of rotation.
type Policy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Cooldown returns min(BaseDelay * 2^failures, MaxDelay). An entry without
// failures never cools down.
func (p Policy) Cooldown(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	d := p.BaseDelay
	for i := 0; i < failures; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}

// Health is the mutable bookkeeping kept for every pooled entry.
type Health struct {
	Active         bool
	Failures       int
	LastFailure    time.Time
	LastSuccess    time.Time
	LastUsed       time.Time
	Requests       int
	Successes      int
	DisabledReason errors.Kind
	Permanent      bool
}

// SuccessRate is successes/requests as a percentage.
func (h Health) SuccessRate() float64 {
	if h.Requests == 0 {
		return 0
	}
	return float64(h.Successes) / float64(h.Requests) * 100
}

type Entry[T any] struct {
	ID    string
	Value T
	Health
}

// Lease is a copy of an entry handed to a caller by Next.
type Lease[T any] struct {
	ID    string
	Value T
}

// Verdict is the outcome of classifying a failure for a pool entry.
type Verdict struct {
	Reason    errors.Kind
	Disable   bool
	Permanent bool
}

// Classifier maps an error reported through MarkFailed to a Verdict.
type Classifier func(err error) Verdict

type EntryStats struct {
	ID                string     `json:"id"`
	Label             string     `json:"label"`
	Active            bool       `json:"isActive"`
	Failures          int        `json:"failureCount"`
	Requests          int        `json:"totalRequests"`
	Successes         int        `json:"successCount"`
	SuccessRate       string     `json:"successRate"`
	InCooldown        bool       `json:"inCooldown"`
	CooldownRemaining string     `json:"cooldownRemaining,omitempty"`
	LastUsed          *time.Time `json:"lastUsed,omitempty"`
	DisabledReason    string     `json:"disabledReason,omitempty"`
	Permanent         bool       `json:"permanentlyDisabled,omitempty"`
}

type Stats struct {
	Total        int          `json:"total"`
	Active       int          `json:"active"`
	Available    int          `json:"available"`
	CurrentIndex int          `json:"currentIndex"`
	Entries      []EntryStats `json:"entries"`
}

// Pool round-robins over interchangeable entries and keeps failing entries
// out of rotation for an exponentially growing cooldown. It is safe for
// concurrent use.
type Pool[T any] struct {
	mu       sync.Mutex
	name     string
	prefix   string
	seq      int
	entries  []*Entry[T]
	cursor   int
	policy   Policy
	classify Classifier
	label    func(T) string
	now      func() time.Time
	logger   *logrus.Entry
}

func New[T any](name, prefix string, policy Policy, classify Classifier, label func(T) string) *Pool[T] {
	if classify == nil {
		classify = func(error) Verdict { return Verdict{Reason: errors.KindUnknown} }
	}
	if label == nil {
		label = func(T) string { return "" }
	}
	return &Pool[T]{
		name:     name,
		prefix:   prefix,
		policy:   policy,
		classify: classify,
		label:    label,
		now:      time.Now,
		logger:   logrus.WithField("pool", name),
	}
}

// Add appends value and returns its generated identifier.
func (p *Pool[T]) Add(value T) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.seq++
	id := fmt.Sprintf("%s_%d", p.prefix, p.seq)
	p.entries = append(p.entries, &Entry[T]{
		ID:     id,
		Value:  value,
		Health: Health{Active: true},
	})
	p.logger.WithField("id", id).Info("Entry added")
	return id
}

// Remove deletes the entry with the given identifier.
func (p *Pool[T]) Remove(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, e := range p.entries {
		if e.ID == id {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			if p.cursor > len(p.entries) {
				p.cursor = 0
			}
			p.logger.WithField("id", id).Info("Entry removed")
			return true
		}
	}
	return false
}

// Clear drops every entry.
func (p *Pool[T]) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = nil
	p.cursor = 0
}

func (p *Pool[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Next returns the next available entry in round-robin order. When every
// entry is cooling down, all cooldowns are cleared and the first active entry
// is returned. It fails only when the pool has no active entries at all.
func (p *Pool[T]) Next() (Lease[T], error) {
	const op = "Pool.Next"

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.entries) == 0 {
		return Lease[T]{}, errors.Configuration(op, fmt.Sprintf("no %s configured", p.name))
	}

	now := p.now()
	available := p.availableLocked(now)
	if len(available) == 0 {
		p.logger.Warn("No entries available, resetting cooldowns")
		p.resetLocked(false)
		available = p.availableLocked(now)
		if len(available) == 0 {
			return Lease[T]{}, errors.Configuration(op, fmt.Sprintf("all %s are disabled", p.name))
		}
		p.cursor = 0
	}

	idx := p.cursor % len(available)
	p.cursor = idx + 1

	e := available[idx]
	e.Requests++
	e.LastUsed = now

	return Lease[T]{ID: e.ID, Value: e.Value}, nil
}

// MarkFailed records a failure for id and classifies err to decide whether
// the entry is disabled. The rotation cursor always advances.
func (p *Pool[T]) MarkFailed(id string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.findLocked(id)
	if e == nil {
		return
	}

	e.Failures++
	e.LastFailure = p.now()
	p.cursor++

	v := p.classify(err)
	if v.Disable {
		e.Active = false
		e.DisabledReason = v.Reason
		e.Permanent = e.Permanent || v.Permanent
	}

	p.logger.WithFields(logrus.Fields{
		"id":        id,
		"failures":  e.Failures,
		"reason":    v.Reason,
		"disabled":  v.Disable,
		"permanent": v.Permanent,
		"cooldown":  p.policy.Cooldown(e.Failures),
	}).WithError(err).Warn("Entry marked failed")
}

// MarkSuccess records a success. Failures decrease by one per success so a
// long failure streak is forgiven gradually.
func (p *Pool[T]) MarkSuccess(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.findLocked(id)
	if e == nil {
		return
	}

	e.Successes++
	e.LastSuccess = p.now()
	if e.Failures > 0 {
		e.Failures--
	}
	if e.Failures == 0 {
		e.LastFailure = time.Time{}
	}
}

func (p *Pool[T]) IsAvailable(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.findLocked(id)
	if e == nil {
		return false
	}
	return p.isAvailableLocked(e, p.now())
}

// ResetCooldowns clears failure state pool-wide and re-enables entries that
// were disabled for a recoverable reason. Permanently disabled entries stay
// disabled.
func (p *Pool[T]) ResetCooldowns() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked(true)
	p.logger.Info("Cooldowns reset")
}

// Get returns a copy of the entry with the given identifier.
func (p *Pool[T]) Get(id string) (Entry[T], bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.findLocked(id)
	if e == nil {
		return Entry[T]{}, false
	}
	return *e, true
}

// Entries returns copies of every entry in pool order.
func (p *Pool[T]) Entries() []Entry[T] {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Entry[T], len(p.entries))
	for i, e := range p.entries {
		out[i] = *e
	}
	return out
}

// Update mutates the value stored for id under the pool lock.
func (p *Pool[T]) Update(id string, fn func(*T)) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.findLocked(id)
	if e == nil {
		return false
	}
	fn(&e.Value)
	return true
}

func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	stats := Stats{
		Total:        len(p.entries),
		CurrentIndex: p.cursor,
		Entries:      make([]EntryStats, 0, len(p.entries)),
	}

	for _, e := range p.entries {
		if e.Active {
			stats.Active++
		}
		available := p.isAvailableLocked(e, now)
		if available {
			stats.Available++
		}

		es := EntryStats{
			ID:             e.ID,
			Label:          p.label(e.Value),
			Active:         e.Active,
			Failures:       e.Failures,
			Requests:       e.Requests,
			Successes:      e.Successes,
			SuccessRate:    fmt.Sprintf("%.1f%%", e.SuccessRate()),
			InCooldown:     e.Active && p.inCooldownLocked(e, now),
			DisabledReason: string(e.DisabledReason),
			Permanent:      e.Permanent,
		}
		if es.InCooldown {
			remaining := p.policy.Cooldown(e.Failures) - now.Sub(e.LastFailure)
			es.CooldownRemaining = remaining.Round(time.Second).String()
		}
		if !e.LastUsed.IsZero() {
			lastUsed := e.LastUsed
			es.LastUsed = &lastUsed
		}
		stats.Entries = append(stats.Entries, es)
	}

	return stats
}

func (p *Pool[T]) findLocked(id string) *Entry[T] {
	for _, e := range p.entries {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func (p *Pool[T]) inCooldownLocked(e *Entry[T], now time.Time) bool {
	if e.Failures == 0 || e.LastFailure.IsZero() {
		return false
	}
	return now.Sub(e.LastFailure) < p.policy.Cooldown(e.Failures)
}

func (p *Pool[T]) isAvailableLocked(e *Entry[T], now time.Time) bool {
	return e.Active && !p.inCooldownLocked(e, now)
}

func (p *Pool[T]) availableLocked(now time.Time) []*Entry[T] {
	out := make([]*Entry[T], 0, len(p.entries))
	for _, e := range p.entries {
		if p.isAvailableLocked(e, now) {
			out = append(out, e)
		}
	}
	return out
}

func (p *Pool[T]) resetLocked(reactivate bool) {
	for _, e := range p.entries {
		e.Failures = 0
		e.LastFailure = time.Time{}
		if reactivate && !e.Active && !e.Permanent {
			e.Active = true
			e.DisabledReason = ""
		}
	}
}
