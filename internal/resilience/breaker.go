// Package resilience stops calling a remote engine once it looks down, so a
// dead backend costs one fast error per token instead of one timeout.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MimeLyc/livesub/pkg/log"
)

// ErrSuspended is returned while the engine is considered down.
var ErrSuspended = errors.New("engine suspended")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type Config struct {
	// Name labels log entries.
	Name string
	// MaxFailures consecutive backend failures suspend the engine. Default: 5.
	MaxFailures int
	// Cooldown is how long the engine stays suspended before one trial call
	// is let through. Default: 30s.
	Cooldown time.Duration
	// Trips reports whether err says the backend is down. Errors it rejects
	// neither count as failures nor as proof of recovery. Default: every
	// error except context.Canceled.
	Trips func(error) bool
	// OnChange is called with the breaker lock held on every transition.
	OnChange func(from, to State)
}

// Breaker tracks consecutive backend failures. Safe for concurrent use.
type Breaker struct {
	cfg Config
	now func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	openUntil time.Time
	trial     bool
	rejected  uint64
}

func NewBreaker(cfg Config) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Trips == nil {
		cfg.Trips = func(err error) bool { return !errors.Is(err, context.Canceled) }
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Allow reports whether a call may go ahead. On success the caller reports
// the call's outcome through done. Only the first call to done counts.
func (b *Breaker) Allow() (done func(error), err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Before(b.openUntil) {
			b.rejected++
			return nil, ErrSuspended
		}
		b.setState(StateHalfOpen)
	}
	if b.state == StateHalfOpen {
		if b.trial {
			b.rejected++
			return nil, ErrSuspended
		}
		b.trial = true
		return b.outcome(true), nil
	}
	return b.outcome(false), nil
}

// Do runs fn if the breaker allows it and records the result.
func (b *Breaker) Do(fn func() error) error {
	done, err := b.Allow()
	if err != nil {
		return err
	}
	err = fn()
	done(err)
	return err
}

func (b *Breaker) outcome(trial bool) func(error) {
	var once sync.Once
	return func(err error) {
		once.Do(func() { b.record(trial, err) })
	}
}

func (b *Breaker) record(trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if trial {
		b.trial = false
	}

	switch {
	case err != nil && !b.cfg.Trips(err):
		return
	case err == nil:
		b.failures = 0
		if trial {
			b.setState(StateClosed)
			log.Info("%s recovered, resuming calls", b.name())
		}
	case trial:
		b.suspend()
		log.Warn("%s still failing, suspended for another %s: %v", b.name(), b.cfg.Cooldown, err)
	default:
		b.failures++
		if b.state == StateClosed && b.failures >= b.cfg.MaxFailures {
			log.Warn("%s failed %d times in a row, suspended for %s: %v", b.name(), b.failures, b.cfg.Cooldown, err)
			b.suspend()
		}
	}
}

func (b *Breaker) suspend() {
	b.failures = 0
	b.openUntil = b.now().Add(b.cfg.Cooldown)
	b.setState(StateOpen)
}

func (b *Breaker) setState(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.cfg.OnChange != nil {
		b.cfg.OnChange(from, to)
	}
}

func (b *Breaker) name() string {
	if b.cfg.Name == "" {
		return "engine"
	}
	return b.cfg.Name
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Rejected counts calls refused while suspended.
func (b *Breaker) Rejected() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rejected
}
