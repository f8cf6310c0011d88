package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("502 bad gateway")

func fail() error { return errDown }
func ok() error   { return nil }

func newTestBreaker(cfg Config) (*Breaker, *time.Time) {
	cfg.Name = "test"
	b := NewBreaker(cfg)
	now := time.Unix(1000, 0)
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreaker_SuspendsAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(Config{MaxFailures: 3, Cooldown: time.Minute})

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Do(fail), errDown)
	}
	assert.Equal(t, StateOpen, b.State())

	called := false
	err := b.Do(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrSuspended)
	assert.False(t, called)
	assert.Equal(t, uint64(1), b.Rejected())
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker(Config{MaxFailures: 2, Cooldown: time.Minute})

	_ = b.Do(fail)
	require.NoError(t, b.Do(ok))
	_ = b.Do(fail)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_CancellationDoesNotCount(t *testing.T) {
	b, _ := newTestBreaker(Config{MaxFailures: 1, Cooldown: time.Minute})

	err := b.Do(func() error { return fmt.Errorf("translate: %w", context.Canceled) })

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_CustomTrips(t *testing.T) {
	errRejected := errors.New("400 token rejected")
	b, now := newTestBreaker(Config{
		MaxFailures: 1,
		Cooldown:    time.Minute,
		Trips:       func(err error) bool { return !errors.Is(err, errRejected) },
	})

	_ = b.Do(func() error { return errRejected })
	assert.Equal(t, StateClosed, b.State())

	_ = b.Do(fail)
	require.Equal(t, StateOpen, b.State())

	// An ignored error during the trial leaves the engine half-open.
	*now = now.Add(2 * time.Minute)
	_ = b.Do(func() error { return errRejected })
	assert.Equal(t, StateHalfOpen, b.State())
	require.NoError(t, b.Do(ok))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_TrialAfterCooldown(t *testing.T) {
	var changes []string
	b, now := newTestBreaker(Config{
		MaxFailures: 1,
		Cooldown:    time.Minute,
		OnChange:    func(from, to State) { changes = append(changes, from.String()+">"+to.String()) },
	})

	_ = b.Do(fail)
	*now = now.Add(30 * time.Second)
	assert.ErrorIs(t, b.Do(ok), ErrSuspended)

	*now = now.Add(time.Minute)
	done, err := b.Allow()
	require.NoError(t, err)
	assert.Equal(t, StateHalfOpen, b.State())

	// Only one trial token at a time.
	_, err = b.Allow()
	assert.ErrorIs(t, err, ErrSuspended)

	done(nil)
	done(errDown)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, []string{"closed>open", "open>half-open", "half-open>closed"}, changes)
}

func TestBreaker_FailedTrialSuspendsAgain(t *testing.T) {
	b, now := newTestBreaker(Config{MaxFailures: 1, Cooldown: time.Minute})

	_ = b.Do(fail)
	*now = now.Add(2 * time.Minute)
	assert.ErrorIs(t, b.Do(fail), errDown)
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Do(ok), ErrSuspended)

	*now = now.Add(2 * time.Minute)
	require.NoError(t, b.Do(ok))
	assert.Equal(t, StateClosed, b.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
