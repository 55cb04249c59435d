package pool

import (
	"fmt"
	"testing"
	"time"

	"github.com/nijaru/yt-script/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCredentialPool(t *testing.T, keys ...string) (*CredentialPool, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	p := NewCredentialPool(DefaultCredentialPolicy())
	p.now = clock.now
	for _, k := range keys {
		_, err := p.AddKey(k)
		require.NoError(t, err)
	}
	return p, clock
}

func quotaErr() error {
	return errors.Upstream("test", errors.KindQuotaExhausted, 429, "quota exceeded", nil)
}

func TestPolicyCooldown(t *testing.T) {
	policy := DefaultCredentialPolicy()

	tests := []struct {
		failures int
		expected time.Duration
	}{
		{0, 0},
		{1, 120 * time.Second},
		{2, 240 * time.Second},
		{3, 300 * time.Second},
		{10, 300 * time.Second},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("failures=%d", tt.failures), func(t *testing.T) {
			assert.Equal(t, tt.expected, policy.Cooldown(tt.failures))
		})
	}

	prev := time.Duration(0)
	for n := 0; n < 20; n++ {
		d := policy.Cooldown(n)
		assert.GreaterOrEqual(t, d, prev, "cooldown must not decrease")
		assert.LessOrEqual(t, d, policy.MaxDelay)
		prev = d
	}
}

func TestNextRoundRobin(t *testing.T) {
	p, _ := newTestCredentialPool(t, "AIzaKeyOne0000", "AIzaKeyTwo0000", "AIzaKeyThree00")

	var ids []string
	for i := 0; i < 6; i++ {
		lease, err := p.Next()
		require.NoError(t, err)
		ids = append(ids, lease.ID)
	}

	assert.Equal(t, []string{"key_1", "key_2", "key_3", "key_1", "key_2", "key_3"}, ids)
}

func TestNextSkipsCoolingDownAndInactive(t *testing.T) {
	p, clock := newTestCredentialPool(t, "AIzaKeyOne0000", "AIzaKeyTwo0000", "AIzaKeyThree00")

	p.MarkFailed("key_1", errors.Upstream("test", errors.KindRateLimited, 429, "slow", nil))
	p.MarkFailed("key_2", errors.Upstream("test", errors.KindInvalidCredential, 400, "bad key", nil))

	for i := 0; i < 5; i++ {
		lease, err := p.Next()
		require.NoError(t, err)
		assert.Equal(t, "key_3", lease.ID)
	}

	clock.advance(p.policy.Cooldown(1) + time.Second)
	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		lease, err := p.Next()
		require.NoError(t, err)
		seen[lease.ID] = true
	}
	assert.True(t, seen["key_1"], "cooled down key should rejoin rotation")
	assert.False(t, seen["key_2"], "invalid key must never be returned")
}

func TestNextEmergencyReset(t *testing.T) {
	p, _ := newTestCredentialPool(t, "AIzaKeyOne0000", "AIzaKeyTwo0000")

	p.MarkFailed("key_1", errors.Upstream("test", errors.KindModelOverloaded, 503, "overloaded", nil))
	p.MarkFailed("key_2", errors.Upstream("test", errors.KindRateLimited, 429, "slow", nil))
	require.False(t, p.IsAvailable("key_1"))
	require.False(t, p.IsAvailable("key_2"))

	lease, err := p.Next()
	require.NoError(t, err)
	assert.Equal(t, "key_1", lease.ID)
	assert.True(t, p.IsAvailable("key_2"), "emergency reset clears every cooldown")
}

func TestNextNeverReturnsInactive(t *testing.T) {
	p, _ := newTestCredentialPool(t, "AIzaKeyOne0000", "AIzaKeyTwo0000")

	p.MarkFailed("key_1", errors.Upstream("test", errors.KindUnauthorized, 401, "unauthorized", nil))
	p.MarkFailed("key_2", errors.Upstream("test", errors.KindRateLimited, 429, "slow", nil))

	lease, err := p.Next()
	require.NoError(t, err)
	assert.Equal(t, "key_2", lease.ID)

	p.MarkFailed("key_2", quotaErr())
	_, err = p.Next()
	require.Error(t, err)
	assert.Equal(t, errors.KindConfiguration, errors.KindOf(err))
}

func TestNextEmptyPool(t *testing.T) {
	p, _ := newTestCredentialPool(t)

	_, err := p.Next()
	require.Error(t, err)
	assert.Equal(t, errors.KindConfiguration, errors.KindOf(err))
}

func TestMarkSuccessDecrementsGradually(t *testing.T) {
	p, _ := newTestCredentialPool(t, "AIzaKeyOne0000")
	rateLimited := errors.Upstream("test", errors.KindRateLimited, 429, "slow", nil)

	p.MarkFailed("key_1", rateLimited)
	p.MarkFailed("key_1", rateLimited)
	p.MarkFailed("key_1", rateLimited)

	e, _ := p.Get("key_1")
	before := e.Failures
	require.Equal(t, 3, before)

	p.MarkFailed("key_1", rateLimited)
	p.MarkSuccess("key_1")
	e, _ = p.Get("key_1")
	assert.Equal(t, before, e.Failures)
	assert.False(t, e.LastFailure.IsZero(), "one success does not erase a streak")

	for i := 0; i < 5; i++ {
		p.MarkSuccess("key_1")
	}
	e, _ = p.Get("key_1")
	assert.Equal(t, 0, e.Failures)
	assert.True(t, e.LastFailure.IsZero())
	assert.True(t, p.IsAvailable("key_1"))
}

func TestQuotaExhaustedStaysUnavailable(t *testing.T) {
	p, clock := newTestCredentialPool(t, "AIzaKeyOne0000", "AIzaKeyTwo0000")

	for i := 0; i < 3; i++ {
		p.MarkFailed("key_1", quotaErr())
	}

	for _, wait := range []time.Duration{0, time.Minute, time.Hour, 48 * time.Hour} {
		clock.advance(wait)
		assert.False(t, p.IsAvailable("key_1"))
		lease, err := p.Next()
		require.NoError(t, err)
		assert.Equal(t, "key_2", lease.ID)
	}
}

func TestResetCooldowns(t *testing.T) {
	p, _ := newTestCredentialPool(t, "AIzaKeyOne0000", "AIzaKeyTwo0000", "AIzaKeyThree00")

	p.MarkFailed("key_1", quotaErr())
	p.MarkFailed("key_2", errors.Upstream("test", errors.KindInvalidCredential, 400, "API key not valid", nil))
	p.MarkFailed("key_3", errors.Upstream("test", errors.KindRateLimited, 429, "slow", nil))

	p.ResetCooldowns()

	assert.True(t, p.IsAvailable("key_1"), "quota disabled key is re-enabled by reset")
	assert.False(t, p.IsAvailable("key_2"), "invalid key stays disabled")
	assert.True(t, p.IsAvailable("key_3"))

	e, _ := p.Get("key_2")
	assert.True(t, e.Permanent)
	assert.Equal(t, 0, e.Failures)
}

func TestAddRemove(t *testing.T) {
	p, _ := newTestCredentialPool(t, "AIzaKeyOne0000")

	_, err := p.AddKey("AIzaKeyOne0000")
	assert.Error(t, err, "duplicate key")
	_, err = p.AddKey("   ")
	assert.Error(t, err, "blank key")

	id, err := p.AddKey("AIzaKeyTwo0000")
	require.NoError(t, err)
	assert.Equal(t, "key_2", id)

	assert.True(t, p.Remove("key_1"))
	assert.False(t, p.Remove("key_1"))
	assert.Equal(t, 1, p.Len())

	lease, err := p.Next()
	require.NoError(t, err)
	assert.Equal(t, "key_2", lease.ID)

	assert.True(t, p.RemoveKey(" AIzaKeyTwo0000 "))
	assert.False(t, p.RemoveKey("AIzaKeyTwo0000"))
	assert.Equal(t, 0, p.Len())
}

func TestStats(t *testing.T) {
	p, _ := newTestCredentialPool(t, "AIzaSyAAAAAAAAAAAAAAAA1234", "AIzaSyBBBBBBBBBBBBBBBB5678")

	lease, err := p.Next()
	require.NoError(t, err)
	p.MarkSuccess(lease.ID)

	lease, err = p.Next()
	require.NoError(t, err)
	p.MarkFailed(lease.ID, quotaErr())

	stats := p.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, 1, stats.Available)
	require.Len(t, stats.Entries, 2)

	assert.Equal(t, "AIza...1234", stats.Entries[0].Label)
	assert.Equal(t, "100.0%", stats.Entries[0].SuccessRate)
	assert.NotNil(t, stats.Entries[0].LastUsed)

	assert.False(t, stats.Entries[1].Active)
	assert.Equal(t, "0.0%", stats.Entries[1].SuccessRate)
	assert.Equal(t, string(errors.KindQuotaExhausted), stats.Entries[1].DisabledReason)
	assert.False(t, stats.Entries[1].InCooldown, "inactive entries are reported as disabled, not cooling down")
}

func TestConcurrentAccess(t *testing.T) {
	p, _ := newTestCredentialPool(t, "AIzaKeyOne0000", "AIzaKeyTwo0000", "AIzaKeyThree00")
	rateLimited := errors.Upstream("test", errors.KindRateLimited, 429, "slow", nil)

	done := make(chan struct{})
	for w := 0; w < 8; w++ {
		go func(w int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 200; i++ {
				lease, err := p.Next()
				if err != nil {
					continue
				}
				if (i+w)%3 == 0 {
					p.MarkFailed(lease.ID, rateLimited)
				} else {
					p.MarkSuccess(lease.ID)
				}
				_ = p.Stats()
			}
		}(w)
	}
	for w := 0; w < 8; w++ {
		<-done
	}

	for _, e := range p.Entries() {
		assert.GreaterOrEqual(t, e.Failures, 0)
		assert.True(t, e.Active)
	}
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "****", MaskKey("abcd"))
	assert.Equal(t, "AIza...wxyz", MaskKey("AIzaSyABCDEFGwxyz"))
}
