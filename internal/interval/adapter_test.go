package interval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/xkilldash9x/marquee/internal/config"
)

func testAdapter() Adapter {
	return New(config.SessionConfig{
		Interval:         90 * time.Second,
		AdaptiveInterval: true,
		MinInterval:      30 * time.Second,
		MaxInterval:      180 * time.Second,
	})
}

func TestNext(t *testing.T) {
	a := testAdapter()

	t.Run("low success rate slows down", func(t *testing.T) {
		// 3/10 successes: 90s * 1.5 = 135s, within the band.
		assert.Equal(t, 135*time.Second, a.Next(90*time.Second, 0.3))
	})

	t.Run("high success rate speeds up", func(t *testing.T) {
		// 10/10 successes: 90s * 0.8 = 72s, within the band.
		assert.Equal(t, 72*time.Second, a.Next(90*time.Second, 1.0))
	})

	t.Run("mid-band rate leaves interval unchanged", func(t *testing.T) {
		assert.Equal(t, 90*time.Second, a.Next(90*time.Second, 0.7))
	})

	t.Run("boundary rates are inclusive of the unchanged band", func(t *testing.T) {
		assert.Equal(t, 90*time.Second, a.Next(90*time.Second, 0.5))
		assert.Equal(t, 90*time.Second, a.Next(90*time.Second, 0.9))
	})

	t.Run("growth clamps to max", func(t *testing.T) {
		assert.Equal(t, 180*time.Second, a.Next(150*time.Second, 0.0))
	})

	t.Run("shrink clamps to min", func(t *testing.T) {
		assert.Equal(t, 30*time.Second, a.Next(32*time.Second, 1.0))
	})

	t.Run("idempotent at the bounds", func(t *testing.T) {
		d := a.Next(180*time.Second, 0.0)
		assert.Equal(t, 180*time.Second, d)
		assert.Equal(t, 180*time.Second, a.Next(d, 0.0), "repeated calls must not cross max")

		d = a.Next(30*time.Second, 1.0)
		assert.Equal(t, 30*time.Second, d)
		assert.Equal(t, 30*time.Second, a.Next(d, 1.0), "repeated calls must not cross min")
	})
}

func TestNextDisabled(t *testing.T) {
	a := New(config.SessionConfig{
		Interval:         45 * time.Second,
		AdaptiveInterval: false,
		MinInterval:      30 * time.Second,
		MaxInterval:      180 * time.Second,
	})

	// Whatever happened, the fixed interval comes back.
	assert.Equal(t, 45*time.Second, a.Next(90*time.Second, 0.0))
	assert.Equal(t, 45*time.Second, a.Next(10*time.Second, 1.0))
	assert.Equal(t, 45*time.Second, a.Next(45*time.Second, 0.7))
}
