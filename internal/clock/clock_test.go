package clock

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestElapsedAcrossWraparound(t *testing.T) {
	since := Millis(math.MaxUint32 - 4)
	now := since + 15 // 回绕到10

	assert.Equal(t, Millis(10), now)
	assert.Equal(t, uint32(15), Elapsed(now, since))
	assert.True(t, Reached(now, since, 15*time.Millisecond))
	assert.False(t, Reached(now, since, 16*time.Millisecond))
}

func TestToMillis(t *testing.T) {
	assert.Equal(t, uint32(100), ToMillis(100*time.Millisecond))
	assert.Equal(t, uint32(0), ToMillis(-time.Second))
	assert.Equal(t, uint32(0), ToMillis(500*time.Microsecond))
}

func TestManual(t *testing.T) {
	m := NewManual(math.MaxUint32)
	assert.Equal(t, Millis(math.MaxUint32), m.Now())

	assert.Equal(t, Millis(9), m.Advance(10*time.Millisecond))
	m.Set(42)
	assert.Equal(t, Millis(42), m.Now())
}

func TestSystemMonotonic(t *testing.T) {
	s := NewSystem()
	a := s.Now()
	time.Sleep(2 * time.Millisecond)
	assert.GreaterOrEqual(t, Elapsed(s.Now(), a), uint32(1))
}
