package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRealIsUTC(t *testing.T) {
	assert.Equal(t, time.UTC, Real().Now().Location())
}

func TestFakeAdvance(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600))
	f := NewFake(start)
	assert.True(t, f.Now().Equal(start))
	assert.Equal(t, time.UTC, f.Now().Location())

	f.Advance(90 * time.Second)
	assert.True(t, f.Now().Equal(start.Add(90*time.Second)))

	f.Set(start)
	assert.True(t, f.Now().Equal(start))
}
