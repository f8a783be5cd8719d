package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffGrowsAndCaps(t *testing.T) {
	b := Backoff{Min: time.Second, Max: 8 * time.Second, Factor: 2}

	assert.Equal(t, time.Second, b.Next(1))
	assert.Equal(t, 2*time.Second, b.Next(2))
	assert.Equal(t, 4*time.Second, b.Next(3))
	assert.Equal(t, 8*time.Second, b.Next(4))
	assert.Equal(t, 8*time.Second, b.Next(20), "capped at max")
	assert.Equal(t, time.Second, b.Next(0), "non-positive attempt treated as first")
}

func TestBackoffJitterStaysBounded(t *testing.T) {
	b := DefaultBackoff()
	for attempt := 1; attempt <= 10; attempt++ {
		for i := 0; i < 50; i++ {
			wait := b.Next(attempt)
			assert.GreaterOrEqual(t, wait, time.Duration(float64(b.Min)*(1-b.Jitter)))
			assert.LessOrEqual(t, wait, time.Duration(float64(b.Max)*(1+b.Jitter)))
		}
	}
}
