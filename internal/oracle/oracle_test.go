package oracle_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dataparency-dev/tenderwatch/internal/oracle"
)

func confidencePtr(v int) *int { return &v }

func TestBoostThresholds(t *testing.T) {
	cases := []struct {
		name       string
		confidence *int
		want       int
	}{
		{"unknown gives no boost", nil, 0},
		{"high confidence gives +15", confidencePtr(75), 15},
		{"boundary 60 gives +15", confidencePtr(60), 15},
		{"mid confidence gives +10", confidencePtr(45), 10},
		{"boundary 40 gives +10", confidencePtr(40), 10},
		{"low confidence gives no boost", confidencePtr(20), 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			a := oracle.Assessment{Confidence: c.confidence}
			assert.Equal(t, c.want, a.Boost())
		})
	}
}

func TestCacheKeyIsStableAndVersionSensitive(t *testing.T) {
	k1 := oracle.CacheKey("tender-1", 3)
	k2 := oracle.CacheKey("tender-1", 3)
	k3 := oracle.CacheKey("tender-1", 4)

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}
