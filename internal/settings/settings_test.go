package settings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeBackfillsZeroValues(t *testing.T) {
	got := Settings{}.Normalize()
	assert.Equal(t, 15, got.PollingIntervalMinutes)
	assert.Equal(t, 5, got.DeviceCheckIntervalMinutes)
	assert.Equal(t, PoolCKPool, got.PoolType)
	assert.Equal(t, "https://eusolo.ckpool.org", got.CKPoolURL)
	assert.Equal(t, "http://localhost:3334", got.PublicPoolURL)
}

func TestNormalizeKeepsExplicitValues(t *testing.T) {
	in := Settings{
		PollingIntervalMinutes:     1,
		DeviceCheckIntervalMinutes: 2,
		PoolType:                   PoolPublicPool,
		PublicPoolAddress:          "bc1qexample",
		PublicPoolURL:              "http://pool:3334",
	}
	got := in.Normalize()
	assert.Equal(t, 1, got.PollingIntervalMinutes)
	assert.Equal(t, PoolPublicPool, got.PoolType)
	assert.Equal(t, "http://pool:3334", got.PublicPoolURL)
}

func TestNormalizeRejectsUnknownPoolType(t *testing.T) {
	got := Settings{PoolType: "nicehash"}.Normalize()
	assert.Equal(t, PoolCKPool, got.PoolType)
}

func TestPoolSelection(t *testing.T) {
	s := Defaults()
	s.CKPoolAddress = "addr-ck"
	s.PublicPoolAddress = "addr-pp"

	assert.Equal(t, "addr-ck", s.PoolAddress())
	assert.Equal(t, "https://eusolo.ckpool.org", s.PoolURL())

	s.PoolType = PoolPublicPool
	assert.Equal(t, "addr-pp", s.PoolAddress())
	assert.Equal(t, "http://localhost:3334", s.PoolURL())
}
