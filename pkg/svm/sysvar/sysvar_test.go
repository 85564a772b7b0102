package sysvar

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fortiblox/stratus-replay/pkg/wire"
)

func TestRentMinimumBalance(t *testing.T) {
	r := DefaultRent()
	require.Equal(t, uint64(890_880), r.MinimumBalance(0))
	require.Equal(t, uint64(1_141_440), r.MinimumBalance(36))
	require.True(t, r.IsExempt(890_880, 0))
	require.False(t, r.IsExempt(890_879, 0))
}

func TestRentDecodeRejectsInvalid(t *testing.T) {
	for _, r := range []Rent{
		{LamportsPerByteYear: 1, ExemptionThreshold: math.NaN()},
		{LamportsPerByteYear: 1, ExemptionThreshold: -1},
		{LamportsPerByteYear: 1, ExemptionThreshold: 2, BurnPercent: 101},
	} {
		var out Rent
		require.ErrorIs(t, wire.Unmarshal(wire.Marshal(r), "rent", &out), wire.ErrInvalidTag)
	}
}

func TestEpochForSlot(t *testing.T) {
	s := DefaultEpochSchedule()
	require.Equal(t, uint64(0), s.EpochForSlot(0))
	require.Equal(t, uint64(0), s.EpochForSlot(431_999))
	require.Equal(t, uint64(1), s.EpochForSlot(432_000))

	warm := EpochSchedule{
		SlotsPerEpoch:    8192,
		Warmup:           true,
		FirstNormalEpoch: 8,
		FirstNormalSlot:  8160,
	}
	require.Equal(t, uint64(0), warm.EpochForSlot(31))
	require.Equal(t, uint64(1), warm.EpochForSlot(32))
	require.Equal(t, uint64(2), warm.EpochForSlot(96))
	require.Equal(t, uint64(8), warm.EpochForSlot(8160))
	require.Equal(t, uint64(9), warm.EpochForSlot(8160+8192))

	require.Zero(t, EpochSchedule{}.EpochForSlot(100))
}

func TestCacheForSlot(t *testing.T) {
	c := ForSlot(432_005, DefaultEpochSchedule(), DefaultRent())

	clock, err := c.Clock()
	require.NoError(t, err)
	require.Equal(t, uint64(432_005), clock.Slot)
	require.Equal(t, uint64(1), clock.Epoch)
	require.Equal(t, uint64(2), clock.LeaderScheduleEpoch)
	require.Zero(t, clock.UnixTimestamp)

	var out Cache
	require.NoError(t, wire.Unmarshal(wire.Marshal(c), "sysvar cache", &out))
	require.Equal(t, *c, out)
}

func TestEmptyCache(t *testing.T) {
	c := NewCache()
	_, err := c.Clock()
	require.ErrorIs(t, err, ErrUnsupportedSysvar)
	_, err = c.Rent()
	require.ErrorIs(t, err, ErrUnsupportedSysvar)

	var nilCache *Cache
	_, err = nilCache.EpochSchedule()
	require.ErrorIs(t, err, ErrUnsupportedSysvar)

	var out Cache
	require.NoError(t, wire.Unmarshal(wire.Marshal(c), "sysvar cache", &out))
	_, err = out.Clock()
	require.ErrorIs(t, err, ErrUnsupportedSysvar)
}
