// Package sysvar implements the read-only system variables visible to
// executing programs and the cache that carries them into a replay.
//
// Only the sysvars the bundled builtins read are modelled:
// - Rent: the rent schedule and rent-exemption threshold
// - Clock: slot, epoch and timestamps of the replayed block
// - EpochSchedule: slot-to-epoch mapping
package sysvar

import (
	"errors"
	"math"

	"github.com/fortiblox/stratus-replay/pkg/wire"
)

// ErrUnsupportedSysvar is returned when a sysvar is absent from the cache.
var ErrUnsupportedSysvar = errors.New("unsupported sysvar")

// Rent constants.
const (
	// AccountStorageOverhead is the per-account byte overhead charged rent.
	AccountStorageOverhead = 128

	// DefaultLamportsPerByteYear is 1e9 lamports / (100 MiB) * 365 / (1024*1024).
	DefaultLamportsPerByteYear = uint64(3480)

	// DefaultExemptionThreshold is the number of years of rent an account
	// must hold to be exempt.
	DefaultExemptionThreshold = 2.0

	// DefaultBurnPercent is the share of collected rent that is burned.
	DefaultBurnPercent = uint8(50)
)

// Rent is the rent schedule.
type Rent struct {
	// LamportsPerByteYear is the rental rate.
	LamportsPerByteYear uint64

	// ExemptionThreshold is the multiple of yearly rent required for exemption.
	ExemptionThreshold float64

	// BurnPercent is the percentage of collected rent that is burned.
	BurnPercent uint8
}

// DefaultRent returns the mainnet rent schedule.
func DefaultRent() Rent {
	return Rent{
		LamportsPerByteYear: DefaultLamportsPerByteYear,
		ExemptionThreshold:  DefaultExemptionThreshold,
		BurnPercent:         DefaultBurnPercent,
	}
}

// MinimumBalance returns the balance required for an account holding
// dataLen bytes to be rent exempt.
func (r Rent) MinimumBalance(dataLen uint64) uint64 {
	bytes := float64(AccountStorageOverhead + dataLen)
	return uint64(bytes * float64(r.LamportsPerByteYear) * r.ExemptionThreshold)
}

// IsExempt reports whether balance covers rent exemption for dataLen bytes.
func (r Rent) IsExempt(balance, dataLen uint64) bool {
	return balance >= r.MinimumBalance(dataLen)
}

// EncodeWire implements wire.Marshaler.
func (r Rent) EncodeWire(e *wire.Encoder) {
	e.U64(r.LamportsPerByteYear)
	e.F64(r.ExemptionThreshold)
	e.U8(r.BurnPercent)
}

// DecodeWire implements wire.Unmarshaler.
func (r *Rent) DecodeWire(d *wire.Decoder) {
	r.LamportsPerByteYear = d.U64()
	r.ExemptionThreshold = d.F64()
	r.BurnPercent = d.U8()
	if math.IsNaN(r.ExemptionThreshold) || math.IsInf(r.ExemptionThreshold, 0) || r.ExemptionThreshold < 0 {
		d.Fail(wire.ErrInvalidTag)
	}
	if r.BurnPercent > 100 {
		d.Fail(wire.ErrInvalidTag)
	}
}

// Clock describes the time of the replayed block.
type Clock struct {
	Slot                uint64
	EpochStartTimestamp int64
	Epoch               uint64
	LeaderScheduleEpoch uint64
	UnixTimestamp       int64
}

// EncodeWire implements wire.Marshaler.
func (c Clock) EncodeWire(e *wire.Encoder) {
	e.U64(c.Slot)
	e.I64(c.EpochStartTimestamp)
	e.U64(c.Epoch)
	e.U64(c.LeaderScheduleEpoch)
	e.I64(c.UnixTimestamp)
}

// DecodeWire implements wire.Unmarshaler.
func (c *Clock) DecodeWire(d *wire.Decoder) {
	c.Slot = d.U64()
	c.EpochStartTimestamp = d.I64()
	c.Epoch = d.U64()
	c.LeaderScheduleEpoch = d.U64()
	c.UnixTimestamp = d.I64()
}

// Epoch schedule constants.
const (
	// DefaultSlotsPerEpoch is the mainnet epoch length.
	DefaultSlotsPerEpoch = uint64(432_000)

	// MinimumSlotsPerEpoch is the length of the first warmup epoch.
	MinimumSlotsPerEpoch = uint64(32)
)

// EpochSchedule maps slots to epochs.
type EpochSchedule struct {
	SlotsPerEpoch            uint64
	LeaderScheduleSlotOffset uint64
	Warmup                   bool
	FirstNormalEpoch         uint64
	FirstNormalSlot          uint64
}

// DefaultEpochSchedule returns a schedule without warmup.
func DefaultEpochSchedule() EpochSchedule {
	return EpochSchedule{
		SlotsPerEpoch:            DefaultSlotsPerEpoch,
		LeaderScheduleSlotOffset: DefaultSlotsPerEpoch,
	}
}

// EpochForSlot returns the epoch containing slot.
func (s EpochSchedule) EpochForSlot(slot uint64) uint64 {
	if s.SlotsPerEpoch == 0 {
		return 0
	}
	if s.Warmup && slot < s.FirstNormalSlot {
		// Warmup epochs double in length starting at MinimumSlotsPerEpoch.
		epoch := uint64(0)
		length := MinimumSlotsPerEpoch
		start := uint64(0)
		for start+length <= slot {
			start += length
			length *= 2
			epoch++
		}
		return epoch
	}
	return (slot-s.FirstNormalSlot)/s.SlotsPerEpoch + s.FirstNormalEpoch
}

// EncodeWire implements wire.Marshaler.
func (s EpochSchedule) EncodeWire(e *wire.Encoder) {
	e.U64(s.SlotsPerEpoch)
	e.U64(s.LeaderScheduleSlotOffset)
	e.Bool(s.Warmup)
	e.U64(s.FirstNormalEpoch)
	e.U64(s.FirstNormalSlot)
}

// DecodeWire implements wire.Unmarshaler.
func (s *EpochSchedule) DecodeWire(d *wire.Decoder) {
	s.SlotsPerEpoch = d.U64()
	s.LeaderScheduleSlotOffset = d.U64()
	s.Warmup = d.Bool()
	s.FirstNormalEpoch = d.U64()
	s.FirstNormalSlot = d.U64()
}
