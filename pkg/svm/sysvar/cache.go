package sysvar

import "github.com/fortiblox/stratus-replay/pkg/wire"

// Cache holds the sysvars available to a replay. Absent entries make the
// corresponding getter fail with ErrUnsupportedSysvar.
type Cache struct {
	clock         *Clock
	epochSchedule *EpochSchedule
	rent          *Rent
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{}
}

// ForSlot builds a cache for slot using the given schedule and rent.
// The clock carries no timestamps, which keeps it reproducible.
func ForSlot(slot uint64, schedule EpochSchedule, rent Rent) *Cache {
	epoch := schedule.EpochForSlot(slot)
	c := NewCache()
	c.SetClock(Clock{
		Slot:                slot,
		Epoch:               epoch,
		LeaderScheduleEpoch: epoch + 1,
	})
	c.SetEpochSchedule(schedule)
	c.SetRent(rent)
	return c
}

// SetClock stores the clock sysvar.
func (c *Cache) SetClock(clock Clock) { c.clock = &clock }

// SetEpochSchedule stores the epoch schedule sysvar.
func (c *Cache) SetEpochSchedule(s EpochSchedule) { c.epochSchedule = &s }

// SetRent stores the rent sysvar.
func (c *Cache) SetRent(r Rent) { c.rent = &r }

// Clock returns the clock sysvar.
func (c *Cache) Clock() (Clock, error) {
	if c == nil || c.clock == nil {
		return Clock{}, ErrUnsupportedSysvar
	}
	return *c.clock, nil
}

// EpochSchedule returns the epoch schedule sysvar.
func (c *Cache) EpochSchedule() (EpochSchedule, error) {
	if c == nil || c.epochSchedule == nil {
		return EpochSchedule{}, ErrUnsupportedSysvar
	}
	return *c.epochSchedule, nil
}

// Rent returns the rent sysvar.
func (c *Cache) Rent() (Rent, error) {
	if c == nil || c.rent == nil {
		return Rent{}, ErrUnsupportedSysvar
	}
	return *c.rent, nil
}

// EncodeWire implements wire.Marshaler.
func (c *Cache) EncodeWire(e *wire.Encoder) {
	e.Option(c.clock != nil)
	if c.clock != nil {
		e.Value(*c.clock)
	}
	e.Option(c.epochSchedule != nil)
	if c.epochSchedule != nil {
		e.Value(*c.epochSchedule)
	}
	e.Option(c.rent != nil)
	if c.rent != nil {
		e.Value(*c.rent)
	}
}

// DecodeWire implements wire.Unmarshaler.
func (c *Cache) DecodeWire(d *wire.Decoder) {
	*c = Cache{}
	if d.Option() {
		var clock Clock
		d.Value(&clock)
		c.clock = &clock
	}
	if d.Option() {
		var s EpochSchedule
		d.Value(&s)
		c.epochSchedule = &s
	}
	if d.Option() {
		var r Rent
		d.Value(&r)
		c.rent = &r
	}
}
