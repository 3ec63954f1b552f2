package beacon

import (
	"math"
	"time"

	"github.com/attestantio/go-eth2-client/spec/phase0"
)

type Spec struct {
	GenesisTime    time.Time
	SlotsPerEpoch  phase0.Slot
	SlotDuration   time.Duration
	FarFutureEpoch phase0.Epoch
}

// Mainnet is the Ethereum mainnet beacon chain timing.
var Mainnet = Spec{
	GenesisTime:    time.Unix(1606824023, 0).UTC(),
	SlotsPerEpoch:  32,
	SlotDuration:   12 * time.Second,
	FarFutureEpoch: math.MaxUint64,
}

func (s *Spec) FirstSlot(epoch phase0.Epoch) phase0.Slot {
	return phase0.Slot(epoch) * s.SlotsPerEpoch
}

func (s *Spec) LastSlot(epoch phase0.Epoch) phase0.Slot {
	return s.FirstSlot(epoch+1) - 1
}

func (s *Spec) EpochAt(slot phase0.Slot) phase0.Epoch {
	return phase0.Epoch(slot / s.SlotsPerEpoch)
}

func (s *Spec) SlotAt(t time.Time) phase0.Slot {
	return phase0.Slot(t.Sub(s.GenesisTime) / s.SlotDuration)
}

func (s *Spec) TimeAt(slot phase0.Slot) time.Time {
	return s.GenesisTime.Add(time.Duration(slot) * s.SlotDuration)
}

// EpochsPerDay is the number of whole epochs in 24 hours (225 on mainnet).
func (s *Spec) EpochsPerDay() int {
	return int(time.Hour * 24 / s.SlotDuration / time.Duration(s.SlotsPerEpoch))
}

// EpochTime returns the time at which the given epoch starts.
func (s *Spec) EpochTime(epoch phase0.Epoch) time.Time {
	return s.TimeAt(s.FirstSlot(epoch))
}

// DayEpochs returns the epoch range of the beacon day containing t. Beacon days
// start at the genesis time of day rather than at midnight.
func (s *Spec) DayEpochs(t time.Time) (from, to phase0.Epoch) {
	utc := t.UTC()
	day := time.Date(
		utc.Year(),
		utc.Month(),
		utc.Day(),
		s.GenesisTime.Hour(),
		s.GenesisTime.Minute(),
		s.GenesisTime.Second(),
		s.GenesisTime.Nanosecond(),
		time.UTC,
	)
	if day.After(utc) {
		day = day.AddDate(0, 0, -1)
	}
	from = s.EpochAt(s.SlotAt(day))
	to = s.EpochAt(s.SlotAt(day.AddDate(0, 0, 1))) - 1
	return from, to
}
