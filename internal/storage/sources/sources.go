// Package sources registers the built-in telemetry data types. Each
// entry binds a message channel to a wire tag, a fixed record layout and
// a filter deciding which messages are worth keeping. Adding a source is
// adding one entry here; the storage engine itself never changes.
package sources

import (
	"encoding/binary"
	"math"

	"github.com/xtxerr/stash/internal/device"
	"github.com/xtxerr/stash/internal/storage/types"
)

// Wire tags. Tag 0 stays reserved for the unknown value.
const (
	TagBattery       uint8 = 1
	TagEnvironmental uint8 = 2
	TagLocation      uint8 = 3
	TagNetwork       uint8 = 4
)

// Record sizes in bytes.
const (
	BatterySize       = 8
	EnvironmentalSize = 24
	LocationSize      = 24
	NetworkSize       = 3
)

// Channels carries the producer channels for the built-in sources. A
// nil channel registers the type without an input, which is what tests
// that inject records directly want.
type Channels struct {
	Power         <-chan any
	Environmental <-chan any
	Location      <-chan any
	Network       <-chan any
}

// Register adds the built-in data types to the registry in tag order.
func Register(reg *types.Registry, ch Channels) error {
	entries := []*types.DataType{
		{
			Name:   "battery",
			Source: "power",
			Tag:    TagBattery,
			Size:   BatterySize,
			Input:  ch.Power,
			ShouldStore: func(msg any) bool {
				m, ok := msg.(device.PowerMsg)
				return ok && m.PercentageSample
			},
			Extract: func(msg any, dst []byte) {
				m := msg.(device.PowerMsg)
				binary.LittleEndian.PutUint64(dst, math.Float64bits(m.Percentage))
			},
		},
		{
			Name:   "environmental",
			Source: "environmental",
			Tag:    TagEnvironmental,
			Size:   EnvironmentalSize,
			Input:  ch.Environmental,
			ShouldStore: func(msg any) bool {
				_, ok := msg.(device.EnvironmentalMsg)
				return ok
			},
			Extract: func(msg any, dst []byte) {
				m := msg.(device.EnvironmentalMsg)
				binary.LittleEndian.PutUint64(dst[0:8], math.Float64bits(m.Temperature))
				binary.LittleEndian.PutUint64(dst[8:16], math.Float64bits(m.Humidity))
				binary.LittleEndian.PutUint64(dst[16:24], math.Float64bits(m.Pressure))
			},
		},
		{
			Name:   "location",
			Source: "location",
			Tag:    TagLocation,
			Size:   LocationSize,
			Input:  ch.Location,
			ShouldStore: func(msg any) bool {
				m, ok := msg.(device.LocationMsg)
				return ok && m.Valid
			},
			Extract: func(msg any, dst []byte) {
				m := msg.(device.LocationMsg)
				binary.LittleEndian.PutUint64(dst[0:8], math.Float64bits(m.Latitude))
				binary.LittleEndian.PutUint64(dst[8:16], math.Float64bits(m.Longitude))
				binary.LittleEndian.PutUint64(dst[16:24], math.Float64bits(m.Accuracy))
			},
		},
		{
			Name:   "network",
			Source: "network",
			Tag:    TagNetwork,
			Size:   NetworkSize,
			Input:  ch.Network,
			ShouldStore: func(msg any) bool {
				m, ok := msg.(device.NetworkMsg)
				return ok && m.QualitySample
			},
			Extract: func(msg any, dst []byte) {
				m := msg.(device.NetworkMsg)
				binary.LittleEndian.PutUint16(dst[0:2], uint16(m.RSRP))
				dst[2] = byte(m.RSRQ)
			},
		},
	}

	for _, dt := range entries {
		if err := reg.Register(dt); err != nil {
			return err
		}
	}
	return nil
}

// DecodeBattery decodes a battery record.
func DecodeBattery(rec []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(rec))
}

// DecodeEnvironmental decodes an environmental record.
func DecodeEnvironmental(rec []byte) (temperature, humidity, pressure float64) {
	temperature = math.Float64frombits(binary.LittleEndian.Uint64(rec[0:8]))
	humidity = math.Float64frombits(binary.LittleEndian.Uint64(rec[8:16]))
	pressure = math.Float64frombits(binary.LittleEndian.Uint64(rec[16:24]))
	return
}

// DecodeLocation decodes a location record.
func DecodeLocation(rec []byte) (latitude, longitude, accuracy float64) {
	latitude = math.Float64frombits(binary.LittleEndian.Uint64(rec[0:8]))
	longitude = math.Float64frombits(binary.LittleEndian.Uint64(rec[8:16]))
	accuracy = math.Float64frombits(binary.LittleEndian.Uint64(rec[16:24]))
	return
}

// DecodeNetwork decodes a network quality record.
func DecodeNetwork(rec []byte) (rsrp int16, rsrq int8) {
	rsrp = int16(binary.LittleEndian.Uint16(rec[0:2]))
	rsrq = int8(rec[2])
	return
}
