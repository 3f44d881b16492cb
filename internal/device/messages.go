// Package device defines the telemetry messages produced by the device
// subsystems. The storage layer subscribes to these; it never talks to
// hardware itself.
package device

import "time"

// ChargerState describes the power supply state in a power message.
type ChargerState int

const (
	ChargerDischarging ChargerState = iota
	ChargerCharging
	ChargerFull
)

// PowerMsg carries battery state of charge updates. Only percentage
// samples are buffered; charger state transitions pass through.
type PowerMsg struct {
	Timestamp  time.Time
	Percentage float64
	State      ChargerState

	// PercentageSample is true when this message is a periodic sample
	// rather than a charger state transition.
	PercentageSample bool
}

// EnvironmentalMsg carries one environmental sensor sweep.
type EnvironmentalMsg struct {
	Timestamp   time.Time
	Temperature float64 // degrees Celsius
	Humidity    float64 // percent relative
	Pressure    float64 // pascal
}

// LocationMsg carries a position fix.
type LocationMsg struct {
	Timestamp time.Time
	Latitude  float64
	Longitude float64
	Accuracy  float64 // meters

	// Valid is false for fix-failed notifications, which are not
	// buffered.
	Valid bool
}

// NetworkMsg carries link quality samples.
type NetworkMsg struct {
	Timestamp time.Time
	RSRP      int16 // reference signal received power, dBm
	RSRQ      int8  // reference signal received quality, dB

	// QualitySample is true for periodic quality samples, false for
	// connectivity events.
	QualitySample bool
}
