package device

import (
	"context"
	"math/rand/v2"
	"time"
)

// Simulator produces synthetic telemetry on the producer channels. It
// stands in for the real sensor subsystems so the storage layer can run
// on a workstation.
type Simulator struct {
	Power         chan any
	Environmental chan any
	Location      chan any
	Network       chan any

	// Interval between samples per source.
	Interval time.Duration

	battery  float64
	temp     float64
	humidity float64
}

// NewSimulator creates a simulator with fresh producer channels.
func NewSimulator(interval time.Duration) *Simulator {
	return &Simulator{
		Power:         make(chan any, 8),
		Environmental: make(chan any, 8),
		Location:      make(chan any, 8),
		Network:       make(chan any, 8),
		Interval:      interval,
		battery:       100,
		temp:          21,
		humidity:      40,
	}
}

// Run emits samples until the context is canceled, then closes the
// channels.
func (s *Simulator) Run(ctx context.Context) error {
	defer func() {
		close(s.Power)
		close(s.Environmental)
		close(s.Location)
		close(s.Network)
	}()

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			s.emit(ctx, now)
		}
	}
}

func (s *Simulator) emit(ctx context.Context, now time.Time) {
	s.battery -= rand.Float64() * 0.1
	if s.battery < 5 {
		s.battery = 100
	}
	s.temp += rand.Float64()*0.4 - 0.2
	s.humidity += rand.Float64()*1.0 - 0.5

	samples := []struct {
		ch  chan any
		msg any
	}{
		{s.Power, PowerMsg{
			Timestamp:        now,
			Percentage:       s.battery,
			PercentageSample: true,
		}},
		{s.Environmental, EnvironmentalMsg{
			Timestamp:   now,
			Temperature: s.temp,
			Humidity:    s.humidity,
			Pressure:    101325 + rand.Float64()*200 - 100,
		}},
		{s.Location, LocationMsg{
			Timestamp: now,
			Latitude:  63.42 + rand.Float64()*0.001,
			Longitude: 10.39 + rand.Float64()*0.001,
			Accuracy:  3 + rand.Float64()*10,
			Valid:     rand.Float64() > 0.1,
		}},
		{s.Network, NetworkMsg{
			Timestamp:     now,
			RSRP:          int16(-90 - rand.IntN(30)),
			RSRQ:          int8(-8 - rand.IntN(10)),
			QualitySample: true,
		}},
	}

	for _, sample := range samples {
		if ctx.Err() != nil {
			return
		}
		select {
		case sample.ch <- sample.msg:
		default:
			// a slow consumer drops samples rather than stalling the
			// simulator
		}
	}
}
