// Package export encodes drained telemetry records for the upstream
// transport. Records leave the storage layer as raw fixed-size byte
// slices; export turns them into self-describing CBOR so the transport
// never needs to know the binary layouts.
package export

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/xtxerr/stash/internal/errors"
	"github.com/xtxerr/stash/internal/storage"
	"github.com/xtxerr/stash/internal/storage/sources"
)

// encMode uses Core Deterministic Encoding (RFC 8949 4.2) so the same
// record always produces identical bytes, which keeps upstream
// deduplication trivial.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("export: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("export: CBOR decoder initialization failed: " + err.Error())
	}
}

// Envelope wraps one decoded record with its type name.
type Envelope struct {
	Type string `cbor:"type"`
	Data any    `cbor:"data"`
}

// BatterySample is the export form of a battery record.
type BatterySample struct {
	Percentage float64 `cbor:"percentage"`
}

// EnvironmentalSample is the export form of an environmental record.
type EnvironmentalSample struct {
	Temperature float64 `cbor:"temperature"`
	Humidity    float64 `cbor:"humidity"`
	Pressure    float64 `cbor:"pressure"`
}

// LocationSample is the export form of a location record.
type LocationSample struct {
	Latitude  float64 `cbor:"latitude"`
	Longitude float64 `cbor:"longitude"`
	Accuracy  float64 `cbor:"accuracy"`
}

// NetworkSample is the export form of a network quality record.
type NetworkSample struct {
	RSRP int16 `cbor:"rsrp"`
	RSRQ int8  `cbor:"rsrq"`
}

// Encode converts one drained item to CBOR.
func Encode(item storage.Item) ([]byte, error) {
	env, err := decode(item)
	if err != nil {
		return nil, err
	}
	return encMode.Marshal(env)
}

// EncodeBatch converts a full batch round to one CBOR array.
func EncodeBatch(items []storage.Item) ([]byte, error) {
	envs := make([]Envelope, 0, len(items))
	for _, item := range items {
		env, err := decode(item)
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}
	return encMode.Marshal(envs)
}

// Unmarshal decodes CBOR produced by this package.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

func decode(item storage.Item) (Envelope, error) {
	env := Envelope{Type: item.Type}

	switch item.Tag {
	case sources.TagBattery:
		if len(item.Payload) != sources.BatterySize {
			return env, payloadError(item)
		}
		env.Data = BatterySample{Percentage: sources.DecodeBattery(item.Payload)}

	case sources.TagEnvironmental:
		if len(item.Payload) != sources.EnvironmentalSize {
			return env, payloadError(item)
		}
		temp, hum, press := sources.DecodeEnvironmental(item.Payload)
		env.Data = EnvironmentalSample{Temperature: temp, Humidity: hum, Pressure: press}

	case sources.TagLocation:
		if len(item.Payload) != sources.LocationSize {
			return env, payloadError(item)
		}
		lat, lon, acc := sources.DecodeLocation(item.Payload)
		env.Data = LocationSample{Latitude: lat, Longitude: lon, Accuracy: acc}

	case sources.TagNetwork:
		if len(item.Payload) != sources.NetworkSize {
			return env, payloadError(item)
		}
		rsrp, rsrq := sources.DecodeNetwork(item.Payload)
		env.Data = NetworkSample{RSRP: rsrp, RSRQ: rsrq}

	default:
		return env, errors.Wrapf(errors.ErrTypeNotFound, "no export mapping for tag %d", item.Tag)
	}

	return env, nil
}

func payloadError(item storage.Item) error {
	return errors.Wrapf(errors.ErrSizeMismatch, "%s: payload %d bytes", item.Type, len(item.Payload))
}
