package export

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/xtxerr/stash/internal/errors"
	"github.com/xtxerr/stash/internal/storage"
	"github.com/xtxerr/stash/internal/storage/sources"
)

func batteryItem(pct float64) storage.Item {
	payload := make([]byte, sources.BatterySize)
	binary.LittleEndian.PutUint64(payload, math.Float64bits(pct))
	return storage.Item{Type: "battery", Tag: sources.TagBattery, Payload: payload}
}

func TestEncodeBattery(t *testing.T) {
	data, err := Encode(batteryItem(87.5))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	var env struct {
		Type string        `cbor:"type"`
		Data BatterySample `cbor:"data"`
	}
	if err := Unmarshal(data, &env); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if env.Type != "battery" {
		t.Errorf("Type = %s, want battery", env.Type)
	}
	if env.Data.Percentage != 87.5 {
		t.Errorf("Percentage = %v, want 87.5", env.Data.Percentage)
	}
}

func TestEncodeNetwork(t *testing.T) {
	payload := make([]byte, sources.NetworkSize)
	rsrp := int16(-98)
	rsrq := int8(-10)
	binary.LittleEndian.PutUint16(payload[0:2], uint16(rsrp))
	payload[2] = byte(rsrq)

	data, err := Encode(storage.Item{Type: "network", Tag: sources.TagNetwork, Payload: payload})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	var env struct {
		Type string        `cbor:"type"`
		Data NetworkSample `cbor:"data"`
	}
	if err := Unmarshal(data, &env); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if env.Data.RSRP != -98 || env.Data.RSRQ != -10 {
		t.Errorf("NetworkSample = %+v, want {-98, -10}", env.Data)
	}
}

func TestEncodeDeterministic(t *testing.T) {
	a, err := Encode(batteryItem(50))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	b, err := Encode(batteryItem(50))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	if string(a) != string(b) {
		t.Error("identical records produced different encodings")
	}
}

func TestEncodeBatch(t *testing.T) {
	items := []storage.Item{batteryItem(10), batteryItem(20)}

	data, err := EncodeBatch(items)
	if err != nil {
		t.Fatalf("EncodeBatch() error = %v", err)
	}

	var envs []struct {
		Type string        `cbor:"type"`
		Data BatterySample `cbor:"data"`
	}
	if err := Unmarshal(data, &envs); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if len(envs) != 2 {
		t.Fatalf("decoded %d envelopes, want 2", len(envs))
	}
	if envs[0].Data.Percentage != 10 || envs[1].Data.Percentage != 20 {
		t.Errorf("percentages = %v, %v, want 10, 20", envs[0].Data.Percentage, envs[1].Data.Percentage)
	}
}

func TestEncodeUnknownTag(t *testing.T) {
	_, err := Encode(storage.Item{Type: "mystery", Tag: 200, Payload: []byte{1}})
	if !errors.Is(err, errors.ErrTypeNotFound) {
		t.Errorf("Encode() unknown tag = %v, want ErrTypeNotFound", err)
	}
}

func TestEncodeTruncatedPayload(t *testing.T) {
	_, err := Encode(storage.Item{Type: "battery", Tag: sources.TagBattery, Payload: []byte{1, 2}})
	if !errors.Is(err, errors.ErrSizeMismatch) {
		t.Errorf("Encode() truncated payload = %v, want ErrSizeMismatch", err)
	}
}
