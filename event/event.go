// Package event defines the canonical telemetry event model and the pure
// normalizer that maps untrusted producer payloads onto it.
//
// An Event is a tagged union over four variants: Sensor readings, Pose
// estimates, vision Detections, and operational LogLines. Producers send
// loosely-shaped JSON with inconsistent field naming; Normalize resolves the
// alias table, coerces numeric values, validates every field, and drops
// anything unknown. Only canonical events are ever persisted or broadcast.
package event

import (
	"encoding/json"
	"fmt"
)

// Variant identifies one of the canonical event shapes.
type Variant string

const (
	// VariantSensor is an environmental sensor reading.
	VariantSensor Variant = "sensor"
	// VariantPose is an object pose estimate.
	VariantPose Variant = "pose"
	// VariantDetection is a vision detection frame.
	VariantDetection Variant = "detection"
	// VariantLog is an operational log line.
	VariantLog Variant = "log"
)

// Variants lists every canonical variant.
var Variants = []Variant{VariantSensor, VariantPose, VariantDetection, VariantLog}

// Valid reports whether v names a known variant.
func (v Variant) Valid() bool {
	switch v {
	case VariantSensor, VariantPose, VariantDetection, VariantLog:
		return true
	}
	return false
}

// ParseVariant converts a route/stream name into a Variant.
func ParseVariant(s string) (Variant, error) {
	v := Variant(s)
	if !v.Valid() {
		return "", fmt.Errorf("unknown event variant %q", s)
	}
	return v, nil
}

// Payload is the variant-specific body of an Event.
type Payload interface {
	Variant() Variant
}

// Event is one normalized telemetry record. Timestamp is Unix milliseconds,
// producer-supplied, defaulted to receipt time when absent or negative. An
// Event is immutable once constructed.
type Event struct {
	Timestamp int64
	Payload   Payload
}

// Variant returns the variant of the event's payload.
func (e Event) Variant() Variant {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Variant()
}

// MarshalJSON flattens the payload fields alongside the canonical "ts" key,
// which is the wire shape both the store and the live bus emit.
func (e Event) MarshalJSON() ([]byte, error) {
	body, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}

	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	fields["ts"] = e.Timestamp

	return json.Marshal(fields)
}

// Decode reconstructs a canonical Event of the given variant from its wire
// JSON (the shape produced by MarshalJSON). It trusts the input: it is meant
// for rows read back from the store, not for producer payloads.
func Decode(variant Variant, data []byte) (Event, error) {
	var ts struct {
		Ts int64 `json:"ts"`
	}
	if err := json.Unmarshal(data, &ts); err != nil {
		return Event{}, fmt.Errorf("decode %s event: %w", variant, err)
	}

	var payload Payload
	var err error
	switch variant {
	case VariantSensor:
		var p Sensor
		err = json.Unmarshal(data, &p)
		payload = p
	case VariantPose:
		var p Pose
		err = json.Unmarshal(data, &p)
		payload = p
	case VariantDetection:
		var p Detection
		err = json.Unmarshal(data, &p)
		payload = p
	case VariantLog:
		var p LogLine
		err = json.Unmarshal(data, &p)
		payload = p
	default:
		return Event{}, fmt.Errorf("unknown event variant %q", variant)
	}
	if err != nil {
		return Event{}, fmt.Errorf("decode %s event: %w", variant, err)
	}

	return Event{Timestamp: ts.Ts, Payload: payload}, nil
}

// Sensor holds environmental channel readings. Every channel is optional; nil
// means the producer did not report that channel.
type Sensor struct {
	Temperature  *float64 `json:"temperature,omitempty"`
	Pressure     *float64 `json:"pressure,omitempty"`
	Humidity     *float64 `json:"humidity,omitempty"`
	Light        *float64 `json:"light,omitempty"`
	OxidisingGas *float64 `json:"oxidisingGas,omitempty"`
	ReducingGas  *float64 `json:"reducingGas,omitempty"`
	AmmoniaGas   *float64 `json:"ammoniaGas,omitempty"`
}

// Variant implements Payload.
func (Sensor) Variant() Variant { return VariantSensor }

// Pose is a position estimate in the world frame. All three coordinates are
// required and finite.
type Pose struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Variant implements Payload.
func (Pose) Variant() Variant { return VariantPose }

// ValveState is the detected state of an inspected valve.
type ValveState string

const (
	// ValveOpen means the valve was detected open.
	ValveOpen ValveState = "open"
	// ValveClosed means the valve was detected closed.
	ValveClosed ValveState = "closed"
)

// Detection is one vision detection. FrameID and ImageRef are required;
// ImageRef is either an absolute URL or an inline data:image/ URI.
// BoundingBox is carried opaquely and not validated beyond being JSON.
type Detection struct {
	FrameID     string          `json:"frameId"`
	ImageRef    string          `json:"imageRef"`
	TagID       *int64          `json:"tagId,omitempty"`
	ValveState  ValveState      `json:"valveState,omitempty"`
	Confidence  *float64        `json:"confidence,omitempty"`
	BoundingBox json.RawMessage `json:"boundingBox,omitempty"`
}

// Variant implements Payload.
func (Detection) Variant() Variant { return VariantDetection }

// LogLevel is the severity of an operational log line.
type LogLevel string

const (
	// LevelInfo is routine operational information.
	LevelInfo LogLevel = "INFO"
	// LevelWarn is a degraded-but-operating condition.
	LevelWarn LogLevel = "WARN"
	// LevelError is a failure condition.
	LevelError LogLevel = "ERROR"
)

// LogLine is an operational log record from a producer or from the ingestion
// pipeline itself.
type LogLine struct {
	Level   LogLevel `json:"level"`
	Message string   `json:"message"`
}

// Variant implements Payload.
func (LogLine) Variant() Variant { return VariantLog }
