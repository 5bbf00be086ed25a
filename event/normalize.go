package event

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/Alirezaa02/webvis-oakd-dashboard/pkg/timestamp"
)

// Field alias tables, consulted once at the normalization boundary. Each
// canonical field lists the inbound names that may carry it, highest
// precedence first. The canonical name is the only one persisted or
// broadcast; every other inbound key is dropped.
var (
	sensorAliases = []fieldAliases{
		{"temperature", []string{"temperature", "temp"}},
		{"pressure", []string{"pressure"}},
		{"humidity", []string{"humidity"}},
		{"light", []string{"light"}},
		{"oxidisingGas", []string{"oxidisingGas", "oxidising"}},
		{"reducingGas", []string{"reducingGas", "reducing", "reduction", "gas"}},
		{"ammoniaGas", []string{"ammoniaGas", "nh3", "ammonia"}},
	}

	detectionAliases = map[string][]string{
		"frameId":     {"frameId", "frame_id"},
		"imageRef":    {"imageRef", "image_url"},
		"tagId":       {"tagId", "aruco_id"},
		"valveState":  {"valveState", "valve_state"},
		"confidence":  {"confidence", "conf"},
		"boundingBox": {"boundingBox", "bbox"},
	}
)

type fieldAliases struct {
	canonical string
	inbound   []string
}

// Normalize maps an untrusted producer payload onto the canonical Event shape
// for the declared variant. receivedAt (Unix milliseconds) is used when the
// payload carries no usable timestamp, keeping the function pure.
//
// The returned error is a *ValidationError enumerating every failing field,
// never just the first. Unknown fields are dropped silently.
func Normalize(raw map[string]any, variant Variant, receivedAt int64) (Event, error) {
	if !variant.Valid() {
		return Event{}, &ValidationError{Fields: []FieldError{
			{Field: "variant", Reason: fmt.Sprintf("unknown variant %q", variant)},
		}}
	}

	ts := payloadTimestamp(raw, receivedAt)

	verr := &ValidationError{}
	var payload Payload

	switch variant {
	case VariantSensor:
		payload = normalizeSensor(raw, verr)
	case VariantPose:
		payload = normalizePose(raw, verr)
	case VariantDetection:
		payload = normalizeDetection(raw, verr)
	case VariantLog:
		payload = normalizeLog(raw, verr)
	}

	if !verr.ok() {
		return Event{}, verr
	}

	return Event{Timestamp: ts, Payload: payload}, nil
}

// payloadTimestamp extracts the producer timestamp, defaulting to receipt
// time when it is absent, negative, or unparseable. Numeric values are taken
// verbatim as milliseconds; RFC3339 strings are converted. Producer clocks
// are never trusted for cross-producer ordering, so a bad value degrades
// silently rather than rejecting the event.
func payloadTimestamp(raw map[string]any, receivedAt int64) int64 {
	for _, key := range []string{"ts", "timestamp"} {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		if f, err := toFinite(v); err == nil {
			if f >= 0 {
				return int64(f)
			}
			continue
		}
		if s, isStr := v.(string); isStr {
			if ms := timestamp.ParseRFC3339(s); ms > 0 {
				return ms
			}
		}
	}
	return receivedAt
}

// resolveAlias returns the first inbound key present in raw, honoring
// precedence order.
func resolveAlias(raw map[string]any, inbound []string) (string, any, bool) {
	for _, key := range inbound {
		if v, ok := raw[key]; ok && v != nil {
			return key, v, true
		}
	}
	return "", nil, false
}

func normalizeSensor(raw map[string]any, verr *ValidationError) Sensor {
	var s Sensor
	targets := map[string]**float64{
		"temperature":  &s.Temperature,
		"pressure":     &s.Pressure,
		"humidity":     &s.Humidity,
		"light":        &s.Light,
		"oxidisingGas": &s.OxidisingGas,
		"reducingGas":  &s.ReducingGas,
		"ammoniaGas":   &s.AmmoniaGas,
	}

	for _, fa := range sensorAliases {
		key, v, ok := resolveAlias(raw, fa.inbound)
		if !ok {
			continue
		}
		f, err := toFinite(v)
		if err != nil {
			verr.add(key, err.Error())
			continue
		}
		*targets[fa.canonical] = &f
	}

	return s
}

func normalizePose(raw map[string]any, verr *ValidationError) Pose {
	var p Pose
	targets := map[string]*float64{"x": &p.X, "y": &p.Y, "z": &p.Z}

	for _, key := range []string{"x", "y", "z"} {
		v, ok := raw[key]
		if !ok || v == nil {
			verr.add(key, "required coordinate missing")
			continue
		}
		f, err := toFinite(v)
		if err != nil {
			verr.add(key, err.Error())
			continue
		}
		*targets[key] = f
	}

	return p
}

func normalizeDetection(raw map[string]any, verr *ValidationError) Detection {
	var d Detection

	if key, v, ok := resolveAlias(raw, detectionAliases["frameId"]); !ok {
		verr.add("frameId", "required field missing")
	} else if s, isStr := v.(string); !isStr || s == "" {
		verr.add(key, "must be a non-empty string")
	} else {
		d.FrameID = s
	}

	if key, v, ok := resolveAlias(raw, detectionAliases["imageRef"]); !ok {
		verr.add("imageRef", "required field missing")
	} else if s, isStr := v.(string); !isStr {
		verr.add(key, "must be a string")
	} else if !validImageRef(s) {
		verr.add(key, "must be an absolute URL or a data:image/ URI")
	} else {
		d.ImageRef = s
	}

	if key, v, ok := resolveAlias(raw, detectionAliases["tagId"]); ok {
		id, err := toInteger(v)
		if err != nil {
			verr.add(key, err.Error())
		} else {
			d.TagID = &id
		}
	}

	if key, v, ok := resolveAlias(raw, detectionAliases["valveState"]); ok {
		s, isStr := v.(string)
		state := ValveState(strings.ToLower(s))
		if !isStr || (state != ValveOpen && state != ValveClosed) {
			verr.add(key, `must be "open" or "closed"`)
		} else {
			d.ValveState = state
		}
	}

	if key, v, ok := resolveAlias(raw, detectionAliases["confidence"]); ok {
		f, err := toFinite(v)
		if err != nil {
			verr.add(key, err.Error())
		} else if f < 0 || f > 1 {
			verr.add(key, "must be within [0, 1]")
		} else {
			d.Confidence = &f
		}
	}

	if key, v, ok := resolveAlias(raw, detectionAliases["boundingBox"]); ok {
		// Opaque blob: carried through verbatim, not validated further.
		blob, err := json.Marshal(v)
		if err != nil {
			verr.add(key, "must be JSON-encodable")
		} else {
			d.BoundingBox = blob
		}
	}

	return d
}

func normalizeLog(raw map[string]any, verr *ValidationError) LogLine {
	line := LogLine{Level: LevelInfo}

	if v, ok := raw["level"]; ok && v != nil {
		s, isStr := v.(string)
		level := LogLevel(strings.ToUpper(s))
		if !isStr || (level != LevelInfo && level != LevelWarn && level != LevelError) {
			verr.add("level", `must be one of "INFO", "WARN", "ERROR"`)
		} else {
			line.Level = level
		}
	}

	if v, ok := raw["message"]; ok && v != nil {
		s, isStr := v.(string)
		if !isStr {
			verr.add("message", "must be a string")
		} else {
			line.Message = s
		}
	}

	return line
}

// toFinite coerces numeric-looking values to a finite float64. NaN and
// infinities are rejected rather than silently zeroed.
func toFinite(v any) (float64, error) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("must be a number")
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("must be a number")
		}
		f = parsed
	default:
		return 0, fmt.Errorf("must be a number")
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("must be a finite number")
	}
	return f, nil
}

// toInteger coerces integer-looking values, rejecting fractional floats.
func toInteger(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n != math.Trunc(n) || math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, fmt.Errorf("must be an integer")
		}
		return int64(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("must be an integer")
		}
		return i, nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("must be an integer")
		}
		return i, nil
	default:
		return 0, fmt.Errorf("must be an integer")
	}
}

// validImageRef accepts syntactically valid absolute URLs and inline
// data:image/ URIs, nothing else.
func validImageRef(s string) bool {
	if strings.HasPrefix(s, "data:image/") {
		return true
	}
	u, err := url.Parse(s)
	return err == nil && u.IsAbs() && u.Host != ""
}
