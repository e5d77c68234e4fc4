package sim

import (
	"fmt"
	"sort"
	"strings"
)

// Priority orders events that become due at the same simulation time.
type Priority uint8

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

var priorityNames = map[Priority]string{
	PriorityLow:    "low",
	PriorityNormal: "normal",
	PriorityHigh:   "high",
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("priority(%d)", uint8(p))
}

// Valid reports whether p is one of the three defined priorities.
func (p Priority) Valid() bool {
	return p <= PriorityHigh
}

// MarshalText implements encoding.TextMarshaler so priorities read as
// "low", "normal" or "high" in YAML and JSON documents.
func (p Priority) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid priority %d", uint8(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(text []byte) error {
	parsed, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePriority parses a case-insensitive priority name. Empty means normal.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, nil
	case "", "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	}
	return PriorityNormal, fmt.Errorf("unknown priority %q (want low, normal or high)", s)
}

// PayloadKind identifies which variant a Payload holds.
type PayloadKind uint8

const (
	PayloadNone PayloadKind = iota
	PayloadString
	PayloadInt
	PayloadFloat
	PayloadMap
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadNone:
		return "none"
	case PayloadString:
		return "string"
	case PayloadInt:
		return "int64"
	case PayloadFloat:
		return "float64"
	case PayloadMap:
		return "map"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Payload is the variant data carried by an Event: nothing, a string, an
// int64, a float64, or a flat map whose values are string, int64, float64
// or bool. The zero value is the empty payload.
type Payload struct {
	kind PayloadKind
	str  string
	i64  int64
	f64  float64
	m    map[string]any
}

// StringPayload wraps s.
func StringPayload(s string) Payload { return Payload{kind: PayloadString, str: s} }

// IntPayload wraps v.
func IntPayload(v int64) Payload { return Payload{kind: PayloadInt, i64: v} }

// FloatPayload wraps v.
func FloatPayload(v float64) Payload { return Payload{kind: PayloadFloat, f64: v} }

// MapPayload wraps a copy of m. Values must be string, int64, float64 or bool;
// plain int and float32 values are widened. Any other value type is rejected.
func MapPayload(m map[string]any) (Payload, error) {
	cp := make(map[string]any, len(m))
	for k, v := range m {
		switch tv := v.(type) {
		case string, int64, float64, bool:
			cp[k] = tv
		case int:
			cp[k] = int64(tv)
		case int32:
			cp[k] = int64(tv)
		case float32:
			cp[k] = float64(tv)
		default:
			return Payload{}, fmt.Errorf("map payload key %q: unsupported value type %T", k, v)
		}
	}
	return Payload{kind: PayloadMap, m: cp}, nil
}

// MustMapPayload is MapPayload for literals known to be valid; it panics otherwise.
func MustMapPayload(m map[string]any) Payload {
	p, err := MapPayload(m)
	if err != nil {
		panic(err)
	}
	return p
}

// Kind returns the active variant.
func (p Payload) Kind() PayloadKind { return p.kind }

// AsString returns the string variant.
func (p Payload) AsString() (string, bool) { return p.str, p.kind == PayloadString }

// AsInt returns the int64 variant.
func (p Payload) AsInt() (int64, bool) { return p.i64, p.kind == PayloadInt }

// AsFloat returns the float64 variant.
func (p Payload) AsFloat() (float64, bool) { return p.f64, p.kind == PayloadFloat }

// AsMap returns a copy of the map variant.
func (p Payload) AsMap() (map[string]any, bool) {
	if p.kind != PayloadMap {
		return nil, false
	}
	cp := make(map[string]any, len(p.m))
	for k, v := range p.m {
		cp[k] = v
	}
	return cp, true
}

// Lookup returns one value of a map payload.
func (p Payload) Lookup(key string) (any, bool) {
	if p.kind != PayloadMap {
		return nil, false
	}
	v, ok := p.m[key]
	return v, ok
}

// Equal reports whether two payloads hold the same variant and value.
func (p Payload) Equal(o Payload) bool {
	if p.kind != o.kind {
		return false
	}
	switch p.kind {
	case PayloadString:
		return p.str == o.str
	case PayloadInt:
		return p.i64 == o.i64
	case PayloadFloat:
		return p.f64 == o.f64
	case PayloadMap:
		if len(p.m) != len(o.m) {
			return false
		}
		for k, v := range p.m {
			ov, ok := o.m[k]
			if !ok || ov != v {
				return false
			}
		}
	}
	return true
}

func (p Payload) String() string {
	switch p.kind {
	case PayloadString:
		return p.str
	case PayloadInt:
		return fmt.Sprint(p.i64)
	case PayloadFloat:
		return fmt.Sprint(p.f64)
	case PayloadMap:
		keys := make([]string, 0, len(p.m))
		for k := range p.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s=%v", k, p.m[k])
		}
		return "{" + strings.Join(parts, " ") + "}"
	}
	return ""
}

// Event is the unit exchanged on the bus. Name doubles as the topic.
// Timestamp is simulation time, not wall time. Events are immutable once
// published; the Payload map is never exposed without copying.
type Event struct {
	Name      string
	Timestamp uint64
	Priority  Priority
	Payload   Payload
}

// NewEvent returns a normal-priority event with no payload.
func NewEvent(name string, timestamp uint64) Event {
	return Event{Name: name, Timestamp: timestamp, Priority: PriorityNormal}
}

// WithPayload returns a copy of e carrying p.
func (e Event) WithPayload(p Payload) Event {
	e.Payload = p
	return e
}

// WithPriority returns a copy of e with priority p.
func (e Event) WithPriority(p Priority) Event {
	e.Priority = p
	return e
}

func (e Event) String() string {
	if e.Payload.Kind() == PayloadNone {
		return fmt.Sprintf("%s@%d", e.Name, e.Timestamp)
	}
	return fmt.Sprintf("%s@%d %s", e.Name, e.Timestamp, e.Payload)
}
