package sim

import (
	"fmt"
	"math"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

// Envelope field numbers. The layout is protobuf-compatible so that the
// bytes can be inspected with standard tooling, but it is not tied to any
// generated schema.
const (
	fieldName        protowire.Number = 1
	fieldTimestamp   protowire.Number = 2
	fieldPriority    protowire.Number = 3
	fieldPayloadKind protowire.Number = 4
	fieldString      protowire.Number = 5
	fieldInt         protowire.Number = 6
	fieldFloat       protowire.Number = 7
	fieldMapEntry    protowire.Number = 8
)

// Map entry field numbers.
const (
	entryKey    protowire.Number = 1
	entryString protowire.Number = 2
	entryInt    protowire.Number = 3
	entryFloat  protowire.Number = 4
	entryBool   protowire.Number = 5
)

// Encode serializes an event. Name and timestamp are always written, even
// when zero, so that Decode can tell "absent" from "zero".
func Encode(e Event) ([]byte, error) {
	if e.Name == "" {
		return nil, fmt.Errorf("encode: %w: empty name", ErrMalformedEvent)
	}
	if !e.Priority.Valid() {
		return nil, fmt.Errorf("encode %s: %w: priority %d", e.Name, ErrMalformedEvent, e.Priority)
	}

	b := make([]byte, 0, 32+len(e.Name))
	b = protowire.AppendTag(b, fieldName, protowire.BytesType)
	b = protowire.AppendString(b, e.Name)
	b = protowire.AppendTag(b, fieldTimestamp, protowire.VarintType)
	b = protowire.AppendVarint(b, e.Timestamp)
	b = protowire.AppendTag(b, fieldPriority, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Priority))

	p := e.Payload
	if p.kind == PayloadNone {
		return b, nil
	}
	b = protowire.AppendTag(b, fieldPayloadKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.kind))

	switch p.kind {
	case PayloadString:
		b = protowire.AppendTag(b, fieldString, protowire.BytesType)
		b = protowire.AppendString(b, p.str)
	case PayloadInt:
		b = protowire.AppendTag(b, fieldInt, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(p.i64))
	case PayloadFloat:
		b = protowire.AppendTag(b, fieldFloat, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(p.f64))
	case PayloadMap:
		// Sorted keys keep the encoding deterministic.
		keys := make([]string, 0, len(p.m))
		for k := range p.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			entry, err := appendEntry(nil, k, p.m[k])
			if err != nil {
				return nil, fmt.Errorf("encode %s: %w", e.Name, err)
			}
			b = protowire.AppendTag(b, fieldMapEntry, protowire.BytesType)
			b = protowire.AppendBytes(b, entry)
		}
	default:
		return nil, fmt.Errorf("encode %s: %w: payload kind %d", e.Name, ErrMalformedEvent, p.kind)
	}
	return b, nil
}

func appendEntry(b []byte, key string, v any) ([]byte, error) {
	b = protowire.AppendTag(b, entryKey, protowire.BytesType)
	b = protowire.AppendString(b, key)
	switch tv := v.(type) {
	case string:
		b = protowire.AppendTag(b, entryString, protowire.BytesType)
		b = protowire.AppendString(b, tv)
	case int64:
		b = protowire.AppendTag(b, entryInt, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(tv))
	case float64:
		b = protowire.AppendTag(b, entryFloat, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(tv))
	case bool:
		b = protowire.AppendTag(b, entryBool, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(tv))
	default:
		return nil, fmt.Errorf("%w: map key %q has unsupported type %T", ErrMalformedEvent, key, v)
	}
	return b, nil
}

// Decode parses bytes produced by Encode. Unknown fields are skipped. A
// message without a name or timestamp, or with a truncated field, fails
// with ErrMalformedEvent.
func Decode(b []byte) (Event, error) {
	var (
		e           Event
		haveName    bool
		haveTime    bool
		str         string
		i64         int64
		f64         float64
		entries     map[string]any
		sawPriority bool
		rawPriority uint64
	)
	kind := PayloadNone

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Event{}, malformed(protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldName && typ == protowire.BytesType:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return Event{}, malformed(protowire.ParseError(m))
			}
			e.Name, haveName, n = v, v != "", m
		case num == fieldTimestamp && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return Event{}, malformed(protowire.ParseError(m))
			}
			e.Timestamp, haveTime, n = v, true, m
		case num == fieldPriority && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return Event{}, malformed(protowire.ParseError(m))
			}
			rawPriority, sawPriority, n = v, true, m
		case num == fieldPayloadKind && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return Event{}, malformed(protowire.ParseError(m))
			}
			if v > uint64(PayloadMap) {
				return Event{}, malformed(fmt.Errorf("payload kind %d", v))
			}
			kind, n = PayloadKind(v), m
		case num == fieldString && typ == protowire.BytesType:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return Event{}, malformed(protowire.ParseError(m))
			}
			str, n = v, m
		case num == fieldInt && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return Event{}, malformed(protowire.ParseError(m))
			}
			i64, n = protowire.DecodeZigZag(v), m
		case num == fieldFloat && typ == protowire.Fixed64Type:
			v, m := protowire.ConsumeFixed64(b)
			if m < 0 {
				return Event{}, malformed(protowire.ParseError(m))
			}
			f64, n = math.Float64frombits(v), m
		case num == fieldMapEntry && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return Event{}, malformed(protowire.ParseError(m))
			}
			key, val, err := decodeEntry(v)
			if err != nil {
				return Event{}, err
			}
			if entries == nil {
				entries = make(map[string]any)
			}
			entries[key] = val
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Event{}, malformed(protowire.ParseError(n))
			}
		}
		b = b[n:]
	}

	if !haveName {
		return Event{}, malformed(fmt.Errorf("missing name"))
	}
	if !haveTime {
		return Event{}, malformed(fmt.Errorf("event %s: missing timestamp", e.Name))
	}

	e.Priority = PriorityNormal
	if sawPriority {
		if rawPriority > uint64(PriorityHigh) {
			return Event{}, malformed(fmt.Errorf("event %s: priority %d", e.Name, rawPriority))
		}
		e.Priority = Priority(rawPriority)
	}

	switch kind {
	case PayloadString:
		e.Payload = StringPayload(str)
	case PayloadInt:
		e.Payload = IntPayload(i64)
	case PayloadFloat:
		e.Payload = FloatPayload(f64)
	case PayloadMap:
		if entries == nil {
			entries = make(map[string]any)
		}
		e.Payload = Payload{kind: PayloadMap, m: entries}
	}
	return e, nil
}

func decodeEntry(b []byte) (string, any, error) {
	var (
		key     string
		haveKey bool
		val     any
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", nil, malformed(protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == entryKey && typ == protowire.BytesType:
			key, n = protowire.ConsumeString(b)
			haveKey = n >= 0
		case num == entryString && typ == protowire.BytesType:
			var s string
			s, n = protowire.ConsumeString(b)
			val = s
		case num == entryInt && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			val = protowire.DecodeZigZag(v)
		case num == entryFloat && typ == protowire.Fixed64Type:
			var v uint64
			v, n = protowire.ConsumeFixed64(b)
			val = math.Float64frombits(v)
		case num == entryBool && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			val = protowire.DecodeBool(v)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return "", nil, malformed(protowire.ParseError(n))
		}
		b = b[n:]
	}
	if !haveKey {
		return "", nil, malformed(fmt.Errorf("map entry without key"))
	}
	if val == nil {
		return "", nil, malformed(fmt.Errorf("map entry %q without value", key))
	}
	return key, val, nil
}

func malformed(err error) error {
	return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
}
