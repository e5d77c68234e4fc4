package sim

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

// IsZero reports whether p is the empty payload.
func (p Payload) IsZero() bool { return p.kind == PayloadNone }

// MarshalYAML writes the variant as a plain YAML value: null, a scalar, or a flat mapping.
// Floats carry an explicit !!float tag so whole numbers read back as floats.
func (p Payload) MarshalYAML() (interface{}, error) {
	switch p.kind {
	case PayloadString:
		return p.str, nil
	case PayloadInt:
		return p.i64, nil
	case PayloadFloat:
		return floatNode(p.f64), nil
	case PayloadMap:
		return mapNode(p.m)
	}
	return nil, nil
}

func floatNode(f float64) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: formatFloat(f)}
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return ".nan"
	case math.IsInf(f, 1):
		return ".inf"
	case math.IsInf(f, -1):
		return "-.inf"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func mapNode(m map[string]any) (*yaml.Node, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, k := range keys {
		key := &yaml.Node{}
		if err := key.Encode(k); err != nil {
			return nil, err
		}
		var val *yaml.Node
		if f, ok := m[k].(float64); ok {
			val = floatNode(f)
		} else {
			val = &yaml.Node{}
			if err := val.Encode(m[k]); err != nil {
				return nil, fmt.Errorf("payload key %q: %w", k, err)
			}
		}
		out.Content = append(out.Content, key, val)
	}
	return out, nil
}

// UnmarshalYAML picks the variant from the node's resolved tag.
func (p *Payload) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		switch value.ShortTag() {
		case "!!null":
			*p = Payload{}
		case "!!str":
			*p = StringPayload(value.Value)
		case "!!int":
			var v int64
			if err := value.Decode(&v); err != nil {
				return err
			}
			*p = IntPayload(v)
		case "!!float":
			var v float64
			if err := value.Decode(&v); err != nil {
				return err
			}
			*p = FloatPayload(v)
		default:
			return fmt.Errorf("line %d: payload scalar %s is not a string, integer or float", value.Line, value.ShortTag())
		}
		return nil
	case yaml.MappingNode:
		m := make(map[string]any, len(value.Content)/2)
		for i := 0; i+1 < len(value.Content); i += 2 {
			k, v := value.Content[i], value.Content[i+1]
			if v.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: payload value for %q must be a scalar", v.Line, k.Value)
			}
			var decoded any
			var err error
			switch v.ShortTag() {
			case "!!float":
				var f float64
				err = v.Decode(&f)
				decoded = f
			case "!!int":
				var n int64
				err = v.Decode(&n)
				decoded = n
			default:
				err = v.Decode(&decoded)
			}
			if err != nil {
				return err
			}
			m[k.Value] = decoded
		}
		mp, err := MapPayload(m)
		if err != nil {
			return fmt.Errorf("line %d: %w", value.Line, err)
		}
		*p = mp
		return nil
	}
	return fmt.Errorf("line %d: payload must be a scalar or a flat mapping", value.Line)
}
