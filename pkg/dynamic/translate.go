package dynamic

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// typeKey is the tag protojson embeds when rendering a google.protobuf.Any.
const typeKey = "@type"

// MessageToMap renders a decoded message as a JSON-style map. Scalar, list
// and map fields are emitted even at their defaults, so consumers never see
// those keys appear and disappear between responses; unset message fields are
// omitted rather than rendered as null. Any envelopes are flattened; see
// Translate.
func MessageToMap(msg proto.Message) (map[string]any, error) {
	raw, err := protojson.MarshalOptions{EmitDefaultValues: true}.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding response: %w", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	clean, err := Translate(decoded)
	if err != nil {
		return nil, err
	}
	obj, ok := clean.(map[string]any)
	if !ok {
		// Only possible when the message itself is an Any wrapping a scalar.
		return nil, fmt.Errorf("%w: got %T", ErrNotObject, clean)
	}
	return obj, nil
}

// Translate cleans a decoded value tree of Any envelopes, recursively.
//
// A map carrying the type tag plus exactly one other key is an Any around a
// single (possibly wrapped) value: the whole map is replaced by the
// translated payload, so a wrapped scalar reaches JSON consumers as a bare
// scalar. A map carrying the tag plus two or more other keys is an Any around
// a structured message: the tag is dropped and the structure kept. Maps
// without the tag, lists and scalars translate element-wise.
//
// The two-key rule fires even when the single non-tag key is a genuine
// message field; the wire representation cannot distinguish a tagged scalar
// from a tagged single-field object, and unwrapping wins.
//
// Values outside the map/list/bool/number/string algebra fail with
// ErrUnsupportedValue.
func Translate(value any) (any, error) {
	switch v := value.(type) {
	case map[string]any:
		return translateMap(v)
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			clean, err := Translate(elem)
			if err != nil {
				return nil, err
			}
			out[i] = clean
		}
		return out, nil
	case bool, float64, string:
		return v, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, value)
	}
}

func translateMap(m map[string]any) (any, error) {
	if _, tagged := m[typeKey]; tagged && len(m) == 2 {
		for key, payload := range m {
			if key == typeKey {
				continue
			}
			return Translate(payload)
		}
	}

	out := make(map[string]any, len(m))
	for key, value := range m {
		if key == typeKey {
			continue
		}
		clean, err := Translate(value)
		if err != nil {
			return nil, err
		}
		out[key] = clean
	}
	return out, nil
}
