package dynamic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func TestTranslateUnwrapsTaggedScalar(t *testing.T) {
	out, err := Translate(map[string]any{
		"@type": "type.googleapis.com/google.protobuf.Int32Value",
		"value": float64(3),
	})
	require.NoError(t, err)
	assert.Equal(t, float64(3), out)
}

func TestTranslateStripsTagFromTaggedObject(t *testing.T) {
	out, err := Translate(map[string]any{
		"@type": "type.googleapis.com/example.Point",
		"x":     float64(1),
		"y":     float64(2),
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": float64(1), "y": float64(2)}, out)
}

// A tagged map whose single non-tag key is a genuine message field is
// indistinguishable from a wrapped scalar on the wire; unwrapping always
// wins. This pins the declared ambiguity, it is not incidental.
func TestTranslateUnwrapsTaggedSingleFieldObject(t *testing.T) {
	out, err := Translate(map[string]any{
		"@type": "type.googleapis.com/example.Wrapper",
		"inner": map[string]any{"a": float64(1)},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(1)}, out)
}

func TestTranslateRecursesNestedStructures(t *testing.T) {
	input := map[string]any{
		"items": []any{
			map[string]any{"@type": "t", "value": "first"},
			map[string]any{"plain": true},
			float64(7),
		},
		"nested": map[string]any{
			"deep": map[string]any{"@type": "t", "value": float64(9)},
		},
	}
	out, err := Translate(input)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"items":  []any{"first", map[string]any{"plain": true}, float64(7)},
		"nested": map[string]any{"deep": float64(9)},
	}, out)
}

func TestTranslatePreservesListOrderAndLength(t *testing.T) {
	out, err := Translate([]any{float64(3), float64(1), float64(2)})
	require.NoError(t, err)
	assert.Equal(t, []any{float64(3), float64(1), float64(2)}, out)
}

func TestTranslateScalarsPassThrough(t *testing.T) {
	for _, v := range []any{true, false, "text", float64(0), float64(-1.5)} {
		out, err := Translate(v)
		require.NoError(t, err)
		assert.Equal(t, v, out)
	}
}

func TestTranslateRejectsUnsupportedValues(t *testing.T) {
	_, err := Translate(nil)
	assert.ErrorIs(t, err, ErrUnsupportedValue)

	_, err = Translate(map[string]any{"k": nil})
	assert.ErrorIs(t, err, ErrUnsupportedValue)

	_, err = Translate(struct{}{})
	assert.ErrorIs(t, err, ErrUnsupportedValue)
}

// holderMessage returns a dynamic message of a synthetic type with a single
// google.protobuf.Any field named "payload".
func holderMessage(t *testing.T) (*dynamicpb.Message, protoreflect.FieldDescriptor) {
	t.Helper()
	fd := &descriptorpb.FileDescriptorProto{
		Name:       proto.String("test/holder.proto"),
		Package:    proto.String("test"),
		Syntax:     proto.String("proto3"),
		Dependency: []string{"google/protobuf/any.proto"},
		MessageType: []*descriptorpb.DescriptorProto{{
			Name: proto.String("Holder"),
			Field: []*descriptorpb.FieldDescriptorProto{{
				Name:     proto.String("payload"),
				Number:   proto.Int32(1),
				Type:     descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum(),
				Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
				TypeName: proto.String(".google.protobuf.Any"),
				JsonName: proto.String("payload"),
			}},
		}},
	}
	file, err := protodesc.NewFile(fd, protoregistry.GlobalFiles)
	require.NoError(t, err)
	desc := file.Messages().ByName("Holder")
	require.NotNil(t, desc)
	msg := dynamicpb.NewMessage(desc)
	return msg, desc.Fields().ByName("payload")
}

func TestMessageToMapFlattensAnyAroundScalar(t *testing.T) {
	msg, payload := holderMessage(t)

	wrapped, err := anypb.New(wrapperspb.Int32(3))
	require.NoError(t, err)
	msg.Set(payload, protoreflect.ValueOfMessage(wrapped.ProtoReflect()))

	out, err := MessageToMap(msg)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"payload": float64(3)}, out)
}

func TestMessageToMapOmitsUnsetMessageFields(t *testing.T) {
	msg, _ := holderMessage(t)

	// An unset message field must disappear from the output, not surface as
	// null and poison the whole translation.
	out, err := MessageToMap(msg)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, out)
}

func TestMessageToMapKeepsAnyAroundStructuredMessage(t *testing.T) {
	msg, payload := holderMessage(t)

	wrapped, err := anypb.New(&errdetails.ErrorInfo{
		Reason: "QUOTA_EXCEEDED",
		Domain: "example.com",
	})
	require.NoError(t, err)
	msg.Set(payload, protoreflect.ValueOfMessage(wrapped.ProtoReflect()))

	out, err := MessageToMap(msg)
	require.NoError(t, err)

	inner, ok := out["payload"].(map[string]any)
	require.True(t, ok, "payload should stay structured, got %T", out["payload"])
	assert.Equal(t, "QUOTA_EXCEEDED", inner["reason"])
	assert.Equal(t, "example.com", inner["domain"])
	assert.NotContains(t, inner, "@type")
}

func TestMessageToMapRejectsTopLevelScalarAny(t *testing.T) {
	wrapped, err := anypb.New(wrapperspb.String("bare"))
	require.NoError(t, err)

	_, err = MessageToMap(wrapped)
	assert.ErrorIs(t, err, ErrNotObject)
}
