package serialization

import (
	"strings"
	"testing"

	"google.golang.org/protobuf/types/known/wrapperspb"
)

func TestSerializer_Marshal_JSON(t *testing.T) {
	s := NewSerializer(FormatJSON)

	type testData struct {
		Name  string `json:"name"`
		Value int    `json:"value"`
	}

	data := testData{Name: "test", Value: 42}
	bytes, err := s.Marshal(data)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if bytes[0] != byte(FormatJSON) {
		t.Fatalf("expected JSON format prefix, got %d", bytes[0])
	}
	if !strings.Contains(string(bytes[1:]), "test") {
		t.Fatal("JSON content not found in serialized data")
	}
}

func TestSerializer_Marshal_Protobuf(t *testing.T) {
	s := NewSerializer(FormatProtobuf)

	msg := wrapperspb.String("hello")
	bytes, err := s.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if bytes[0] != byte(FormatProtobuf) {
		t.Fatalf("expected protobuf format prefix, got %d", bytes[0])
	}
	if !s.IsProtobuf(bytes) {
		t.Fatal("expected IsProtobuf to report true")
	}
}

func TestSerializer_RoundTrip_Protobuf(t *testing.T) {
	s := NewSerializer(FormatProtobuf)

	original := wrapperspb.String("round trip")
	encoded, err := s.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded wrapperspb.StringValue
	if err := s.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Value != "round trip" {
		t.Fatalf("expected round-tripped value %q, got %q", "round trip", decoded.Value)
	}
}

func TestSerializer_MarshalWithFormat_NonProtoMessage(t *testing.T) {
	s := NewSerializer(FormatProtobuf)
	if _, err := s.MarshalWithFormat(map[string]string{"a": "b"}, FormatProtobuf); err == nil {
		t.Fatal("expected an error marshaling a non-proto.Message as protobuf")
	}
}

func TestSerializer_DetectFormat_LegacyUnprefixedJSON(t *testing.T) {
	s := NewSerializer(FormatJSON)
	format, payload, err := s.DetectFormat([]byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("detect format: %v", err)
	}
	if format != FormatJSON {
		t.Fatalf("expected FormatJSON, got %v", format)
	}
	if string(payload) != `{"a":1}` {
		t.Fatalf("expected payload unchanged, got %s", payload)
	}
}

func TestSerializer_DetectFormat_UnknownByte(t *testing.T) {
	s := NewSerializer(FormatJSON)
	if _, _, err := s.DetectFormat([]byte{0xFF, 0x01}); err == nil {
		t.Fatal("expected an error for an unrecognized format byte")
	}
}
