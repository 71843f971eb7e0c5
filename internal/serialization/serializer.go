// Package serialization provides a format-detecting payload codec so
// producers can pass either plain JSON or a protobuf message as a job
// argument. A one-byte prefix distinguishes the two on the wire.
package serialization

import (
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"
)

// PayloadFormat is the serialization format used for a payload.
type PayloadFormat byte

const (
	// FormatJSON is plain JSON, the default.
	FormatJSON PayloadFormat = 0x00
	// FormatProtobuf is binary protobuf.
	FormatProtobuf PayloadFormat = 0x01
)

var (
	ErrUnknownFormat   = errors.New("unknown payload format")
	ErrMarshalFailed   = errors.New("failed to marshal payload")
	ErrUnmarshalFailed = errors.New("failed to unmarshal payload")
)

// Serializer marshals and unmarshals payloads, auto-detecting format
// on the way back in.
type Serializer struct {
	DefaultFormat PayloadFormat
}

// NewSerializer builds a serializer defaulting to defaultFormat.
func NewSerializer(defaultFormat PayloadFormat) *Serializer {
	return &Serializer{DefaultFormat: defaultFormat}
}

// Marshal serializes v using the serializer's default format, with a
// one-byte format prefix.
func (s *Serializer) Marshal(v interface{}) ([]byte, error) {
	return s.MarshalWithFormat(v, s.DefaultFormat)
}

// MarshalWithFormat serializes v using an explicit format.
func (s *Serializer) MarshalWithFormat(v interface{}, format PayloadFormat) ([]byte, error) {
	var data []byte
	var err error

	switch format {
	case FormatJSON:
		data, err = json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w (JSON): %v", ErrMarshalFailed, err)
		}
	case FormatProtobuf:
		msg, ok := v.(proto.Message)
		if !ok {
			return nil, fmt.Errorf("%w: value does not implement proto.Message", ErrMarshalFailed)
		}
		data, err = proto.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("%w (Protobuf): %v", ErrMarshalFailed, err)
		}
	default:
		return nil, fmt.Errorf("%w: format %d", ErrUnknownFormat, format)
	}

	result := make([]byte, len(data)+1)
	result[0] = byte(format)
	copy(result[1:], data)
	return result, nil
}

// Unmarshal deserializes data into v, detecting the format from its
// prefix byte.
func (s *Serializer) Unmarshal(data []byte, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty payload", ErrUnmarshalFailed)
	}
	format, payload, err := s.DetectFormat(data)
	if err != nil {
		return err
	}
	return s.UnmarshalWithFormat(payload, v, format)
}

// UnmarshalWithFormat deserializes data into v using an explicit format.
func (s *Serializer) UnmarshalWithFormat(data []byte, v interface{}, format PayloadFormat) error {
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("%w (JSON): %v", ErrUnmarshalFailed, err)
		}
		return nil
	case FormatProtobuf:
		msg, ok := v.(proto.Message)
		if !ok {
			return fmt.Errorf("%w: value does not implement proto.Message", ErrUnmarshalFailed)
		}
		if err := proto.Unmarshal(data, msg); err != nil {
			return fmt.Errorf("%w (Protobuf): %v", ErrUnmarshalFailed, err)
		}
		return nil
	default:
		return fmt.Errorf("%w: format %d", ErrUnknownFormat, format)
	}
}

// DetectFormat reads the format prefix off data, returning the format
// and the remaining payload. Unprefixed JSON (starting with '{' or
// '[') is accepted for compatibility with callers that never adopted
// the prefix.
func (s *Serializer) DetectFormat(data []byte) (PayloadFormat, []byte, error) {
	if len(data) == 0 {
		return FormatJSON, nil, fmt.Errorf("%w: empty payload", ErrUnknownFormat)
	}

	format := PayloadFormat(data[0])
	switch format {
	case FormatJSON, FormatProtobuf:
		if len(data) < 2 {
			return format, nil, fmt.Errorf("%w: payload too short", ErrUnmarshalFailed)
		}
		return format, data[1:], nil
	default:
		if data[0] == '{' || data[0] == '[' {
			return FormatJSON, data, nil
		}
		return FormatJSON, data, fmt.Errorf("%w: unknown format byte 0x%02X", ErrUnknownFormat, data[0])
	}
}

// IsProtobuf reports whether data carries the protobuf format prefix.
func (s *Serializer) IsProtobuf(data []byte) bool {
	return len(data) > 0 && PayloadFormat(data[0]) == FormatProtobuf
}
