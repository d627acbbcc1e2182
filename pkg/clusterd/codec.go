package clusterd

import (
	"fmt"
	"os"
)

// Codec defines the interface for encoding/decoding control-channel messages.
type Codec interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
	Name() string
}

// CodecType represents the type of codec used on the control channel.
type CodecType string

const (
	// CodecJSON uses JSON encoding (default).
	CodecJSON CodecType = "json"
	// CodecMessagePack uses MessagePack encoding.
	CodecMessagePack CodecType = "msgpack"
)

// GetJSONCodecType returns the JSON codec implementation being used. Can be
// overridden with the CLUSTERD_JSON_CODEC environment variable for
// diagnostics; the actual backend is selected at compile time via the
// json_goccy/json_segmentio build tags.
func GetJSONCodecType() string {
	if codecType := os.Getenv("CLUSTERD_JSON_CODEC"); codecType != "" {
		return codecType
	}
	return (&JSONCodec{}).Name()
}

// NewCodec creates a new codec based on the type.
func NewCodec(codecType CodecType) (Codec, error) {
	switch codecType {
	case CodecJSON, "":
		return &JSONCodec{}, nil
	case CodecMessagePack:
		return &MessagePackCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec type: %s", codecType)
	}
}
