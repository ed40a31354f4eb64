package codec

import "fmt"

type CodecType byte

const (
	CodecTypeJSON CodecType = 0
)

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType // 0=JSON
}

// GetCodec returns the codec for a frame's codec byte.
func GetCodec(codecType CodecType) (Codec, error) {
	switch codecType {
	case CodecTypeJSON:
		return &JSONCodec{}, nil
	default:
		return nil, fmt.Errorf("unsupported codec type: %d", codecType)
	}
}
