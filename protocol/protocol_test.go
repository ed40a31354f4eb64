package protocol

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	body := []byte(`{"method":"vm.discover"}`)
	header := Header{
		CodecType: CodecTypeJSON,
		MsgType:   MsgTypeRequest,
		Seq:       12345,
		BodyLen:   uint32(len(body)),
	}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &header, body))
	assert.Equal(t, HeaderSize+len(body), buf.Len())

	decodedHeader, decodedBody, err := Decode(&buf)
	require.NoError(t, err)

	assert.Equal(t, header, *decodedHeader)
	assert.Equal(t, body, decodedBody)
}

func TestEncodeLengthMismatch(t *testing.T) {
	header := Header{MsgType: MsgTypeRequest, BodyLen: 3}

	var buf bytes.Buffer
	err := Encode(&buf, &header, []byte("hello"))
	require.Error(t, err)
	assert.Zero(t, buf.Len(), "nothing may be written for a rejected frame")
}

func TestDecodeHeartbeat(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &Header{MsgType: MsgTypeHeartbeat}, nil))

	h, body, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, MsgTypeHeartbeat, h.MsgType)
	assert.Empty(t, body)
}

func TestDecodeRejectsBadHeaders(t *testing.T) {
	valid := func() []byte {
		return []byte{MagicNumber, MagicByte2, MagicByte3, Version, CodecTypeJSON, byte(MsgTypeReply), 0, 0, 0, 1, 0, 0, 0, 0}
	}

	cases := []struct {
		name   string
		mutate func([]byte)
		want   string
	}{
		{"magic", func(b []byte) { b[0] = 0x00 }, "invalid magic number"},
		{"version", func(b []byte) { b[3] = 0xFF }, "unsupported version"},
		{"codec", func(b []byte) { b[4] = 9 }, "unsupported codec type"},
		{"msg type", func(b []byte) { b[5] = 9 }, "unsupported message type"},
		{"body too large", func(b []byte) { binary.BigEndian.PutUint32(b[10:14], MaxBodyLen+1) }, "body too large"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			frame := valid()
			tc.mutate(frame)

			_, _, err := Decode(bytes.NewReader(frame))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestDecodeTruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &Header{MsgType: MsgTypeReply, BodyLen: 5}, []byte("hello")))

	truncated := buf.Bytes()[:buf.Len()-2]
	_, _, err := Decode(bytes.NewReader(truncated))
	assert.Error(t, err)
}
