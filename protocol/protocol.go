// Package protocol implements the frame format spoken by the "frame" transport.
//
// A request/reply channel over plain TCP needs message boundaries, so every
// message travels as a fixed 14-byte header followed by the body. The
// receiver reads the header, checks it, then reads exactly BodyLen bytes.
//
// Frame format:
//
//	0      3  4  5  6         10        14
//	┌──────┬──┬──┬──┬─────────┬─────────┬───────────────┐
//	│magic │v │ct│mt│   seq   │ bodyLen │    body ...    │
//	│ vpf  │01│  │  │ uint32  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴─────────┴─────────┴───────────────┘
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Magic bytes "vpf" (vPoller frame) reject peers that speak something else,
// e.g. a ZeroMQ endpoint configured with the wrong transport.
const (
	MagicNumber byte = 0x76 // 'v'
	MagicByte2  byte = 0x70 // 'p'
	MagicByte3  byte = 0x66 // 'f'
	Version     byte = 0x01
	HeaderSize  int  = 14 // 3 (magic) + 1 (version) + 1 (codec) + 1 (msgType) + 4 (seq) + 4 (bodyLen)

	// MaxBodyLen bounds the allocation a header can ask for.
	MaxBodyLen uint32 = 16 << 20
)

type MsgType byte

const (
	MsgTypeRequest   MsgType = 0 // Client → worker task
	MsgTypeReply     MsgType = 1 // Worker → client result
	MsgTypeHeartbeat MsgType = 2 // Keepalive, no body
)

// CodecTypeJSON mirrors codec.CodecTypeJSON; protocol stays import-free of codec.
const CodecTypeJSON byte = 0

// Header is the fixed 14-byte frame header.
type Header struct {
	CodecType byte
	MsgType   MsgType
	Seq       uint32 // A reply carries the seq of the request it answers
	BodyLen   uint32
}

// Encode writes header and body to w as one buffer, so a frame is never
// split across two writes.
func Encode(w io.Writer, h *Header, body []byte) error {
	if uint32(len(body)) != h.BodyLen {
		return fmt.Errorf("body length %d does not match header %d", len(body), h.BodyLen)
	}
	if h.BodyLen > MaxBodyLen {
		return fmt.Errorf("body too large: %d bytes", h.BodyLen)
	}

	buf := make([]byte, HeaderSize+len(body))
	buf[0], buf[1], buf[2] = MagicNumber, MagicByte2, MagicByte3
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.MsgType)
	binary.BigEndian.PutUint32(buf[6:10], h.Seq)
	binary.BigEndian.PutUint32(buf[10:14], h.BodyLen)
	copy(buf[HeaderSize:], body)

	_, err := w.Write(buf)
	return err
}

// Decode reads one complete frame from r.
func Decode(r io.Reader) (*Header, []byte, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, nil, err
	}

	if hdr[0] != MagicNumber || hdr[1] != MagicByte2 || hdr[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("invalid magic number: %x", hdr[0:3])
	}
	if hdr[3] != Version {
		return nil, nil, fmt.Errorf("unsupported version: %d", hdr[3])
	}
	if hdr[4] != CodecTypeJSON {
		return nil, nil, fmt.Errorf("unsupported codec type: %d", hdr[4])
	}
	msgType := MsgType(hdr[5])
	if msgType != MsgTypeRequest && msgType != MsgTypeReply && msgType != MsgTypeHeartbeat {
		return nil, nil, fmt.Errorf("unsupported message type: %d", hdr[5])
	}

	h := &Header{
		CodecType: hdr[4],
		MsgType:   msgType,
		Seq:       binary.BigEndian.Uint32(hdr[6:10]),
		BodyLen:   binary.BigEndian.Uint32(hdr[10:14]),
	}
	if h.BodyLen > MaxBodyLen {
		return nil, nil, fmt.Errorf("body too large: %d bytes", h.BodyLen)
	}

	body := make([]byte, h.BodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}
	return h, body, nil
}
