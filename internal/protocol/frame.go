package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// FrameType indicates the purpose of a frame inside a packet.
type FrameType uint8

const (
	FrameTypeData FrameType = 0x1
	// FrameTypeFin ends a stream: Seq carries the number of data chunks sent.
	FrameTypeFin FrameType = 0x2
	// Control frames
	FrameTypeHandshake    FrameType = 0x4
	FrameTypeHandshakeAck FrameType = 0x5
	FrameTypeClose        FrameType = 0x6
)

func (t FrameType) String() string {
	switch t {
	case FrameTypeData:
		return "DATA"
	case FrameTypeFin:
		return "FIN"
	case FrameTypeHandshake:
		return "HANDSHAKE"
	case FrameTypeHandshakeAck:
		return "HANDSHAKE_ACK"
	case FrameTypeClose:
		return "CLOSE"
	default:
		return fmt.Sprintf("UNKNOWN(0x%x)", uint8(t))
	}
}

// ControlStreamID is reserved for session level frames.
const ControlStreamID StreamID = 0

// FrameHeaderSize is the encoded size of a frame without its payload.
const FrameHeaderSize = 1 + 8 + 8 + 4

// Frame is the unit of logical data delivered to a destination StreamID.
// For data frames Seq is the chunk index within the stream, starting at 0.
type Frame struct {
	Type     FrameType
	StreamID StreamID
	Seq      uint64
	Payload  []byte
}

// EncodedLen returns the number of bytes EncodeFrame writes for f.
func (f *Frame) EncodedLen() int {
	return FrameHeaderSize + len(f.Payload)
}

// EncodeFrame writes a frame into w in the following format:
// 1 byte  - frame type
// 8 bytes - streamID (uint64)
// 8 bytes - seq (uint64)
// 4 bytes - payload length (uint32)
// N bytes - payload
func EncodeFrame(w io.Writer, f *Frame) error {
	var hdr [FrameHeaderSize]byte
	hdr[0] = byte(f.Type)
	binary.BigEndian.PutUint64(hdr[1:9], uint64(f.StreamID))
	binary.BigEndian.PutUint64(hdr[9:17], f.Seq)
	binary.BigEndian.PutUint32(hdr[17:21], uint32(len(f.Payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.Write(f.Payload); err != nil {
		return err
	}
	return nil
}

// DecodeFrame reads one frame from r. Caller must ensure stream contains a full frame.
func DecodeFrame(r io.Reader) (*Frame, error) {
	var hdr [FrameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	l := binary.BigEndian.Uint32(hdr[17:21])
	if l > MaxPacketSize {
		return nil, NewFrameTooLargeError(int(l), MaxPacketSize)
	}
	payload := make([]byte, l)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return &Frame{
		Type:     FrameType(hdr[0]),
		StreamID: StreamID(binary.BigEndian.Uint64(hdr[1:9])),
		Seq:      binary.BigEndian.Uint64(hdr[9:17]),
		Payload:  payload,
	}, nil
}

// HandshakePayload is carried by the first frame of every path.
type HandshakePayload struct {
	SessionID SessionID
	PathIndex uint16
}

// EncodeHandshakePayload encodes the payload of a Handshake frame
// Format: session id (16 bytes), path index (uint16)
func EncodeHandshakePayload(p HandshakePayload) []byte {
	var buf bytes.Buffer
	buf.Write(p.SessionID[:])
	binary.Write(&buf, binary.BigEndian, p.PathIndex)
	return buf.Bytes()
}

// DecodeHandshakePayload decodes the payload of a Handshake frame.
func DecodeHandshakePayload(b []byte) (*HandshakePayload, error) {
	buf := bytes.NewReader(b)
	var p HandshakePayload
	if _, err := io.ReadFull(buf, p.SessionID[:]); err != nil {
		return nil, err
	}
	if err := binary.Read(buf, binary.BigEndian, &p.PathIndex); err != nil {
		return nil, err
	}
	if p.SessionID.IsZero() {
		return nil, fmt.Errorf("handshake carries a nil session id")
	}
	return &p, nil
}

// NewDataFrame builds a data frame for chunk seq of a stream.
func NewDataFrame(streamID StreamID, seq uint64, payload []byte) *Frame {
	return &Frame{Type: FrameTypeData, StreamID: streamID, Seq: seq, Payload: payload}
}

// NewFinFrame announces that a stream carried exactly total data chunks.
func NewFinFrame(streamID StreamID, total uint64) *Frame {
	return &Frame{Type: FrameTypeFin, StreamID: streamID, Seq: total}
}

// NewCloseFrame tells the peer the session is going away.
func NewCloseFrame(code uint64, reason string) *Frame {
	return &Frame{Type: FrameTypeClose, StreamID: ControlStreamID, Seq: code, Payload: []byte(reason)}
}
