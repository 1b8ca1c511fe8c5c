package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Packets are atomic on the wire: we prefix each packet with a 4-byte length
// (big-endian) and then the packet body. Inside the packet we serialize a
// header followed by whole frames; frames are never split across packets.

// PacketLengthPrefix is the size of the length that precedes every packet body.
const PacketLengthPrefix = 4

// MaxFramesPerPacket bounds the frame count read from the wire.
const MaxFramesPerPacket = 10000

// MaxPacketSize is the largest packet body accepted from the wire.
const MaxPacketSize = 1 << 20

// MaxPacketOverhead bounds the bytes a packet body adds around its frames.
const MaxPacketOverhead = 2 * binary.MaxVarintLen64

// Header carries per-path packet numbering.
type Header struct {
	PacketNum uint64
}

// Packet is a header plus the frames it carries.
type Packet struct {
	Header Header
	Frames []*Frame
}

func (h *Header) Serialize() []byte {
	return binary.AppendUvarint(nil, h.PacketNum)
}

func DeserializeHeader(r *bytes.Reader) (*Header, error) {
	packetNum, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	return &Header{PacketNum: packetNum}, nil
}

// Serialize returns the packet body, without the length prefix.
func (p *Packet) Serialize() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Write(p.Header.Serialize())
	buf.Write(binary.AppendUvarint(nil, uint64(len(p.Frames))))
	for _, f := range p.Frames {
		if err := EncodeFrame(buf, f); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// SerializedLen is the body size Serialize would produce.
func (p *Packet) SerializedLen() int {
	n := uvarintLen(p.Header.PacketNum) + uvarintLen(uint64(len(p.Frames)))
	for _, f := range p.Frames {
		n += f.EncodedLen()
	}
	return n
}

// DeserializePacket parses a packet body (without the length prefix).
func DeserializePacket(data []byte) (*Packet, error) {
	r := bytes.NewReader(data)
	hdr, err := DeserializeHeader(r)
	if err != nil {
		return nil, NewMalformedPacketError("bad packet header", err)
	}
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, NewMalformedPacketError("bad frame count", err)
	}
	if count > MaxFramesPerPacket {
		return nil, NewMalformedPacketError(fmt.Sprintf("packet contains unreasonable number of frames: %d", count), nil)
	}

	frames := make([]*Frame, 0, count)
	for i := uint64(0); i < count; i++ {
		f, err := DecodeFrame(r)
		if err != nil {
			return nil, NewMalformedPacketError(fmt.Sprintf("truncated frame %d/%d", i+1, count), err)
		}
		frames = append(frames, f)
	}
	if r.Len() != 0 {
		return nil, NewMalformedPacketError(fmt.Sprintf("%d trailing bytes after frames", r.Len()), nil)
	}
	return &Packet{Header: *hdr, Frames: frames}, nil
}

// WritePacket writes the length-prefixed packet to w in a single Write call.
func WritePacket(w io.Writer, p *Packet) error {
	body, err := p.Serialize()
	if err != nil {
		return err
	}
	out := make([]byte, PacketLengthPrefix, PacketLengthPrefix+len(body))
	binary.BigEndian.PutUint32(out, uint32(len(body)))
	out = append(out, body...)
	_, err = w.Write(out)
	return err
}

func uvarintLen(v uint64) int {
	var tmp [binary.MaxVarintLen64]byte
	return binary.PutUvarint(tmp[:], v)
}
