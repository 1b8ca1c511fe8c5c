package transport

import (
	"sync/atomic"

	"github.com/s-anzie/reorder/internal/logger"
	"github.com/s-anzie/reorder/internal/protocol"
)

// PackerStats counts the packer's activity.
type PackerStats struct {
	FramesSent   int64
	PacketsSent  int64
	WriteFailure int64
}

// Packer spreads frames over the paths of a session and groups the frames
// bound to the same path into packets of at most maxPacketSize bytes.
// Frames are never split across packets.
type Packer struct {
	paths         *PathManager
	maxPacketSize int
	logger        logger.Logger

	framesSent   int64 // atomic
	packetsSent  int64 // atomic
	writeFailure int64 // atomic
}

func NewPacker(paths *PathManager, maxPacketSize int, lg logger.Logger) *Packer {
	return &Packer{
		paths:         paths,
		maxPacketSize: maxPacketSize,
		logger:        lg.WithComponent("PACKER"),
	}
}

// SubmitFrame sends a single frame on the next path.
func (p *Packer) SubmitFrame(f *protocol.Frame) error {
	return p.SubmitFrames([]*protocol.Frame{f})
}

// SubmitFrames assigns each frame to a path in round-robin order, then writes
// the frames of each path as few packets as the size limit allows. Frames
// keep their relative order within a path.
func (p *Packer) SubmitFrames(frames []*protocol.Frame) error {
	for _, f := range frames {
		if size := f.EncodedLen() + protocol.MaxPacketOverhead; size > p.maxPacketSize {
			return protocol.NewFrameTooLargeError(size, p.maxPacketSize)
		}
	}

	type batch struct {
		path   Path
		frames []*protocol.Frame
	}
	var batches []*batch
	byPath := make(map[protocol.PathID]*batch)
	for _, f := range frames {
		path, err := p.paths.Next()
		if err != nil {
			return err
		}
		b, ok := byPath[path.PathID()]
		if !ok {
			b = &batch{path: path}
			byPath[path.PathID()] = b
			batches = append(batches, b)
		}
		b.frames = append(b.frames, f)
	}

	for _, b := range batches {
		if err := p.writeWithFailover(b.path, b.frames); err != nil {
			return err
		}
	}
	return nil
}

// writeWithFailover writes frames on path; if the path fails it is dropped
// from the manager and the frames move to the next live path.
func (p *Packer) writeWithFailover(path Path, frames []*protocol.Frame) error {
	for {
		err := p.writeFrames(path, frames)
		if err == nil {
			return nil
		}
		atomic.AddInt64(&p.writeFailure, 1)
		p.logger.Warn("Write failed, dropping path", "pathID", path.PathID(), "err", err)
		p.paths.RemovePath(path.PathID())
		path.Close()

		next, nerr := p.paths.Next()
		if nerr != nil {
			return err
		}
		path = next
	}
}

func (p *Packer) writeFrames(path Path, frames []*protocol.Frame) error {
	start := 0
	size := protocol.MaxPacketOverhead
	for i, f := range frames {
		if i > start && size+f.EncodedLen() > p.maxPacketSize {
			if err := p.flush(path, frames[start:i]); err != nil {
				return err
			}
			start = i
			size = protocol.MaxPacketOverhead
		}
		size += f.EncodedLen()
	}
	return p.flush(path, frames[start:])
}

func (p *Packer) flush(path Path, frames []*protocol.Frame) error {
	if len(frames) == 0 {
		return nil
	}
	if err := path.WritePacket(frames); err != nil {
		return err
	}
	atomic.AddInt64(&p.packetsSent, 1)
	atomic.AddInt64(&p.framesSent, int64(len(frames)))
	return nil
}

// Broadcast writes frames once on every live path, ignoring failures.
// It is used for session level frames such as Close.
func (p *Packer) Broadcast(frames []*protocol.Frame) int {
	sent := 0
	for _, path := range p.paths.Paths() {
		if err := path.WritePacket(frames); err != nil {
			p.logger.Debug("Broadcast failed on path", "pathID", path.PathID(), "err", err)
			continue
		}
		sent++
	}
	return sent
}

func (p *Packer) Stats() PackerStats {
	return PackerStats{
		FramesSent:   atomic.LoadInt64(&p.framesSent),
		PacketsSent:  atomic.LoadInt64(&p.packetsSent),
		WriteFailure: atomic.LoadInt64(&p.writeFailure),
	}
}
