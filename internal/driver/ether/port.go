package ether

import (
	"errors"
	"io"
	"time"

	"github.com/google/gopacket"
)

// ErrTimeout is returned by ReadPacketData when no frame arrived within the
// port's poll interval. Readers retry on it.
var ErrTimeout = errors.New("ether: read timeout")

// Port moves raw Ethernet frames to and from a link.
type Port interface {
	gopacket.PacketDataSource
	WritePacketData(data []byte) error
	Close() error
}

const (
	pipeDepth        = 1024
	pipePollInterval = 50 * time.Millisecond
)

// pipeEnd is one side of an in-memory link.
type pipeEnd struct {
	rx   chan []byte
	tx   chan []byte
	done chan struct{}
	peer *pipeEnd
}

// Pipe returns two connected ports; a frame written to one is read from the
// other. Frames written after the peer is closed are lost, as on a wire.
func Pipe() (Port, Port) {
	ab := make(chan []byte, pipeDepth)
	ba := make(chan []byte, pipeDepth)
	a := &pipeEnd{rx: ba, tx: ab, done: make(chan struct{})}
	b := &pipeEnd{rx: ab, tx: ba, done: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

func (p *pipeEnd) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	timer := time.NewTimer(pipePollInterval)
	defer timer.Stop()

	select {
	case <-p.done:
		return nil, gopacket.CaptureInfo{}, io.EOF
	default:
	}

	select {
	case data := <-p.rx:
		ci := gopacket.CaptureInfo{
			Timestamp:     time.Now(),
			CaptureLength: len(data),
			Length:        len(data),
		}
		return data, ci, nil
	case <-p.done:
		return nil, gopacket.CaptureInfo{}, io.EOF
	case <-timer.C:
		return nil, gopacket.CaptureInfo{}, ErrTimeout
	}
}

func (p *pipeEnd) WritePacketData(data []byte) error {
	select {
	case <-p.done:
		return io.ErrClosedPipe
	default:
	}

	frame := append([]byte(nil), data...)
	select {
	case p.tx <- frame:
		return nil
	case <-p.done:
		return io.ErrClosedPipe
	case <-p.peer.done:
		return nil
	}
}

func (p *pipeEnd) Close() error {
	select {
	case <-p.done:
		return io.ErrClosedPipe
	default:
		close(p.done)
		return nil
	}
}
