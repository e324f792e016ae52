//go:build linux

package ether

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/afpacket"
	"golang.org/x/net/bpf"

	"firestige.xyz/ustack/internal/core"
)

// afpacketPort is a Port on a host interface through a TPACKET_V3 ring.
type afpacketPort struct {
	handle *afpacket.TPacket
}

// OpenAFPacket opens a raw socket on opts.Interface that only sees ARP and
// IPv4 frames.
func OpenAFPacket(opts *Options) (Port, error) {
	if opts.Interface == "" {
		return nil, fmt.Errorf("afpacket: interface required: %w", core.ErrConfigInvalid)
	}

	frameSize, blockSize, numBlocks, err := ringSize(opts.BufferSizeMB, opts.SnapLen, os.Getpagesize())
	if err != nil {
		return nil, fmt.Errorf("afpacket: %w: %w", err, core.ErrConfigInvalid)
	}

	handle, err := afpacket.NewTPacket(
		afpacket.OptInterface(opts.Interface),
		afpacket.OptFrameSize(frameSize),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(numBlocks),
		afpacket.OptPollTimeout(opts.PollTimeout),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return nil, fmt.Errorf("afpacket %s: %w", opts.Interface, err)
	}

	raw, err := bpf.Assemble(etherTypeFilter(core.EtherTypeARP, core.EtherTypeIPv4))
	if err != nil {
		handle.Close()
		return nil, fmt.Errorf("afpacket: assemble filter: %w", err)
	}
	if err := handle.SetBPF(raw); err != nil {
		handle.Close()
		return nil, fmt.Errorf("afpacket: set filter: %w", err)
	}

	return &afpacketPort{handle: handle}, nil
}

func (p *afpacketPort) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := p.handle.ReadPacketData()
	if errors.Is(err, afpacket.ErrTimeout) {
		return nil, ci, ErrTimeout
	}
	return data, ci, err
}

func (p *afpacketPort) WritePacketData(data []byte) error {
	return p.handle.WritePacketData(data)
}

func (p *afpacketPort) Close() error {
	p.handle.Close()
	return nil
}
