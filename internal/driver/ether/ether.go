// Package ether implements an Ethernet device driver on top of a Port.
//
// Transmit frames the payload with an Ethernet II header and writes it to the
// port. While the device is up a reader goroutine decodes incoming frames,
// keeps those addressed to the device or to broadcast, and hands the payload
// to the stack.
package ether

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/sourcegraph/conc"

	"firestige.xyz/ustack/internal/core"
	"firestige.xyz/ustack/internal/log"
	"firestige.xyz/ustack/internal/metrics"
	"firestige.xyz/ustack/internal/stack"
)

// Receiver accepts frames for protocol dispatch.
type Receiver interface {
	Input(typ core.EtherType, data []byte, dev *stack.Device) error
}

// Driver drives one Ethernet device over a Port.
type Driver struct {
	rx          Receiver
	port        Port
	promiscuous bool

	cancel context.CancelFunc
	wg     *conc.WaitGroup
	log    log.Logger
}

// NewDriver returns a driver reading from and writing to port.
func NewDriver(rx Receiver, port Port, promiscuous bool) *Driver {
	return &Driver{
		rx:          rx,
		port:        port,
		promiscuous: promiscuous,
		log:         log.GetLogger().WithField("driver", "ether"),
	}
}

// Setup fills in the Ethernet link parameters of dev.
func Setup(dev *stack.Device, addr core.HWAddr, mtu int) {
	dev.Type = stack.DeviceTypeEthernet
	dev.MTU = mtu
	dev.Flags = stack.FlagBroadcast | stack.FlagNeedARP
	dev.HeaderLen = HeaderLen
	dev.AddrLen = core.HWAddrLen
	dev.Addr = addr
	dev.Broadcast = core.BroadcastHWAddr
}

// Init creates an Ethernet device on port and registers it with s.
func Init(s *stack.Stack, port Port, opts *Options) (*stack.Device, error) {
	addr, err := opts.HardwareAddr()
	if err != nil {
		return nil, err
	}

	dev := stack.NewDevice()
	Setup(dev, addr, opts.MTU)
	dev.Driver = NewDriver(s, port, opts.Promiscuous)

	if err := s.RegisterDevice(dev); err != nil {
		return nil, fmt.Errorf("register ether: %w", err)
	}
	return dev, nil
}

// Open starts the reader goroutine.
func (d *Driver) Open(dev *stack.Device) error {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.wg = conc.NewWaitGroup()
	d.wg.Go(func() {
		d.readLoop(ctx, dev)
	})
	d.log.Infof("reader started, dev=%s, addr=%s", dev, dev.Addr)
	return nil
}

// Close stops the reader goroutine and waits for it. The port stays open so
// the device can be opened again; its owner closes it.
func (d *Driver) Close(dev *stack.Device) error {
	if d.cancel != nil {
		d.cancel()
		d.wg.Wait()
		d.cancel = nil
	}
	d.log.Infof("reader stopped, dev=%s", dev)
	return nil
}

// Transmit implements stack.Driver. A nil dst is sent to broadcast.
func (d *Driver) Transmit(dev *stack.Device, typ core.EtherType, data []byte, dst []byte) error {
	dstMAC := net.HardwareAddr(dev.Broadcast[:])
	if dst != nil {
		if len(dst) != core.HWAddrLen {
			return fmt.Errorf("destination length %d: %w", len(dst), core.ErrUnsupported)
		}
		dstMAC = net.HardwareAddr(dst)
	}

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr(dev.Addr[:]),
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetType(typ),
	}
	payload := data
	if pad := MinFrameLen - HeaderLen - len(data); pad > 0 {
		payload = make([]byte, len(data)+pad)
		copy(payload, data)
	}

	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, eth, gopacket.Payload(payload)); err != nil {
		return fmt.Errorf("serialize ethernet: %w", err)
	}

	d.log.Debugf("dev=%s, type=%s, dst=%s, len=%d", dev, typ, dstMAC, len(buf.Bytes()))
	return d.port.WritePacketData(buf.Bytes())
}

func (d *Driver) readLoop(ctx context.Context, dev *stack.Device) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		data, _, err := d.port.ReadPacketData()
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			d.log.WithError(err).Warnf("read failure, dev=%s", dev)
			continue
		}
		d.input(data, dev)
	}
}

func (d *Driver) input(data []byte, dev *stack.Device) {
	var eth layers.Ethernet
	if err := eth.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		metrics.FramesDroppedTotal.WithLabelValues("ether_malformed").Inc()
		d.log.WithError(err).Debugf("decode failure, dev=%s, len=%d", dev, len(data))
		return
	}

	var dst core.HWAddr
	copy(dst[:], eth.DstMAC)
	if !d.promiscuous && dst != dev.Addr && dst != dev.Broadcast {
		return
	}

	typ := core.EtherType(eth.EthernetType)
	d.log.Debugf("dev=%s, type=%s, src=%s, len=%d", dev, typ, eth.SrcMAC, len(eth.Payload))
	if err := d.rx.Input(typ, eth.Payload, dev); err != nil {
		d.log.WithError(err).Errorf("input failure, dev=%s", dev)
	}
}
