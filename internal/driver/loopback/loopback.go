// Package loopback implements a device that delivers every transmitted frame
// back to its own stack.
package loopback

import (
	"fmt"

	"firestige.xyz/ustack/internal/core"
	"firestige.xyz/ustack/internal/log"
	"firestige.xyz/ustack/internal/stack"
)

// MTU is the largest payload a loopback device accepts.
const MTU = 65535

// Receiver accepts frames for protocol dispatch.
type Receiver interface {
	Input(typ core.EtherType, data []byte, dev *stack.Device) error
}

// Driver feeds transmitted frames into a Receiver.
type Driver struct {
	rx  Receiver
	log log.Logger
}

// NewDriver returns a loopback driver delivering to rx.
func NewDriver(rx Receiver) *Driver {
	return &Driver{
		rx:  rx,
		log: log.GetLogger().WithField("driver", "loopback"),
	}
}

// Init creates a loopback device and registers it with s.
func Init(s *stack.Stack) (*stack.Device, error) {
	dev := stack.NewDevice()
	dev.Type = stack.DeviceTypeLoopback
	dev.MTU = MTU
	dev.HeaderLen = 0
	dev.AddrLen = 0
	dev.Flags = stack.FlagLoopback
	dev.Driver = NewDriver(s)

	if err := s.RegisterDevice(dev); err != nil {
		return nil, fmt.Errorf("register loopback: %w", err)
	}
	return dev, nil
}

// Transmit implements stack.Driver.
func (d *Driver) Transmit(dev *stack.Device, typ core.EtherType, data []byte, dst []byte) error {
	d.log.Debugf("dev=%s, type=%s, len=%d", dev, typ, len(data))
	return d.rx.Input(typ, data, dev)
}
