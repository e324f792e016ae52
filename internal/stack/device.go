package stack

import (
	"encoding/hex"
	"fmt"

	"github.com/tevino/abool"

	"firestige.xyz/ustack/internal/core"
	"firestige.xyz/ustack/internal/log"
	"firestige.xyz/ustack/internal/metrics"
)

// DeviceType is the link type of a device.
type DeviceType uint16

const (
	DeviceTypeNull     DeviceType = 0x0000
	DeviceTypeLoopback DeviceType = 0x0001
	DeviceTypeEthernet DeviceType = 0x0002
)

func (t DeviceType) String() string {
	switch t {
	case DeviceTypeNull:
		return "null"
	case DeviceTypeLoopback:
		return "loopback"
	case DeviceTypeEthernet:
		return "ethernet"
	default:
		return fmt.Sprintf("0x%04x", uint16(t))
	}
}

// Device flags.
const (
	FlagLoopback  uint16 = 0x0010
	FlagBroadcast uint16 = 0x0020
	FlagP2P       uint16 = 0x0040
	FlagNeedARP   uint16 = 0x0100
)

// Driver transmits frames for a device. Transmit is mandatory; a driver may
// also implement Opener and Closer.
type Driver interface {
	Transmit(dev *Device, typ core.EtherType, data []byte, dst []byte) error
}

// Opener is implemented by drivers that need work when the device comes up.
type Opener interface {
	Open(dev *Device) error
}

// Closer is implemented by drivers that need work when the device goes down.
type Closer interface {
	Close(dev *Device) error
}

// Device is a network device registered with a Stack. Name and Index are
// assigned by RegisterDevice; the rest is filled in by the driver.
type Device struct {
	Index     int
	Name      string
	Type      DeviceType
	MTU       int
	Flags     uint16
	HeaderLen int
	AddrLen   int
	Addr      core.HWAddr
	Broadcast core.HWAddr
	Driver    Driver
	Priv      any

	up     abool.AtomicBool
	ifaces []Iface
}

// NewDevice returns a zeroed device record.
func NewDevice() *Device {
	return &Device{}
}

func (d *Device) String() string {
	return d.Name
}

// IsUp reports whether the device is opened.
func (d *Device) IsUp() bool {
	return d.up.IsSet()
}

func (d *Device) state() string {
	if d.IsUp() {
		return "up"
	}
	return "down"
}

// Open brings the device up, calling the driver's Open if it has one.
func (d *Device) Open() error {
	logger := log.GetLogger().WithField("dev", d.Name)
	if d.IsUp() {
		logger.Error("already opened")
		return fmt.Errorf("dev=%s: %w", d.Name, core.ErrDeviceUp)
	}

	if o, ok := d.Driver.(Opener); ok {
		if err := o.Open(d); err != nil {
			logger.WithError(err).Error("driver open failure")
			return fmt.Errorf("dev=%s: open: %w", d.Name, err)
		}
	}

	d.up.Set()
	logger.Infof("state=%s", d.state())
	return nil
}

// Close brings the device down, calling the driver's Close if it has one.
// Frames already queued from this device are still dispatched.
func (d *Device) Close() error {
	logger := log.GetLogger().WithField("dev", d.Name)
	if !d.IsUp() {
		logger.Error("not opened")
		return fmt.Errorf("dev=%s: %w", d.Name, core.ErrDeviceDown)
	}

	if c, ok := d.Driver.(Closer); ok {
		if err := c.Close(d); err != nil {
			logger.WithError(err).Error("driver close failure")
			return fmt.Errorf("dev=%s: close: %w", d.Name, err)
		}
	}

	d.up.UnSet()
	logger.Infof("state=%s", d.state())
	return nil
}

// Transmit hands the whole payload to the driver or fails; there is no
// partial transmit. dst is a link-layer destination hint and may be nil.
func (d *Device) Transmit(typ core.EtherType, data []byte, dst []byte) error {
	logger := log.GetLogger().WithField("dev", d.Name)
	if !d.IsUp() {
		logger.Error("not opened")
		metrics.DeviceTxTotal.WithLabelValues(d.Name, metrics.ResultError).Inc()
		return fmt.Errorf("dev=%s: %w", d.Name, core.ErrDeviceDown)
	}

	if len(data) > d.MTU {
		logger.Errorf("too long, mtu=%d, len=%d", d.MTU, len(data))
		metrics.DeviceTxTotal.WithLabelValues(d.Name, metrics.ResultError).Inc()
		return fmt.Errorf("dev=%s, mtu=%d, len=%d: %w", d.Name, d.MTU, len(data), core.ErrTooLong)
	}

	logger.Debugf("type=%s, len=%d", typ, len(data))
	if logger.IsTraceEnabled() {
		logger.Trace("\n" + hex.Dump(data))
	}

	if err := d.Driver.Transmit(d, typ, data, dst); err != nil {
		logger.WithError(err).Errorf("device transmit failure, len=%d", len(data))
		metrics.DeviceTxTotal.WithLabelValues(d.Name, metrics.ResultError).Inc()
		return fmt.Errorf("dev=%s, len=%d: %w: %w", d.Name, len(data), core.ErrTransmit, err)
	}
	metrics.DeviceTxTotal.WithLabelValues(d.Name, metrics.ResultOK).Inc()
	return nil
}
