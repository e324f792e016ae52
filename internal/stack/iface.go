package stack

import (
	"fmt"

	"firestige.xyz/ustack/internal/core"
	"firestige.xyz/ustack/internal/log"
)

// Iface is a logical interface attached to a device, addressed by family.
// Implementations embed IfaceBase.
type Iface interface {
	Family() core.Family
	Dev() *Device
	attach(dev *Device)
}

// IfaceBase carries the device back-reference shared by all interfaces.
type IfaceBase struct {
	dev *Device
}

// Dev returns the device the interface is attached to, or nil.
func (b *IfaceBase) Dev() *Device {
	return b.dev
}

func (b *IfaceBase) attach(dev *Device) {
	b.dev = dev
}

// AddIface attaches iface to the device. A device holds at most one
// interface per family.
func (d *Device) AddIface(iface Iface) error {
	for _, existing := range d.ifaces {
		if existing.Family() == iface.Family() {
			log.GetLogger().Errorf("already exists, dev=%s, family=%s", d.Name, iface.Family())
			return fmt.Errorf("dev=%s, family=%s: %w", d.Name, iface.Family(), core.ErrIfaceExists)
		}
	}
	iface.attach(d)
	d.ifaces = append(d.ifaces, iface)
	return nil
}

// Iface returns the interface of the given family, or nil.
func (d *Device) Iface(family core.Family) Iface {
	for _, iface := range d.ifaces {
		if iface.Family() == family {
			return iface
		}
	}
	return nil
}
