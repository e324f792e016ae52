// Package ip provides the IPv4 interface type and a minimal receive handler.
package ip

import (
	"fmt"

	"firestige.xyz/ustack/internal/core"
	"firestige.xyz/ustack/internal/stack"
)

// Iface is an IPv4 interface attached to a device.
type Iface struct {
	stack.IfaceBase

	Unicast   core.IPAddr
	Netmask   core.IPAddr
	Broadcast core.IPAddr
}

// NewIface parses unicast and netmask and derives the directed broadcast
// address.
func NewIface(unicast, netmask string) (*Iface, error) {
	addr, err := core.ParseIPAddr(unicast)
	if err != nil {
		return nil, fmt.Errorf("unicast %q: %w: %w", unicast, err, core.ErrConfigInvalid)
	}
	mask, err := core.ParseIPAddr(netmask)
	if err != nil {
		return nil, fmt.Errorf("netmask %q: %w: %w", netmask, err, core.ErrConfigInvalid)
	}

	iface := &Iface{Unicast: addr, Netmask: mask}
	for i := range addr {
		iface.Broadcast[i] = addr[i] | ^mask[i]
	}
	return iface, nil
}

// Family implements stack.Iface.
func (i *Iface) Family() core.Family {
	return core.FamilyIP
}

func (i *Iface) String() string {
	return fmt.Sprintf("unicast=%s, netmask=%s, broadcast=%s", i.Unicast, i.Netmask, i.Broadcast)
}

// Register attaches iface to dev.
func Register(dev *stack.Device, iface *Iface) error {
	return dev.AddIface(iface)
}

// Accepts reports whether dst is addressed to this interface.
func (i *Iface) Accepts(dst core.IPAddr) bool {
	return dst == i.Unicast || dst == i.Broadcast || dst == core.IPAddr{255, 255, 255, 255}
}
