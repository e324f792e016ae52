// Package core defines core types with zero external dependencies.
package core

import (
	"fmt"
	"net"
	"net/netip"
)

// EtherType identifies the protocol carried by a frame.
type EtherType uint16

const (
	EtherTypeIPv4 EtherType = 0x0800
	EtherTypeARP  EtherType = 0x0806
	EtherTypeIPv6 EtherType = 0x86DD
)

func (t EtherType) String() string {
	switch t {
	case EtherTypeIPv4:
		return "ipv4"
	case EtherTypeARP:
		return "arp"
	case EtherTypeIPv6:
		return "ipv6"
	default:
		return fmt.Sprintf("0x%04x", uint16(t))
	}
}

// Family is the address family of an interface attached to a device.
type Family int

const (
	FamilyIP   Family = 1
	FamilyIPv6 Family = 2
)

func (f Family) String() string {
	switch f {
	case FamilyIP:
		return "ip"
	case FamilyIPv6:
		return "ipv6"
	default:
		return "unknown"
	}
}

const (
	IPAddrLen = 4
	HWAddrLen = 6
)

// IPAddr is an IPv4 address in network byte order.
type IPAddr [IPAddrLen]byte

// ParseIPAddr parses a dotted-quad IPv4 address.
func ParseIPAddr(s string) (IPAddr, error) {
	a, err := netip.ParseAddr(s)
	if err != nil {
		return IPAddr{}, err
	}
	if !a.Is4() {
		return IPAddr{}, fmt.Errorf("not an ipv4 address: %s", s)
	}
	return IPAddr(a.As4()), nil
}

func (a IPAddr) String() string {
	return netip.AddrFrom4(a).String()
}

// HWAddr is an Ethernet hardware address.
type HWAddr [HWAddrLen]byte

// BroadcastHWAddr is the Ethernet broadcast address.
var BroadcastHWAddr = HWAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// ParseHWAddr parses a colon separated 48-bit hardware address.
func ParseHWAddr(s string) (HWAddr, error) {
	mac, err := net.ParseMAC(s)
	if err != nil {
		return HWAddr{}, err
	}
	if len(mac) != HWAddrLen {
		return HWAddr{}, fmt.Errorf("not a 48-bit hardware address: %s", s)
	}
	var ha HWAddr
	copy(ha[:], mac)
	return ha, nil
}

func (a HWAddr) String() string {
	return net.HardwareAddr(a[:]).String()
}

// IsZero reports whether every byte of the address is zero.
func (a HWAddr) IsZero() bool {
	return a == HWAddr{}
}
