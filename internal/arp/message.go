package arp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/ustack/internal/core"
)

// MessageLen is the size of an ARP message for Ethernet and IPv4.
const MessageLen = 28

// HrdEther is the ARP hardware type of Ethernet.
const HrdEther uint16 = 0x0001

// ProIP is the ARP protocol type of IPv4; it shares the EtherType value.
const ProIP = core.EtherTypeIPv4

// Op is an ARP opcode.
type Op uint16

const (
	OpRequest Op = layers.ARPRequest
	OpReply   Op = layers.ARPReply
)

func (o Op) String() string {
	switch o {
	case OpRequest:
		return "Request"
	case OpReply:
		return "Reply"
	default:
		return "Unknown"
	}
}

var (
	errNotEthernet = errors.New("not ethernet")
	errNotIP       = errors.New("not ip")
)

// Message is an ARP message for Ethernet hardware and IPv4 protocol
// addresses.
type Message struct {
	Hrd uint16
	Pro core.EtherType
	Hln uint8
	Pln uint8
	Op  Op
	SHA core.HWAddr
	SPA core.IPAddr
	THA core.HWAddr
	TPA core.IPAddr
}

// NewReply builds a reply from sender sha/spa to target tha/tpa.
func NewReply(sha core.HWAddr, spa core.IPAddr, tha core.HWAddr, tpa core.IPAddr) *Message {
	return &Message{
		Hrd: HrdEther,
		Pro: ProIP,
		Hln: core.HWAddrLen,
		Pln: core.IPAddrLen,
		Op:  OpReply,
		SHA: sha,
		SPA: spa,
		THA: tha,
		TPA: tpa,
	}
}

// NewRequest builds a broadcast request from sha/spa asking for tpa.
func NewRequest(sha core.HWAddr, spa core.IPAddr, tpa core.IPAddr) *Message {
	m := NewReply(sha, spa, core.HWAddr{}, tpa)
	m.Op = OpRequest
	return m
}

// Decode parses data as an Ethernet/IPv4 ARP message. Short input fails with
// core.ErrPacketTooShort; any other address pair fails with
// core.ErrUnsupported. Bytes past MessageLen are ignored.
func Decode(data []byte) (*Message, error) {
	if len(data) < MessageLen {
		return nil, fmt.Errorf("len=%d: %w", len(data), core.ErrPacketTooShort)
	}

	// layers.ARP keeps the hardware type in a LinkType, which is a single
	// byte, so the 16-bit field is checked on the raw bytes.
	hrd := binary.BigEndian.Uint16(data[0:2])
	pro := core.EtherType(binary.BigEndian.Uint16(data[2:4]))
	hln, pln := data[4], data[5]
	if hrd != HrdEther || hln != core.HWAddrLen {
		return nil, fmt.Errorf("hrd=0x%04x, hln=%d: %w: %w", hrd, hln, errNotEthernet, core.ErrUnsupported)
	}
	if pro != ProIP || pln != core.IPAddrLen {
		return nil, fmt.Errorf("pro=0x%04x, pln=%d: %w: %w", uint16(pro), pln, errNotIP, core.ErrUnsupported)
	}

	var arp layers.ARP
	if err := arp.DecodeFromBytes(data[:MessageLen], gopacket.NilDecodeFeedback); err != nil {
		return nil, fmt.Errorf("decode arp: %w", err)
	}

	m := &Message{
		Hrd: hrd,
		Pro: core.EtherType(arp.Protocol),
		Hln: arp.HwAddressSize,
		Pln: arp.ProtAddressSize,
		Op:  Op(arp.Operation),
	}
	copy(m.SHA[:], arp.SourceHwAddress)
	copy(m.SPA[:], arp.SourceProtAddress)
	copy(m.THA[:], arp.DstHwAddress)
	copy(m.TPA[:], arp.DstProtAddress)
	return m, nil
}

// Encode serializes the message into its 28-byte wire form.
func (m *Message) Encode() ([]byte, error) {
	arp := &layers.ARP{
		AddrType:          layers.LinkType(m.Hrd),
		Protocol:          layers.EthernetType(m.Pro),
		HwAddressSize:     m.Hln,
		ProtAddressSize:   m.Pln,
		Operation:         uint16(m.Op),
		SourceHwAddress:   m.SHA[:],
		SourceProtAddress: m.SPA[:],
		DstHwAddress:      m.THA[:],
		DstProtAddress:    m.TPA[:],
	}

	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, arp); err != nil {
		return nil, fmt.Errorf("serialize arp: %w", err)
	}
	// LinkType is one byte wide; restore the full hardware type.
	out := buf.Bytes()
	binary.BigEndian.PutUint16(out[0:2], m.Hrd)
	return out, nil
}

// Dump renders the message one field per line.
func (m *Message) Dump() string {
	var b strings.Builder
	fmt.Fprintf(&b, "        hrd: 0x%04x\n", m.Hrd)
	fmt.Fprintf(&b, "        pro: 0x%04x\n", uint16(m.Pro))
	fmt.Fprintf(&b, "        hln: %d\n", m.Hln)
	fmt.Fprintf(&b, "        pln: %d\n", m.Pln)
	fmt.Fprintf(&b, "         op: %d (%s)\n", uint16(m.Op), m.Op)
	fmt.Fprintf(&b, "        sha: %s\n", m.SHA)
	fmt.Fprintf(&b, "        spa: %s\n", m.SPA)
	fmt.Fprintf(&b, "        tha: %s\n", m.THA)
	fmt.Fprintf(&b, "        tpa: %s", m.TPA)
	return b.String()
}
