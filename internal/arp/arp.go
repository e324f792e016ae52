// Package arp resolves IPv4 addresses to Ethernet addresses.
//
// Resolution is passive: mappings are learned from ARP traffic addressed to a
// local interface, and Resolve only consults the cache.
package arp

import (
	"errors"
	"fmt"

	"firestige.xyz/ustack/internal/core"
	"firestige.xyz/ustack/internal/ip"
	"firestige.xyz/ustack/internal/log"
	"firestige.xyz/ustack/internal/metrics"
	"firestige.xyz/ustack/internal/stack"
)

// Protocol is the ARP protocol handler bound to one cache.
type Protocol struct {
	cache *Cache
	log   log.Logger
}

// New creates a handler with an empty cache.
func New(opts ...CacheOption) *Protocol {
	return &Protocol{
		cache: NewCache(opts...),
		log:   log.GetLogger().WithField("component", "arp"),
	}
}

// Init creates a handler and registers it with s for ARP frames.
func Init(s *stack.Stack, opts ...CacheOption) (*Protocol, error) {
	p := New(opts...)
	if err := s.RegisterProtocol(core.EtherTypeARP, p.Input); err != nil {
		return nil, fmt.Errorf("register arp: %w", err)
	}
	return p, nil
}

// Cache returns the handler's cache.
func (p *Protocol) Cache() *Cache {
	return p.cache
}

// Input handles one ARP message received on dev. Malformed and unsupported
// messages are logged and dropped.
func (p *Protocol) Input(data []byte, dev *stack.Device) {
	msg, err := Decode(data)
	if err != nil {
		reason := "unsupported"
		if errors.Is(err, core.ErrPacketTooShort) {
			reason = "too_short"
		}
		metrics.ARPDroppedTotal.WithLabelValues(reason).Inc()
		p.log.WithError(err).Errorf("drop, dev=%s", dev)
		return
	}

	p.log.Debugf("dev=%s, len=%d", dev, len(data))
	if p.log.IsDebugEnabled() {
		p.log.Debug("\n" + msg.Dump())
	}

	merge := false
	p.cache.Do(func(t *Table) {
		merge = t.Update(msg.SPA, msg.SHA) != nil
	})

	iface, ok := dev.Iface(core.FamilyIP).(*ip.Iface)
	if !ok || iface.Unicast != msg.TPA {
		return
	}

	if !merge {
		p.cache.Do(func(t *Table) {
			t.Insert(msg.SPA, msg.SHA)
		})
	}

	if msg.Op == OpRequest {
		if err := p.reply(iface, msg.SHA, msg.SPA, msg.SHA); err != nil {
			p.log.WithError(err).Errorf("reply failure, dev=%s", dev)
		}
	}
}

// reply answers a request on behalf of iface.
func (p *Protocol) reply(iface *ip.Iface, tha core.HWAddr, tpa core.IPAddr, dst core.HWAddr) error {
	dev := iface.Dev()
	msg := NewReply(dev.Addr, iface.Unicast, tha, tpa)
	data, err := msg.Encode()
	if err != nil {
		return err
	}

	p.log.Debugf("dev=%s, len=%d", dev, len(data))
	if p.log.IsDebugEnabled() {
		p.log.Debug("\n" + msg.Dump())
	}

	if err := dev.Transmit(core.EtherTypeARP, data, dst[:]); err != nil {
		return err
	}
	metrics.ARPRepliesTotal.Inc()
	return nil
}

// Resolve returns the hardware address cached for pa. It fails with
// core.ErrUnsupported unless iface is an IP interface on an Ethernet device,
// and with core.ErrNotFound on a cache miss. It never sends a request.
func (p *Protocol) Resolve(iface stack.Iface, pa core.IPAddr) (core.HWAddr, error) {
	dev := iface.Dev()
	if dev == nil || dev.Type != stack.DeviceTypeEthernet {
		p.log.Debug("unsupported hardware address type")
		return core.HWAddr{}, fmt.Errorf("resolve %s: hardware type: %w", pa, core.ErrUnsupported)
	}
	if iface.Family() != core.FamilyIP {
		p.log.Debug("unsupported protocol address type")
		return core.HWAddr{}, fmt.Errorf("resolve %s: family %s: %w", pa, iface.Family(), core.ErrUnsupported)
	}

	var (
		ha    core.HWAddr
		found bool
	)
	p.cache.Do(func(t *Table) {
		if e := t.Select(pa); e != nil {
			ha, found = e.HA, true
		}
	})
	if !found {
		p.log.Debugf("cache not found, pa=%s", pa)
		return core.HWAddr{}, fmt.Errorf("resolve %s: %w", pa, core.ErrNotFound)
	}

	p.log.Debugf("resolved, pa=%s, ha=%s", pa, ha)
	return ha, nil
}
