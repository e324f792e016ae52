// Package boot assembles a running stack from configuration.
package boot

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"firestige.xyz/ustack/internal/arp"
	"firestige.xyz/ustack/internal/config"
	"firestige.xyz/ustack/internal/core"
	"firestige.xyz/ustack/internal/driver/ether"
	"firestige.xyz/ustack/internal/driver/loopback"
	"firestige.xyz/ustack/internal/intr"
	"firestige.xyz/ustack/internal/ip"
	"firestige.xyz/ustack/internal/log"
	"firestige.xyz/ustack/internal/metrics"
	"firestige.xyz/ustack/internal/stack"
)

// Runtime owns one stack instance and everything attached to it.
type Runtime struct {
	intr    *intr.Controller
	stack   *stack.Stack
	arp     *arp.Protocol
	ports   []ether.Port
	metrics *metrics.Server
	seq     uint16
	log     log.Logger
}

// openAFPacket is replaced in tests.
var openAFPacket = ether.OpenAFPacket

// New builds the stack described by cfg: protocols first, then devices in
// configuration order. Nothing is started.
func New(cfg *config.Config) (*Runtime, error) {
	r := &Runtime{
		intr: intr.New(),
		log:  log.GetLogger().WithField("component", "boot"),
	}

	var err error
	r.stack, err = stack.New(r.intr, stack.WithQueueLimit(cfg.Stack.QueueLimit))
	if err != nil {
		return nil, err
	}
	if r.arp, err = arp.Init(r.stack); err != nil {
		return nil, err
	}
	if err := ip.Init(r.stack); err != nil {
		return nil, fmt.Errorf("register ip: %w", err)
	}

	links := make(map[string]ether.Port)
	for i, dc := range cfg.Devices {
		dev, err := r.setupDevice(dc, links)
		if err != nil {
			r.closePorts()
			return nil, fmt.Errorf("devices[%d]: %w", i, err)
		}
		if dc.IP != nil {
			iface, err := ip.NewIface(dc.IP.Address, dc.IP.Netmask)
			if err == nil {
				err = ip.Register(dev, iface)
			}
			if err != nil {
				r.closePorts()
				return nil, fmt.Errorf("devices[%d]: %w", i, err)
			}
			r.log.Infof("iface registered, dev=%s, %s", dev, iface)
		}
	}
	for link := range links {
		r.closePorts()
		return nil, fmt.Errorf("pipe link %q has only one end: %w", link, core.ErrConfigInvalid)
	}

	if cfg.Metrics.Enabled {
		r.metrics = metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path)
	}
	return r, nil
}

func (r *Runtime) setupDevice(dc config.DeviceConfig, links map[string]ether.Port) (*stack.Device, error) {
	if dc.Driver == config.DriverLoopback {
		return loopback.Init(r.stack)
	}

	opts, err := ether.DecodeOptions(dc.Options)
	if err != nil {
		return nil, err
	}

	var port ether.Port
	switch dc.Driver {
	case config.DriverPipe:
		if opts.Link == "" {
			return nil, fmt.Errorf("pipe requires options.link: %w", core.ErrConfigInvalid)
		}
		if peer, ok := links[opts.Link]; ok {
			port = peer
			delete(links, opts.Link)
		} else {
			var peer ether.Port
			port, peer = ether.Pipe()
			links[opts.Link] = peer
		}
		r.ports = append(r.ports, port)
	case config.DriverAFPacket:
		if port, err = openAFPacket(opts); err != nil {
			return nil, err
		}
		r.ports = append(r.ports, port)
	default:
		return nil, fmt.Errorf("unsupported driver %q: %w", dc.Driver, core.ErrConfigInvalid)
	}

	return ether.Init(r.stack, port, opts)
}

// Stack returns the runtime's stack.
func (r *Runtime) Stack() *stack.Stack {
	return r.stack
}

// ARP returns the runtime's ARP handler.
func (r *Runtime) ARP() *arp.Protocol {
	return r.arp
}

// Start serves metrics if enabled and runs the stack.
func (r *Runtime) Start(ctx context.Context) error {
	if r.metrics != nil {
		if err := r.metrics.Start(ctx); err != nil {
			return err
		}
	}
	if err := r.stack.Run(); err != nil {
		if r.metrics != nil {
			_ = r.metrics.Stop(ctx)
		}
		return err
	}
	return nil
}

// Stop shuts the stack down, then releases ports and the metrics server.
func (r *Runtime) Stop(ctx context.Context) error {
	err := r.stack.Shutdown()
	err = multierr.Append(err, r.closePorts())
	if r.metrics != nil {
		err = multierr.Append(err, r.metrics.Stop(ctx))
	}
	return err
}

func (r *Runtime) closePorts() error {
	var err error
	for _, p := range r.ports {
		err = multierr.Append(err, p.Close())
	}
	r.ports = nil
	return err
}

// Probe sends one ICMP echo request over every loopback device with an IP
// interface. It is not safe for concurrent use.
func (r *Runtime) Probe() error {
	var err error
	for _, dev := range r.stack.Devices() {
		if dev.Type != stack.DeviceTypeLoopback {
			continue
		}
		iface, ok := dev.Iface(core.FamilyIP).(*ip.Iface)
		if !ok {
			continue
		}
		r.seq++
		data, e := echoRequest(iface.Unicast, iface.Unicast, r.seq)
		if e == nil {
			e = dev.Transmit(core.EtherTypeIPv4, data, nil)
		}
		err = multierr.Append(err, e)
	}
	return err
}

func echoRequest(src, dst core.IPAddr, seq uint16) ([]byte, error) {
	ipv4 := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      255,
		Protocol: layers.IPProtocolICMPv4,
		SrcIP:    net.IP(src[:]),
		DstIP:    net.IP(dst[:]),
	}
	icmp := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0),
		Id:       0x1234,
		Seq:      seq,
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ipv4, icmp, gopacket.Payload("ustack probe")); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type arpRow struct {
	PA      string `yaml:"pa"`
	HA      string `yaml:"ha"`
	State   string `yaml:"state"`
	Updated string `yaml:"updated"`
}

// DumpARP writes the ARP cache as YAML.
func (r *Runtime) DumpARP(w io.Writer) error {
	rows := []arpRow{}
	for _, e := range r.arp.Cache().Snapshot() {
		rows = append(rows, arpRow{
			PA:      e.PA.String(),
			HA:      e.HA.String(),
			State:   e.State.String(),
			Updated: e.Timestamp.Format(time.RFC3339Nano),
		})
	}

	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(map[string][]arpRow{"arp": rows})
}
