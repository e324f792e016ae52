package ether

import (
	"fmt"
	"net"
	"time"

	"github.com/mitchellh/mapstructure"

	"firestige.xyz/ustack/internal/core"
)

const (
	// MTU is the default Ethernet payload size.
	MTU = 1500
	// HeaderLen is the size of an Ethernet II header.
	HeaderLen = 14
	// MinFrameLen is the shortest frame put on the wire, without FCS.
	MinFrameLen = 60

	defaultSnapLen      = 1600
	defaultBufferSizeMB = 2
	defaultPollTimeout  = 100 * time.Millisecond
)

// Options configures an Ethernet device and its AF_PACKET port.
type Options struct {
	Interface    string        `mapstructure:"interface"`
	HWAddr       string        `mapstructure:"hwaddr"`
	MTU          int           `mapstructure:"mtu"`
	Promiscuous  bool          `mapstructure:"promiscuous"`
	SnapLen      int           `mapstructure:"snap_len"`
	BufferSizeMB int           `mapstructure:"buffer_size_mb"`
	PollTimeout  time.Duration `mapstructure:"poll_timeout"`
	Link         string        `mapstructure:"link"`
}

// DecodeOptions decodes a driver option map and applies defaults.
func DecodeOptions(m map[string]any) (*Options, error) {
	opts := &Options{}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           opts,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(m); err != nil {
		return nil, fmt.Errorf("ether options: %w: %w", err, core.ErrConfigInvalid)
	}
	opts.applyDefaults()
	return opts, nil
}

func (o *Options) applyDefaults() {
	if o.MTU <= 0 {
		o.MTU = MTU
	}
	if o.SnapLen <= 0 {
		o.SnapLen = defaultSnapLen
	}
	if o.BufferSizeMB <= 0 {
		o.BufferSizeMB = defaultBufferSizeMB
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = defaultPollTimeout
	}
}

// HardwareAddr returns the configured address, falling back to the host
// interface's address when only an interface name is given.
func (o *Options) HardwareAddr() (core.HWAddr, error) {
	if o.HWAddr != "" {
		ha, err := core.ParseHWAddr(o.HWAddr)
		if err != nil {
			return core.HWAddr{}, fmt.Errorf("hwaddr %q: %w: %w", o.HWAddr, err, core.ErrConfigInvalid)
		}
		return ha, nil
	}
	if o.Interface == "" {
		return core.HWAddr{}, fmt.Errorf("hwaddr or interface required: %w", core.ErrConfigInvalid)
	}

	ifi, err := net.InterfaceByName(o.Interface)
	if err != nil {
		return core.HWAddr{}, fmt.Errorf("interface %q: %w", o.Interface, err)
	}
	var ha core.HWAddr
	if len(ifi.HardwareAddr) != core.HWAddrLen {
		return ha, fmt.Errorf("interface %q has no ethernet address: %w", o.Interface, core.ErrUnsupported)
	}
	copy(ha[:], ifi.HardwareAddr)
	return ha, nil
}
