package ip

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/ustack/internal/core"
	"firestige.xyz/ustack/internal/log"
	"firestige.xyz/ustack/internal/metrics"
	"firestige.xyz/ustack/internal/stack"
)

// Init registers the IPv4 receive handler with s.
func Init(s *stack.Stack) error {
	return s.RegisterProtocol(core.EtherTypeIPv4, Input)
}

// Input validates an IPv4 datagram and logs it. Upper-layer protocols are
// not implemented, so accepted datagrams end here.
func Input(data []byte, dev *stack.Device) {
	logger := log.GetLogger().WithField("component", "ip")

	var hdr layers.IPv4
	if err := hdr.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		metrics.FramesDroppedTotal.WithLabelValues("ip_malformed").Inc()
		logger.WithError(err).Errorf("decode failure, dev=%s, len=%d", dev, len(data))
		return
	}
	if hdr.Version != 4 {
		metrics.FramesDroppedTotal.WithLabelValues("ip_malformed").Inc()
		logger.Errorf("ip version error: v=%d", hdr.Version)
		return
	}

	iface, ok := dev.Iface(core.FamilyIP).(*Iface)
	if !ok {
		logger.Debugf("no ip interface, dev=%s", dev)
		return
	}
	var dst core.IPAddr
	copy(dst[:], hdr.DstIP.To4())
	if !iface.Accepts(dst) {
		logger.Debugf("not for us, dev=%s, dst=%s", dev, dst)
		return
	}

	logger.Debugf("dev=%s, iface=%s, protocol=%s, total=%d", dev, iface.Unicast, hdr.Protocol, hdr.Length)
}
