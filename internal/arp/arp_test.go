package arp

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/ustack/internal/core"
	"firestige.xyz/ustack/internal/intr"
	"firestige.xyz/ustack/internal/ip"
	"firestige.xyz/ustack/internal/stack"
)

type nopIntr struct{}

func (nopIntr) Register(intr.IRQ, string, intr.Handler) error { return nil }
func (nopIntr) Start() error                                  { return nil }
func (nopIntr) Stop() error                                   { return nil }
func (nopIntr) Raise(intr.IRQ)                                {}

type frame struct {
	typ  core.EtherType
	data []byte
	dst  []byte
}

type recordingDriver struct {
	mu     sync.Mutex
	frames []frame
	err    error
}

func (d *recordingDriver) Transmit(_ *stack.Device, typ core.EtherType, data []byte, dst []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frames = append(d.frames, frame{typ: typ, data: append([]byte(nil), data...), dst: append([]byte(nil), dst...)})
	return d.err
}

func (d *recordingDriver) Frames() []frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]frame(nil), d.frames...)
}

type fixture struct {
	stack *stack.Stack
	arp   *Protocol
	dev   *stack.Device
	iface *ip.Iface
	drv   *recordingDriver
}

// newFixture builds a stack with one open Ethernet device owning 10.0.0.2.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := stack.New(nopIntr{})
	require.NoError(t, err)

	p, err := Init(s, WithClock(newStepClock().Now))
	require.NoError(t, err)

	drv := &recordingDriver{}
	dev := stack.NewDevice()
	dev.Type = stack.DeviceTypeEthernet
	dev.MTU = 1500
	dev.Addr = localHA
	dev.Broadcast = core.BroadcastHWAddr
	dev.Flags = stack.FlagBroadcast | stack.FlagNeedARP
	dev.Driver = drv
	require.NoError(t, s.RegisterDevice(dev))

	iface, err := ip.NewIface("10.0.0.2", "255.255.255.0")
	require.NoError(t, err)
	require.NoError(t, ip.Register(dev, iface))
	require.NoError(t, dev.Open())

	return &fixture{stack: s, arp: p, dev: dev, iface: iface, drv: drv}
}

func reply(spa core.IPAddr, sha core.HWAddr, tpa core.IPAddr, tha core.HWAddr) []byte {
	return rawMessage(0x0001, 0x0800, 6, 4, 2, sha, spa, tha, tpa)
}

func TestInit_Duplicate(t *testing.T) {
	s, err := stack.New(nopIntr{})
	require.NoError(t, err)
	_, err = Init(s)
	require.NoError(t, err)

	_, err = Init(s)
	assert.ErrorIs(t, err, core.ErrProtocolExists)
}

func TestInput_RequestRoundTrip(t *testing.T) {
	f := newFixture(t)

	f.arp.Input(request(peerPA, peerHA, localPA), f.dev)

	frames := f.drv.Frames()
	require.Len(t, frames, 1, "exactly one reply")
	assert.Equal(t, core.EtherTypeARP, frames[0].typ)
	assert.Equal(t, peerHA[:], frames[0].dst)
	require.Len(t, frames[0].data, MessageLen)

	m, err := Decode(frames[0].data)
	require.NoError(t, err)
	assert.Equal(t, OpReply, m.Op)
	assert.Equal(t, HrdEther, m.Hrd)
	assert.Equal(t, ProIP, m.Pro)
	assert.Equal(t, uint8(6), m.Hln)
	assert.Equal(t, uint8(4), m.Pln)
	assert.Equal(t, localPA, m.SPA)
	assert.Equal(t, localHA, m.SHA)
	assert.Equal(t, peerPA, m.TPA)
	assert.Equal(t, peerHA, m.THA)

	entries := f.arp.Cache().Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, peerPA, entries[0].PA)
	assert.Equal(t, peerHA, entries[0].HA)
	assert.Equal(t, StateResolved, entries[0].State)
}

func TestInput_ThroughDispatcher(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.stack.Input(core.EtherTypeARP, request(peerPA, peerHA, localPA), f.dev))
	assert.Empty(t, f.drv.Frames(), "nothing happens before dispatch")

	f.stack.DispatchPending()
	assert.Len(t, f.drv.Frames(), 1)
}

func TestInput_ForeignReplyIgnored(t *testing.T) {
	f := newFixture(t)

	f.arp.Input(reply(peerPA, peerHA, core.IPAddr{10, 0, 0, 9}, localHA), f.dev)

	assert.Empty(t, f.arp.Cache().Snapshot(), "an unknown sender is not learned from foreign traffic")
	assert.Empty(t, f.drv.Frames())
}

func TestInput_ReplyToUsIsLearnedNotAnswered(t *testing.T) {
	f := newFixture(t)

	f.arp.Input(reply(peerPA, peerHA, localPA, localHA), f.dev)

	entries := f.arp.Cache().Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, peerHA, entries[0].HA)
	assert.Empty(t, f.drv.Frames(), "a reply is never answered")
}

func TestInput_ForeignTrafficRefreshesKnownSender(t *testing.T) {
	f := newFixture(t)
	f.arp.Input(reply(peerPA, peerHA, localPA, localHA), f.dev)
	before := f.arp.Cache().Snapshot()[0]

	moved := core.HWAddr{0xbb, 0xbb, 0xbb, 0xbb, 0xbb, 0xbb}
	f.arp.Input(request(peerPA, moved, core.IPAddr{10, 0, 0, 9}), f.dev)

	entries := f.arp.Cache().Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, peerHA, entries[0].HA, "the learned address is kept")
	assert.Equal(t, StateResolved, entries[0].State)
	assert.True(t, entries[0].Timestamp.After(before.Timestamp))
	assert.Empty(t, f.drv.Frames())

	got, err := f.arp.Resolve(f.iface, peerPA)
	require.NoError(t, err)
	assert.Equal(t, peerHA, got)
}

func TestInput_KnownSenderIsNotDuplicated(t *testing.T) {
	f := newFixture(t)

	f.arp.Input(request(peerPA, peerHA, localPA), f.dev)
	f.arp.Input(request(peerPA, peerHA, localPA), f.dev)

	assert.Len(t, f.arp.Cache().Snapshot(), 1)
	assert.Len(t, f.drv.Frames(), 2)
}

func TestInput_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"short", request(peerPA, peerHA, localPA)[:20]},
		{"not ethernet", rawMessage(0x0006, 0x0800, 6, 4, 1, peerHA, peerPA, core.HWAddr{}, localPA)},
		{"hardware length", rawMessage(0x0001, 0x0800, 4, 4, 1, peerHA, peerPA, core.HWAddr{}, localPA)},
		{"not ip", rawMessage(0x0001, 0x86dd, 6, 4, 1, peerHA, peerPA, core.HWAddr{}, localPA)},
		{"protocol length", rawMessage(0x0001, 0x0800, 6, 6, 1, peerHA, peerPA, core.HWAddr{}, localPA)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			assert.NotPanics(t, func() { f.arp.Input(tt.data, f.dev) })
			assert.Empty(t, f.arp.Cache().Snapshot())
			assert.Empty(t, f.drv.Frames())
		})
	}
}

func TestInput_DeviceWithoutIPInterface(t *testing.T) {
	f := newFixture(t)
	bare := stack.NewDevice()
	bare.Type = stack.DeviceTypeEthernet
	bare.MTU = 1500
	bare.Driver = f.drv

	f.arp.Input(request(peerPA, peerHA, localPA), bare)
	assert.Empty(t, f.arp.Cache().Snapshot())
	assert.Empty(t, f.drv.Frames())
}

func TestInput_ReplyTransmitFailure(t *testing.T) {
	f := newFixture(t)
	f.drv.err = errors.New("no carrier")

	assert.NotPanics(t, func() { f.arp.Input(request(peerPA, peerHA, localPA), f.dev) })
	assert.Len(t, f.drv.Frames(), 1)
	assert.Len(t, f.arp.Cache().Snapshot(), 1, "the sender is learned even if the reply fails")
}

func TestResolve(t *testing.T) {
	f := newFixture(t)

	_, err := f.arp.Resolve(f.iface, peerPA)
	assert.ErrorIs(t, err, core.ErrNotFound)

	f.arp.Input(request(peerPA, peerHA, localPA), f.dev)

	got, err := f.arp.Resolve(f.iface, peerPA)
	require.NoError(t, err)
	assert.Equal(t, peerHA, got)
}

type ipv6Iface struct {
	stack.IfaceBase
}

func (*ipv6Iface) Family() core.Family { return core.FamilyIPv6 }

// resolveWithCacheLocked runs Resolve while the test holds the cache lock, so it
// only returns if Resolve never touches the cache.
func resolveWithCacheLocked(t *testing.T, p *Protocol, iface stack.Iface, pa core.IPAddr) (core.HWAddr, error) {
	t.Helper()
	type result struct {
		ha  core.HWAddr
		err error
	}
	done := make(chan result, 1)
	go func() {
		ha, err := p.Resolve(iface, pa)
		done <- result{ha, err}
	}()

	select {
	case r := <-done:
		return r.ha, r.err
	case <-time.After(time.Second):
		t.Fatal("resolve blocked on the cache lock")
		return core.HWAddr{}, nil
	}
}

func TestResolve_Unsupported(t *testing.T) {
	f := newFixture(t)
	f.arp.Cache().Do(func(tb *Table) {
		tb.Insert(peerPA, peerHA)
	})

	f.arp.Cache().mu.Lock()
	defer f.arp.Cache().mu.Unlock()

	t.Run("loopback device", func(t *testing.T) {
		lo := stack.NewDevice()
		lo.Type = stack.DeviceTypeLoopback
		lo.MTU = 65535
		lo.Driver = f.drv
		iface, err := ip.NewIface("127.0.0.1", "255.0.0.0")
		require.NoError(t, err)
		require.NoError(t, ip.Register(lo, iface))

		ha, err := resolveWithCacheLocked(t, f.arp, iface, peerPA)
		assert.ErrorIs(t, err, core.ErrUnsupported)
		assert.Equal(t, core.HWAddr{}, ha)
	})

	t.Run("non-ip family", func(t *testing.T) {
		v6 := &ipv6Iface{}
		dev := stack.NewDevice()
		dev.Type = stack.DeviceTypeEthernet
		dev.Driver = f.drv
		require.NoError(t, dev.AddIface(v6))

		ha, err := resolveWithCacheLocked(t, f.arp, v6, peerPA)
		assert.ErrorIs(t, err, core.ErrUnsupported)
		assert.Equal(t, core.HWAddr{}, ha)
	})

	t.Run("detached interface", func(t *testing.T) {
		iface, err := ip.NewIface("10.0.0.3", "255.255.255.0")
		require.NoError(t, err)
		_, err = resolveWithCacheLocked(t, f.arp, iface, peerPA)
		assert.ErrorIs(t, err, core.ErrUnsupported)
	})
}

func TestCache_EvictionThroughInput(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < CacheSize+1; i++ {
		f.arp.Input(reply(pa(i), ha(i), localPA, localHA), f.dev)
	}

	entries := f.arp.Cache().Snapshot()
	assert.Len(t, entries, CacheSize)
	_, err := f.arp.Resolve(f.iface, pa(0))
	assert.ErrorIs(t, err, core.ErrNotFound, "the first learned address is the oldest")
	got, err := f.arp.Resolve(f.iface, pa(CacheSize))
	require.NoError(t, err)
	assert.Equal(t, ha(CacheSize), got)
}
