package stack

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/ustack/internal/core"
	"firestige.xyz/ustack/internal/intr"
)

// fakeIntr records interrupt calls without running a goroutine.
type fakeIntr struct {
	mu       sync.Mutex
	handlers map[intr.IRQ]intr.Handler
	raised   int
	started  bool
	startErr error
}

func newFakeIntr() *fakeIntr {
	return &fakeIntr{handlers: make(map[intr.IRQ]intr.Handler)}
}

func (f *fakeIntr) Register(irq intr.IRQ, name string, h intr.Handler) error {
	f.handlers[irq] = h
	return nil
}

func (f *fakeIntr) Start() error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	return nil
}

func (f *fakeIntr) Stop() error {
	if !f.started {
		return core.ErrNotRunning
	}
	f.started = false
	return nil
}

func (f *fakeIntr) Raise(irq intr.IRQ) {
	f.mu.Lock()
	f.raised++
	f.mu.Unlock()
}

func (f *fakeIntr) Raised() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.raised
}

type sentFrame struct {
	typ  core.EtherType
	data []byte
	dst  []byte
}

// fakeDriver records every driver call; calls appends "open:<name>" style
// events to a shared journal when one is set.
type fakeDriver struct {
	mu       sync.Mutex
	sent     []sentFrame
	openErr  error
	closeErr error
	txErr    error
	journal  *[]string
}

func (d *fakeDriver) note(event string) {
	if d.journal != nil {
		*d.journal = append(*d.journal, event)
	}
}

func (d *fakeDriver) Open(dev *Device) error {
	d.note("open:" + dev.Name)
	return d.openErr
}

func (d *fakeDriver) Close(dev *Device) error {
	d.note("close:" + dev.Name)
	return d.closeErr
}

func (d *fakeDriver) Transmit(dev *Device, typ core.EtherType, data []byte, dst []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, sentFrame{typ: typ, data: append([]byte(nil), data...), dst: dst})
	return d.txErr
}

func (d *fakeDriver) Sent() []sentFrame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]sentFrame(nil), d.sent...)
}

// transmitOnly has no Open/Close.
type transmitOnly struct{}

func (transmitOnly) Transmit(*Device, core.EtherType, []byte, []byte) error { return nil }

func newTestStack(t *testing.T) (*Stack, *fakeIntr) {
	t.Helper()
	fi := newFakeIntr()
	s, err := New(fi)
	require.NoError(t, err)
	require.NotNil(t, fi.handlers[intr.SoftIRQ], "DispatchPending must be bound to the soft irq")
	return s, fi
}

func newTestDevice(drv Driver, mtu int) *Device {
	dev := NewDevice()
	dev.Type = DeviceTypeEthernet
	dev.MTU = mtu
	dev.Driver = drv
	return dev
}

// ---------------------------------------------------------------------------
// Device registry
// ---------------------------------------------------------------------------

func TestRegisterDevice_Naming(t *testing.T) {
	s, _ := newTestStack(t)

	d0 := newTestDevice(&fakeDriver{}, 1500)
	d1 := newTestDevice(&fakeDriver{}, 1500)
	require.NoError(t, s.RegisterDevice(d0))
	require.NoError(t, s.RegisterDevice(d1))

	assert.Equal(t, 0, d0.Index)
	assert.Equal(t, "net0", d0.Name)
	assert.Equal(t, 1, d1.Index)
	assert.Equal(t, "net1", d1.Name)
	assert.Equal(t, []*Device{d0, d1}, s.Devices())
	assert.Same(t, d1, s.DeviceByName("net1"))
	assert.Nil(t, s.DeviceByName("net9"))
}

func TestRegisterDevice_IndependentStacks(t *testing.T) {
	s1, _ := newTestStack(t)
	s2, _ := newTestStack(t)

	a := newTestDevice(&fakeDriver{}, 1500)
	b := newTestDevice(&fakeDriver{}, 1500)
	require.NoError(t, s1.RegisterDevice(a))
	require.NoError(t, s2.RegisterDevice(b))
	assert.Equal(t, "net0", a.Name)
	assert.Equal(t, "net0", b.Name)
}

func TestRegisterDevice_NoDriver(t *testing.T) {
	s, _ := newTestStack(t)
	err := s.RegisterDevice(NewDevice())
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}

func TestRegister_AfterRun(t *testing.T) {
	s, _ := newTestStack(t)
	require.NoError(t, s.Run())

	err := s.RegisterDevice(newTestDevice(&fakeDriver{}, 1500))
	assert.ErrorIs(t, err, core.ErrStackRunning)

	err = s.RegisterProtocol(core.EtherTypeARP, func([]byte, *Device) {})
	assert.ErrorIs(t, err, core.ErrStackRunning)

	assert.ErrorIs(t, s.Run(), core.ErrStackRunning)
}

func TestDevice_OpenClose(t *testing.T) {
	s, _ := newTestStack(t)
	dev := newTestDevice(&fakeDriver{}, 1500)
	require.NoError(t, s.RegisterDevice(dev))

	assert.ErrorIs(t, dev.Close(), core.ErrDeviceDown)

	require.NoError(t, dev.Open())
	assert.True(t, dev.IsUp())
	assert.ErrorIs(t, dev.Open(), core.ErrDeviceUp)

	require.NoError(t, dev.Close())
	assert.False(t, dev.IsUp())
}

func TestDevice_OpenCloseWithoutCallbacks(t *testing.T) {
	dev := newTestDevice(transmitOnly{}, 1500)
	require.NoError(t, dev.Open())
	require.NoError(t, dev.Close())
}

func TestDevice_DriverOpenFailure(t *testing.T) {
	openErr := errors.New("link not ready")
	dev := newTestDevice(&fakeDriver{openErr: openErr}, 1500)

	err := dev.Open()
	assert.ErrorIs(t, err, openErr)
	assert.False(t, dev.IsUp(), "a failed open leaves the device down")
}

func TestDevice_DriverCloseFailure(t *testing.T) {
	closeErr := errors.New("busy")
	drv := &fakeDriver{}
	dev := newTestDevice(drv, 1500)
	require.NoError(t, dev.Open())

	drv.closeErr = closeErr
	err := dev.Close()
	assert.ErrorIs(t, err, closeErr)
	assert.True(t, dev.IsUp(), "a failed close leaves the device up")
}

func TestDevice_Transmit(t *testing.T) {
	drv := &fakeDriver{}
	dev := newTestDevice(drv, 8)

	// down
	err := dev.Transmit(core.EtherTypeIPv4, []byte{1}, nil)
	assert.ErrorIs(t, err, core.ErrDeviceDown)
	assert.Empty(t, drv.Sent())

	require.NoError(t, dev.Open())

	// one byte over the mtu
	err = dev.Transmit(core.EtherTypeIPv4, make([]byte, 9), nil)
	assert.ErrorIs(t, err, core.ErrTooLong)
	assert.Empty(t, drv.Sent(), "an oversized payload never reaches the driver")

	// exactly the mtu
	dst := []byte{0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa}
	require.NoError(t, dev.Transmit(core.EtherTypeARP, make([]byte, 8), dst))
	sent := drv.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, core.EtherTypeARP, sent[0].typ)
	assert.Len(t, sent[0].data, 8)
	assert.Equal(t, dst, sent[0].dst)
}

func TestDevice_TransmitDriverFailure(t *testing.T) {
	txErr := errors.New("no carrier")
	dev := newTestDevice(&fakeDriver{txErr: txErr}, 1500)
	require.NoError(t, dev.Open())

	err := dev.Transmit(core.EtherTypeIPv4, []byte{1, 2, 3}, nil)
	assert.ErrorIs(t, err, core.ErrTransmit)
	assert.ErrorIs(t, err, txErr)
}

func TestRun_OpensAllInRegistrationOrder(t *testing.T) {
	s, fi := newTestStack(t)
	var journal []string

	failing := &fakeDriver{journal: &journal, openErr: errors.New("boom")}
	devs := []*Device{
		newTestDevice(&fakeDriver{journal: &journal}, 1500),
		newTestDevice(failing, 1500),
		newTestDevice(&fakeDriver{journal: &journal}, 1500),
	}
	for _, d := range devs {
		require.NoError(t, s.RegisterDevice(d))
	}

	require.NoError(t, s.Run())
	assert.True(t, fi.started)
	assert.Equal(t, []string{"open:net0", "open:net1", "open:net2"}, journal)
	assert.True(t, devs[0].IsUp())
	assert.False(t, devs[1].IsUp())
	assert.True(t, devs[2].IsUp(), "a failed open does not abort bring-up")
}

func TestRun_InterruptStartFailure(t *testing.T) {
	s, fi := newTestStack(t)
	fi.startErr = errors.New("no signals")
	var journal []string
	dev := newTestDevice(&fakeDriver{journal: &journal}, 1500)
	require.NoError(t, s.RegisterDevice(dev))

	err := s.Run()
	assert.ErrorIs(t, err, fi.startErr)
	assert.Empty(t, journal, "no device is opened when interrupts fail to start")
	assert.False(t, dev.IsUp())

	// registration is still possible after a failed Run
	assert.NoError(t, s.RegisterDevice(newTestDevice(&fakeDriver{}, 1500)))
}

func TestShutdown_BestEffort(t *testing.T) {
	s, fi := newTestStack(t)
	var journal []string

	closeErr := errors.New("stuck")
	devs := []*Device{
		newTestDevice(&fakeDriver{journal: &journal, closeErr: closeErr}, 1500),
		newTestDevice(&fakeDriver{journal: &journal}, 1500),
	}
	for _, d := range devs {
		require.NoError(t, s.RegisterDevice(d))
	}
	require.NoError(t, s.Run())
	journal = journal[:0]

	err := s.Shutdown()
	assert.ErrorIs(t, err, closeErr)
	assert.Equal(t, []string{"close:net0", "close:net1"}, journal)
	assert.False(t, devs[1].IsUp())
	assert.False(t, fi.started, "interrupts are stopped after devices")
}

func TestIface_AttachAndLookup(t *testing.T) {
	dev := newTestDevice(&fakeDriver{}, 1500)
	ifc := &testIface{family: core.FamilyIP}

	require.NoError(t, dev.AddIface(ifc))
	assert.Same(t, dev, ifc.Dev())
	assert.Equal(t, ifc, dev.Iface(core.FamilyIP))
	assert.Nil(t, dev.Iface(core.FamilyIPv6))

	err := dev.AddIface(&testIface{family: core.FamilyIP})
	assert.ErrorIs(t, err, core.ErrIfaceExists)
}

type testIface struct {
	IfaceBase
	family core.Family
}

func (i *testIface) Family() core.Family { return i.family }

// ---------------------------------------------------------------------------
// Protocol registry & dispatcher
// ---------------------------------------------------------------------------

type received struct {
	data []byte
	dev  *Device
}

func recorder(out *[]received) Handler {
	return func(data []byte, dev *Device) {
		*out = append(*out, received{data: data, dev: dev})
	}
}

func TestRegisterProtocol_Duplicate(t *testing.T) {
	s, _ := newTestStack(t)
	var first, second []received

	require.NoError(t, s.RegisterProtocol(core.EtherTypeARP, recorder(&first)))
	err := s.RegisterProtocol(core.EtherTypeARP, recorder(&second))
	assert.ErrorIs(t, err, core.ErrProtocolExists)

	dev := newTestDevice(&fakeDriver{}, 1500)
	require.NoError(t, s.Input(core.EtherTypeARP, []byte{1}, dev))
	s.DispatchPending()

	assert.Len(t, first, 1, "the first registration stays in place")
	assert.Empty(t, second)
}

func TestInput_UnsupportedTypeIsNotAnError(t *testing.T) {
	s, fi := newTestStack(t)
	require.NoError(t, s.RegisterProtocol(core.EtherTypeARP, func([]byte, *Device) {}))

	err := s.Input(core.EtherType(0x88cc), []byte{1, 2, 3}, newTestDevice(&fakeDriver{}, 1500))
	assert.NoError(t, err)
	assert.Equal(t, 0, fi.Raised())
}

func TestDispatch_FIFOExactlyOnce(t *testing.T) {
	s, fi := newTestStack(t)
	var got []received
	require.NoError(t, s.RegisterProtocol(core.EtherTypeIPv4, recorder(&got)))
	dev := newTestDevice(&fakeDriver{}, 1500)

	for i := 0; i < 10; i++ {
		require.NoError(t, s.Input(core.EtherTypeIPv4, []byte{byte(i), 0xee}, dev))
	}
	assert.Equal(t, 10, fi.Raised())

	s.DispatchPending()
	require.Len(t, got, 10)
	for i, r := range got {
		assert.Equal(t, []byte{byte(i), 0xee}, r.data)
		assert.Same(t, dev, r.dev)
	}

	s.DispatchPending()
	assert.Len(t, got, 10, "a drained queue delivers nothing twice")
}

func TestInput_CopiesFrame(t *testing.T) {
	s, _ := newTestStack(t)
	var got []received
	require.NoError(t, s.RegisterProtocol(core.EtherTypeIPv4, recorder(&got)))

	frame := []byte{1, 2, 3}
	require.NoError(t, s.Input(core.EtherTypeIPv4, frame, newTestDevice(&fakeDriver{}, 1500)))
	frame[0] = 0xff

	s.DispatchPending()
	require.Len(t, got, 1)
	assert.Equal(t, []byte{1, 2, 3}, got[0].data)
}

func TestDispatch_RegistrationOrderAcrossProtocols(t *testing.T) {
	s, _ := newTestStack(t)
	var order []string
	require.NoError(t, s.RegisterProtocol(core.EtherTypeARP, func(data []byte, _ *Device) {
		order = append(order, "arp"+string(data))
	}))
	require.NoError(t, s.RegisterProtocol(core.EtherTypeIPv4, func(data []byte, _ *Device) {
		order = append(order, "ip"+string(data))
	}))
	dev := newTestDevice(&fakeDriver{}, 1500)

	require.NoError(t, s.Input(core.EtherTypeIPv4, []byte("1"), dev))
	require.NoError(t, s.Input(core.EtherTypeARP, []byte("1"), dev))
	require.NoError(t, s.Input(core.EtherTypeIPv4, []byte("2"), dev))
	require.NoError(t, s.Input(core.EtherTypeARP, []byte("2"), dev))

	s.DispatchPending()
	assert.Equal(t, []string{"arp1", "arp2", "ip1", "ip2"}, order)
}

func TestDispatch_QueuedFramesSurviveDeviceClose(t *testing.T) {
	s, _ := newTestStack(t)
	var got []received
	require.NoError(t, s.RegisterProtocol(core.EtherTypeIPv4, recorder(&got)))
	dev := newTestDevice(&fakeDriver{}, 1500)
	require.NoError(t, dev.Open())

	require.NoError(t, s.Input(core.EtherTypeIPv4, []byte{1}, dev))
	require.NoError(t, dev.Close())

	s.DispatchPending()
	assert.Len(t, got, 1)
}

func TestInput_QueueLimit(t *testing.T) {
	fi := newFakeIntr()
	s, err := New(fi, WithQueueLimit(2))
	require.NoError(t, err)
	require.NoError(t, s.RegisterProtocol(core.EtherTypeIPv4, func([]byte, *Device) {}))
	dev := newTestDevice(&fakeDriver{}, 1500)

	require.NoError(t, s.Input(core.EtherTypeIPv4, []byte{1}, dev))
	require.NoError(t, s.Input(core.EtherTypeIPv4, []byte{2}, dev))
	err = s.Input(core.EtherTypeIPv4, []byte{3}, dev)
	assert.ErrorIs(t, err, core.ErrAlloc)
	assert.Equal(t, 2, fi.Raised())
}

func TestDispatch_NotReentrant(t *testing.T) {
	s, _ := newTestStack(t)
	calls := 0
	require.NoError(t, s.RegisterProtocol(core.EtherTypeIPv4, func([]byte, *Device) {
		calls++
		s.DispatchPending()
	}))
	dev := newTestDevice(&fakeDriver{}, 1500)
	require.NoError(t, s.Input(core.EtherTypeIPv4, []byte{1}, dev))
	require.NoError(t, s.Input(core.EtherTypeIPv4, []byte{2}, dev))

	s.DispatchPending()
	assert.Equal(t, 2, calls)
}

func TestDispatch_WithInterruptController(t *testing.T) {
	ic := intr.New()
	s, err := New(ic)
	require.NoError(t, err)

	var mu sync.Mutex
	var got [][]byte
	require.NoError(t, s.RegisterProtocol(core.EtherTypeIPv4, func(data []byte, _ *Device) {
		mu.Lock()
		got = append(got, data)
		mu.Unlock()
	}))
	dev := newTestDevice(&fakeDriver{}, 1500)
	require.NoError(t, s.RegisterDevice(dev))
	require.NoError(t, s.Run())
	defer s.Shutdown()

	const n = 500
	go func() {
		for i := 0; i < n; i++ {
			_ = s.Input(core.EtherTypeIPv4, []byte{byte(i >> 8), byte(i)}, dev)
		}
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == n
	}, 2*time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i, data := range got {
		assert.Equal(t, []byte{byte(i >> 8), byte(i)}, data)
	}
}
