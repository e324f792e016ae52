// Package stack implements the device registry and the protocol dispatcher.
//
// Devices and protocols are registered during single-threaded startup, before
// Run. After Run both lists are read-only and traversed without locking;
// registering after Run fails with core.ErrStackRunning.
//
// Frames arrive through Input, usually from a driver goroutine. Input copies
// the frame onto the protocol's queue and raises intr.SoftIRQ. The interrupt
// goroutine then calls DispatchPending, which drains every queue and runs the
// handlers synchronously.
package stack

import (
	"fmt"

	"github.com/tevino/abool"
	"go.uber.org/multierr"

	"firestige.xyz/ustack/internal/core"
	"firestige.xyz/ustack/internal/intr"
	"firestige.xyz/ustack/internal/log"
)

// Interrupt is the interrupt collaborator consumed by the stack.
type Interrupt interface {
	Register(irq intr.IRQ, name string, handler intr.Handler) error
	Start() error
	Stop() error
	Raise(irq intr.IRQ)
}

// Stack owns the device and protocol lists of one stack instance.
type Stack struct {
	intr       Interrupt
	queueLimit int

	devices   []*Device
	protocols []*protocol
	nextIndex int

	running     abool.AtomicBool
	dispatching abool.AtomicBool

	log log.Logger
}

// Option configures a Stack.
type Option func(*Stack)

// WithQueueLimit bounds every protocol input queue (0 = unbounded).
func WithQueueLimit(n int) Option {
	return func(s *Stack) {
		s.queueLimit = n
	}
}

// New creates a stack and binds DispatchPending to intr.SoftIRQ on ic.
func New(ic Interrupt, opts ...Option) (*Stack, error) {
	s := &Stack{
		intr: ic,
		log:  log.GetLogger().WithField("component", "stack"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := ic.Register(intr.SoftIRQ, "net", s.DispatchPending); err != nil {
		return nil, fmt.Errorf("register softirq: %w", err)
	}
	return s, nil
}

// RegisterDevice assigns the next index and a "net<index>" name and adds dev
// to the device list. It must not be called after Run.
func (s *Stack) RegisterDevice(dev *Device) error {
	if s.running.IsSet() {
		return fmt.Errorf("register device: %w", core.ErrStackRunning)
	}
	if dev.Driver == nil {
		return fmt.Errorf("register device: no driver: %w", core.ErrConfigInvalid)
	}

	dev.Index = s.nextIndex
	s.nextIndex++
	dev.Name = fmt.Sprintf("net%d", dev.Index)
	s.devices = append(s.devices, dev)

	s.log.Infof("registered, dev=%s, type=0x%04x", dev.Name, uint16(dev.Type))
	return nil
}

// Devices returns the registered devices in registration order.
func (s *Stack) Devices() []*Device {
	out := make([]*Device, len(s.devices))
	copy(out, s.devices)
	return out
}

// DeviceByName looks up a registered device.
func (s *Stack) DeviceByName(name string) *Device {
	for _, dev := range s.devices {
		if dev.Name == name {
			return dev
		}
	}
	return nil
}

// Run starts interrupt delivery and opens every device. A device that fails
// to open is logged and skipped.
func (s *Stack) Run() error {
	if !s.running.SetToIf(false, true) {
		return core.ErrStackRunning
	}

	if err := s.intr.Start(); err != nil {
		s.running.UnSet()
		s.log.WithError(err).Error("interrupt start failure")
		return fmt.Errorf("start interrupts: %w", err)
	}

	s.log.Debug("open all devices...")
	for _, dev := range s.devices {
		if err := dev.Open(); err != nil {
			s.log.WithError(err).Warnf("open failure, dev=%s", dev.Name)
		}
	}
	s.log.Debug("running...")
	return nil
}

// Shutdown closes every device that is up, then stops interrupt delivery. A
// close failure does not stop the walk; all failures are returned together.
func (s *Stack) Shutdown() error {
	var errs error

	s.log.Debug("close all devices...")
	for _, dev := range s.devices {
		if !dev.IsUp() {
			continue
		}
		errs = multierr.Append(errs, dev.Close())
	}

	errs = multierr.Append(errs, s.intr.Stop())
	s.running.UnSet()
	s.log.Debug("shutting down")
	return errs
}
