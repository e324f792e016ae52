// Package intr simulates interrupt delivery for the stack.
//
// Raise marks an IRQ pending and wakes a single delivery goroutine. Raises
// that arrive before the goroutine wakes are coalesced, so one wake may stand
// for any number of raises. Handlers run one at a time on that goroutine.
package intr

import (
	"fmt"
	"sync"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"firestige.xyz/ustack/internal/core"
	"firestige.xyz/ustack/internal/log"
)

// IRQ identifies an interrupt line.
type IRQ uint8

const (
	// SoftIRQ carries deferred protocol processing.
	SoftIRQ IRQ = 1

	maxIRQ = 64
)

// Handler services one IRQ.
type Handler func()

type registration struct {
	irq     IRQ
	name    string
	handler Handler
}

// Controller owns the delivery goroutine.
type Controller struct {
	mu       sync.Mutex
	handlers []registration
	pending  uint64
	running  bool
	stop     chan struct{}
	notify   chan struct{}
	wg       conc.WaitGroup
	log      log.Logger
}

func New() *Controller {
	return &Controller{
		notify: make(chan struct{}, 1),
		log:    log.GetLogger().WithField("component", "intr"),
	}
}

// Register binds handler to irq. An irq may have only one handler.
func (c *Controller) Register(irq IRQ, name string, handler Handler) error {
	if irq >= maxIRQ {
		return fmt.Errorf("irq %d out of range: %w", irq, core.ErrConfigInvalid)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range c.handlers {
		if r.irq == irq {
			return fmt.Errorf("irq=%d, name=%s: %w", irq, r.name, core.ErrIRQExists)
		}
	}
	c.handlers = append(c.handlers, registration{irq: irq, name: name, handler: handler})
	c.log.Debugf("registered, irq=%d, name=%s", irq, name)
	return nil
}

// Start launches the delivery goroutine. IRQs raised before Start are delivered right away.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return core.ErrAlreadyRunning
	}
	c.running = true
	c.stop = make(chan struct{})

	stop := c.stop
	c.wg.Go(func() { c.loop(stop) })

	if c.pending != 0 {
		c.kick()
	}
	c.log.Debug("running")
	return nil
}

// Stop terminates the delivery goroutine and waits for the handler in flight.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return core.ErrNotRunning
	}
	c.running = false
	close(c.stop)
	c.mu.Unlock()

	c.wg.Wait()
	c.log.Debug("terminated")
	return nil
}

// Raise marks irq pending. It never blocks and is safe from any goroutine.
func (c *Controller) Raise(irq IRQ) {
	if irq >= maxIRQ {
		c.log.Warnf("raise ignored, irq=%d out of range", irq)
		return
	}
	c.mu.Lock()
	c.pending |= 1 << irq
	c.mu.Unlock()
	c.kick()
}

func (c *Controller) kick() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *Controller) loop(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-c.notify:
			c.deliver()
		}
	}
}

func (c *Controller) deliver() {
	c.mu.Lock()
	pending := c.pending
	c.pending = 0
	handlers := c.handlers
	c.mu.Unlock()

	for _, r := range handlers {
		if pending&(1<<r.irq) == 0 {
			continue
		}
		if rec := panics.Try(r.handler); rec != nil {
			c.log.WithError(rec.AsError()).Errorf("handler panic, irq=%d, name=%s", r.irq, r.name)
		}
	}
}
