package stack

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"firestige.xyz/ustack/internal/core"
	"firestige.xyz/ustack/internal/intr"
	"firestige.xyz/ustack/internal/metrics"
	"firestige.xyz/ustack/internal/queue"
)

// Handler processes one frame for a protocol. It runs on the dispatch
// goroutine and must not call DispatchPending.
type Handler func(data []byte, dev *Device)

type protocol struct {
	typ     core.EtherType
	queue   *queue.Queue[*entry]
	handler Handler
}

// entry owns a copy of a received frame until its handler returns.
type entry struct {
	dev  *Device
	data []byte
}

// RegisterProtocol binds handler to typ with a private input queue. A type
// may be registered once; it must not be called after Run.
func (s *Stack) RegisterProtocol(typ core.EtherType, handler Handler) error {
	if s.running.IsSet() {
		return fmt.Errorf("register protocol: %w", core.ErrStackRunning)
	}
	for _, p := range s.protocols {
		if p.typ == typ {
			s.log.Errorf("already registered, type=0x%04x", uint16(typ))
			return fmt.Errorf("type=0x%04x: %w", uint16(typ), core.ErrProtocolExists)
		}
	}

	s.protocols = append(s.protocols, &protocol{
		typ:     typ,
		queue:   queue.New[*entry](s.queueLimit),
		handler: handler,
	})
	s.log.Infof("registered, type=0x%04x", uint16(typ))
	return nil
}

// Input queues a copy of data for the protocol registered for typ and raises
// the soft IRQ. Frames of unregistered types are dropped without error.
func (s *Stack) Input(typ core.EtherType, data []byte, dev *Device) error {
	for _, p := range s.protocols {
		if p.typ != typ {
			continue
		}

		e := &entry{dev: dev, data: bytes.Clone(data)}
		if e.data == nil {
			e.data = []byte{}
		}
		if !p.queue.Push(e) {
			metrics.FramesDroppedTotal.WithLabelValues("queue_full").Inc()
			s.log.Errorf("queue full, dev=%s, type=%s, len=%d", dev, typ, len(data))
			return fmt.Errorf("type=%s: queue full: %w", typ, core.ErrAlloc)
		}

		num := p.queue.Len()
		metrics.FramesInputTotal.WithLabelValues(typ.String()).Inc()
		metrics.ProtocolQueueDepth.WithLabelValues(typ.String()).Set(float64(num))
		s.log.Debugf("queue pushed (num:%d), dev=%s, type=%s, len=%d", num, dev, typ, len(data))
		if s.log.IsTraceEnabled() {
			s.log.Trace("\n" + hex.Dump(data))
		}

		s.intr.Raise(intr.SoftIRQ)
		return nil
	}

	// Unsupported protocols are normal traffic, not an error.
	metrics.FramesDroppedTotal.WithLabelValues("unsupported").Inc()
	s.log.Debugf("unsupported protocol, dev=%s, type=%s", dev, typ)
	return nil
}

// DispatchPending drains every protocol queue in registration order, calling
// the handler for each frame in arrival order. A nested call returns at once.
func (s *Stack) DispatchPending() {
	if !s.dispatching.SetToIf(false, true) {
		s.log.Warn("dispatch already in progress")
		return
	}
	defer s.dispatching.UnSet()

	for _, p := range s.protocols {
		for {
			e, ok := p.queue.Pop()
			if !ok {
				break
			}

			s.log.Debugf("queue popped (num:%d), dev=%s, type=%s, len=%d", p.queue.Len(), e.dev, p.typ, len(e.data))
			p.handler(e.data, e.dev)
			metrics.FramesDispatchedTotal.WithLabelValues(p.typ.String()).Inc()
		}
		metrics.ProtocolQueueDepth.WithLabelValues(p.typ.String()).Set(0)
	}
}
