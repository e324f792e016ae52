// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesInputTotal counts frames handed to the dispatcher for a registered protocol
	FramesInputTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ustack_frames_input_total",
			Help: "Total number of frames queued for protocol dispatch",
		},
		[]string{"type"},
	)

	// FramesDroppedTotal counts frames dropped before reaching a protocol handler
	FramesDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ustack_frames_dropped_total",
			Help: "Total number of frames dropped by the dispatcher",
		},
		[]string{"reason"},
	)

	// FramesDispatchedTotal counts frames delivered to protocol handlers
	FramesDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ustack_frames_dispatched_total",
			Help: "Total number of frames delivered to protocol handlers",
		},
		[]string{"type"},
	)

	// ProtocolQueueDepth tracks the backlog of each protocol input queue
	ProtocolQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ustack_protocol_queue_depth",
			Help: "Number of frames waiting in a protocol input queue",
		},
		[]string{"type"},
	)

	// DeviceTxTotal counts device transmit attempts by outcome
	DeviceTxTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ustack_device_tx_total",
			Help: "Total number of device transmit attempts",
		},
		[]string{"device", "result"},
	)

	// ARPCacheEntries tracks non-free ARP cache slots
	ARPCacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ustack_arp_cache_entries",
			Help: "Number of ARP cache slots in use",
		},
	)

	// ARPCacheEvictionsTotal counts entries evicted to make room for inserts
	ARPCacheEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ustack_arp_cache_evictions_total",
			Help: "Total number of ARP cache entries evicted by age",
		},
	)

	// ARPRepliesTotal counts ARP replies sent
	ARPRepliesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ustack_arp_replies_total",
			Help: "Total number of ARP replies transmitted",
		},
	)

	// ARPDroppedTotal counts malformed or unsupported ARP messages
	ARPDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ustack_arp_dropped_total",
			Help: "Total number of ARP messages dropped",
		},
		[]string{"reason"},
	)
)

// Transmit result label values
const (
	ResultOK    = "ok"
	ResultError = "error"
)
