// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors, wrapped with fmt.Errorf("...: %w") and matched with errors.Is.
var (
	// Allocation errors
	ErrAlloc = errors.New("ustack: allocation failure")

	// Device errors
	ErrDeviceUp     = errors.New("ustack: device already opened")
	ErrDeviceDown   = errors.New("ustack: device not opened")
	ErrTooLong      = errors.New("ustack: payload exceeds device mtu")
	ErrTransmit     = errors.New("ustack: device transmit failure")
	ErrIfaceExists  = errors.New("ustack: interface family already attached")
	ErrStackRunning = errors.New("ustack: stack already running")

	// Protocol errors
	ErrProtocolExists = errors.New("ustack: protocol already registered")

	// Interrupt errors
	ErrIRQExists      = errors.New("ustack: irq already registered")
	ErrAlreadyRunning = errors.New("ustack: interrupt controller already running")
	ErrNotRunning     = errors.New("ustack: interrupt controller not running")

	// Address resolution errors
	ErrNotFound    = errors.New("ustack: address not found")
	ErrUnsupported = errors.New("ustack: unsupported address type")

	// Packet decoding errors
	ErrPacketTooShort = errors.New("ustack: packet too short")

	// Configuration errors
	ErrConfigInvalid = errors.New("ustack: invalid configuration")
)
