//go:build !linux

package ether

import (
	"fmt"

	"firestige.xyz/ustack/internal/core"
)

// OpenAFPacket is only available on linux.
func OpenAFPacket(opts *Options) (Port, error) {
	return nil, fmt.Errorf("afpacket %s: %w", opts.Interface, core.ErrUnsupported)
}
