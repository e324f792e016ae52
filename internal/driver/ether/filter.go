package ether

import (
	"golang.org/x/net/bpf"

	"firestige.xyz/ustack/internal/core"
)

// etherTypeOffset is the offset of the EtherType field in an Ethernet II frame.
const etherTypeOffset = 12

// etherTypeFilter returns a socket filter accepting only frames whose
// EtherType is one of types. An empty list accepts nothing.
func etherTypeFilter(types ...core.EtherType) []bpf.Instruction {
	prog := []bpf.Instruction{
		bpf.LoadAbsolute{Off: etherTypeOffset, Size: 2},
	}
	for i, typ := range types {
		// jump over the remaining tests and the reject to the accept
		prog = append(prog, bpf.JumpIf{
			Cond:     bpf.JumpEqual,
			Val:      uint32(typ),
			SkipTrue: uint8(len(types) - i),
		})
	}
	return append(prog,
		bpf.RetConstant{Val: 0},
		bpf.RetConstant{Val: 0xffff},
	)
}
