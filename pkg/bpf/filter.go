// Package bpf loads eBPF socket filters that keep non-MRD IGMP traffic
// (membership queries and reports) off the raw sockets.
package bpf

import (
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/asm"
	"github.com/cilium/ebpf/rlimit"
	"golang.org/x/sys/unix"
)

// snapLen is the number of bytes of an accepted packet handed to the socket.
const snapLen = 0xffff

// Filter is a loaded socket filter program that can be attached to any
// number of raw IPv4 sockets.
type Filter struct {
	prog     *ebpf.Program
	igmpType uint8
}

// IGMPTypeInstructions returns a socket filter that passes IPv4 datagrams
// whose IGMP type byte equals igmpType and drops everything else.
func IGMPTypeInstructions(igmpType uint8) asm.Instructions {
	return asm.Instructions{
		// LD_ABS/LD_IND read the skb held in R6.
		asm.Mov.Reg(asm.R6, asm.R1),
		// IP header length in bytes: (ihl & 0x0f) * 4.
		asm.LoadAbs(0, asm.Byte),
		asm.And.Imm(asm.R0, 0x0f),
		asm.LSh.Imm(asm.R0, 2),
		asm.Mov.Reg(asm.R7, asm.R0),
		// IGMP type is the first byte after the IP header.
		asm.LoadInd(asm.R0, asm.R7, 0, asm.Byte),
		asm.JNE.Imm(asm.R0, int32(igmpType), "drop"),
		asm.Mov.Imm(asm.R0, snapLen),
		asm.Return(),
		asm.Mov.Imm(asm.R0, 0).WithSymbol("drop"),
		asm.Return(),
	}
}

// LoadIGMPFilter loads the socket filter for igmpType into the kernel.
func LoadIGMPFilter(igmpType uint8) (*Filter, error) {
	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("remove memlock rlimit: %w", err)
	}

	prog, err := ebpf.NewProgram(&ebpf.ProgramSpec{
		Name:         "mrd_igmp_type",
		Type:         ebpf.SocketFilter,
		License:      "GPL",
		Instructions: IGMPTypeInstructions(igmpType),
	})
	if err != nil {
		return nil, fmt.Errorf("load socket filter: %w", err)
	}
	return &Filter{prog: prog, igmpType: igmpType}, nil
}

// Type returns the IGMP type the filter passes.
func (f *Filter) Type() uint8 {
	return f.igmpType
}

// Attach installs the filter on the socket fd (SO_ATTACH_BPF).
func (f *Filter) Attach(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ATTACH_BPF, f.prog.FD()); err != nil {
		return fmt.Errorf("SO_ATTACH_BPF: %w", err)
	}
	return nil
}

// Close releases the program. Sockets it is attached to keep their
// own reference.
func (f *Filter) Close() error {
	return f.prog.Close()
}
