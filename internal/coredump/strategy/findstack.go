package strategy

import "encoding/binary"

// rspOffset is the byte offset of rsp within the amd64 user_regs_struct
// layout (struct pt_regs in the kernel's ptrace ABI): 27 unsigned longs
// in order r15,r14,...,rip,cs,eflags,rsp,... — rsp is the 20th field.
// The original implementation derives this from a per-architecture
// register table (arch.rs) that wasn't available to ground this port
// against; amd64 is the only target this agent's capture strategy runs
// on, so the offset is hardcoded here instead.
const rspOffset = 19 * 8

// FindStack returns the memory range covering a thread's stack, given its
// raw NT_PRSTATUS register dump, the process's memory mappings, and a cap
// on how much of the stack to capture. The range starts at the current
// stack pointer and covers at most maxThreadSize bytes above it, never
// past the mapping's end, since a stack's most useful frames for a
// debugger are the ones nearest its current stack pointer.
func FindStack(regs []byte, memoryMaps []MemoryRange, maxThreadSize int) (MemoryRange, bool) {
	if len(regs) < rspOffset+8 {
		return MemoryRange{}, false
	}
	sp := binary.LittleEndian.Uint64(regs[rspOffset:])

	for _, m := range memoryMaps {
		if !m.Contains(sp) {
			continue
		}
		end := m.End
		if end-sp > uint64(maxThreadSize) {
			end = sp + uint64(maxThreadSize)
		}
		return NewMemoryRange(sp, end), true
	}
	return MemoryRange{}, false
}
