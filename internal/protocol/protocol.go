// Package protocol defines the capability set the debugger core drives
// an emulator through: continue/step, memory and register access,
// hardware breakpoints, disassembly, and segment discovery. It is
// grounded on amidev.debug.protocol.DebuggerProtocol: every operation a
// transport might not support fails with CommandNotSupported rather
// than the interface growing optional methods, so a minimal or test
// adapter can satisfy Adapter by returning CommandNotSupported from the
// methods it lacks.
package protocol

import (
	"context"
	"errors"
	"fmt"

	"github.com/amidbg/amidbg/internal/debuginfo"
)

// CommandNotSupported is returned by an adapter operation that transport
// does not implement.
var CommandNotSupported = errors.New("protocol: command not supported")

// CommandFailed wraps a transport-level failure (the emulator rejected
// or could not execute a request) distinct from it simply not existing.
var CommandFailed = errors.New("protocol: command failed")

// Registers is the fixed m68k register set the debugger core displays
// and the protocol adapter populates from a cont/step/prologue response.
type Registers struct {
	D    [8]uint32
	A    [8]uint32
	PC   uint32
	USP  uint32
	ISP  uint32
	SR   uint16
}

var regNames = [...]string{"D0", "D1", "D2", "D3", "D4", "D5", "D6", "D7",
	"A0", "A1", "A2", "A3", "A4", "A5", "A6", "A7", "PC", "USP", "ISP", "SR"}

// String renders the three-line layout amidev.debug.state.Registers
// uses: D0-D7, A0-A7, then PC/USP/ISP/SR.
func (r Registers) String() string {
	return fmt.Sprintf(
		"D0=%08X D1=%08X D2=%08X D3=%08X D4=%08X D5=%08X D6=%08X D7=%08X\n"+
			"A0=%08X A1=%08X A2=%08X A3=%08X A4=%08X A5=%08X A6=%08X A7=%08X\n"+
			"PC=%08X USP=%08X ISP=%08X SR=%04X",
		r.D[0], r.D[1], r.D[2], r.D[3], r.D[4], r.D[5], r.D[6], r.D[7],
		r.A[0], r.A[1], r.A[2], r.A[3], r.A[4], r.A[5], r.A[6], r.A[7],
		r.PC, r.USP, r.ISP, r.SR,
	)
}

// DisassemblyLine is one decoded instruction: its address, the raw hex
// opcode bytes, and the mnemonic text the adapter's transport reported.
type DisassemblyLine struct {
	Address  uint32
	Opcode   string // hex digits, two per byte
	Mnemonic string
}

// NextAddress returns the address of the instruction following this
// one. It rejects an odd-length opcode string rather than silently
// truncating it via integer division, since a malformed opcode string
// is a sign the transport misparsed a line, not something to paper over.
func (d DisassemblyLine) NextAddress() (uint32, error) {
	if len(d.Opcode)%2 != 0 {
		return 0, fmt.Errorf("protocol: opcode %q has odd length", d.Opcode)
	}
	return d.Address + uint32(len(d.Opcode)/2), nil
}

func (d DisassemblyLine) String() string {
	return fmt.Sprintf("%08X %-32s %s", d.Address, d.Opcode, d.Mnemonic)
}

// Prologue is the data packet a successful cont/step/startup yields:
// the registers at the stop point, and the breakpoint address if the
// stop was caused by one.
type Prologue struct {
	Regs  Registers
	Break *uint32
}

// Adapter is the capability set the debugger core calls. Concrete
// transports (uaeprotocol.Adapter) implement every method; a transport
// lacking a capability returns CommandNotSupported.
type Adapter interface {
	Cont(ctx context.Context) error
	Step(ctx context.Context) error
	ReadMemory(ctx context.Context, addr uint32, length uint32) (string, error)
	ReadAllRegisters(ctx context.Context) (Registers, error)
	InsertHWBreak(ctx context.Context, addr uint32) (bool, error)
	RemoveHWBreak(ctx context.Context, addr uint32) (bool, error)
	Disassemble(ctx context.Context, addr uint32, n int) ([]DisassemblyLine, error)
	FetchSegments(ctx context.Context) ([]debuginfo.Segment, error)
	Kill(ctx context.Context) error
	Prologue(ctx context.Context) (Prologue, error)
}

// ReadByte, ReadWord and ReadLong are derived from ReadMemory: they
// parse the returned hex string as a big-endian integer of the
// requested width.
func ReadByte(ctx context.Context, a Adapter, addr uint32) (uint8, error) {
	v, err := readInt(ctx, a, addr, 1)
	return uint8(v), err
}

func ReadWord(ctx context.Context, a Adapter, addr uint32) (uint16, error) {
	v, err := readInt(ctx, a, addr, 2)
	return uint16(v), err
}

func ReadLong(ctx context.Context, a Adapter, addr uint32) (uint32, error) {
	v, err := readInt(ctx, a, addr, 4)
	return uint32(v), err
}

func readInt(ctx context.Context, a Adapter, addr uint32, width uint32) (uint64, error) {
	hexStr, err := a.ReadMemory(ctx, addr, width)
	if err != nil {
		return 0, err
	}
	if uint32(len(hexStr)) != width*2 {
		return 0, fmt.Errorf("protocol: read_memory returned %d hex chars, want %d", len(hexStr), width*2)
	}
	var v uint64
	for _, c := range []byte(hexStr) {
		var d uint64
		switch {
		case c >= '0' && c <= '9':
			d = uint64(c - '0')
		case c >= 'a' && c <= 'f':
			d = uint64(c-'a') + 10
		case c >= 'A' && c <= 'F':
			d = uint64(c-'A') + 10
		default:
			return 0, fmt.Errorf("protocol: non-hex byte %q in read_memory result", c)
		}
		v = v<<4 | d
	}
	return v, nil
}

// RegisterNames lists the fixed m68k register set in display order.
func RegisterNames() []string {
	out := make([]string, len(regNames))
	copy(out, regNames[:])
	return out
}
