// Package debugger implements the command loop driving a
// protocol.Adapter: address resolution, breakpoint bookkeeping, stop
// display, and the command dispatch table, grounded on
// amidev.debug.debug.Debugger.
package debugger

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/amidbg/amidbg/internal/amilog"
	"github.com/amidbg/amidbg/internal/debuginfo"
	"github.com/amidbg/amidbg/internal/protocol"
	"github.com/amidbg/amidbg/internal/ui/colorize"
)

// BreakPoint is one hardware breakpoint installed on the target. Number
// is a monotonically increasing id assigned at insertion time, not a
// random token, so the user sees "#1", "#2", ... matching the order
// breakpoints were added.
type BreakPoint struct {
	Number  int
	Address uint32
}

var breakpointSeq int64

func nextBreakpointNumber() int {
	return int(atomic.AddInt64(&breakpointSeq, 1))
}

// Printer receives the lines the debugger would otherwise print to a
// terminal, so the REPL layer (internal/session) controls where output
// actually goes.
type Printer interface {
	Println(s string)
}

// SourceReader fetches the text of one line of a source file, so
// break display can show source context without internal/debugger
// depending on a specific filesystem layout.
type SourceReader interface {
	Line(path string, n int) (string, bool)
}

// Debugger holds one session's state: the transport, the current debug
// info (nil until Zf loads one), the registered breakpoints, and the
// most recently reported registers.
type Debugger struct {
	Protocol protocol.Adapter
	Info     *debuginfo.DebugInfo
	Source   SourceReader
	Log      *amilog.Logger

	breakpoints []BreakPoint
	regs        protocol.Registers
}

// New constructs a Debugger around an already-connected adapter.
func New(p protocol.Adapter, source SourceReader, log *amilog.Logger) *Debugger {
	if log == nil {
		log = amilog.NewNop()
	}
	return &Debugger{Protocol: p, Source: source, Log: log}
}

// AddressOf resolves a user-typed token to an address: a bare hex
// literal first, then (if debug info is loaded) a "path:line" token,
// then a symbol name. Returns false if none of those resolve.
func (d *Debugger) AddressOf(where string) (uint32, bool) {
	if v, err := strconv.ParseUint(where, 16, 32); err == nil {
		return uint32(v), true
	}
	if d.Info == nil {
		return 0, false
	}
	if addr, ok := d.Info.AskSourceLine(where); ok {
		return addr, true
	}
	if addr, ok := d.Info.AskSymbol(where); ok {
		return addr, true
	}
	return 0, false
}

// breakInfo renders pc as a source location if debug info resolves it,
// or a bare address otherwise.
func (d *Debugger) breakInfo(pc uint32) string {
	if d.Info != nil {
		if sl, ok := d.Info.AskAddress(pc); ok {
			return sl.String()
		}
	}
	return fmt.Sprintf("%08X", pc)
}

func (d *Debugger) breakLookup(addr uint32) (BreakPoint, bool) {
	for _, bp := range d.breakpoints {
		if bp.Address == addr {
			return bp, true
		}
	}
	return BreakPoint{}, false
}

// breakShow prints the stop location: source context with the
// surrounding four lines when debug info and a readable source file
// are both available, a short disassembly window otherwise.
func (d *Debugger) breakShow(ctx context.Context, p Printer, pc uint32) error {
	p.Println(fmt.Sprintf("Stopped at %s:", d.breakInfo(pc)))

	var sl *debuginfo.SourceLine
	if d.Info != nil {
		sl, _ = d.Info.AskAddress(pc)
	}
	if sl == nil || sl.Path == "" || d.Source == nil {
		lines, err := d.Protocol.Disassemble(ctx, pc, 5)
		if err != nil {
			return err
		}
		for _, l := range lines {
			p.Println(colorize.Address(l.Address) + " " + colorize.Instruction(l.Mnemonic))
		}
		return nil
	}
	for n := int(sl.Line) - 2; n <= int(sl.Line)+2; n++ {
		if n < 1 {
			continue
		}
		if text, ok := d.Source.Line(sl.Path, n); ok {
			p.Println(fmt.Sprintf("%d %s", n, text))
		}
	}
	return nil
}

// Prologue reads the adapter's stop-state packet, records the
// registers, and displays the stop location.
func (d *Debugger) Prologue(ctx context.Context, p Printer) error {
	data, err := d.Protocol.Prologue(ctx)
	if err != nil {
		return err
	}
	d.regs = data.Regs
	p.Println(d.regs.String())
	p.Println("")
	return d.breakShow(ctx, p, d.regs.PC)
}

func (d *Debugger) doCont(ctx context.Context, p Printer) error {
	if err := d.Protocol.Cont(ctx); err != nil {
		return err
	}
	p.Println("Continue...")
	return d.Prologue(ctx, p)
}

func (d *Debugger) doStep(ctx context.Context, p Printer) error {
	if err := d.Protocol.Step(ctx); err != nil {
		return err
	}
	return d.Prologue(ctx, p)
}

func (d *Debugger) doMemoryRead(ctx context.Context, p Printer, addr uint32, length uint32) error {
	data, err := d.Protocol.ReadMemory(ctx, addr, length)
	if err != nil {
		return err
	}
	p.Println(data)
	return nil
}

func (d *Debugger) doBreakInsert(ctx context.Context, p Printer, addr uint32) error {
	if _, ok := d.breakLookup(addr); ok {
		return nil
	}
	ok, err := d.Protocol.InsertHWBreak(ctx, addr)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	bp := BreakPoint{Number: nextBreakpointNumber(), Address: addr}
	d.breakpoints = append(d.breakpoints, bp)
	p.Println(fmt.Sprintf("Added breakpoint #%d, %s", bp.Number, d.breakInfo(bp.Address)))
	return nil
}

func (d *Debugger) doBreakRemove(ctx context.Context, p Printer, addr uint32) error {
	bp, ok := d.breakLookup(addr)
	if !ok {
		return nil
	}
	for i, cur := range d.breakpoints {
		if cur.Address == addr {
			d.breakpoints = append(d.breakpoints[:i], d.breakpoints[i+1:]...)
			break
		}
	}
	if _, err := d.Protocol.RemoveHWBreak(ctx, addr); err != nil {
		return err
	}
	p.Println(fmt.Sprintf("Removed breakpoint #%d", bp.Number))
	return nil
}

func (d *Debugger) doBreakShow(p Printer) {
	sorted := make([]BreakPoint, len(d.breakpoints))
	copy(sorted, d.breakpoints)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Number < sorted[j].Number })
	for _, bp := range sorted {
		p.Println(fmt.Sprintf("#%d: %s", bp.Number, d.breakInfo(bp.Address)))
	}
}

func (d *Debugger) doDisassembleRange(ctx context.Context, p Printer, addr, end uint32) error {
	for addr < end {
		lines, err := d.Protocol.Disassemble(ctx, addr, 1)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return fmt.Errorf("debugger: disassemble at %#x returned nothing", addr)
		}
		line := lines[0]
		next, err := line.NextAddress()
		if err != nil {
			return err
		}
		addr = next
		p.Println(line.String())
	}
	return nil
}

func (d *Debugger) doInfoRegisters(ctx context.Context, p Printer) error {
	regs, err := d.Protocol.ReadAllRegisters(ctx)
	if err != nil {
		return err
	}
	p.Println(regs.String())
	return nil
}

func (d *Debugger) doDebugInfoRead(ctx context.Context, p Printer, build func() (*debuginfo.DebugInfo, error)) error {
	segments, err := d.Protocol.FetchSegments(ctx)
	if err != nil {
		return err
	}
	info, err := build()
	if err != nil {
		return err
	}
	if err := info.Relocate(segments); err != nil {
		p.Println(fmt.Sprintf("Failed to associate debug info with task sections: %v", err))
		return nil
	}
	d.Info = info
	return nil
}

func (d *Debugger) doWhereAmI(ctx context.Context, p Printer) error {
	return d.breakShow(ctx, p, d.regs.PC)
}

func (d *Debugger) doQuit(ctx context.Context) error {
	return d.Protocol.Kill(ctx)
}

// RawSender is implemented by adapters that can pass an arbitrary
// command straight through to the transport, for the ":cmd" escape
// hatch. Adapters that don't support this simply don't implement it.
type RawSender interface {
	SendRaw(ctx context.Context, cmd string) ([]string, error)
}

// DebugInfoLoader is supplied by the caller so the command dispatcher
// doesn't need to know how a path turns into a *debuginfo.DebugInfo
// (reading a hunk file from disk, vs. a pre-parsed fixture in tests).
type DebugInfoLoader func(path string) (*debuginfo.DebugInfo, error)

// Do dispatches one parsed command line, mirroring
// amidev.debug.debug.Debugger.do_command's operation table.
func (d *Debugger) Do(ctx context.Context, p Printer, line string, loadDebugInfo DebugInfoLoader) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	op, arg := fields[0], fields[1:]

	argCounts := map[string]int{"mr": 2, "b": 1, "bd": 1, "dr": 2, "Zf": 1}
	if want, needed := argCounts[op]; needed && len(arg) < want {
		return fmt.Errorf("debugger: %q requires %d argument(s)", op, want)
	}

	switch {
	case op == "mr":
		addr, ok := d.AddressOf(arg[0])
		if !ok {
			return fmt.Errorf("debugger: cannot resolve address %q", arg[0])
		}
		length, err := strconv.Atoi(arg[1])
		if err != nil {
			return fmt.Errorf("debugger: bad length %q: %w", arg[1], err)
		}
		return d.doMemoryRead(ctx, p, addr, uint32(length))

	case op == "b":
		addr, ok := d.AddressOf(arg[0])
		if !ok {
			return fmt.Errorf("debugger: cannot resolve address %q", arg[0])
		}
		return d.doBreakInsert(ctx, p, addr)

	case op == "bd":
		addr, ok := d.AddressOf(arg[0])
		if !ok {
			return fmt.Errorf("debugger: cannot resolve address %q", arg[0])
		}
		return d.doBreakRemove(ctx, p, addr)

	case op == "bl":
		d.doBreakShow(p)
		return nil

	case op == "dr":
		start, ok1 := d.AddressOf(arg[0])
		end, ok2 := d.AddressOf(arg[1])
		if !ok1 || !ok2 {
			return fmt.Errorf("debugger: cannot resolve disassembly range %q %q", arg[0], arg[1])
		}
		return d.doDisassembleRange(ctx, p, start, end)

	case op == "c":
		return d.doCont(ctx, p)

	case op == "s":
		return d.doStep(ctx, p)

	case op == "ir":
		return d.doInfoRegisters(ctx, p)

	case op == "q":
		return d.doQuit(ctx)

	case op == "Zf":
		if loadDebugInfo == nil {
			return fmt.Errorf("debugger: Zf unavailable: no debug info loader configured")
		}
		return d.doDebugInfoRead(ctx, p, func() (*debuginfo.DebugInfo, error) {
			return loadDebugInfo(arg[0])
		})

	case op == "!":
		return d.doWhereAmI(ctx, p)

	case strings.HasPrefix(op, ":"):
		raw := strings.TrimPrefix(line, ":")
		sender, ok := d.Protocol.(RawSender)
		if !ok {
			return fmt.Errorf("debugger: transport does not support raw commands")
		}
		lines, err := sender.SendRaw(ctx, raw)
		if err != nil {
			return err
		}
		for _, l := range lines {
			p.Println(l)
		}
		return nil

	default:
		p.Println("Unknown command")
		return nil
	}
}
