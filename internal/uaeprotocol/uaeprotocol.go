// Package uaeprotocol implements protocol.Adapter against FS-UAE's
// built-in textual debugger console, launched as a child process. FS-UAE
// writes its console/prompt traffic to stderr and its regular log
// output to stdout, so commands go out on stdin and responses are read
// back from stderr. It is grounded on amidev.debug.uae.UaeDebuggerProtocol:
// the same single-letter command set (g/t/m/r/f/d/q), the same
// fixed-column parsing of the register dump and disassembly lines, and
// the same "read until the trailing '>' prompt" framing FS-UAE uses for
// a finished response.
package uaeprotocol

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/amidbg/amidbg/internal/amilog"
	"github.com/amidbg/amidbg/internal/debuginfo"
	"github.com/amidbg/amidbg/internal/protocol"
)

// Adapter drives an fs-uae child process through its console debugger.
// It satisfies protocol.Adapter.
type Adapter struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *bufio.Reader
	log    *amilog.Logger

	mu sync.Mutex // serializes command/response round trips
}

// Launch starts "fs-uae" with the given arguments and returns an Adapter
// wired to its stdin and stderr. FS-UAE's stdout carries only its own
// log output, so it is drained and discarded to keep the child from
// blocking on a full pipe.
func Launch(ctx context.Context, fsuaeArgs []string, log *amilog.Logger) (*Adapter, error) {
	if log == nil {
		log = amilog.NewNop()
	}
	cmd := exec.CommandContext(ctx, "fs-uae", fsuaeArgs...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("uaeprotocol: stdin pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("uaeprotocol: stderr pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("uaeprotocol: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("uaeprotocol: start fs-uae: %w", err)
	}
	go io.Copy(io.Discard, stdout)
	return &Adapter{
		cmd:    cmd,
		stdin:  stdin,
		stderr: bufio.NewReader(stderr),
		log:    log,
	}, nil
}

// send writes a command line to the child's stdin.
func (a *Adapter) send(cmd string) error {
	a.log.Debug("send", amilog.Cmd(cmd))
	_, err := io.WriteString(a.stdin, cmd+"\n")
	return err
}

// recv reads response lines until the FS-UAE debugger prompt ('>' with
// no trailing newline) appears on stderr, mirroring the
// accumulate-until-prompt framing the Python transport implements over
// the fd==2 stream.
func (a *Adapter) recv() ([]string, error) {
	var lines []string
	for {
		line, err := a.stderr.ReadString('\n')
		if err != nil {
			if err == io.EOF && strings.HasSuffix(line, ">") {
				line = strings.TrimSuffix(line, ">")
				if trimmed := strings.TrimSpace(line); trimmed != "" {
					lines = append(lines, trimmed)
				}
				return lines, nil
			}
			return nil, fmt.Errorf("uaeprotocol: recv: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(line) == ">" {
			return lines, nil
		}
		if strings.HasSuffix(line, ">") && !strings.Contains(line, " ") {
			// prompt glued to the final data line with no newline between
			lines = append(lines, strings.TrimSuffix(line, ">"))
			return lines, nil
		}
		lines = append(lines, line)
	}
}

func (a *Adapter) roundTrip(cmd string) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.send(cmd); err != nil {
		return nil, err
	}
	return a.recv()
}

// Cont resumes execution ('g').
func (a *Adapter) Cont(ctx context.Context) error {
	_, err := a.roundTrip("g")
	return err
}

// Step single-steps one instruction ('t').
func (a *Adapter) Step(ctx context.Context) error {
	_, err := a.roundTrip("t")
	return err
}

// ReadMemory reads length bytes starting at addr ('m'), reassembling
// FS-UAE's 16-byte hex dump rows into one contiguous hex string.
//
//	00000004 00C0 0276 00FC 0818 00FC 081A 00FC 081C  ...v............
func (a *Adapter) ReadMemory(ctx context.Context, addr uint32, length uint32) (string, error) {
	rows := (length + 15) / 16
	lines, err := a.roundTrip(fmt.Sprintf("m %x %d", addr, rows))
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) < 9 {
			continue
		}
		for _, f := range fields[1:9] {
			b.WriteString(f)
		}
	}
	hexStr := b.String()
	want := int(length) * 2
	if len(hexStr) < want {
		return "", fmt.Errorf("uaeprotocol: read_memory returned %d hex chars, want %d", len(hexStr), want)
	}
	return hexStr[:want], nil
}

// ReadAllRegisters reads the full register file ('r').
func (a *Adapter) ReadAllRegisters(ctx context.Context) (protocol.Registers, error) {
	lines, err := a.roundTrip("r")
	if err != nil {
		return protocol.Registers{}, err
	}
	return parseCPUState(lines)
}

// InsertHWBreak inserts a hardware breakpoint at addr ('f'); FS-UAE
// toggles the same command to add or remove depending on current state,
// so the response text is what tells the two apart.
func (a *Adapter) InsertHWBreak(ctx context.Context, addr uint32) (bool, error) {
	lines, err := a.roundTrip(fmt.Sprintf("f %X", addr))
	if err != nil {
		return false, err
	}
	if len(lines) == 0 {
		return false, nil
	}
	return lines[0] == "Breakpoint added", nil
}

// RemoveHWBreak removes a hardware breakpoint at addr ('f').
func (a *Adapter) RemoveHWBreak(ctx context.Context, addr uint32) (bool, error) {
	lines, err := a.roundTrip(fmt.Sprintf("f %X", addr))
	if err != nil {
		return false, err
	}
	if len(lines) == 0 {
		return false, nil
	}
	return lines[0] == "Breakpoint removed", nil
}

// Disassemble decodes n instructions starting at addr ('d').
//
//	00FC10BC 33fc 4000 00df f09a      MOVE.W #$4000,$00dff09a
func (a *Adapter) Disassemble(ctx context.Context, addr uint32, n int) ([]protocol.DisassemblyLine, error) {
	lines, err := a.roundTrip(fmt.Sprintf("d %x %d", addr, n))
	if err != nil {
		return nil, err
	}
	out := make([]protocol.DisassemblyLine, 0, len(lines))
	for _, line := range lines {
		dl, err := parseDisassemblyLine(line)
		if err != nil {
			return nil, err
		}
		out = append(out, dl)
	}
	return out, nil
}

func parseDisassemblyLine(line string) (protocol.DisassemblyLine, error) {
	if len(line) < 34 {
		return protocol.DisassemblyLine{}, fmt.Errorf("uaeprotocol: disassembly line too short: %q", line)
	}
	pc, err := strconv.ParseUint(strings.TrimSpace(line[:8]), 16, 32)
	if err != nil {
		return protocol.DisassemblyLine{}, fmt.Errorf("uaeprotocol: parse disassembly address: %w", err)
	}
	op := strings.ToUpper(strings.Join(strings.Fields(line[8:34]), ""))
	ins := strings.TrimSpace(line[34:])
	return protocol.DisassemblyLine{Address: uint32(pc), Opcode: op, Mnemonic: ins}, nil
}

// FetchSegments is not exposed by the FS-UAE console; segment addresses
// come from the loader banner printed at startup, which this adapter
// does not yet capture.
func (a *Adapter) FetchSegments(ctx context.Context) ([]debuginfo.Segment, error) {
	return nil, protocol.CommandNotSupported
}

// Kill terminates the debuggee ('q').
func (a *Adapter) Kill(ctx context.Context) error {
	_, err := a.roundTrip("q")
	return err
}

// Prologue reads the stop-state banner emitted after launch, cont, or
// step: an optional "Breakpoint at XXXXXXXX" line followed by the
// register dump.
func (a *Adapter) Prologue(ctx context.Context) (protocol.Prologue, error) {
	a.mu.Lock()
	lines, err := a.recv()
	a.mu.Unlock()
	if err != nil {
		return protocol.Prologue{}, err
	}
	var p protocol.Prologue
	if len(lines) > 0 && strings.HasPrefix(lines[0], "Breakpoint") {
		fields := strings.Fields(lines[0])
		if len(fields) >= 3 {
			addr, err := strconv.ParseUint(fields[2], 16, 32)
			if err == nil {
				a32 := uint32(addr)
				p.Break = &a32
			}
		}
		lines = lines[1:]
	}
	regs, err := parseCPUState(lines)
	if err != nil {
		return protocol.Prologue{}, err
	}
	p.Regs = regs
	return p, nil
}

// SendRaw passes an arbitrary command straight through to the fs-uae
// console, for callers that need a command this adapter doesn't
// otherwise expose. It satisfies debugger.RawSender.
func (a *Adapter) SendRaw(ctx context.Context, cmd string) ([]string, error) {
	return a.roundTrip(cmd)
}

// Close releases the child process's pipes. It does not wait for exit;
// callers that need a clean shutdown should Kill first.
func (a *Adapter) Close() error {
	return a.stdin.Close()
}

// Wait blocks until the fs-uae process exits.
func (a *Adapter) Wait() error {
	return a.cmd.Wait()
}

var regFieldOrder = [...]string{"D0", "D1", "D2", "D3", "D4", "D5", "D6", "D7",
	"A0", "A1", "A2", "A3", "A4", "A5", "A6", "A7"}

// parseCPUState decodes the fixed-format register dump:
//
//	D0 000424B9   D1 00000000   D2 00000000   D3 00000000
//	D4 00000000   D5 00000000   D6 FFFFFFFF   D7 00000000
//	A0 00CF6D1C   A1 00DC0000   A2 00D40000   A3 00000000
//	A4 00D00000   A5 00FC0208   A6 00C00276   A7 00040000
//	USP  00000000 ISP  00040000
//	T=00 S=1 M=0 X=0 N=0 Z=1 V=0 C=0 IMASK=7 STP=0
//	Prefetch fffc (ILLEGAL) 51c8 (DBcc) Chip latch 00000000
//	00FC0610 51c8 fffc                DBF .W D0,#$fffc == $00fc060e (F)
//	Next PC: 00fc0614
func parseCPUState(lines []string) (protocol.Registers, error) {
	if len(lines) < 8 {
		return protocol.Registers{}, fmt.Errorf("uaeprotocol: cpu state has %d lines, want at least 8", len(lines))
	}
	var regs protocol.Registers
	values := map[string]uint32{}
	for _, line := range lines[:4] {
		fields := strings.Fields(line)
		for i := 0; i+1 < len(fields); i += 2 {
			v, err := strconv.ParseUint(fields[i+1], 16, 32)
			if err != nil {
				return protocol.Registers{}, fmt.Errorf("uaeprotocol: parse register %q: %w", fields[i], err)
			}
			values[fields[i]] = uint32(v)
		}
	}
	for i, name := range regFieldOrder {
		if i < 8 {
			regs.D[i] = values[name]
		} else {
			regs.A[i-8] = values[name]
		}
	}

	usp, err := parseLabeledHex(lines[4], "USP")
	if err != nil {
		return protocol.Registers{}, err
	}
	isp, err := parseLabeledHex(lines[4], "ISP")
	if err != nil {
		return protocol.Registers{}, err
	}
	regs.USP, regs.ISP = usp, isp

	sr, err := parseSR(lines[5])
	if err != nil {
		return protocol.Registers{}, err
	}
	regs.SR = sr

	pcFields := strings.Fields(lines[7])
	if len(pcFields) == 0 {
		return protocol.Registers{}, fmt.Errorf("uaeprotocol: empty PC line")
	}
	pc, err := strconv.ParseUint(pcFields[0], 16, 32)
	if err != nil {
		return protocol.Registers{}, fmt.Errorf("uaeprotocol: parse PC: %w", err)
	}
	regs.PC = uint32(pc)
	return regs, nil
}

func parseLabeledHex(line, label string) (uint32, error) {
	fields := strings.Fields(line)
	for i, f := range fields {
		if f == label && i+1 < len(fields) {
			v, err := strconv.ParseUint(fields[i+1], 16, 32)
			if err != nil {
				return 0, fmt.Errorf("uaeprotocol: parse %s: %w", label, err)
			}
			return uint32(v), nil
		}
	}
	return 0, fmt.Errorf("uaeprotocol: %s not found in %q", label, line)
}

// parseSR packs the status-register flag line into the m68k SR layout:
// T(15) S(13) M(12) IMASK(10-8) X(4) N(3) Z(2) V(1) C(0).
func parseSR(line string) (uint16, error) {
	fields := strings.Fields(line)
	flags := map[string]string{}
	for _, f := range fields {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			continue
		}
		flags[k] = v
	}
	need := []string{"T", "S", "M", "X", "N", "Z", "V", "C", "IMASK"}
	for _, k := range need {
		if _, ok := flags[k]; !ok {
			return 0, fmt.Errorf("uaeprotocol: status line missing %s: %q", k, line)
		}
	}
	imask, err := strconv.Atoi(flags["IMASK"])
	if err != nil {
		return 0, fmt.Errorf("uaeprotocol: parse IMASK: %w", err)
	}
	bit := func(s string) uint16 {
		if s == "1" || s == "01" {
			return 1
		}
		return 0
	}
	var sr uint16
	sr |= bit(flags["T"]) << 15
	sr |= bit(flags["S"]) << 13
	sr |= bit(flags["M"]) << 12
	sr |= uint16(imask&0x7) << 8
	sr |= bit(flags["X"]) << 4
	sr |= bit(flags["N"]) << 3
	sr |= bit(flags["Z"]) << 2
	sr |= bit(flags["V"]) << 1
	sr |= bit(flags["C"])
	return sr, nil
}
