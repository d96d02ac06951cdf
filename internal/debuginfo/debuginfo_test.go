package debuginfo

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/amidbg/amidbg/internal/hunk"
)

// Raw a.out n_type codes used directly by these tests (internal/stab
// keeps its own unexported copies; duplicating the handful this package
// exercises keeps the fixture builder self-contained).
const (
	nSO    = 0x64
	nSOL   = 0x84
	nFUN   = 0x24
	nSLINE = 0x44
	nGSYM  = 0x20
	nSTSYM = 0x26
	nLCSYM = 0x28
	nDATA  = 0x06
	nBSS   = 0x08
	nLBRAC = 0xc0
	nRBRAC = 0xe0
)

type rawStab struct {
	nType byte
	str   string
	desc  uint16
	value uint32
}

func nlist(nType byte, strx uint32, desc uint16, value uint32) []byte {
	var b bytes.Buffer
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], strx)
	b.Write(tmp[:])
	b.WriteByte(nType)
	b.WriteByte(0)
	binary.BigEndian.PutUint16(tmp[:2], desc)
	b.Write(tmp[:2])
	binary.BigEndian.PutUint32(tmp[:], value)
	b.Write(tmp[:])
	return b.Bytes()
}

// buildDebugData assembles a synthetic split-form HUNK_DEBUG payload
// (header nlist + entries + string table), the same on-disk shape
// internal/stab.DecodeRaw expects.
func buildDebugData(entries []rawStab) []byte {
	strtab := []byte{0}
	offsets := make([]uint32, len(entries))
	for i, e := range entries {
		if e.str == "" {
			continue
		}
		offsets[i] = uint32(len(strtab))
		strtab = append(strtab, []byte(e.str)...)
		strtab = append(strtab, 0)
	}
	var buf bytes.Buffer
	buf.Write(nlist(0, 0, uint16(len(entries)), uint32(len(strtab))))
	for i, e := range entries {
		buf.Write(nlist(e.nType, offsets[i], e.desc, e.value))
	}
	buf.Write(strtab)
	return buf.Bytes()
}

func debugRecord(entries []rawStab) hunk.Record {
	return hunk.Record{Kind: hunk.KindDebug, DebugData: buildDebugData(entries)}
}

func TestBuildUnderscoreDedup(t *testing.T) {
	records := []hunk.Record{
		{Kind: hunk.KindData, Size: 0x200},
		debugRecord([]rawStab{
			{nType: nDATA, str: "foo", value: 0x100},
			{nType: nDATA, str: "_foo", value: 0x100},
			{nType: nDATA, str: "bar", value: 0x104},
		}),
	}
	info, err := Build(records)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	syms := info.Sections[0].Symbols()
	if len(syms) != 2 {
		t.Fatalf("got %d symbols, want 2: %+v", len(syms), syms)
	}
	if syms[0].Address != 0x100 || syms[0].Name != "foo" {
		t.Errorf("symbol 0 = %+v, want (0x100, foo)", syms[0])
	}
	if syms[1].Address != 0x104 || syms[1].Name != "bar" {
		t.Errorf("symbol 1 = %+v, want (0x104, bar)", syms[1])
	}
}

func TestBuildCommonMatching(t *testing.T) {
	records := []hunk.Record{
		{Kind: hunk.KindData, Size: 0x3000},
		debugRecord([]rawStab{
			{nType: nSO, str: "a.c"},
			{nType: nDATA, str: "_x", value: 0x2000},
			{nType: nGSYM, str: "x:G1", desc: 10},
		}),
	}
	info, err := Build(records)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	sec := info.Sections[0]
	if len(sec.Symbols()) != 1 || sec.Symbols()[0].Name != "x" || sec.Symbols()[0].Address != 0x2000 {
		t.Fatalf("symbols = %+v, want [{0x2000 x}]", sec.Symbols())
	}
	var found bool
	for _, l := range sec.Lines() {
		if l.Address == 0x2000 && l.Path == "a.c" && l.Line == 10 && l.Symbol().Name == "x" {
			found = true
		}
	}
	if !found {
		t.Fatalf("lines = %+v, want a synthesized (0x2000, a.c, 10, x) line", sec.Lines())
	}
}

func TestBuildSLINESharesFunctionSymbol(t *testing.T) {
	records := []hunk.Record{
		{Kind: hunk.KindCode, Size: 0x2000},
		debugRecord([]rawStab{
			{nType: nFUN, str: "main:F1", value: 0x1000},
			{nType: nSLINE, value: 0x1004, desc: 5},
			{nType: nSLINE, value: 0x1008, desc: 6},
		}),
	}
	info, err := Build(records)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	sec := info.Sections[0]
	if len(sec.lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(sec.lines))
	}
	if sec.lines[0].symbolIdx != sec.lines[1].symbolIdx {
		t.Fatalf("SLINEs do not share a symbol index: %d vs %d", sec.lines[0].symbolIdx, sec.lines[1].symbolIdx)
	}
	sec.symbols[sec.lines[0].symbolIdx].Name = "renamed"
	if sec.lines[1].Symbol().Name != "renamed" {
		t.Errorf("rename did not propagate through the arena: %s", sec.lines[1].Symbol().Name)
	}
}

func TestRelocateRejectsSizeMismatch(t *testing.T) {
	info := &DebugInfo{Sections: []*Section{
		{Start: 0, Size: 200},
		{Start: 200, Size: 80},
		{Start: 280, Size: 40},
	}}
	err := info.Relocate([]Segment{
		{Start: 0x10000, Size: 200},
		{Start: 0x11000, Size: 80},
		{Start: 0x11100, Size: 50},
	})
	if err == nil {
		t.Fatal("expected relocate to reject a size mismatch")
	}
	if info.Sections[0].Start != 0 {
		t.Errorf("section 0 start mutated despite rejection: %#x", info.Sections[0].Start)
	}
}

func TestRelocateSucceeds(t *testing.T) {
	info := &DebugInfo{Sections: []*Section{
		{Start: 0, Size: 200, symbols: []Symbol{{Address: 10, Name: "a"}}},
		{Start: 200, Size: 80, symbols: []Symbol{{Address: 210, Name: "b"}}},
	}}
	err := info.Relocate([]Segment{
		{Start: 0xA0000, Size: 200},
		{Start: 0xA00C8, Size: 80},
	})
	if err != nil {
		t.Fatalf("Relocate: %v", err)
	}
	if info.Sections[0].Start != 0xA0000 || info.Sections[1].Start != 0xA00C8 {
		t.Fatalf("sections not relocated: %+v", info.Sections)
	}
	if info.Sections[0].symbols[0].Address != 0xA0000+10 {
		t.Errorf("symbol address not shifted: %#x", info.Sections[0].symbols[0].Address)
	}
	if info.Sections[1].symbols[0].Address != 0xA00C8+10 {
		t.Errorf("symbol address not shifted: %#x", info.Sections[1].symbols[0].Address)
	}
}

func TestAskAddressAndAskSymbol(t *testing.T) {
	records := []hunk.Record{
		{Kind: hunk.KindCode, Size: 0x2000},
		debugRecord([]rawStab{
			{nType: nFUN, str: "main:F1", value: 0x1000},
			{nType: nSLINE, value: 0x1004, desc: 5},
			{nType: nSLINE, value: 0x1008, desc: 6},
		}),
	}
	info, err := Build(records)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	sl, ok := info.AskAddress(0x1006)
	if !ok {
		t.Fatal("AskAddress(0x1006) found nothing")
	}
	if sl.Symbol().Address > 0x1006 {
		t.Errorf("AskAddress invariant violated: symbol address %#x > pc", sl.Symbol().Address)
	}
	if sl.Address != 0x1004 {
		t.Errorf("AskAddress(0x1006) = %#x, want 0x1004", sl.Address)
	}

	addr, ok := info.AskSymbol("main")
	if !ok || addr != 0x1000 {
		t.Fatalf("AskSymbol(main) = (%#x, %v), want (0x1000, true)", addr, ok)
	}

	if sl2, ok := info.AskAddress(addr); !ok || sl2.Symbol().Name != "main" {
		t.Errorf("AskAddress(AskSymbol(main)) did not resolve back to main: %+v, %v", sl2, ok)
	}

	if _, ok := info.AskSymbol("nosuchsymbol"); ok {
		t.Error("AskSymbol found a nonexistent symbol")
	}
}

func TestAskSourceLinePrefixTolerance(t *testing.T) {
	info := &DebugInfo{Sections: []*Section{{
		symbols: []Symbol{{Address: 0x2000, Name: "x"}},
	}}}
	info.Sections[0].lines = []SourceLine{
		{Address: 0x2000, Path: "/build/src/a.c", Line: 42, section: info.Sections[0], symbolIdx: 0},
	}

	addr, ok := info.AskSourceLine("a.c:40")
	if !ok || addr != 0x2000 {
		t.Fatalf("AskSourceLine(a.c:40) = (%#x, %v), want (0x2000, true)", addr, ok)
	}

	if _, ok := info.AskSourceLine("a.c:43"); ok {
		t.Error("AskSourceLine(a.c:43) should find nothing (no line ≥ 43)")
	}
}

func TestAskAddressNoContainingSection(t *testing.T) {
	info := &DebugInfo{Sections: []*Section{{Start: 0x1000, Size: 0x10}}}
	if _, ok := info.AskAddress(0x5000); ok {
		t.Error("AskAddress outside every section should return false")
	}
}

func TestSectionContainsHalfOpen(t *testing.T) {
	sec := &Section{Start: 0x100, Size: 0x10}
	if !sec.Contains(0x100) {
		t.Error("start address should be contained")
	}
	if sec.Contains(0x110) {
		t.Error("end address should not be contained (half-open)")
	}
	if !sec.Contains(0x10f) {
		t.Error("last valid address should be contained")
	}
}
