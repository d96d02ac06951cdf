package debuginfo

import (
	"fmt"
	"strconv"
	"strings"
)

// Relocate shifts every section to its runtime load address. It is
// all-or-nothing: segments and sections are validated pairwise before
// any address is mutated, so a rejected call leaves every section's
// start untouched. A size mismatch is returned as a structured error
// (naming both sizes) rather than merely printed, so a caller can act
// on the mismatch instead of grepping log output for it.
func (di *DebugInfo) Relocate(segments []Segment) error {
	if len(segments) != len(di.Sections) {
		return fmt.Errorf("debuginfo: relocate: %d segments for %d sections", len(segments), len(di.Sections))
	}
	for i, seg := range segments {
		if seg.Size != di.Sections[i].Size {
			return fmt.Errorf("debuginfo: relocate: section %d size %d vs segment size %d", i, di.Sections[i].Size, seg.Size)
		}
	}
	for i, seg := range segments {
		sec := di.Sections[i]
		diff := seg.Start - sec.Start
		for j := range sec.symbols {
			sec.symbols[j].Address += diff
		}
		for j := range sec.lines {
			sec.lines[j].Address += diff
		}
		sec.Start = seg.Start
	}
	return nil
}

// AskAddress finds the SourceLine or symbol governing pc: the Section
// containing pc (first match wins if ranges ever overlap), then the
// candidate with the greatest address ≤ pc among that section's lines
// and symbols, found by a merge-walk over the two independently sorted
// vectors rather than a combined store.
func (di *DebugInfo) AskAddress(pc uint32) (*SourceLine, bool) {
	for _, sec := range di.Sections {
		if !sec.Contains(pc) {
			continue
		}
		idx, isLine, found := mergeWalk(sec.lines, sec.symbols, pc)
		if !found {
			return nil, false
		}
		if isLine {
			return &sec.lines[idx], true
		}
		return &SourceLine{Address: sec.symbols[idx].Address, section: sec, symbolIdx: idx}, true
	}
	return nil, false
}

// mergeWalk scans lines and symbols (both sorted ascending by address
// then name) in lockstep, returning the index and kind of the greatest
// entry whose address is ≤ pc.
func mergeWalk(lines []SourceLine, symbols []Symbol, pc uint32) (idx int, isLine bool, found bool) {
	i, j := 0, 0
	bestIdx, bestIsLine := -1, false

	for i < len(lines) || j < len(symbols) {
		var addr uint32
		var curIsLine bool

		switch {
		case i >= len(lines):
			addr, curIsLine = symbols[j].Address, false
		case j >= len(symbols):
			addr, curIsLine = lines[i].Address, true
		default:
			la, ln := lines[i].Address, lines[i].Symbol().Name
			sa, sn := symbols[j].Address, symbols[j].Name
			if la < sa || (la == sa && ln <= sn) {
				addr, curIsLine = la, true
			} else {
				addr, curIsLine = sa, false
			}
		}

		if addr > pc {
			break
		}
		if curIsLine {
			bestIdx, bestIsLine = i, true
			i++
		} else {
			bestIdx, bestIsLine = j, false
			j++
		}
	}

	if bestIdx < 0 {
		return 0, false, false
	}
	return bestIdx, bestIsLine, true
}

// AskSymbol returns the address of the first symbol named name, scanning
// sections in declaration order. Returning (0, false) for "not found"
// instead of a truthy zero-address check means a legitimate symbol at
// address 0 is never mistaken for "missing".
func (di *DebugInfo) AskSymbol(name string) (uint32, bool) {
	for _, sec := range di.Sections {
		for _, sym := range sec.symbols {
			if sym.Name == name {
				return sym.Address, true
			}
		}
	}
	return 0, false
}

// AskSourceLine resolves a "path:line" token to an address: the lowest
// address, in declaration order of sections, whose SourceLine has a
// path ending in the requested suffix and a line number ≥ the
// requested one.
func (di *DebugInfo) AskSourceLine(token string) (uint32, bool) {
	path, lineStr, ok := strings.Cut(token, ":")
	if !ok {
		return 0, false
	}
	line, err := strconv.Atoi(lineStr)
	if err != nil || line <= 0 {
		return 0, false
	}
	want := uint32(line)

	for _, sec := range di.Sections {
		for _, sl := range sec.lines {
			if strings.HasSuffix(sl.Path, path) && sl.Line >= want {
				return sl.Address, true
			}
		}
	}
	return 0, false
}
