package debuginfo

import (
	"fmt"
	"sort"
	"strings"

	"github.com/amidbg/amidbg/internal/hunk"
	"github.com/amidbg/amidbg/internal/stab"
)

// Build walks a hunk.Record stream (as produced by hunk.ReadAll) and
// assembles a DebugInfo: one Section per CODE/DATA/BSS hunk, populated
// with the symbols and source lines described by the SYMBOL and DEBUG
// records that follow it, grounded on the fromFile algorithm in
// amidev.debug.info.DebugInfo. HUNK_DEBUG payloads are decoded with
// stab.DecodeRaw only; there is no entry point taking already-decoded
// (preparsed-form) stabs.
func Build(records []hunk.Record) (*DebugInfo, error) {
	b := newBuilder()
	for _, rec := range records {
		switch rec.Kind {
		case hunk.KindCode, hunk.KindData, hunk.KindBSS:
			b.section(rec)
		case hunk.KindSymbol:
			b.symbols(rec)
		case hunk.KindDebug:
			entries, err := stab.DecodeRaw(rec.DebugData)
			if err != nil {
				b.info.Diagnostics = append(b.info.Diagnostics, fmt.Sprintf("debuginfo: decode DEBUG hunk: %v", err))
				continue
			}
			if err := b.debug(entries); err != nil {
				b.info.Diagnostics = append(b.info.Diagnostics, err.Error())
			}
		}
	}
	return b.finish()
}

// builder carries the per-file bookkeeping state the build needs:
// the running base address across CODE/DATA/BSS hunks, the most
// recently seen section of each kind (for DATA/BSS stab attachment and
// HUNK_SYMBOL attachment), and the scratch COMMON pool.
type builder struct {
	info *DebugInfo

	runningBase uint32
	lastSize    uint32

	lastSection    *Section // most recently appended CODE/DATA/BSS section
	currentForKind map[SectionKind]*Section

	common *Section // scratch COMMON pool; never appended to info.Sections
}

func newBuilder() *builder {
	return &builder{
		info:           &DebugInfo{Scopes: map[FuncRef][]ScopeFrame{}, TypeMaps: map[string]map[int]stab.TypeNode{}},
		currentForKind: map[SectionKind]*Section{},
		common:         &Section{},
	}
}

func (b *builder) section(rec hunk.Record) {
	b.runningBase += b.lastSize
	b.lastSize = rec.Size

	kind := SectionCode
	switch rec.Kind {
	case hunk.KindData:
		kind = SectionData
	case hunk.KindBSS:
		kind = SectionBSS
	}

	sec := &Section{Kind: kind, Start: b.runningBase, Size: rec.Size}
	b.info.Sections = append(b.info.Sections, sec)
	b.currentForKind[kind] = sec
	b.lastSection = sec
}

func (b *builder) symbols(rec hunk.Record) {
	if b.lastSection == nil {
		return
	}
	for _, s := range rec.Symbols {
		name := strings.TrimPrefix(s.Name, "_")
		b.lastSection.symbols = append(b.lastSection.symbols, Symbol{
			Address: s.Refs + b.runningBase,
			Name:    name,
		})
	}
}

// hunkDebugState is the per-DEBUG-hunk bookkeeping: the function symbol
// SLINEs attach to, the current source directory/file, and the
// continuation buffers for LSYM/RSYM/PSYM strings.
type hunkDebugState struct {
	dir    string
	file   string
	source string

	funcSection *Section
	funcIdx     int // -1 until a FUN (or a stray SLINE) materializes a slot

	openScopes []uint32 // LBRAC begin addresses awaiting a matching RBRAC

	cont    stab.Continuation
	typeMap map[int]stab.TypeNode
}

func (b *builder) debug(entries []stab.Entry) error {
	st := &hunkDebugState{funcIdx: -1}

	for _, e := range entries {
		switch e.Tag {
		case stab.TagSO, stab.TagSOL:
			switch {
			case strings.HasSuffix(e.Str, "/"):
				st.dir = e.Str
			case strings.HasPrefix(e.Str, "/"):
				st.file = e.Str
			default:
				st.file = st.dir + e.Str
			}
			st.source = st.file
			if e.Tag == stab.TagSO {
				st.typeMap = map[int]stab.TypeNode{}
				b.info.TypeMaps[st.source] = st.typeMap
				st.funcSection = nil
				st.funcIdx = -1
			}

		case stab.TagDATA:
			if sec := b.currentForKind[SectionData]; sec != nil {
				sec.symbols = append(sec.symbols, Symbol{Address: e.Value, Name: e.Str})
			}

		case stab.TagBSS:
			if sec := b.currentForKind[SectionBSS]; sec != nil {
				sec.symbols = append(sec.symbols, Symbol{Address: e.Value, Name: e.Str})
			}

		case stab.TagGSYM:
			b.commonSymbol(e, st)

		case stab.TagSTSYM:
			b.sectionSymbol(SectionData, e, st)

		case stab.TagLCSYM:
			b.sectionSymbol(SectionBSS, e, st)

		case stab.TagFUN:
			// The function name is just the text before the first ':';
			// unlike LSYM/RSYM/PSYM/GSYM/STSYM/LCSYM there's no type
			// descriptor here worth running through the full parser.
			name := e.Str
			if idx := strings.IndexByte(name, ':'); idx >= 0 {
				name = name[:idx]
			}
			sec := b.currentForKind[SectionCode]
			if sec == nil {
				return fmt.Errorf("debuginfo: FUN %q with no open CODE section", e.Str)
			}
			sec.symbols = append(sec.symbols, Symbol{Address: e.Value, Name: name})
			st.funcSection = sec
			st.funcIdx = len(sec.symbols) - 1

		case stab.TagSLINE:
			sec := b.currentForKind[SectionCode]
			if sec == nil {
				return fmt.Errorf("debuginfo: SLINE with no open CODE section")
			}
			b.ensureFuncSlot(st, sec)
			sec.lines = append(sec.lines, SourceLine{
				Address:   e.Value,
				Path:      st.source,
				Line:      e.Desc,
				section:   st.funcSection,
				symbolIdx: st.funcIdx,
			})

		case stab.TagLSYM, stab.TagRSYM, stab.TagPSYM:
			if !st.cont.Feed(e.Str) {
				continue
			}
			full := st.cont.String()
			info, err := stab.Parse(full)
			if err != nil {
				b.info.Diagnostics = append(b.info.Diagnostics,
					fmt.Sprintf("debuginfo: %s %q: %v", e.Tag, full, err))
				continue
			}
			b.recordType(st, info)

		case stab.TagLBRAC:
			st.openScopes = append(st.openScopes, e.Value)

		case stab.TagRBRAC:
			if len(st.openScopes) == 0 {
				b.info.Diagnostics = append(b.info.Diagnostics, "debuginfo: RBRAC with no matching LBRAC")
				continue
			}
			begin := st.openScopes[len(st.openScopes)-1]
			st.openScopes = st.openScopes[:len(st.openScopes)-1]
			if st.funcSection != nil && st.funcIdx >= 0 {
				ref := FuncRef{Section: st.funcSection, Index: st.funcIdx}
				b.info.Scopes[ref] = append(b.info.Scopes[ref], ScopeFrame{Begin: begin, End: e.Value})
			}

		case stab.TagTEXT:
			// reserved, no-op

		default:
			return fmt.Errorf("debuginfo: unrecognized stab tag %q (raw %s)", e.Tag, e.RawTag)
		}
	}
	return nil
}

// ensureFuncSlot materializes a placeholder function symbol the first
// time a SLINE arrives with no preceding FUN in this hunk, so the
// SourceLine always has a valid arena slot to point at.
func (b *builder) ensureFuncSlot(st *hunkDebugState, sec *Section) {
	if st.funcSection == sec && st.funcIdx >= 0 {
		return
	}
	sec.symbols = append(sec.symbols, Symbol{})
	st.funcSection = sec
	st.funcIdx = len(sec.symbols) - 1
}

// commonSymbol handles GSYM: both the symbol and its source line go into
// the scratch COMMON pool, to be matched against a real DATA/BSS symbol
// during cleanup once its address is known.
func (b *builder) commonSymbol(e stab.Entry, st *hunkDebugState) {
	info, err := stab.Parse(e.Str)
	if err != nil {
		b.info.Diagnostics = append(b.info.Diagnostics, fmt.Sprintf("debuginfo: GSYM %q: %v", e.Str, err))
		return
	}
	b.common.symbols = append(b.common.symbols, Symbol{Address: e.Value, Name: info.Name})
	idx := len(b.common.symbols) - 1
	b.common.lines = append(b.common.lines, SourceLine{
		Address:   e.Value,
		Path:      st.source,
		Line:      e.Desc,
		section:   b.common,
		symbolIdx: idx,
	})
	b.recordType(st, info)
}

// sectionSymbol handles STSYM/LCSYM: same shape as GSYM but the symbol
// and line are attached directly to the named section, since the
// compiler already knows which kind of storage it is.
func (b *builder) sectionSymbol(kind SectionKind, e stab.Entry, st *hunkDebugState) {
	info, err := stab.Parse(e.Str)
	if err != nil {
		b.info.Diagnostics = append(b.info.Diagnostics, fmt.Sprintf("debuginfo: %s %q: %v", e.Tag, e.Str, err))
		return
	}
	sec := b.currentForKind[kind]
	if sec == nil {
		return
	}
	sec.symbols = append(sec.symbols, Symbol{Address: e.Value, Name: info.Name})
	idx := len(sec.symbols) - 1
	sec.lines = append(sec.lines, SourceLine{
		Address:   e.Value,
		Path:      st.source,
		Line:      e.Desc,
		section:   sec,
		symbolIdx: idx,
	})
	b.recordType(st, info)
}

func (b *builder) recordType(st *hunkDebugState, info stab.Info) {
	if st.typeMap == nil || info.Type.Def == nil {
		return
	}
	st.typeMap[info.Type.Ref.Number] = info.Type.Def
}

// finish runs cleanup on every real section (underscore dedup, COMMON
// matching, line sort) and discards the scratch pool.
func (b *builder) finish() (*DebugInfo, error) {
	for _, sec := range b.info.Sections {
		sec.dedupUnderscores()
		sec.matchCommon(b.common.lines)
		sort.Slice(sec.lines, func(i, j int) bool {
			return lessAddrName(sec.lines[i].Address, sec.lines[i].Symbol().Name, sec.lines[j].Address, sec.lines[j].Symbol().Name)
		})
	}
	b.common = nil
	return b.info, nil
}

// dedupUnderscores sorts symbols by (address, name) and collapses an
// adjacent pair at the same address where the second name is the
// first's name with a leading underscore added, keeping the
// underscore-free spelling.
func (s *Section) dedupUnderscores() {
	// Remember each line's owning symbol by value: sorting and collapsing
	// below move symbols around the arena.
	owners := make([]Symbol, len(s.lines))
	for k := range s.lines {
		owners[k] = s.symbols[s.lines[k].symbolIdx]
	}
	sort.Slice(s.symbols, func(i, j int) bool {
		return lessAddrName(s.symbols[i].Address, s.symbols[i].Name, s.symbols[j].Address, s.symbols[j].Name)
	})
	out := s.symbols[:0]
	i := 0
	for i < len(s.symbols) {
		cur := s.symbols[i]
		if i+1 < len(s.symbols) {
			next := s.symbols[i+1]
			if next.Address == cur.Address {
				if next.Name == "_"+cur.Name {
					out = append(out, Symbol{Address: cur.Address, Name: cur.Name})
					i += 2
					continue
				}
				if cur.Name == "_"+next.Name {
					out = append(out, Symbol{Address: cur.Address, Name: next.Name})
					i += 2
					continue
				}
			}
		}
		out = append(out, cur)
		i++
	}
	s.symbols = out
	for k, o := range owners {
		for j, sym := range s.symbols {
			if sym.Address == o.Address && strings.TrimPrefix(sym.Name, "_") == strings.TrimPrefix(o.Name, "_") {
				s.lines[k].symbolIdx = j
				break
			}
		}
	}
}

// matchCommon implements cleanup step 2: for every scratch COMMON line,
// find the section symbol whose name is the COMMON symbol's name either
// exactly or with one leading underscore, rename it, and synthesize a
// SourceLine at the section symbol's (now known) real address.
func (s *Section) matchCommon(commonLines []SourceLine) {
	for i := range commonLines {
		line := &commonLines[i]
		wantName := line.Symbol().Name
		for j := range s.symbols {
			sym := &s.symbols[j]
			if sym.Name != wantName && strings.TrimPrefix(sym.Name, "_") != wantName {
				continue
			}
			sym.Name = wantName
			s.lines = append(s.lines, SourceLine{
				Address:   sym.Address,
				Path:      line.Path,
				Line:      line.Line,
				section:   s,
				symbolIdx: j,
			})
			break
		}
	}
}

func lessAddrName(addrA uint32, nameA string, addrB uint32, nameB string) bool {
	if addrA != addrB {
		return addrA < addrB
	}
	return nameA < nameB
}
