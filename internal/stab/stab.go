// Package stab decodes GNU STABS debug entries embedded in a HUNK_DEBUG
// block. It knows about two on-disk variants: the "split" form (a raw
// a.out-style nlist table plus a string table, as emitted by vlink/vasm)
// and the "preparsed" form (entries that arrive already typed, e.g.
// re-serialized by a prior tool in the chain).
// Neither form is interpreted beyond turning it into a flat []Entry; the
// source-line/symbol model lives in internal/debuginfo.
package stab

import (
	"encoding/binary"
	"fmt"
)

// Tag enumerates the stab entry kinds the debug-info builder understands.
// Using an enum instead of the raw n_type byte (or a string, as the
// upstream Python does) lets callers switch exhaustively and keeps
// unrecognized entries from silently passing through as some other kind.
type Tag int

const (
	TagSO Tag = iota
	TagSOL
	TagFUN
	TagSLINE
	TagGSYM
	TagSTSYM
	TagLCSYM
	TagDATA
	TagBSS
	TagLSYM
	TagRSYM
	TagPSYM
	TagLBRAC
	TagRBRAC
	TagTEXT
	TagUnknown
)

func (t Tag) String() string {
	switch t {
	case TagSO:
		return "SO"
	case TagSOL:
		return "SOL"
	case TagFUN:
		return "FUN"
	case TagSLINE:
		return "SLINE"
	case TagGSYM:
		return "GSYM"
	case TagSTSYM:
		return "STSYM"
	case TagLCSYM:
		return "LCSYM"
	case TagDATA:
		return "DATA"
	case TagBSS:
		return "BSS"
	case TagLSYM:
		return "LSYM"
	case TagRSYM:
		return "RSYM"
	case TagPSYM:
		return "PSYM"
	case TagLBRAC:
		return "LBRAC"
	case TagRBRAC:
		return "RBRAC"
	case TagTEXT:
		return "TEXT"
	default:
		return "UNKNOWN"
	}
}

// Raw a.out n_type codes, as used by binutils' stab.def and produced by
// the m68k-amigaos toolchain (vasm/vlink/gcc) for HUNK_DEBUG payloads.
// N_EXT (0x01) may be ORed onto the plain symbol-table codes (TEXT/DATA/
// BSS) for externally visible symbols; it is masked off below.
const (
	nUNDF  = 0x00
	nTEXT  = 0x04
	nDATA  = 0x06
	nBSS   = 0x08
	nGSYM  = 0x20
	nFUN   = 0x24
	nSTSYM = 0x26
	nLCSYM = 0x28
	nRSYM  = 0x40
	nSLINE = 0x44
	nSO    = 0x64
	nLSYM  = 0x80
	nSOL   = 0x84
	nPSYM  = 0xa0
	nLBRAC = 0xc0
	nRBRAC = 0xe0
	nExtBit = 0x01
)

func tagFromRawType(nType byte) Tag {
	switch nType &^ nExtBit {
	case nSO:
		return TagSO
	case nSOL:
		return TagSOL
	case nFUN:
		return TagFUN
	case nSLINE:
		return TagSLINE
	case nGSYM:
		return TagGSYM
	case nSTSYM:
		return TagSTSYM
	case nLCSYM:
		return TagLCSYM
	case nDATA:
		return TagDATA
	case nBSS:
		return TagBSS
	case nLSYM:
		return TagLSYM
	case nRSYM:
		return TagRSYM
	case nPSYM:
		return TagPSYM
	case nLBRAC:
		return TagLBRAC
	case nRBRAC:
		return TagRBRAC
	case nTEXT:
		return TagTEXT
	default:
		return TagUnknown
	}
}

// tagFromName maps the textual tag names used by the preparsed on-disk
// form onto the same enum, so both decoders feed the builder a uniform
// stream.
func tagFromName(name string) (Tag, bool) {
	switch name {
	case "SO":
		return TagSO, true
	case "SOL":
		return TagSOL, true
	case "FUN":
		return TagFUN, true
	case "SLINE":
		return TagSLINE, true
	case "GSYM":
		return TagGSYM, true
	case "STSYM":
		return TagSTSYM, true
	case "LCSYM":
		return TagLCSYM, true
	case "DATA":
		return TagDATA, true
	case "BSS":
		return TagBSS, true
	case "LSYM":
		return TagLSYM, true
	case "RSYM":
		return TagRSYM, true
	case "PSYM":
		return TagPSYM, true
	case "LBRAC":
		return TagLBRAC, true
	case "RBRAC":
		return TagRBRAC, true
	case "TEXT":
		return TagTEXT, true
	default:
		return TagUnknown, false
	}
}

// Entry is one decoded stab record, independent of which on-disk form it
// came from. Value is an address for most tags (FUN/SLINE/GSYM/.../BSS)
// and Desc carries the auxiliary field the same tags overload it for
// (SLINE's source line number; LBRAC/RBRAC's block nesting depth).
// RawTag is only set when Tag is TagUnknown, so the builder can mention
// the original tag in its diagnostic when deciding whether to treat it
// as fatal.
type Entry struct {
	Tag    Tag
	Str    string
	Value  uint32
	Desc   uint32
	RawTag string
}

// DecodeRaw decodes the split on-disk form: a header nlist entry whose
// n_value gives the byte length of the trailing string table and whose
// n_desc gives the number of stab entries that follow, then that many
// 12-byte big-endian nlist records, then the string table itself. This
// is the classic a.out "stabs in sections" convention (binutils
// stabs.texinfo, "The String Table"), reused as-is for HUNK_DEBUG.
func DecodeRaw(data []byte) ([]Entry, error) {
	const nlistSize = 12
	if len(data) < nlistSize {
		return nil, fmt.Errorf("stab: debug payload too short for header (%d bytes)", len(data))
	}
	_, _, headerDesc, headerValue := readNlist(data[:nlistSize])
	count := int(headerDesc)
	strtabSize := int(headerValue)

	want := nlistSize + count*nlistSize + strtabSize
	if want != len(data) {
		return nil, fmt.Errorf("stab: header declares %d entries + %d-byte string table (%d bytes total), debug payload is %d bytes", count, strtabSize, want, len(data))
	}

	strtabStart := nlistSize + count*nlistSize
	strtab := data[strtabStart:]

	entries := make([]Entry, 0, count)
	for i := 0; i < count; i++ {
		off := nlistSize + i*nlistSize
		nType, strx, desc, value := readNlist(data[off : off+nlistSize])
		str, err := readCString(strtab, strx)
		if err != nil {
			return nil, fmt.Errorf("stab: entry %d: %w", i, err)
		}
		tag := tagFromRawType(nType)
		raw := ""
		if tag == TagUnknown {
			raw = fmt.Sprintf("0x%02x", nType)
		}
		entries = append(entries, Entry{
			Tag:    tag,
			Str:    str,
			Value:  value,
			Desc:   uint32(desc),
			RawTag: raw,
		})
	}
	return entries, nil
}

// readNlist parses one 12-byte a.out nlist record:
//
//	uint32 n_strx; uint8 n_type; uint8 n_other; uint16 n_desc; uint32 n_value
func readNlist(b []byte) (nType byte, strx uint32, desc uint16, value uint32) {
	strx = binary.BigEndian.Uint32(b[0:4])
	nType = b[4]
	desc = binary.BigEndian.Uint16(b[6:8])
	value = binary.BigEndian.Uint32(b[8:12])
	return
}

func readCString(strtab []byte, offset uint32) (string, error) {
	if offset == 0 {
		return "", nil
	}
	if int(offset) >= len(strtab) {
		return "", fmt.Errorf("string table offset %d out of range (table is %d bytes)", offset, len(strtab))
	}
	end := int(offset)
	for end < len(strtab) && strtab[end] != 0 {
		end++
	}
	return string(strtab[offset:end]), nil
}

// Preparsed is one entry of the preparsed on-disk form: already split
// into a tag name and fields, with no string table indirection to
// resolve.
type Preparsed struct {
	Tag   string
	Str   string
	Value uint32
	Desc  uint32
}

// DecodePreparsed converts the preparsed form into the same []Entry the
// split-form decoder produces. An unrecognized tag name decodes to
// TagUnknown with RawTag set, same as an out-of-range nlist type in the
// split form — the decoder never fails on an unrecognized tag; the
// debug-info builder decides whether that is fatal for the hunk.
func DecodePreparsed(in []Preparsed) ([]Entry, error) {
	entries := make([]Entry, 0, len(in))
	for _, p := range in {
		tag, ok := tagFromName(p.Tag)
		raw := ""
		if !ok {
			raw = p.Tag
		}
		entries = append(entries, Entry{Tag: tag, Str: p.Str, Value: p.Value, Desc: p.Desc, RawTag: raw})
	}
	return entries, nil
}
