// Package hunk decodes the AmigaOS Hunk executable container format: a
// linear stream of big-endian 32-bit longwords organized into typed blocks
// (HUNK_CODE, HUNK_DATA, HUNK_BSS, HUNK_SYMBOL, HUNK_DEBUG, plus assorted
// terminators). It performs no interpretation of the payloads beyond what is
// needed to split the stream into records; STABS decoding lives in
// internal/stab, and the section/symbol model lives in internal/debuginfo.
package hunk

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Kind identifies the type of a hunk record. Only the kinds the debugger
// core actually consumes get their own value; Next skips other blocks
// (reporting ok=false) or rejects them, and never returns a KindOther
// record.
type Kind int

const (
	KindCode Kind = iota
	KindData
	KindBSS
	KindSymbol
	KindDebug
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindCode:
		return "HUNK_CODE"
	case KindData:
		return "HUNK_DATA"
	case KindBSS:
		return "HUNK_BSS"
	case KindSymbol:
		return "HUNK_SYMBOL"
	case KindDebug:
		return "HUNK_DEBUG"
	default:
		return "HUNK_OTHER"
	}
}

// Raw hunk type tags, as defined by the AmigaDOS hunk file format (The
// AmigaDOS Manual, ch. 10). Only a subset is meaningful to this package;
// the rest are recognized so they can be skipped without erroring.
const (
	tagUnit    = 0x000003E7
	tagName    = 0x000003E8
	tagCode    = 0x000003E9
	tagData    = 0x000003EA
	tagBSS     = 0x000003EB
	tagReloc32 = 0x000003EC
	tagReloc16 = 0x000003ED
	tagReloc8  = 0x000003EE
	tagExt     = 0x000003EF
	tagSymbol  = 0x000003F0
	tagDebug   = 0x000003F1
	tagEnd     = 0x000003F2
	tagHeader  = 0x000003F3
	tagOverlay = 0x000003F5
	tagBreak   = 0x000003F6
	tagLib     = 0x000003FA
	tagIndex   = 0x000003FB
)

// SymbolRef is one entry of a HUNK_SYMBOL block: a name and its offset
// (in addressable units, i.e. bytes) from the start of the owning hunk.
type SymbolRef struct {
	Name string
	Refs uint32
}

// Record is one decoded hunk. CODE/DATA/BSS carry Size (bytes). SYMBOL
// carries Symbols. DEBUG carries the raw bytes of the embedded STABS
// payload, undecoded — see internal/stab for the two on-disk variants.
type Record struct {
	Kind      Kind
	Size      uint32
	Symbols   []SymbolRef
	DebugData []byte
}

// Reader decodes a Hunk executable byte stream into a sequence of Records
// in file order. SYMBOL and DEBUG records belong to the most recently
// seen CODE/DATA/BSS record, but the Reader does not attach them: the
// caller (internal/debuginfo's builder) receives the flattened,
// file-ordered stream and does the attaching itself by tracking "most
// recent section".
// This reader only classifies; it does not interpret hunk ordering.
type Reader struct {
	r   io.Reader
	hdr bool
}

// NewReader wraps a Hunk executable byte stream.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

func (hr *Reader) longword() (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(hr.r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func (hr *Reader) bytes(n uint32) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(hr.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// skipHeader consumes the HUNK_HEADER block once, at the start of the
// file: resident library names (terminated by a zero longword), table
// size, first/last hunk numbers, and one size longword per hunk.
func (hr *Reader) skipHeader() error {
	tag, err := hr.longword()
	if err != nil {
		return err
	}
	if tag != tagHeader {
		return fmt.Errorf("hunk: expected HUNK_HEADER, got tag 0x%x", tag)
	}
	for {
		n, err := hr.longword()
		if err != nil {
			return fmt.Errorf("read resident library name: %w", err)
		}
		if n == 0 {
			break
		}
		if _, err := hr.bytes(n * 4); err != nil {
			return fmt.Errorf("read resident library name: %w", err)
		}
	}
	tableSize, err := hr.longword()
	if err != nil {
		return fmt.Errorf("read hunk table size: %w", err)
	}
	first, err := hr.longword()
	if err != nil {
		return fmt.Errorf("read first hunk: %w", err)
	}
	last, err := hr.longword()
	if err != nil {
		return fmt.Errorf("read last hunk: %w", err)
	}
	count := last - first + 1
	if tableSize < count {
		count = tableSize
	}
	for i := uint32(0); i < count; i++ {
		if _, err := hr.longword(); err != nil {
			return fmt.Errorf("read hunk size table: %w", err)
		}
	}
	hr.hdr = true
	return nil
}

// ReadAll decodes every record in the stream, in file order. Terminators
// (HUNK_END and friends) are consumed and omitted from the result.
func ReadAll(r io.Reader) ([]Record, error) {
	hr := NewReader(r)
	var records []Record
	for {
		rec, ok, err := hr.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		if !ok {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Next decodes the next record. ok is false for terminator, relocation,
// external-reference and name blocks, which carry no payload of interest;
// an unsupported or unrecognized block type is an error; err is io.EOF at
// clean end of stream.
func (hr *Reader) Next() (Record, bool, error) {
	if !hr.hdr {
		if err := hr.skipHeader(); err != nil {
			return Record{}, false, err
		}
	}

	tag, err := hr.longword()
	if err != nil {
		return Record{}, false, err
	}

	switch tag {
	case tagCode, tagData:
		size, err := hr.longword()
		if err != nil {
			return Record{}, false, fmt.Errorf("read hunk size: %w", err)
		}
		nbytes := size * 4
		data, err := hr.bytes(nbytes)
		if err != nil {
			return Record{}, false, fmt.Errorf("read hunk payload: %w", err)
		}
		_ = data // contents are irrelevant to the debug-info core
		kind := KindCode
		if tag == tagData {
			kind = KindData
		}
		return Record{Kind: kind, Size: nbytes}, true, nil

	case tagBSS:
		// HUNK_BSS carries only its size longword: it reserves zeroed
		// memory and has no following data block.
		size, err := hr.longword()
		if err != nil {
			return Record{}, false, fmt.Errorf("read hunk size: %w", err)
		}
		return Record{Kind: KindBSS, Size: size * 4}, true, nil

	case tagSymbol:
		var syms []SymbolRef
		for {
			nlongs, err := hr.longword()
			if err != nil {
				return Record{}, false, fmt.Errorf("read symbol name length: %w", err)
			}
			if nlongs == 0 {
				break
			}
			nameBytes, err := hr.bytes(nlongs * 4)
			if err != nil {
				return Record{}, false, fmt.Errorf("read symbol name: %w", err)
			}
			refs, err := hr.longword()
			if err != nil {
				return Record{}, false, fmt.Errorf("read symbol value: %w", err)
			}
			syms = append(syms, SymbolRef{Name: trimNul(nameBytes), Refs: refs})
		}
		return Record{Kind: KindSymbol, Symbols: syms}, true, nil

	case tagDebug:
		nlongs, err := hr.longword()
		if err != nil {
			return Record{}, false, fmt.Errorf("read debug size: %w", err)
		}
		data, err := hr.bytes(nlongs * 4)
		if err != nil {
			return Record{}, false, fmt.Errorf("read debug payload: %w", err)
		}
		return Record{Kind: KindDebug, DebugData: data}, true, nil

	case tagReloc32, tagReloc16, tagReloc8, tagExt:
		// Relocation/external-reference blocks: not needed to build the
		// address<->source index (we relocate whole sections, not
		// individual fixups), but must be skipped structurally.
		if err := hr.skipRelocTable(tag); err != nil {
			return Record{}, false, err
		}
		return Record{}, false, nil

	case tagEnd:
		return Record{}, false, nil

	case tagUnit, tagName:
		n, err := hr.longword()
		if err != nil {
			return Record{}, false, fmt.Errorf("read name length: %w", err)
		}
		if _, err := hr.bytes(n * 4); err != nil {
			return Record{}, false, fmt.Errorf("read name: %w", err)
		}
		return Record{}, false, nil

	case tagOverlay, tagBreak, tagLib, tagIndex:
		return Record{}, false, fmt.Errorf("hunk: unsupported block type 0x%x", tag)

	default:
		return Record{}, false, fmt.Errorf("hunk: unrecognized block type 0x%x", tag)
	}
}

// skipRelocTable consumes a HUNK_RELOC32/16/8/EXT block: repeating groups
// of (count, hunk-number, count*offset) terminated by a zero count. EXT
// blocks use a slightly richer per-symbol form but share the same
// zero-terminated grouping, which is all we need to skip past them.
func (hr *Reader) skipRelocTable(tag uint32) error {
	unitSize := uint32(4)
	if tag == tagReloc16 {
		unitSize = 2
	} else if tag == tagReloc8 {
		unitSize = 1
	}
	for {
		n, err := hr.longword()
		if err != nil {
			return fmt.Errorf("read reloc count: %w", err)
		}
		if n == 0 {
			break
		}
		if tag == tagExt {
			// HUNK_EXT: type byte packed into n's high byte and the name
			// length (in longwords) in its low 24 bits, followed by the
			// name longwords, a reference count, and that many reference
			// longwords.
			nameLongs := n & 0x00ffffff
			if _, err := hr.bytes(nameLongs * 4); err != nil {
				return fmt.Errorf("read ext name: %w", err)
			}
			refCount, err := hr.longword()
			if err != nil {
				return fmt.Errorf("read ext ref count: %w", err)
			}
			if _, err := hr.bytes(refCount * 4); err != nil {
				return fmt.Errorf("read ext refs: %w", err)
			}
			continue
		}
		if _, err := hr.longword(); err != nil { // hunk number
			return fmt.Errorf("read reloc hunk number: %w", err)
		}
		width := n * unitSize
		// Offsets are stored as longwords regardless of relocation width.
		if _, err := hr.bytes(n * 4); err != nil {
			return fmt.Errorf("read reloc offsets: %w", err)
		}
		_ = width
	}
	return nil
}

func trimNul(b []byte) string {
	i := len(b)
	for i > 0 && b[i-1] == 0 {
		i--
	}
	return string(b[:i])
}
