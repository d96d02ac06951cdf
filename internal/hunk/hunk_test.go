package hunk

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// builder assembles a synthetic Hunk executable byte stream for tests.
type builder struct {
	buf bytes.Buffer
}

func (b *builder) u32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.buf.Write(tmp[:])
}

func (b *builder) header(sizes ...uint32) {
	b.u32(tagHeader)
	b.u32(0) // no resident libraries
	b.u32(uint32(len(sizes)))
	b.u32(0)
	b.u32(uint32(len(sizes) - 1))
	for _, s := range sizes {
		b.u32(s)
	}
}

func (b *builder) block(tag uint32, longwords uint32) {
	b.u32(tag)
	b.u32(longwords)
	for i := uint32(0); i < longwords; i++ {
		b.u32(0)
	}
}

// bssBlock writes a HUNK_BSS block: a tag and a size longword only, no
// payload (BSS reserves zeroed memory, it doesn't carry any).
func (b *builder) bssBlock(longwords uint32) {
	b.u32(tagBSS)
	b.u32(longwords)
}

func (b *builder) symbolBlock(syms map[string]uint32) {
	b.u32(tagSymbol)
	for name, refs := range syms {
		padded := name
		for len(padded)%4 != 0 {
			padded += "\x00"
		}
		b.u32(uint32(len(padded) / 4))
		b.buf.WriteString(padded)
		b.u32(refs)
	}
	b.u32(0)
}

func (b *builder) end() {
	b.u32(tagEnd)
}

func TestReadAllCodeDataBSS(t *testing.T) {
	var b builder
	b.header(2, 1)
	b.block(tagCode, 2)
	b.end()
	b.bssBlock(1)
	b.end()

	records, err := ReadAll(&b.buf)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Kind != KindCode || records[0].Size != 8 {
		t.Errorf("record 0 = %+v, want CODE size 8", records[0])
	}
	if records[1].Kind != KindBSS || records[1].Size != 4 {
		t.Errorf("record 1 = %+v, want BSS size 4", records[1])
	}
}

func TestReadAllSymbols(t *testing.T) {
	var b builder
	b.header(1)
	b.block(tagCode, 1)
	b.symbolBlock(map[string]uint32{"_main": 0})
	b.end()

	records, err := ReadAll(&b.buf)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[1].Kind != KindSymbol || len(records[1].Symbols) != 1 {
		t.Fatalf("record 1 = %+v, want one symbol", records[1])
	}
	if records[1].Symbols[0].Name != "_main" {
		t.Errorf("symbol name = %q, want _main", records[1].Symbols[0].Name)
	}
}

func TestReadAllDebugPassthrough(t *testing.T) {
	var b builder
	b.header(1)
	b.block(tagCode, 1)
	b.u32(tagDebug)
	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	b.u32(uint32(len(payload) / 4))
	b.buf.Write(payload)
	b.end()

	records, err := ReadAll(&b.buf)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[1].Kind != KindDebug {
		t.Fatalf("record 1 kind = %v, want KindDebug", records[1].Kind)
	}
	if !bytes.Equal(records[1].DebugData, payload) {
		t.Errorf("debug data = %v, want %v", records[1].DebugData, payload)
	}
}

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		KindCode:   "HUNK_CODE",
		KindData:   "HUNK_DATA",
		KindBSS:    "HUNK_BSS",
		KindSymbol: "HUNK_SYMBOL",
		KindDebug:  "HUNK_DEBUG",
		KindOther:  "HUNK_OTHER",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}
