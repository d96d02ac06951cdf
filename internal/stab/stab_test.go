package stab

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func nlist(nType byte, strx uint32, desc uint16, value uint32) []byte {
	var b bytes.Buffer
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], strx)
	b.Write(tmp[:])
	b.WriteByte(nType)
	b.WriteByte(0) // n_other
	binary.BigEndian.PutUint16(tmp[:2], desc)
	b.Write(tmp[:2])
	binary.BigEndian.PutUint32(tmp[:], value)
	b.Write(tmp[:])
	return b.Bytes()
}

// buildDebugData assembles a synthetic split-form HUNK_DEBUG payload:
// header + entries + string table, with strx offsets computed from the
// string table being built alongside.
func buildDebugData(t *testing.T, entries []struct {
	nType byte
	name  string
	desc  uint16
	value uint32
}) []byte {
	t.Helper()
	strtab := []byte{0} // offset 0 is always the empty string
	offsets := make([]uint32, len(entries))
	for i, e := range entries {
		if e.name == "" {
			offsets[i] = 0
			continue
		}
		offsets[i] = uint32(len(strtab))
		strtab = append(strtab, []byte(e.name)...)
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

func TestDecodeRawBasic(t *testing.T) {
	data := buildDebugData(t, []struct {
		nType byte
		name  string
		desc  uint16
		value uint32
	}{
		{nSO, "main.c", 0, 0x1000},
		{nFUN, "_main", 0, 0x1010},
		{nSLINE, "", 12, 0x1012},
		{nGSYM, "counter:G1", 0, 0},
	})

	entries, err := DecodeRaw(data)
	if err != nil {
		t.Fatalf("DecodeRaw: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("got %d entries, want 4", len(entries))
	}
	if entries[0].Tag != TagSO || entries[0].Str != "main.c" {
		t.Errorf("entry 0 = %+v", entries[0])
	}
	if entries[1].Tag != TagFUN || entries[1].Value != 0x1010 {
		t.Errorf("entry 1 = %+v", entries[1])
	}
	if entries[2].Tag != TagSLINE || entries[2].Desc != 12 {
		t.Errorf("entry 2 = %+v", entries[2])
	}
	if entries[3].Tag != TagGSYM || entries[3].Str != "counter:G1" {
		t.Errorf("entry 3 = %+v", entries[3])
	}
}

func TestDecodeRawSizeMismatch(t *testing.T) {
	data := buildDebugData(t, []struct {
		nType byte
		name  string
		desc  uint16
		value uint32
	}{{nSO, "a.c", 0, 0}})
	_, err := DecodeRaw(data[:len(data)-2])
	if err == nil {
		t.Fatal("expected error for truncated debug payload")
	}
}

func TestDecodePreparsedUnknownTag(t *testing.T) {
	entries, err := DecodePreparsed([]Preparsed{{Tag: "BOGUS"}})
	if err != nil {
		t.Fatalf("DecodePreparsed: %v", err)
	}
	if entries[0].Tag != TagUnknown || entries[0].RawTag != "BOGUS" {
		t.Errorf("entry = %+v, want TagUnknown/RawTag=BOGUS", entries[0])
	}
}

func TestDecodePreparsedRoundTrip(t *testing.T) {
	in := []Preparsed{
		{Tag: "FUN", Str: "_main", Value: 0x2000},
		{Tag: "BSS", Str: "buf", Value: 0x4000},
	}
	entries, err := DecodePreparsed(in)
	if err != nil {
		t.Fatalf("DecodePreparsed: %v", err)
	}
	if entries[0].Tag != TagFUN || entries[1].Tag != TagBSS {
		t.Errorf("entries = %+v", entries)
	}
}

func TestParseRangeType(t *testing.T) {
	info, err := Parse("int:t1=r1;-2147483648;2147483647;")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if info.Name != "int" || info.Desc != 't' {
		t.Fatalf("info = %+v", info)
	}
	mt, ok := info.Type.Def.(MachType)
	if !ok {
		t.Fatalf("Def = %T, want MachType", info.Type.Def)
	}
	if mt.Low != -2147483648 || mt.High != 2147483647 {
		t.Errorf("range = %+v", mt)
	}
}

func TestParseStructType(t *testing.T) {
	info, err := Parse("Point:T5=s8x:1,0,32;y:1,32,32;;")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	st, ok := info.Type.Def.(StructType)
	if !ok {
		t.Fatalf("Def = %T, want StructType", info.Type.Def)
	}
	if st.Size != 8 || len(st.Fields) != 2 {
		t.Fatalf("struct = %+v", st)
	}
	if st.Fields[0].Name != "x" || st.Fields[0].BitOffset != 0 || st.Fields[0].BitSize != 32 {
		t.Errorf("field 0 = %+v", st.Fields[0])
	}
	if st.Fields[1].Name != "y" || st.Fields[1].BitOffset != 32 {
		t.Errorf("field 1 = %+v", st.Fields[1])
	}
}

func TestParsePointerAndArray(t *testing.T) {
	info, err := Parse("p:9=*1")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, ok := info.Type.Def.(PointerType); !ok {
		t.Fatalf("Def = %T, want PointerType", info.Type.Def)
	}

	info, err = Parse("arr:10=ar1;0;9;1")
	if err != nil {
		t.Fatalf("Parse array: %v", err)
	}
	arr, ok := info.Type.Def.(ArrayType)
	if !ok {
		t.Fatalf("Def = %T, want ArrayType", info.Type.Def)
	}
	if arr.Index.Low != 0 || arr.Index.High != 9 {
		t.Errorf("array index = %+v", arr.Index)
	}
}

func TestParseForwardDecl(t *testing.T) {
	info, err := Parse("p:12=*13=xsFoo:")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ptr, ok := info.Type.Def.(PointerType)
	if !ok {
		t.Fatalf("Def = %T, want PointerType", info.Type.Def)
	}
	if ptr.Target.Number != 13 {
		t.Errorf("target = %+v", ptr.Target)
	}
}

func TestParseOctalLeadingZero(t *testing.T) {
	info, err := Parse("x:1=r1;010;020;")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	mt := info.Type.Def.(MachType)
	// 010 = 8 and 020 = 16; both bounds are positive, so the subrange
	// quirk flips the low bound to -8.
	if mt.Low != -8 || mt.High != 16 {
		t.Errorf("octal parse = %+v, want -8..16", mt)
	}
}

func TestParsePairedTypeRef(t *testing.T) {
	info, err := Parse("x:(1,5)")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !info.Type.Ref.Paired || info.Type.Ref.File != 1 || info.Type.Ref.Number != 5 {
		t.Errorf("ref = %+v", info.Type.Ref)
	}
}

func TestContinuationFeed(t *testing.T) {
	var c Continuation
	if c.Feed(`Point:T5=s8x:1,0,32;\`) {
		t.Fatal("expected continuation to report incomplete")
	}
	if !c.Feed(`y:1,32,32;;`) {
		t.Fatal("expected continuation to report complete")
	}
	full := c.String()
	info, err := Parse(full)
	if err != nil {
		t.Fatalf("Parse joined continuation: %v", err)
	}
	st, ok := info.Type.Def.(StructType)
	if !ok || len(st.Fields) != 2 {
		t.Fatalf("info = %+v", info)
	}
}

func TestTagString(t *testing.T) {
	if TagFUN.String() != "FUN" || TagUnknown.String() != "UNKNOWN" {
		t.Errorf("Tag.String mismatched")
	}
}
