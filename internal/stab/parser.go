package stab

import (
	"fmt"
	"strings"
)

// TypeNode is implemented by every parsed type descriptor shape: struct,
// union, array, pointer, function, subrange, enum and forward
// declaration. The builder stores each definition in a per-file type map
// without inspecting its concrete type; every node round-trips back to a
// string for diagnostics.
type TypeNode interface {
	fmt.Stringer
	isTypeNode()
}

// TypeRef names a type either by a single number in the current file's
// type table, or by a (file, number) pair when the symbol references a
// type defined in an included header's own table.
type TypeRef struct {
	File   int
	Number int
	Paired bool
}

func (t TypeRef) String() string {
	if t.Paired {
		return fmt.Sprintf("(%d,%d)", t.File, t.Number)
	}
	return fmt.Sprintf("%d", t.Number)
}

// Field is one member of a StructType or UnionType: its name, the type it
// holds, and its bit offset/size within the aggregate.
type Field struct {
	Name      string
	Type      TypeRef
	BitOffset int
	BitSize   int
}

func (f Field) String() string {
	return fmt.Sprintf("%s:%s,%d,%d", f.Name, f.Type, f.BitOffset, f.BitSize)
}

type StructType struct {
	Size   int
	Fields []Field
}

func (StructType) isTypeNode() {}
func (s StructType) String() string {
	return fmt.Sprintf("struct{size=%d,fields=%d}", s.Size, len(s.Fields))
}

type UnionType struct {
	Size   int
	Fields []Field
}

func (UnionType) isTypeNode() {}
func (u UnionType) String() string {
	return fmt.Sprintf("union{size=%d,fields=%d}", u.Size, len(u.Fields))
}

// MachType is a subrange ("range") type: the base type plus inclusive
// bounds, e.g. the int-like ranges GCC emits for C's built-in integer
// types ("int:r(0,1);-2147483648;2147483647;").
type MachType struct {
	Base TypeRef
	Low  int
	High int
}

func (MachType) isTypeNode() {}
func (m MachType) String() string {
	return fmt.Sprintf("range{base=%s,%d..%d}", m.Base, m.Low, m.High)
}

// AliasType is a bare type-number reference with no descriptor: "this
// type is exactly that other type".
type AliasType struct {
	Target TypeRef
}

func (AliasType) isTypeNode() {}
func (a AliasType) String() string { return fmt.Sprintf("alias{%s}", a.Target) }

type ArrayType struct {
	Index MachType
	Elem  TypeRef
}

func (ArrayType) isTypeNode() {}
func (a ArrayType) String() string {
	return fmt.Sprintf("array{index=%s,elem=%s}", a.Index, a.Elem)
}

type FunctionType struct {
	Return TypeRef
}

func (FunctionType) isTypeNode() {}
func (f FunctionType) String() string { return fmt.Sprintf("func{returns=%s}", f.Return) }

type PointerType struct {
	Target TypeRef
}

func (PointerType) isTypeNode() {}
func (p PointerType) String() string { return fmt.Sprintf("ptr{%s}", p.Target) }

type EnumType struct {
	Names  []string
	Values []int
}

func (EnumType) isTypeNode() {}
func (e EnumType) String() string { return fmt.Sprintf("enum{members=%d}", len(e.Names)) }

// ForwardDecl is a cross-reference to a struct/union/enum tag that has
// not (yet, or ever, in an incomplete-type case) been fully defined in
// this compilation unit: "xs Foo:" for "struct Foo forward-declared".
type ForwardDecl struct {
	Kind byte // 's', 'u', or 'e'
	Name string
}

func (ForwardDecl) isTypeNode() {}
func (f ForwardDecl) String() string { return fmt.Sprintf("xref{%c %s}", f.Kind, f.Name) }

// TypeDecl binds a type number to its definition. Def is nil when the
// symbol only references an already-known type number with no new
// definition attached.
type TypeDecl struct {
	Ref TypeRef
	Def TypeNode
}

func (t TypeDecl) String() string {
	if t.Def == nil {
		return t.Ref.String()
	}
	return fmt.Sprintf("%s=%s", t.Ref, t.Def)
}

// Info is the fully parsed form of one LSYM/RSYM/PSYM/GSYM/STSYM/LCSYM
// string: the declared name, its symbol descriptor (the character right
// after the name's colon — 'f' function, 'F' global function, 'G' global
// variable, 'p' value parameter, 'r' register parameter, 'S' static,
// 't' typedef, 'T' struct/union/enum tag, and so on), and the type it
// resolves to.
type Info struct {
	Name string
	Desc byte
	Type TypeDecl
}

// parser is a recursive-descent reader over one (possibly
// continuation-joined) stab string. Each grammar rule consumes exactly
// the characters it recognizes or returns an error; the only backtrack is
// a single character, when an unrecognized type descriptor is re-read as
// a plain type number. This mirrors the hand-written parser the reference
// toolchain carries for this same grammar.
type parser struct {
	s   string
	pos int
}

// Parse decodes a complete stab type string of the form
// "name:desc type_number(=type_descriptor)?". Bare type-only strings
// (no leading "name:") are also accepted, since LBRAC/RBRAC and some
// anonymous struct tag entries omit the name.
func Parse(s string) (Info, error) {
	p := &parser{s: s}
	// A string starting with a type number has no "name:" prefix.
	var name string
	if c := p.peek(); c != '(' && (c < '0' || c > '9') {
		name = p.label()
	}
	info := Info{Name: name}
	if p.peek() == ':' {
		p.pos++
		if d := p.peekByte(); d != 0 && isDescriptor(d) {
			info.Desc = d
			p.pos++
		}
	}
	decl, err := p.typeDecl()
	if err != nil {
		return Info{}, fmt.Errorf("stab: parse %q at offset %d: %w", s, p.pos, err)
	}
	info.Type = decl
	return info, nil
}

func isDescriptor(b byte) bool {
	return strings.IndexByte("cdfFGprStTvVx-", b) >= 0
}

func (p *parser) peek() byte {
	if p.pos >= len(p.s) {
		return 0
	}
	return p.s[p.pos]
}

func (p *parser) peekByte() byte {
	// Like peek, but only meaningful right after a ':' where a
	// descriptor character, if present, is never itself a digit/paren
	// (those start a type number instead, meaning no descriptor).
	b := p.peek()
	if b >= '0' && b <= '9' || b == '(' || b == '-' && p.pos+1 < len(p.s) && p.s[p.pos+1] >= '0' && p.s[p.pos+1] <= '9' {
		return 0
	}
	return b
}

// label consumes identifier characters up to (not including) the next
// top-level colon. C identifiers plus the handful of punctuation GCC
// mangles into anonymous-tag names ('$', '.') are accepted.
func (p *parser) label() string {
	start := p.pos
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		if c == ':' {
			break
		}
		p.pos++
	}
	return p.s[start:p.pos]
}

// number consumes a signed integer. A leading zero (with more digits
// following) marks an octal literal, as the rest of the stab grammar
// (bit offsets, enum values, array bounds) uses C numeric-literal rules.
func (p *parser) number() (int, error) {
	start := p.pos
	if p.peek() == '-' {
		p.pos++
	}
	digitsStart := p.pos
	for p.pos < len(p.s) && p.s[p.pos] >= '0' && p.s[p.pos] <= '9' {
		p.pos++
	}
	if p.pos == digitsStart {
		return 0, fmt.Errorf("expected number at offset %d", start)
	}
	digits := p.s[digitsStart:p.pos]
	neg := p.s[start] == '-'
	base := 10
	if len(digits) > 1 && digits[0] == '0' {
		base = 8
	}
	v := 0
	for _, c := range []byte(digits) {
		v = v*base + int(c-'0')
	}
	if neg {
		v = -v
	}
	return v, nil
}

func (p *parser) expect(c byte) error {
	if p.peek() != c {
		return fmt.Errorf("expected %q, got %q at offset %d", c, p.peek(), p.pos)
	}
	p.pos++
	return nil
}

// typeRef parses a type number: either a bare integer, or a
// parenthesized (file,number) pair used when a header's type table is
// referenced from the including file.
func (p *parser) typeRef() (TypeRef, error) {
	if p.peek() == '(' {
		p.pos++
		file, err := p.number()
		if err != nil {
			return TypeRef{}, err
		}
		if err := p.expect(','); err != nil {
			return TypeRef{}, err
		}
		num, err := p.number()
		if err != nil {
			return TypeRef{}, err
		}
		if err := p.expect(')'); err != nil {
			return TypeRef{}, err
		}
		return TypeRef{File: file, Number: num, Paired: true}, nil
	}
	num, err := p.number()
	if err != nil {
		return TypeRef{}, err
	}
	return TypeRef{Number: num}, nil
}

// typeDecl parses "type_number" optionally followed by "=descriptor",
// binding the number to a fresh definition.
func (p *parser) typeDecl() (TypeDecl, error) {
	ref, err := p.typeRef()
	if err != nil {
		return TypeDecl{}, err
	}
	if p.peek() != '=' {
		return TypeDecl{Ref: ref}, nil
	}
	p.pos++
	def, err := p.typeDescriptor()
	if err != nil {
		return TypeDecl{}, err
	}
	return TypeDecl{Ref: ref, Def: def}, nil
}

func (p *parser) typeDescriptor() (TypeNode, error) {
	c := p.peek()
	p.pos++
	switch c {
	case '*':
		target, err := p.typeRef()
		if err != nil {
			return nil, err
		}
		return PointerType{Target: target}, nil
	case 'f':
		ret, err := p.typeRef()
		if err != nil {
			return nil, err
		}
		return FunctionType{Return: ret}, nil
	case 'r':
		return p.machType()
	case 'a':
		return p.arrayType()
	case 's':
		return p.aggregateType(false)
	case 'u':
		return p.aggregateType(true)
	case 'e':
		return p.enumType()
	case 'x':
		return p.forwardDecl()
	default:
		// Bare type number with no recognized descriptor: treat the
		// consumed character as back in the stream and parse it as a
		// plain alias ("this type equals that one").
		p.pos--
		target, err := p.typeRef()
		if err != nil {
			return nil, fmt.Errorf("unrecognized type descriptor %q", c)
		}
		return AliasType{Target: target}, nil
	}
}

// machType parses a subrange: "r<base>;<low>;<high>;".
func (p *parser) machType() (TypeNode, error) {
	base, err := p.typeRef()
	if err != nil {
		return nil, err
	}
	if err := p.expect(';'); err != nil {
		return nil, err
	}
	low, err := p.number()
	if err != nil {
		return nil, err
	}
	if err := p.expect(';'); err != nil {
		return nil, err
	}
	high, err := p.number()
	if err != nil {
		return nil, err
	}
	if err := p.expect(';'); err != nil {
		return nil, err
	}
	if low > 0 && high > 0 {
		// Compiler quirk: a positive low bound paired with a positive
		// high bound is emitted negated and must be flipped back.
		low = -low
	}
	return MachType{Base: base, Low: low, High: high}, nil
}

// arrayType parses "ar<index-subrange>;<elem-type>", where the index
// subrange is itself a machType without its trailing ';' consumed twice.
func (p *parser) arrayType() (TypeNode, error) {
	if err := p.expect('r'); err != nil {
		return nil, err
	}
	idx, err := p.machType()
	if err != nil {
		return nil, err
	}
	mt, ok := idx.(MachType)
	if !ok {
		return nil, fmt.Errorf("array index type is not a subrange")
	}
	elem, err := p.typeRef()
	if err != nil {
		return nil, err
	}
	return ArrayType{Index: mt, Elem: elem}, nil
}

// aggregateType parses "<size>{<name>:<type>,<bitoffset>,<bitsize>;}*;"
// for both struct ('s') and union ('u') descriptors; they share a field
// grammar and differ only in semantics the builder assigns later.
func (p *parser) aggregateType(union bool) (TypeNode, error) {
	size, err := p.number()
	if err != nil {
		return nil, err
	}
	var fields []Field
	for p.peek() != ';' && p.pos < len(p.s) {
		name := p.label()
		if err := p.expect(':'); err != nil {
			return nil, err
		}
		ref, err := p.typeRef()
		if err != nil {
			return nil, err
		}
		if err := p.expect(','); err != nil {
			return nil, err
		}
		bitOffset, err := p.number()
		if err != nil {
			return nil, err
		}
		if err := p.expect(','); err != nil {
			return nil, err
		}
		bitSize, err := p.number()
		if err != nil {
			return nil, err
		}
		if err := p.expect(';'); err != nil {
			return nil, err
		}
		fields = append(fields, Field{Name: name, Type: ref, BitOffset: bitOffset, BitSize: bitSize})
	}
	if p.peek() == ';' {
		p.pos++
	}
	if union {
		return UnionType{Size: size, Fields: fields}, nil
	}
	return StructType{Size: size, Fields: fields}, nil
}

// enumType parses "e{<name>:<value>,}*;".
func (p *parser) enumType() (TypeNode, error) {
	var names []string
	var values []int
	for p.peek() != ';' && p.pos < len(p.s) {
		name := p.label()
		if err := p.expect(':'); err != nil {
			return nil, err
		}
		v, err := p.number()
		if err != nil {
			return nil, err
		}
		if err := p.expect(','); err != nil {
			return nil, err
		}
		names = append(names, name)
		values = append(values, v)
	}
	if p.peek() == ';' {
		p.pos++
	}
	return EnumType{Names: names, Values: values}, nil
}

// forwardDecl parses "x<s|u|e><name>:", a cross-reference to a tag that
// may or may not be fully defined elsewhere in this compilation unit.
func (p *parser) forwardDecl() (TypeNode, error) {
	kind := p.peek()
	if kind != 's' && kind != 'u' && kind != 'e' {
		return nil, fmt.Errorf("unrecognized forward-decl kind %q", kind)
	}
	p.pos++
	name := p.label()
	if err := p.expect(':'); err != nil {
		return nil, err
	}
	return ForwardDecl{Kind: kind, Name: name}, nil
}

// Continuation buffers stab strings that were split across multiple
// LSYM/RSYM/PSYM entries because the original line exceeded the
// assembler's line-length limit: every entry but the last ends with a
// trailing backslash, which the debugger strips and joins with the next
// entry's text before the buffer is handed to Parse.
type Continuation struct {
	buf strings.Builder
}

// Feed appends one raw stab string to the buffer. It returns true once
// the buffer holds a complete (non-continued) string ready for Parse.
func (c *Continuation) Feed(s string) bool {
	if strings.HasSuffix(s, `\`) {
		c.buf.WriteString(strings.TrimSuffix(s, `\`))
		return false
	}
	c.buf.WriteString(s)
	return true
}

// String returns the buffered text accumulated so far and resets the
// buffer for the next entry.
func (c *Continuation) String() string {
	s := c.buf.String()
	c.buf.Reset()
	return s
}
