package uaeprotocol

import "testing"

func TestParseCPUState(t *testing.T) {
	lines := []string{
		"D0 000424B9   D1 00000000   D2 00000000   D3 00000000",
		"D4 00000000   D5 00000000   D6 FFFFFFFF   D7 00000000",
		"A0 00CF6D1C   A1 00DC0000   A2 00D40000   A3 00000000",
		"A4 00D00000   A5 00FC0208   A6 00C00276   A7 00040000",
		"USP  00000000 ISP  00040000",
		"T=00 S=1 M=0 X=0 N=0 Z=1 V=0 C=0 IMASK=7 STP=0",
		"Prefetch fffc (ILLEGAL) 51c8 (DBcc) Chip latch 00000000",
		"00FC0610 51c8 fffc                DBF .W D0,#$fffc == $00fc060e (F)",
		"Next PC: 00fc0614",
	}
	regs, err := parseCPUState(lines)
	if err != nil {
		t.Fatalf("parseCPUState: %v", err)
	}
	if regs.D[0] != 0x000424B9 {
		t.Errorf("D0 = %#x, want 0x424b9", regs.D[0])
	}
	if regs.D[6] != 0xFFFFFFFF {
		t.Errorf("D6 = %#x, want 0xffffffff", regs.D[6])
	}
	if regs.A[7] != 0x00040000 {
		t.Errorf("A7 = %#x, want 0x40000", regs.A[7])
	}
	if regs.USP != 0 || regs.ISP != 0x00040000 {
		t.Errorf("USP/ISP = %#x/%#x, want 0/0x40000", regs.USP, regs.ISP)
	}
	if regs.PC != 0x00FC0610 {
		t.Errorf("PC = %#x, want 0x00fc0610", regs.PC)
	}
	// T=0 S=1 M=0 X=0 N=0 Z=1 V=0 C=0 IMASK=7(0b111) ->
	// bit15=0 bit13=1 bit12=0 bits10-8=111 bit4=0 bit3=0 bit2=1 bit1=0 bit0=0
	want := uint16(1<<13 | 0b111<<8 | 1<<2)
	if regs.SR != want {
		t.Errorf("SR = %#04x, want %#04x", regs.SR, want)
	}
}

func TestParseCPUStateMissingFlag(t *testing.T) {
	lines := []string{
		"D0 00000000   D1 00000000   D2 00000000   D3 00000000",
		"D4 00000000   D5 00000000   D6 00000000   D7 00000000",
		"A0 00000000   A1 00000000   A2 00000000   A3 00000000",
		"A4 00000000   A5 00000000   A6 00000000   A7 00000000",
		"USP  00000000 ISP  00000000",
		"T=00 S=1 M=0 X=0 N=0 Z=1 V=0",
		"Prefetch",
		"00000000",
	}
	if _, err := parseCPUState(lines); err == nil {
		t.Fatal("expected error for status line missing C/IMASK")
	}
}

func TestParseDisassemblyLine(t *testing.T) {
	dl, err := parseDisassemblyLine("00FC10BC 33fc 4000 00df f09a      MOVE.W #$4000,$00dff09a")
	if err != nil {
		t.Fatalf("parseDisassemblyLine: %v", err)
	}
	if dl.Address != 0x00FC10BC {
		t.Errorf("Address = %#x, want 0x00fc10bc", dl.Address)
	}
	if dl.Opcode != "33FC400000DFF09A" {
		t.Errorf("Opcode = %q, want 33FC400000DFF09A", dl.Opcode)
	}
	if dl.Mnemonic != "MOVE.W #$4000,$00dff09a" {
		t.Errorf("Mnemonic = %q", dl.Mnemonic)
	}
	next, err := dl.NextAddress()
	if err != nil {
		t.Fatalf("NextAddress: %v", err)
	}
	if next != dl.Address+8 {
		t.Errorf("NextAddress = %#x, want %#x", next, dl.Address+8)
	}
}

func TestParseDisassemblyLineTooShort(t *testing.T) {
	if _, err := parseDisassemblyLine("00FC10BC"); err == nil {
		t.Fatal("expected error for a truncated disassembly line")
	}
}
