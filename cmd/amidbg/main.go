// Command amidbg is a source-level debugger front end for AmigaOS
// m68k executables, driving FS-UAE's console debugger and resolving
// addresses against embedded STABS debug info.
package main

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/amidbg/amidbg/internal/amilog"
	"github.com/amidbg/amidbg/internal/config"
	"github.com/amidbg/amidbg/internal/debuginfo"
	"github.com/amidbg/amidbg/internal/debugger"
	"github.com/amidbg/amidbg/internal/hunk"
	"github.com/amidbg/amidbg/internal/session"
	"github.com/amidbg/amidbg/internal/uaeprotocol"
)

var debugLog bool

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "amidbg:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "amidbg",
		Short: "Source-level debugger for AmigaOS m68k executables",
	}
	root.PersistentFlags().BoolVar(&debugLog, "debug", false, "enable debug logging")

	root.AddCommand(
		newDumpHunkCmd(),
		newDumpAoutCmd(),
		newDumpArCmd(),
		newDumpDbgCmd(),
		newUaeDbgCmd(),
	)
	return root
}

func newDumpHunkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dumphunk FILE...",
		Short: "Walk a Hunk executable and print each record",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				if err := dumpHunk(path); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func dumpHunk(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	fmt.Println(path + ":")
	records, err := hunk.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	for i, rec := range records {
		switch rec.Kind {
		case hunk.KindCode, hunk.KindData, hunk.KindBSS:
			fmt.Printf("  [%d] %s size=%d\n", i, rec.Kind, rec.Size)
		case hunk.KindSymbol:
			fmt.Printf("  [%d] %s (%d symbols)\n", i, rec.Kind, len(rec.Symbols))
			for _, s := range rec.Symbols {
				fmt.Printf("      %08X %s\n", s.Refs, s.Name)
			}
		case hunk.KindDebug:
			fmt.Printf("  [%d] %s (%d bytes)\n", i, rec.Kind, len(rec.DebugData))
		default:
			fmt.Printf("  [%d] %s\n", i, rec.Kind)
		}
	}
	return nil
}

func newDumpAoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dumpaout FILE...",
		Short: "Dump a classic a.out header",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				if err := dumpAout(path); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// aoutHeader is the classic 32-byte a.out exec header: magic, text/data/bss
// sizes, symbol table size, entry point, and the two relocation table sizes.
type aoutHeader struct {
	Magic   uint32
	Text    uint32
	Data    uint32
	BSS     uint32
	Syms    uint32
	Entry   uint32
	TrSize  uint32
	DrSize  uint32
}

func dumpAout(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var hdr aoutHeader
	if err := binary.Read(f, binary.BigEndian, &hdr); err != nil {
		return fmt.Errorf("read a.out header from %s: %w", path, err)
	}
	fmt.Printf("%s:\n", path)
	fmt.Printf("  magic:  0x%08X\n", hdr.Magic)
	fmt.Printf("  text:   %d\n", hdr.Text)
	fmt.Printf("  data:   %d\n", hdr.Data)
	fmt.Printf("  bss:    %d\n", hdr.BSS)
	fmt.Printf("  syms:   %d\n", hdr.Syms)
	fmt.Printf("  entry:  0x%08X\n", hdr.Entry)
	fmt.Printf("  trsize: %d\n", hdr.TrSize)
	fmt.Printf("  drsize: %d\n", hdr.DrSize)
	return nil
}

func newDumpArCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dumpar FILE...",
		Short: "List the members of an ar(1) archive",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				if err := dumpAr(path); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

const arMagic = "!<arch>\n"

// arMemberHeader is the fixed 60-byte ar(1) member header (SysV/GNU
// layout, which is what the amidev toolchain's archives use).
type arMemberHeader struct {
	Name     [16]byte
	ModTime  [12]byte
	UID      [6]byte
	GID      [6]byte
	Mode     [8]byte
	Size     [10]byte
	EndMagic [2]byte
}

func dumpAr(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	magic := make([]byte, len(arMagic))
	if _, err := io.ReadFull(f, magic); err != nil {
		return fmt.Errorf("read ar magic from %s: %w", path, err)
	}
	if string(magic) != arMagic {
		return fmt.Errorf("%s: not an ar archive", path)
	}

	fmt.Printf("%s:\n", path)
	r := bufio.NewReader(f)
	for {
		var hdr arMemberHeader
		if err := binary.Read(r, binary.BigEndian, &hdr); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("read ar member header: %w", err)
		}
		name := trimSpaceRight(hdr.Name[:])
		size := parseDecimal(hdr.Size[:])
		fmt.Printf("  %-20s %d bytes\n", name, size)

		skip := size
		if skip%2 != 0 {
			skip++ // members are padded to an even boundary
		}
		if _, err := io.CopyN(io.Discard, r, int64(skip)); err != nil {
			return fmt.Errorf("skip ar member %q: %w", name, err)
		}
	}
}

func trimSpaceRight(b []byte) string {
	i := len(b)
	for i > 0 && (b[i-1] == ' ' || b[i-1] == 0) {
		i--
	}
	return string(b[:i])
}

func parseDecimal(b []byte) int64 {
	var n int64
	for _, c := range b {
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int64(c-'0')
	}
	return n
}

func newDumpDbgCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dumpdbg FILE...",
		Short: "Build debug info from a Hunk executable and dump its sections",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				if err := dumpDbg(path); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func dumpDbg(path string) error {
	info, err := loadDebugInfo(path)
	if err != nil {
		return err
	}
	fmt.Printf("%s:\n", path)
	for i, sec := range info.Sections {
		fmt.Printf("  section %d: %s [%08X,%08X)\n", i, sec.Kind, sec.Start, sec.End())
		for _, sym := range sec.Symbols() {
			fmt.Printf("    %s\n", sym.String())
		}
		for _, line := range sec.Lines() {
			fmt.Printf("    %s\n", line.String())
		}
	}
	return nil
}

func loadDebugInfo(path string) (*debuginfo.DebugInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	records, err := hunk.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return debuginfo.Build(records)
}

func newUaeDbgCmd() *cobra.Command {
	var configPath, executable string
	cmd := &cobra.Command{
		Use:   "uaedbg",
		Short: "Launch FS-UAE under the debugger",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUaeDbg(cmd.Context(), configPath, executable)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "amidbg YAML session file (layered under FS-UAE's own config)")
	cmd.Flags().StringVarP(&executable, "executable", "e", "", "executable to load debug info from at startup")
	return cmd
}

func runUaeDbg(ctx context.Context, configPath, executable string) error {
	amilog.Init(debugLog)
	// Each launch gets its own id so concurrent amidbg invocations against
	// the same fs-uae log aggregator can be told apart.
	log := amilog.L.WithSession(uuid.NewString())

	var sess *config.Session
	var fsuaeArgs []string
	if configPath != "" {
		var err error
		sess, err = config.Load(configPath)
		if err != nil {
			return err
		}
		fsuaeArgs = sess.Args()
		if executable == "" {
			executable = sess.Executable
		}
	}

	adapter, err := uaeprotocol.Launch(ctx, append([]string{"--console_debugger=1", "--stdout=1"}, fsuaeArgs...), log)
	if err != nil {
		return err
	}
	defer adapter.Close()

	dbg := debugger.New(adapter, fileSourceReader{}, log)
	s := session.New(dbg, nil, nil, log)
	s.LoadDebugInfo = loadDebugInfo

	if executable != "" {
		info, err := loadDebugInfo(executable)
		if err != nil {
			fmt.Fprintf(os.Stderr, "amidbg: failed to load debug info from %s: %v\n", executable, err)
		} else {
			dbg.Info = info
		}
	}

	if sess != nil {
		for _, token := range sess.Breakpoints {
			addr, ok := dbg.AddressOf(token)
			if !ok {
				fmt.Fprintf(os.Stderr, "amidbg: cannot resolve breakpoint %q\n", token)
				continue
			}
			if err := dbg.Do(ctx, noopPrinter{}, fmt.Sprintf("b %X", addr), loadDebugInfo); err != nil {
				fmt.Fprintf(os.Stderr, "amidbg: failed to set breakpoint at %q: %v\n", token, err)
			}
		}
	}

	return s.Run(ctx)
}

// fileSourceReader reads source lines directly off disk for break
// display, the Go-native counterpart to linecache.getline.
type fileSourceReader struct{}

func (fileSourceReader) Line(path string, n int) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for i := 1; scanner.Scan(); i++ {
		if i == n {
			return scanner.Text(), true
		}
	}
	return "", false
}

type noopPrinter struct{}

func (noopPrinter) Println(s string) {}
