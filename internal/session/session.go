// Package session runs one interactive debugging session: a REPL task
// reading command lines and an I/O pump task relaying them to
// internal/debugger, coordinated with golang.org/x/sync/errgroup so
// either side returning an error (quit, a failed read of the input, a
// failed kill) tears the whole session down. EOF on the input does not
// end the session: it resumes execution. It is the Go-native reworking of
// amidev.debug.debug.Debugger.run()'s asyncio task plus
// prompt_toolkit loop.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"golang.org/x/sync/errgroup"

	"github.com/amidbg/amidbg/internal/amilog"
	"github.com/amidbg/amidbg/internal/debugger"
)

// ErrQuit is returned by Run when the user issued the quit command;
// callers distinguish a requested shutdown from a real failure.
var ErrQuit = errors.New("session: quit requested")

// stdoutPrinter writes each line to an io.Writer, implementing
// debugger.Printer.
type stdoutPrinter struct{ w io.Writer }

func (p stdoutPrinter) Println(s string) { fmt.Fprintln(p.w, s) }

// Session wires a debugger.Debugger to stdin/stdout and a signal
// channel for Ctrl-C.
type Session struct {
	Debugger      *debugger.Debugger
	In            io.Reader
	Out           io.Writer
	Log           *amilog.Logger
	LoadDebugInfo debugger.DebugInfoLoader

	// commands carries parsed command lines from the REPL task to the
	// dispatch task. It is single-slot: the REPL task blocks on send
	// until dispatch has finished the previous command, so commands are
	// never pipelined ahead of their responses.
	commands chan string
}

// New constructs a Session. If in/out are nil, os.Stdin/os.Stdout are used.
func New(d *debugger.Debugger, in io.Reader, out io.Writer, log *amilog.Logger) *Session {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	if log == nil {
		log = amilog.NewNop()
	}
	return &Session{
		Debugger: d,
		In:       in,
		Out:      out,
		Log:      log,
		commands: make(chan string),
	}
}

// Run starts the session: prints the startup prologue, then runs the
// REPL and dispatch tasks until one of them ends the group (EOF on
// stdin continues execution rather than quitting, matching the
// original's "EOFError -> do_cont()" behavior; Ctrl-C issues a kill).
func (s *Session) Run(ctx context.Context) error {
	printer := stdoutPrinter{w: s.Out}

	if err := s.Debugger.Prologue(ctx, printer); err != nil {
		return fmt.Errorf("session: prologue: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.readLoop(gctx)
	})
	g.Go(func() error {
		return s.dispatchLoop(gctx, printer)
	})
	g.Go(func() error {
		<-gctx.Done()
		if errors.Is(gctx.Err(), context.Canceled) && ctx.Err() == context.Canceled {
			return s.Debugger.Do(context.Background(), printer, "q", nil)
		}
		return nil
	})

	err := g.Wait()
	if errors.Is(err, ErrQuit) {
		return nil
	}
	return err
}

// readLoop reads lines from In and forwards them to the commands
// channel. Reaching EOF resumes execution (matching the Python
// EOFError -> do_cont() behavior) rather than ending the session.
func (s *Session) readLoop(ctx context.Context) error {
	scanner := bufio.NewScanner(s.In)
	for {
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("session: read command: %w", err)
			}
			select {
			case s.commands <- "c":
			case <-ctx.Done():
			}
			return nil
		}
		select {
		case s.commands <- scanner.Text():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// dispatchLoop drains commands and runs each one through the debugger
// core, one at a time.
func (s *Session) dispatchLoop(ctx context.Context, printer stdoutPrinter) error {
	for {
		select {
		case cmd, ok := <-s.commands:
			if !ok {
				return nil
			}
			if cmd == "q" {
				if err := s.Debugger.Do(ctx, printer, cmd, s.LoadDebugInfo); err != nil {
					return err
				}
				return ErrQuit
			}
			if err := s.Debugger.Do(ctx, printer, cmd, s.LoadDebugInfo); err != nil {
				printer.Println(colorizeErr(err))
				s.Log.Debug("command failed", amilog.Cmd(cmd))
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func colorizeErr(err error) string {
	return fmt.Sprintf("error: %v", err)
}
