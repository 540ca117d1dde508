package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// command is one REPL verb. usage doubles as the help line.
type command struct {
	usage string
	help  string
	run   func(ctx context.Context, args []string) error
}

// execIface is what the REPL needs from the application. App satisfies it;
// tests provide a lightweight stub.
type execIface interface {
	lookup(name string) (command, bool)
	helpLines() []string
	touch()
	reportError(ctx context.Context, name string, err error)
}

// runREPL reads one line at a time from in, treats the first word as the
// command and the rest as its arguments. Every dispatched command counts as
// activity for the idle timer. The loop ends on EOF, on "exit"/"quit"
// or when ctx is done.
func runREPL(ctx context.Context, x execIface, statusFn func() string, in *bufio.Reader, out io.Writer) {
	fmt.Fprintln(out, "Welcome to GophVault (type 'help' for commands)")
	for {
		if ctx.Err() != nil {
			return
		}
		fmt.Fprintf(out, "gv %s> ", statusFn())

		line, err := in.ReadString('\n')
		if err != nil && line == "" {
			fmt.Fprintln(out)
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		name, args := parts[0], parts[1:]

		switch name {
		case "exit", "quit":
			fmt.Fprintln(out, "Bye!")
			return
		case "help", "?":
			fmt.Fprintln(out, "Available commands:")
			for _, l := range x.helpLines() {
				fmt.Fprintln(out, "  "+l)
			}
			continue
		}

		cmd, ok := x.lookup(name)
		if !ok {
			fmt.Fprintln(out, "Unknown command:", name)
			continue
		}
		x.touch()
		if err := cmd.run(ctx, args); err != nil {
			x.reportError(ctx, name, err)
		}
	}
}
