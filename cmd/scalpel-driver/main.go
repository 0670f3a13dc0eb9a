// File: cmd/scalpel-driver/main.go
/*
Copyright © 2025 Kyle McAllister (xkilldash9x@proton.me)
*/

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/xkilldash9x/scalpel-driver/cmd"
	"github.com/xkilldash9x/scalpel-driver/internal/observability"
)

const panicLogFile = "panic.log"

const banner = `
 scalpel-driver %s
 Type a command (e.g. "run flow.yaml"), or "exit" to quit.

`

// Function variables for dependency injection in tests.
var (
	osWriteFile = os.WriteFile
	osExit      = os.Exit
)

func main() {
	defer handlePanic()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(os.Args) > 1 {
		if err := cmd.Execute(ctx); err != nil {
			// Interrupted runs exit cleanly; cmd.Execute already logged real failures.
			if errors.Is(err, context.Canceled) {
				osExit(0)
			} else {
				osExit(1)
			}
		}
		return
	}

	if err := interactive(ctx, os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "Error reading from stdin:", err)
		osExit(1)
	}
}

// interactive reads commands line by line until EOF, "exit" or "quit".
func interactive(ctx context.Context, in io.Reader, out, errOut io.Writer) error {
	fmt.Fprintf(out, banner, cmd.Version)
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "scalpel-driver > ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}
		executeInteractiveCommand(ctx, line, out, errOut)
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	fmt.Fprintln(out, "Exiting scalpel-driver.")
	return nil
}

// executeInteractiveCommand runs one line on a fresh command tree so flags
// from one command never leak into the next.
func executeInteractiveCommand(ctx context.Context, line string, out, errOut io.Writer) {
	rootCmd := cmd.NewRootCommand()
	rootCmd.SetArgs(strings.Fields(line))
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(errOut, "Error: Command panicked: %v\n", r)
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(errOut, "Error: %v\n", err)
	}
}

// handlePanic writes the panic and its stack to panic.log and exits non-zero.
func handlePanic() {
	r := recover()
	if r == nil {
		return
	}
	observability.Sync()

	panicMessage := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
	if err := osWriteFile(panicLogFile, []byte(panicMessage), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL: Failed to write panic log: %v\n", err)
		fmt.Fprintf(os.Stderr, "Panic details:\n%s\n", panicMessage)
		osExit(1)
		return
	}
	fmt.Fprintf(os.Stderr, "CRASH DETECTED. Details logged to %s\n", panicLogFile)
	osExit(1)
}
