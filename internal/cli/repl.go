package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	Invite(ctx context.Context) error
	Accept(ctx context.Context) error
	Decline(ctx context.Context) error
	Providers(ctx context.Context) error
	Clients(ctx context.Context) error
	Backup(ctx context.Context) error
	Restore(ctx context.Context) error
	Discover(ctx context.Context) error
	Status(ctx context.Context) error
	Settings(ctx context.Context) error
	Remove(ctx context.Context) error
}

// runREPL reads a line from the scanner, parses the first token as the
// command, and dispatches to methods on 'a'. Unknown commands are
// reported back to the user. The loop exits on scanner EOF or when the
// user types "exit" or "quit".
//
// Any errors returned by command handlers are ignored here; handlers should
// report their own errors. This keeps the loop resilient and focused on I/O.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("vault %s> ", statusFn()))
		if !scanner.Scan() {
			return
		}
		line := scanner.Text()
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd := parts[0]

		switch cmd {
		case "help":
			printlnFn("Client commands: invite, providers, backup, restore, discover, status, remove")
			printlnFn("Provider commands: accept, decline, clients, settings")
			printlnFn("Other: help, exit")

		case "invite":
			_ = a.Invite(ctx)

		case "accept":
			_ = a.Accept(ctx)

		case "decline":
			_ = a.Decline(ctx)

		case "providers":
			_ = a.Providers(ctx)

		case "clients":
			_ = a.Clients(ctx)

		case "backup":
			_ = a.Backup(ctx)

		case "restore":
			_ = a.Restore(ctx)

		case "discover":
			_ = a.Discover(ctx)

		case "status":
			_ = a.Status(ctx)

		case "settings":
			_ = a.Settings(ctx)

		case "remove":
			_ = a.Remove(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}
	}
}
