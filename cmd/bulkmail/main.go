// Command bulkmail sends personalized email campaigns from a CSV recipient list
// and serves the campaign history.
//
// Usage:
//
//	bulkmail send -csv recipients.csv -template welcome.html -subject "Hello {name}"
//	bulkmail worker
//	bulkmail serve
//	bulkmail templates list|seed
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

const usage = `usage: bulkmail <command> [flags]

commands:
  send       send a campaign from a CSV file
  worker     run campaigns submitted through the queue
  serve      serve the HTTP API
  templates  list or seed the stored templates
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return nil
	}

	switch cmd, rest := args[0], args[1:]; cmd {
	case "send":
		return sendCommand(ctx, rest, out)
	case "worker":
		return workerCommand(ctx, rest)
	case "serve":
		return serveCommand(ctx, rest)
	case "templates":
		return templatesCommand(ctx, rest, out)
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}
