// Command synccli is a terminal client for the sync server. It joins the
// shared session, optionally applies one edit, and prints the resulting
// yt-dlp command.
//
//	synccli [-url ws://host:3001/ws] [-token demo] <command> [arg]
//
// Commands:
//
//	print             print the current command and exit
//	watch             print the command every time the shared state changes
//	capture <file|->  replace the captured curl request
//	title <value>     set the title
//	episode <value>   set the episode
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"curlsync/internal/client"
	"curlsync/internal/platform/logger"
)

var errUsage = errors.New("invalid arguments")

func main() {
	serverURL := flag.String("url", "ws://localhost:3001/ws", "sync server websocket URL")
	token := flag.String("token", "demo", "connection token")
	logLevel := flag.String("log-level", "warn", "log level")
	timeout := flag.Duration("timeout", 10*time.Second, "connect timeout")
	flag.Usage = usage
	flag.Parse()

	log := logger.New(*logLevel, "text")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx, *serverURL, *token, *timeout, flag.Args(), os.Stdin, os.Stdout, log)
	switch {
	case errors.Is(err, errUsage):
		usage()
		os.Exit(2)
	case err != nil:
		fmt.Fprintln(os.Stderr, "synccli:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(flag.CommandLine.Output(), "usage: synccli [flags] print|watch|capture <file|->|title <value>|episode <value>")
	flag.PrintDefaults()
}

func run(ctx context.Context, serverURL, token string, timeout time.Duration, args []string, stdin io.Reader, stdout io.Writer, log *slog.Logger) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]

	var edit func(r *client.Reducer) error
	switch cmd {
	case "print", "watch":
		if len(rest) != 0 {
			return errUsage
		}
	case "capture":
		if len(rest) != 1 {
			return errUsage
		}
		value, err := readCapture(rest[0], stdin)
		if err != nil {
			return err
		}
		edit = func(r *client.Reducer) error { return r.OnLocalCaptureEdit(value) }
	case "title", "episode":
		if len(rest) != 1 {
			return errUsage
		}
		field, value := client.Field(cmd), rest[0]
		edit = func(r *client.Reducer) error { return r.OnLocalMetaEdit(field, value) }
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := client.Dial(dialCtx, serverURL, token, log)
	if err != nil {
		return err
	}
	defer conn.Close()

	runErr := make(chan error, 1)
	go func() { runErr <- conn.Run(ctx) }()

	if err := conn.WaitSnapshot(dialCtx); err != nil {
		return fmt.Errorf("wait for initial state: %w", err)
	}
	log.Info("joined session", slog.String("url", serverURL))

	r := conn.Reducer()
	if edit != nil {
		if err := edit(r); err != nil {
			return err
		}
	}

	if cmd != "watch" {
		fmt.Fprintln(stdout, r.Command())
		return nil
	}

	changes := newLatest()
	r.OnChange(func(_ client.State, command string) { changes.put(command) })
	fmt.Fprintln(stdout, r.Command())

	for {
		select {
		case command := <-changes.ch:
			fmt.Fprintln(stdout)
			fmt.Fprintln(stdout, command)
		case err := <-runErr:
			return err
		case <-ctx.Done():
			return nil
		}
	}
}

// latest holds at most one pending value; put replaces a value not yet
// received, so a slow reader always ends on the newest one.
type latest struct {
	mu sync.Mutex
	ch chan string
}

func newLatest() *latest {
	return &latest{ch: make(chan string, 1)}
}

func (l *latest) put(v string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.ch:
	default:
	}
	l.ch <- v
}

func readCapture(src string, stdin io.Reader) (string, error) {
	var (
		b   []byte
		err error
	)
	if src == "-" {
		b, err = io.ReadAll(stdin)
	} else {
		b, err = os.ReadFile(src)
	}
	if err != nil {
		return "", fmt.Errorf("read capture: %w", err)
	}
	return string(b), nil
}
