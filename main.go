package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	flags "github.com/jessevdk/go-flags"

	"chat-client/internal/config"
)

var BuildVersion = "dev"

func main() {
	rootCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(rootCtx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stopSignals()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var opts config.Options
	parser := config.NewParser(&opts)
	parser.LongDescription = "chat-client " + BuildVersion

	cli := newCLI(ctx, &opts, stdin, stdout, stderr)
	if err := cli.register(parser); err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	_, err := parser.ParseArgs(args)
	if err == nil {
		return 0
	}
	var flagErr *flags.Error
	if errors.As(err, &flagErr) {
		if flagErr.Type == flags.ErrHelp {
			fmt.Fprintln(stdout, flagErr.Message)
			return 0
		}
		fmt.Fprintln(stderr, err)
		return 2
	}
	if errors.Is(err, errAlreadyRunning) {
		fmt.Fprintln(stderr, "Chat is already running for this session.")
		return 1
	}
	fmt.Fprintln(stderr, "error:", err)
	return 1
}
