// ABOUTME: agent-proxy sits between SSH clients and an upstream agent and traces every frame
// ABOUTME: Usage: agent-proxy --listen /tmp/trace.sock --upstream $SSH_AUTH_SOCK

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/2389/secret-agent/internal/socket"
)

func main() {
	listen := pflag.StringP("listen", "l", "", "socket path to listen on")
	upstream := pflag.StringP("upstream", "u", os.Getenv("SSH_AUTH_SOCK"), "socket path of the agent to forward to")
	verbose := pflag.BoolP("verbose", "v", false, "also dump frame payloads in hex")
	pflag.Parse()

	if *listen == "" || *upstream == "" {
		fmt.Fprintln(os.Stderr, "usage: agent-proxy --listen PATH [--upstream PATH]")
		pflag.PrintDefaults()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *listen, *upstream, *verbose); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "agent-proxy: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, listen, upstream string, verbose bool) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	ctrl, err := socket.Listen(listen, socket.Options{Logger: logger})
	if err != nil {
		if errors.Is(err, socket.ErrAgentRunning) {
			return fmt.Errorf("%s is in use by another agent", listen)
		}
		return err
	}
	defer ctrl.Close()

	color.New(color.FgCyan).Fprintf(os.Stderr, "tracing %s -> %s\n", ctrl.Path(), upstream)
	fmt.Printf("SSH_AUTH_SOCK=%s; export SSH_AUTH_SOCK;\n", ctrl.Path())

	tracer := newTracer(os.Stderr, verbose)
	p := &proxy{upstream: upstream, trace: tracer, logger: logger}

	var wg sync.WaitGroup
	for s := range ctrl.Sessions(ctx) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.relay(ctx, s)
		}()
	}
	wg.Wait()
	return nil
}
