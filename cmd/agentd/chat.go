package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/cexll/agentd/pkg/bus"
	"github.com/cexll/agentd/pkg/core"
)

// chatCommand runs an interactive REPL against the agent over the bus.
func chatCommand(ctx context.Context, argv []string, configDir string, streams ioStreams) error {
	fs := flag.NewFlagSet("agentd chat", flag.ContinueOnError)
	fs.SetOutput(streams.err)
	sessionKey := "cli:default"
	fs.StringVar(&sessionKey, "session", sessionKey, "Session key for this conversation.")
	if err := fs.Parse(argv); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	rt, err := buildRuntime(ctx, configDir, streams)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	loopDone := make(chan error, 1)
	go func() { loopDone <- rt.loop.Run(ctx) }()
	go func() {
		if err := rt.skills.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			rt.logger.Warn("skills watcher stopped", "error", err)
		}
	}()

	sub := rt.bus.Subscribe()
	defer sub.Unsubscribe()
	go printOutbound(ctx, sub, streams)

	fmt.Fprintln(streams.out, "agentd chat - type a message, or /quit to exit")
	lines := readLines(ctx, streams)
	for {
		fmt.Fprint(streams.out, "> ")
		select {
		case <-ctx.Done():
			fmt.Fprintln(streams.out)
			cancel()
			<-loopDone
			rt.Close(context.Background())
			return nil
		case line, ok := <-lines:
			if !ok || line == "/quit" || line == "/exit" {
				cancel()
				<-loopDone
				rt.Close(context.Background())
				return nil
			}
			if line == "" {
				continue
			}
			msg := core.NewMessage("cli", sessionKey, core.RoleUser, line)
			if err := rt.bus.Publish(bus.Inbound(msg)); err != nil {
				return fmt.Errorf("publish: %w", err)
			}
		}
	}
}

// printOutbound copies agent replies to stdout until the context ends.
func printOutbound(ctx context.Context, sub *bus.Subscriber, streams ioStreams) {
	for {
		evt, err := sub.Recv(ctx)
		if err != nil {
			var lagged *bus.LaggedError
			if errors.As(err, &lagged) {
				continue
			}
			return
		}
		if evt.Kind != bus.KindOutbound {
			continue
		}
		fmt.Fprintf(streams.out, "\n%s\n> ", evt.Message.Content)
	}
}

// readLines feeds trimmed stdin lines into a channel so the REPL can also
// react to context cancellation.
func readLines(ctx context.Context, streams ioStreams) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(streams.in)
		for scanner.Scan() {
			select {
			case out <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
