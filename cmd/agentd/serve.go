package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/cexll/agentd/pkg/server"
)

const shutdownGrace = 5 * time.Second

// serveCommand runs the agent loop together with the HTTP gateway until the
// context is cancelled.
func serveCommand(ctx context.Context, argv []string, configDir string, streams ioStreams) error {
	fs := flag.NewFlagSet("agentd serve", flag.ContinueOnError)
	fs.SetOutput(streams.err)
	port := 0
	fs.IntVar(&port, "port", 0, "Gateway port (overrides the configured value).")
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
	if port <= 0 {
		port = rt.cfg.Gateway.Port
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

	gateway := server.New(rt.bus, rt.metrics, rt.registry, rt.logger)
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: gateway,
	}

	serveDone := make(chan error, 1)
	go func() {
		rt.logger.Info("gateway listening", "addr", httpSrv.Addr)
		serveDone <- httpSrv.ListenAndServe()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-serveDone:
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		rt.logger.Warn("gateway shutdown failed", "error", err)
	}

	loopErr := <-loopDone
	rt.Close(shutdownCtx)

	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return fmt.Errorf("gateway: %w", serveErr)
	}
	if loopErr != nil && !errors.Is(loopErr, context.Canceled) {
		return loopErr
	}
	return nil
}
