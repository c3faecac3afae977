package miner

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
)

// SetupSignalHandler creates a context that is cancelled on SIGTERM or SIGINT.
// A second signal exits immediately.
func SetupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigCh
		log.Printf("[Signal] Received %v, abandoning run without writing", sig)
		cancel()

		sig = <-sigCh
		log.Printf("[Signal] Received second %v, forcing exit", sig)
		os.Exit(1)
	}()

	return ctx
}
