package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/natserract/sfclean/pkg/orchestrator"
)

// notifyInterrupt cancels the returned context on the first SIGINT or
// SIGTERM so the run can persist its state at the next item boundary. A
// second signal exits immediately.
func notifyInterrupt(parent context.Context) (context.Context, func()) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	ctx, stop := watchInterrupts(parent, sigs, os.Stderr, os.Exit)
	return ctx, func() {
		signal.Stop(sigs)
		stop()
	}
}

func watchInterrupts(parent context.Context, sigs <-chan os.Signal, out io.Writer, exit func(int)) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})

	go func() {
		select {
		case <-sigs:
		case <-done:
			return
		}
		fmt.Fprintln(out, "Interrupted: finishing the current item and saving progress. Press Ctrl+C again to exit now.")
		cancel()

		select {
		case <-sigs:
			fmt.Fprintln(out, "Exiting without saving progress.")
			exit(orchestrator.ExitAborted)
		case <-done:
		}
	}()

	var stopped bool
	return ctx, func() {
		if stopped {
			return
		}
		stopped = true
		close(done)
		cancel()
	}
}
