package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// Http timeouts
const (
	ReadTimeout    = 5 * time.Second
	WriteTimeout   = time.Minute
	HandlerTimeout = 45 * time.Second
)

// WaitForInterrupt waits for an interrupt
func WaitForInterrupt(ctx context.Context) error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(c)

	select {
	case sig := <-c:
		return fmt.Errorf("received signal %s", sig)
	case <-ctx.Done():
		return errors.New("canceled")
	}
}

// OnSignal calls f every time the signal is received, until the context is canceled
func OnSignal(ctx context.Context, sig os.Signal, f func()) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, sig)

	go func() {
		defer signal.Stop(c)

		for {
			select {
			case <-c:
				f()
			case <-ctx.Done():
				return
			}
		}
	}()
}
