package cmd_test

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/photoclip/smoothie/internal/cmd"
)

func TestWaitForInterrupt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := cmd.WaitForInterrupt(ctx); err == nil || err.Error() != "canceled" {
		t.Fatalf("wrong error %v", err)
	}
}

func TestOnSignal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	called := make(chan struct{}, 1)
	cmd.OnSignal(ctx, syscall.SIGUSR1, func() {
		called <- struct{}{}
	})

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatal(err)
	}

	select {
	case <-called:
	case <-time.After(5 * time.Second):
		t.Fatal("signal handler not called")
	}
}
