package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type flakyConn struct {
	failures int
	calls    int
}

func (f *flakyConn) Connect() error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("broker down")
	}
	return nil
}

func TestConnectWithRetry(t *testing.T) {
	c := &flakyConn{failures: 1}
	done := make(chan struct{})
	go func() {
		connectWithRetry(context.Background(), zerolog.Nop(), "test", c, 3)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("connectWithRetry did not return")
	}
	if c.calls != 2 {
		t.Fatalf("calls=%d want 2", c.calls)
	}
}

func TestConnectWithRetryCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &flakyConn{failures: 1000}
	done := make(chan struct{})
	go func() {
		connectWithRetry(ctx, zerolog.Nop(), "test", c, 3)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("connectWithRetry ignored cancellation")
	}
}
