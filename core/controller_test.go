package orchestration

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/koscakluka/ema-realtime/core/transport"
)

func newTestController(t *testing.T) (*Controller, *testTransport) {
	t.Helper()

	log := &callLog{}
	tr := newTestTransport(log)
	c := NewController(
		WithAudioCapture(&testCapture{}),
		WithAudioPlayback(&testPlayback{log: log}),
		WithTransport(tr),
	)
	t.Cleanup(func() { _ = c.Close() })
	return c, tr
}

func TestControllerDrivesConversation(t *testing.T) {
	c, _ := newTestController(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("expected connect to succeed, got %v", err)
	}
	if err := c.StartConversation(ctx); err != nil {
		t.Fatalf("expected start to succeed, got %v", err)
	}
	if got := c.State(); got != StateStreaming {
		t.Fatalf("expected state %s, got %s", StateStreaming, got)
	}
	if err := c.StopConversation(ctx); err != nil {
		t.Fatalf("expected stop to succeed, got %v", err)
	}
	if err := c.Disconnect(ctx); err != nil {
		t.Fatalf("expected disconnect to succeed, got %v", err)
	}
	if got := c.State(); got != StateDisconnected {
		t.Fatalf("expected state %s, got %s", StateDisconnected, got)
	}
}

func TestControllerAwaitState(t *testing.T) {
	c, tr := newTestController(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("expected connect to succeed, got %v", err)
	}
	if got, err := c.AwaitState(ctx, StateConnected); err != nil || got != StateConnected {
		t.Fatalf("expected immediate connected state, got %s (%v)", got, err)
	}

	go func() {
		tr.status <- transport.StatusEvent{Status: transport.StatusConnectionLost, Err: fmt.Errorf("%w: gone", transport.ErrConnectionLost)}
	}()
	got, err := c.AwaitState(ctx, StateFailed)
	if err != nil || got != StateFailed {
		t.Fatalf("expected failed state, got %s (%v)", got, err)
	}
}

func TestControllerOnStateChange(t *testing.T) {
	c, _ := newTestController(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var mu sync.Mutex
	var seen []SessionState
	c.OnStateChange(ctx, func(_, to SessionState, _ string) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, to)
	})

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("expected connect to succeed, got %v", err)
	}
	waitFor(t, "state callbacks", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if seen[0] != StateConnecting || seen[1] != StateConnected {
		t.Fatalf("expected connecting then connected, got %v", seen)
	}
}

func TestControllerToggleInterruptions(t *testing.T) {
	c, _ := newTestController(t)

	if !c.AllowInterruptions() {
		t.Fatalf("expected interruptions to be allowed by default")
	}
	c.SetAllowInterruptions(false)
	if c.AllowInterruptions() {
		t.Fatalf("expected interruptions to be disabled")
	}
}
