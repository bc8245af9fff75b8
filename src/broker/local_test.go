package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"mirror-control-plane/src/model"
)

func TestLocalBrokerDeliversToSubscriber(t *testing.T) {
	b := NewLocal()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan model.StatePatch, 1)
	go func() {
		_ = b.Subscribe(ctx, func(p model.StatePatch) { received <- p })
	}()

	// Give Subscribe a moment to register before publishing.
	time.Sleep(20 * time.Millisecond)
	b.Publish(ctx, model.StatePatch{Path: "/mic_enabled", Value: true})

	select {
	case p := <-received:
		if p.Path != "/mic_enabled" {
			t.Fatalf("unexpected patch: %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivered patch")
	}
}

func TestLocalBrokerFanOutToMultipleSubscribers(t *testing.T) {
	b := NewLocal()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const n = 3
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			_ = b.Subscribe(ctx, func(p model.StatePatch) { wg.Done() })
		}()
	}
	time.Sleep(20 * time.Millisecond)
	b.Publish(ctx, model.StatePatch{Path: "/cam_enabled", Value: true})

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("not all subscribers received the patch")
	}
}

func TestLocalBrokerCloseUnblocksSubscribe(t *testing.T) {
	b := NewLocal()
	done := make(chan struct{})
	go func() {
		_ = b.Subscribe(context.Background(), func(model.StatePatch) {})
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	b.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock Subscribe")
	}
}
