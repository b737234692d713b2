package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/claimguard/internal/domain"
)

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		got := make(chan *domain.Message, 1)
		_, err := bus.Subscribe(ctx, domain.TopicClaimSubmitted, func(ctx context.Context, msg *domain.Message) error {
			got <- msg
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		if err := bus.Publish(ctx, domain.TopicClaimSubmitted, []byte(`{"claim_id":"CLM-1"}`)); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		select {
		case msg := <-got:
			if string(msg.Payload) != `{"claim_id":"CLM-1"}` {
				t.Errorf("unexpected payload %s", msg.Payload)
			}
			if msg.Topic != domain.TopicClaimSubmitted {
				t.Errorf("expected topic %s, got %s", domain.TopicClaimSubmitted, msg.Topic)
			}
			if msg.ID == "" || msg.Timestamp == 0 {
				t.Error("expected message id and timestamp")
			}
			if msg.ReplyTo() != "" {
				t.Errorf("plain publish should carry no reply topic, got %q", msg.ReplyTo())
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for message")
		}
	})

	t.Run("TopicIsolation", func(t *testing.T) {
		var validated, rejected atomic.Int32

		bus.Subscribe(ctx, domain.TopicClaimValidated, func(ctx context.Context, msg *domain.Message) error {
			validated.Add(1)
			return nil
		})
		bus.Subscribe(ctx, domain.TopicClaimRejected, func(ctx context.Context, msg *domain.Message) error {
			rejected.Add(1)
			return nil
		})

		bus.Publish(ctx, domain.TopicClaimValidated, []byte("result"))
		waitFor(t, "validated message", func() bool { return validated.Load() == 1 })

		time.Sleep(20 * time.Millisecond)
		if rejected.Load() != 0 {
			t.Errorf("rejected subscriber should receive 0 messages, got %d", rejected.Load())
		}
	})

	t.Run("OrderPerSubscriber", func(t *testing.T) {
		var mu sync.Mutex
		var seen []string
		bus.Subscribe(ctx, "order.topic", func(ctx context.Context, msg *domain.Message) error {
			mu.Lock()
			seen = append(seen, string(msg.Payload))
			mu.Unlock()
			return nil
		})

		for _, p := range []string{"a", "b", "c", "d"} {
			bus.Publish(ctx, "order.topic", []byte(p))
		}
		waitFor(t, "four messages", func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(seen) == 4
		})

		mu.Lock()
		defer mu.Unlock()
		for i, want := range []string{"a", "b", "c", "d"} {
			if seen[i] != want {
				t.Fatalf("expected publish order, got %v", seen)
			}
		}
	})

	t.Run("Request", func(t *testing.T) {
		bus.Subscribe(ctx, "echo.topic", func(ctx context.Context, msg *domain.Message) error {
			return bus.Publish(ctx, msg.ReplyTo(), append([]byte("re: "), msg.Payload...))
		})

		reqCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()

		reply, err := bus.Request(reqCtx, "echo.topic", []byte("ping"))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if string(reply) != "re: ping" {
			t.Errorf("expected 're: ping', got %q", reply)
		}
	})

	t.Run("RequestTimeout", func(t *testing.T) {
		bus.Subscribe(ctx, "silent.topic", func(ctx context.Context, msg *domain.Message) error {
			return nil
		})

		reqCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()

		_, err := bus.Request(reqCtx, "silent.topic", []byte("ping"))
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded when nobody replies, got %v", err)
		}
	})

	t.Run("NoSubscribers", func(t *testing.T) {
		if err := bus.Publish(ctx, "nobody.topic", []byte("claim")); !errors.Is(err, domain.ErrNoSubscribers) {
			t.Errorf("expected ErrNoSubscribers from publish, got %v", err)
		}
		if _, err := bus.Request(ctx, "nobody.topic", []byte("ping")); !errors.Is(err, domain.ErrNoSubscribers) {
			t.Errorf("expected ErrNoSubscribers from request, got %v", err)
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var count atomic.Int32
		sub, _ := bus.Subscribe(ctx, "unsub.topic", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})

		bus.Publish(ctx, "unsub.topic", []byte("msg1"))
		waitFor(t, "first message", func() bool { return count.Load() == 1 })

		sub.Unsubscribe()
		bus.Publish(ctx, "unsub.topic", []byte("msg2"))
		time.Sleep(30 * time.Millisecond)

		if count.Load() != 1 {
			t.Errorf("expected 1 message after unsubscribe, got %d", count.Load())
		}
		if sub.Topic() != "unsub.topic" {
			t.Errorf("expected topic 'unsub.topic', got '%s'", sub.Topic())
		}
	})

	t.Run("FanOut", func(t *testing.T) {
		var count1, count2 atomic.Int32
		bus.Subscribe(ctx, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
			count1.Add(1)
			return nil
		})
		bus.Subscribe(ctx, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
			count2.Add(1)
			return nil
		})

		bus.Publish(ctx, "multi.topic", []byte("broadcast"))
		waitFor(t, "both subscribers", func() bool { return count1.Load() == 1 && count2.Load() == 1 })
	})

	t.Run("HandlerPanicIsolated", func(t *testing.T) {
		var handled atomic.Int32
		bus.Subscribe(ctx, "panic.topic", func(ctx context.Context, msg *domain.Message) error {
			if string(msg.Payload) == "boom" {
				panic("malformed claim")
			}
			handled.Add(1)
			return nil
		})

		bus.Publish(ctx, "panic.topic", []byte("boom"))
		bus.Publish(ctx, "panic.topic", []byte("fine"))
		waitFor(t, "message after panic", func() bool { return handled.Load() == 1 })
	})

	t.Run("Ping", func(t *testing.T) {
		if err := bus.Ping(ctx); err != nil {
			t.Errorf("ping failed: %v", err)
		}
	})
}

func TestChannelBusBufferFull(t *testing.T) {
	bus := NewChannelBus(1)
	defer bus.Close()

	ctx := context.Background()
	release := make(chan struct{})
	var handled atomic.Int32

	bus.Subscribe(ctx, "slow.topic", func(ctx context.Context, msg *domain.Message) error {
		<-release
		handled.Add(1)
		return nil
	})

	// One in the handler, one buffered, the rest dropped.
	dropped := 0
	for i := 0; i < 5; i++ {
		err := bus.Publish(ctx, "slow.topic", []byte("claim"))
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrDropped):
			dropped++
		default:
			t.Fatalf("unexpected publish error: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if dropped < 3 {
		t.Errorf("expected overflow publishes to report ErrDropped, got %d", dropped)
	}
	close(release)

	waitFor(t, "buffered messages", func() bool { return handled.Load()+int32(dropped) == 5 })
	time.Sleep(30 * time.Millisecond)
	if n := handled.Load(); int(n)+dropped != 5 {
		t.Errorf("expected every publish handled or dropped, handled %d dropped %d", n, dropped)
	}
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(100)
	ctx := context.Background()

	bus.Subscribe(ctx, "close.topic", func(ctx context.Context, msg *domain.Message) error {
		return nil
	})

	if err := bus.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}

	if err := bus.Publish(ctx, "close.topic", []byte("data")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after close, got %v", err)
	}
	if _, err := bus.Subscribe(ctx, "close.topic", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from subscribe, got %v", err)
	}
	if err := bus.Ping(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from ping, got %v", err)
	}
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		bus, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 50})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer bus.Close()

		if _, ok := bus.(*ChannelBus); !ok {
			t.Error("expected ChannelBus for channel type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

func TestMessageReplyTo(t *testing.T) {
	msg := newMessage(domain.TopicClaimSubmitted, []byte("{}"), "claimguard.reply.1")
	if msg.ReplyTo() != "claimguard.reply.1" {
		t.Errorf("expected reply topic, got %q", msg.ReplyTo())
	}

	var nilMsg *domain.Message
	if nilMsg.ReplyTo() != "" {
		t.Error("nil message should have no reply topic")
	}
}

func TestChannelBusHighLoad(t *testing.T) {
	bus := NewChannelBus(1000)
	defer bus.Close()

	ctx := context.Background()
	const messageCount = 100

	var received atomic.Int32
	bus.Subscribe(ctx, domain.TopicClaimSubmitted, func(ctx context.Context, msg *domain.Message) error {
		received.Add(1)
		return nil
	})

	for i := 0; i < messageCount; i++ {
		bus.Publish(ctx, domain.TopicClaimSubmitted, []byte("claim"))
	}

	deadline := time.Now().Add(5 * time.Second)
	for received.Load() < messageCount && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if received.Load() != messageCount {
		t.Fatalf("received %d/%d messages", received.Load(), messageCount)
	}
}
