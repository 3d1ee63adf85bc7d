package pubsub

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ritzau/unitconv/pkg/model"
)

func publishRules(t *testing.T, pub *SSEPublisher, topic string, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		change := RuleChange{
			Rule:         model.ConversionRule{ID: "r", FromUnit: "瓶", ToUnit: "ml", ConversionRate: 750},
			StoreVersion: int64(i),
		}
		if err := pub.Publish(topic, EventRuleCreated, change); err != nil {
			t.Fatalf("Failed to publish event %d: %v", i, err)
		}
	}
}

func TestEventBuffer(t *testing.T) {
	pub := NewSSEPublisher()
	defer pub.Close()

	pub.ConfigureTopic("test", TopicConfig{BufferSize: 3, ReplayAll: true})
	publishRules(t, pub, "test", 5)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	sub, err := pub.Subscribe(ctx, "test")
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	defer sub.Close()

	// Last 3 of 5
	for want := 3; want <= 5; want++ {
		select {
		case event := <-sub.Events():
			if event.Version != want {
				t.Errorf("Expected version %d, got %d", want, event.Version)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("Timeout waiting for event %d", want)
		}
	}
}

func TestReplayLastOnly(t *testing.T) {
	pub := NewSSEPublisher()
	defer pub.Close()

	pub.ConfigureTopic("test", TopicConfig{BufferSize: 5, ReplayAll: false})
	publishRules(t, pub, "test", 3)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	sub, err := pub.Subscribe(ctx, "test")
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	defer sub.Close()

	select {
	case event := <-sub.Events():
		if event.Version != 3 {
			t.Errorf("Expected version 3, got %d", event.Version)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Timeout waiting for event")
	}

	select {
	case event := <-sub.Events():
		t.Errorf("Received unexpected extra event version %d", event.Version)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNoBuffer(t *testing.T) {
	pub := NewSSEPublisher()
	defer pub.Close()

	publishRules(t, pub, "test", 3)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	sub, err := pub.Subscribe(ctx, "test")
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	defer sub.Close()

	select {
	case event := <-sub.Events():
		t.Errorf("Received unexpected replayed event version %d", event.Version)
	case <-time.After(50 * time.Millisecond):
	}

	publishRules(t, pub, "test", 1)

	select {
	case event := <-sub.Events():
		if event.Version != 4 {
			t.Errorf("Expected version 4, got %d", event.Version)
		}
		var change RuleChange
		if err := json.Unmarshal(event.Data, &change); err != nil {
			t.Fatalf("Failed to decode payload: %v", err)
		}
		if change.Rule.FromUnit != "瓶" || change.StoreVersion != 1 {
			t.Errorf("Unexpected payload: %+v", change)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Timeout waiting for new event")
	}
}

func TestConversionPublisherReplaysChanges(t *testing.T) {
	pub := NewConversionPublisher()
	defer pub.Close()

	publishRules(t, pub, TopicConversions, 2)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	sub, err := pub.Subscribe(ctx, TopicConversions)
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	defer sub.Close()

	for want := 1; want <= 2; want++ {
		select {
		case event := <-sub.Events():
			if event.Version != want || event.Type != EventRuleCreated {
				t.Errorf("Expected %s v%d, got %s v%d", EventRuleCreated, want, event.Type, event.Version)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("Timeout waiting for event %d", want)
		}
	}
}

func TestContextCancelClosesSubscription(t *testing.T) {
	pub := NewSSEPublisher()
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := pub.Subscribe(ctx, "test")
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	if pub.SubscriberCount("test") != 1 {
		t.Fatalf("Expected 1 subscriber, got %d", pub.SubscriberCount("test"))
	}

	cancel()

	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Error("Expected closed channel, got an event")
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for subscription to close")
	}
	if pub.SubscriberCount("test") != 0 {
		t.Errorf("Expected 0 subscribers, got %d", pub.SubscriberCount("test"))
	}

	// Publishing after the subscriber left must not panic
	publishRules(t, pub, "test", 1)
}

func TestPublishAfterClose(t *testing.T) {
	pub := NewSSEPublisher()

	sub, err := pub.Subscribe(context.Background(), "test")
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	pub.Close()

	if _, ok := <-sub.Events(); ok {
		t.Error("Expected subscription channel to be closed")
	}
	if err := pub.Publish("test", EventRuleDeleted, nil); err != ErrClosed {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if _, err := pub.Subscribe(context.Background(), "test"); err != ErrClosed {
		t.Errorf("Expected ErrClosed on subscribe, got %v", err)
	}
	// Double close of the subscription is harmless
	sub.Close()
}

func TestWriteSSE(t *testing.T) {
	var buf bytes.Buffer
	event := Event{Topic: TopicConversions, Type: EventRuleDeleted, Data: json.RawMessage(`{"id":"x"}`), Version: 7}

	if err := WriteSSE(&buf, event); err != nil {
		t.Fatalf("WriteSSE() failed: %v", err)
	}

	out := buf.String()
	if !strings.HasPrefix(out, "id: 7\nevent: rule_deleted\ndata: {") {
		t.Errorf("Unexpected framing: %q", out)
	}
	if !strings.HasSuffix(out, "}\n\n") {
		t.Errorf("Expected blank line terminator, got %q", out)
	}
	if !strings.Contains(out, `"data":{"id":"x"}`) {
		t.Errorf("Expected raw payload to be embedded, got %q", out)
	}
}
