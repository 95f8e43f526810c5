package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("run.", 10)
	defer unsub()

	b.Emit(KindStatusChanged, "test")

	select {
	case evt := <-ch:
		if evt.Kind != KindStatusChanged {
			t.Errorf("got kind %q, want %s", evt.Kind, KindStatusChanged)
		}
		if evt.Timestamp.IsZero() {
			t.Error("Emit() should stamp the event time")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("sync.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindStatusChanged})
	b.Publish(Event{Kind: KindRunStarted})

	select {
	case evt := <-ch:
		if evt.Kind != KindRunStarted {
			t.Errorf("got kind %q, want %s", evt.Kind, KindRunStarted)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// The run.* event must not have been delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("sync.", 10)
	unsub()

	b.Emit(KindRunFinished, nil)

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("test.", 1)
	defer unsub()

	b.Publish(Event{Kind: "test.one"})
	// Dropped: the buffer is full.
	b.Publish(Event{Kind: "test.two"})

	evt := <-ch
	if evt.Kind != "test.one" {
		t.Errorf("got %q, want test.one", evt.Kind)
	}
	if b.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", b.Dropped())
	}
}

func TestNilBusPublishIsNoop(t *testing.T) {
	var b *Bus
	b.Emit(KindRunStarted, nil)
}
