package events

import (
	"testing"
	"time"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventItemFinished)

	bus.Publish(EventItemFinished, Payload{"file_id": "a"})

	select {
	case payload := <-sub:
		if payload["file_id"] != "a" {
			t.Fatalf("payload: %v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("payload never delivered")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventDayOff)
	bus.Unsubscribe(EventDayOff, sub)

	if _, ok := <-sub; ok {
		t.Fatal("channel still open after unsubscribe")
	}
}

func TestUnsubscribeDuringPublish(t *testing.T) {
	bus := NewBus()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			bus.Publish(EventItemFinished, Payload{"n": i})
		}
	}()

	// A send racing the close would panic the publisher goroutine.
	for i := 0; i < 200; i++ {
		sub := bus.Subscribe(EventItemFinished)
		bus.Unsubscribe(EventItemFinished, sub)
	}
	<-done
}
