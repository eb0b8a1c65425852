package events

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(4)
	defer unsub()

	b.Publish(ConnectionChanged, "loc-1")

	select {
	case ev := <-ch:
		if ev.Kind != ConnectionChanged || ev.Payload != "loc-1" {
			t.Fatalf("got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("event never delivered")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(ConfigChanged, 1)
	b.Publish(ConfigChanged, 2) // buffer full, dropped rather than blocking

	ev := <-ch
	if ev.Payload != 1 {
		t.Fatalf("got %+v, want first event preserved", ev)
	}
	select {
	case extra := <-ch:
		t.Fatalf("expected no second event, got %+v", extra)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()

	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after unsubscribe")
	}
}

func TestMultipleSubscribersAllReceive(t *testing.T) {
	b := New()
	ch1, unsub1 := b.Subscribe(1)
	ch2, unsub2 := b.Subscribe(1)
	defer unsub1()
	defer unsub2()

	b.Publish(InstanceUpdate, nil)

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("subscriber never received event")
		}
	}
}
