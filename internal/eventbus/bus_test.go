package eventbus

import "testing"

func TestMemBus_FanoutAndDrop(t *testing.T) {
	t.Parallel()

	b := New()
	all, unsubAll := b.Subscribe(1)
	defer unsubAll()
	workers, unsubWorkers := b.SubscribePrefix(4, "worker.")
	defer unsubWorkers()

	b.Publish(Event{Type: "scheduler.started"})
	b.Publish(Event{Type: "worker.started"})

	if ev := <-all; ev.Type != "scheduler.started" || ev.Time.IsZero() {
		t.Fatalf("all got %+v", ev)
	}
	if b.Dropped() != 1 {
		t.Fatalf("dropped=%d want 1", b.Dropped())
	}
	if ev := <-workers; ev.Type != "worker.started" {
		t.Fatalf("workers got %+v", ev)
	}
	if len(workers) != 0 {
		t.Fatalf("prefix filter leaked %d events", len(workers))
	}
}

func TestMemBus_UnsubscribeCloses(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(2)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatalf("channel still open after unsubscribe")
	}
	b.Publish(Event{Type: "after"})
}
