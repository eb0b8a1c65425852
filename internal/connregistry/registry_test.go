package connregistry

import (
	"context"
	"testing"
	"time"

	"github.com/defguard/client/internal/store"
)

func TestAddFindRemove(t *testing.T) {
	r := New()
	started := make(chan struct{})
	stopped := make(chan struct{})

	conn := r.Add("conn-1", 42, store.KindLocation, "wg0", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(stopped)
	})
	if conn.ID != "conn-1" {
		t.Fatalf("got id %q", conn.ID)
	}

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("pump never started")
	}

	got, ok := r.Find("conn-1")
	if !ok || got != conn {
		t.Fatal("expected to find the registered connection")
	}

	if err := r.Remove("conn-1"); err != nil {
		t.Fatal(err)
	}

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("pump never stopped after Remove")
	}

	if _, ok := r.Find("conn-1"); ok {
		t.Fatal("expected connection to be gone after Remove")
	}
}

func TestRemoveNotFound(t *testing.T) {
	r := New()
	if err := r.Remove("nope"); err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestFindByEntityAndListByKind(t *testing.T) {
	r := New()
	r.Add("loc-conn", 1, store.KindLocation, "wg0", func(ctx context.Context) { <-ctx.Done() })
	r.Add("tun-conn", 2, store.KindTunnel, "wg1", func(ctx context.Context) { <-ctx.Done() })
	defer r.CloseAll()

	conn, ok := r.FindByEntity(1, store.KindLocation)
	if !ok || conn.ID != "loc-conn" {
		t.Fatalf("got %+v, %v", conn, ok)
	}

	if _, ok := r.FindByEntity(1, store.KindTunnel); ok {
		t.Fatal("expected no match across mismatched kind")
	}

	locs := r.ListByKind(store.KindLocation)
	if len(locs) != 1 {
		t.Fatalf("got %d locations, want 1", len(locs))
	}
}

func TestAddReplacesPriorEntryForSameEntity(t *testing.T) {
	r := New()
	priorStopped := make(chan struct{})

	prior := r.Add("conn-1", 1, store.KindLocation, "wg0", func(ctx context.Context) {
		<-ctx.Done()
		close(priorStopped)
	})

	next := r.Add("conn-2", 1, store.KindLocation, "wg1", func(ctx context.Context) { <-ctx.Done() })
	defer r.CloseAll()

	select {
	case <-priorStopped:
	case <-time.After(time.Second):
		t.Fatal("expected Add to cancel and await the prior entry for the same (entityID, kind)")
	}

	if _, ok := r.Find(prior.ID); ok {
		t.Fatal("expected prior entry to be removed")
	}
	got, ok := r.FindByEntity(1, store.KindLocation)
	if !ok || got.ID != next.ID {
		t.Fatalf("expected FindByEntity to return the new entry %q, got %+v", next.ID, got)
	}
	if len(r.List()) != 1 {
		t.Fatalf("got %d entries, want exactly 1 (at-most-one per (entityID, kind))", len(r.List()))
	}
}

func TestCloseAllCancelsEverything(t *testing.T) {
	r := New()
	const n = 3
	stopped := make(chan struct{}, n)

	for i := 0; i < n; i++ {
		r.Add(string(rune('a'+i)), int64(i), store.KindLocation, "wg0", func(ctx context.Context) {
			<-ctx.Done()
			stopped <- struct{}{}
		})
	}

	r.CloseAll()

	for i := 0; i < n; i++ {
		select {
		case <-stopped:
		case <-time.After(time.Second):
			t.Fatal("not all pumps stopped after CloseAll")
		}
	}

	if len(r.List()) != 0 {
		t.Fatal("expected registry to be empty after CloseAll")
	}
}
