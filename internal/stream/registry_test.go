package stream

import (
	"log/slog"
	"testing"
	"time"
)

func newFactory() func(name string) *Channel {
	return func(name string) *Channel {
		return NewChannel(name, newMemFeed(), noNames{}, nil, time.Hour, slog.New(slog.DiscardHandler))
	}
}

func TestRegistryGetCreatesOnce(t *testing.T) {
	r := NewRegistry(newFactory())

	a := r.Get("streamer")
	b := r.Get("streamer")
	if a != b {
		t.Error("Get returned distinct channels for the same name")
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
}

func TestRegistryNormalizesNames(t *testing.T) {
	r := NewRegistry(newFactory())

	a := r.Get("Streamer")
	b := r.Get("#streamer")
	c := r.Get("STREAMER")
	if a != b || b != c {
		t.Error("name variants mapped to distinct channels")
	}
	if a.Name() != "streamer" {
		t.Errorf("Name = %q, want streamer", a.Name())
	}
}

func TestRegistryLookupDoesNotCreate(t *testing.T) {
	r := NewRegistry(newFactory())

	if _, ok := r.Lookup("ghost"); ok {
		t.Error("Lookup found a channel that was never created")
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d after Lookup, want 0", r.Len())
	}

	created := r.Get("streamer")
	found, ok := r.Lookup("#Streamer")
	if !ok || found != created {
		t.Error("Lookup missed an existing channel")
	}
}
