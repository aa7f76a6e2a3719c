package room

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestRegistryGetOrCreateReusesRoom(t *testing.T) {
	reg := NewRegistry(nil, nil, Options{}, zerolog.Nop())
	defer reg.Shutdown()

	a := reg.GetOrCreate("proj-x")
	b := reg.GetOrCreate("proj-x")
	if a != b {
		t.Error("expected GetOrCreate to reuse the existing Room for the same projectId")
	}
	if reg.Count() != 1 {
		t.Errorf("Count() = %d, want 1", reg.Count())
	}
}

func TestRegistryLookupMissing(t *testing.T) {
	reg := NewRegistry(nil, nil, Options{}, zerolog.Nop())
	defer reg.Shutdown()

	if _, ok := reg.Lookup("missing"); ok {
		t.Error("Lookup() = true for a projectId never created, want false")
	}
}

func TestRegistryEvictRemovesRoom(t *testing.T) {
	reg := NewRegistry(nil, nil, Options{}, zerolog.Nop())
	defer reg.Shutdown()

	reg.GetOrCreate("proj-x")
	reg.Evict("proj-x")

	if _, ok := reg.Lookup("proj-x"); ok {
		t.Error("expected proj-x to be removed after Evict")
	}
	if reg.Count() != 0 {
		t.Errorf("Count() = %d, want 0", reg.Count())
	}
}
