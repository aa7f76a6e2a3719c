package room

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/roombus/roombus-server/internal/logstore"
	"github.com/roombus/roombus-server/internal/usage"
)

// Registry creates and looks up Rooms by projectId. A Room is created on first request for a projectId and stays
// registered until Evict or Shutdown removes it; the registry does not remove a Room when its idle alarm fires. An
// idle Room's goroutine stays parked with no work to do, and its log buckets and usage counters persist
// independently in the durable store.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room

	logs  *logstore.Store
	usage *usage.Counter
	opts  Options
	log   zerolog.Logger
}

// NewRegistry returns an empty Registry. logs and usageCounter are shared by every Room it creates.
func NewRegistry(logs *logstore.Store, usageCounter *usage.Counter, opts Options, logger zerolog.Logger) *Registry {
	return &Registry{
		rooms: make(map[string]*Room),
		logs:  logs,
		usage: usageCounter,
		opts:  opts,
		log:   logger,
	}
}

// GetOrCreate returns the Room for projectID, creating it on first access.
func (reg *Registry) GetOrCreate(projectID string) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if rm, ok := reg.rooms[projectID]; ok {
		return rm
	}
	rm := New(projectID, reg.logs, reg.usage, reg.opts, reg.log)
	reg.rooms[projectID] = rm
	return rm
}

// Lookup returns the Room for projectID if one already exists, without creating it.
func (reg *Registry) Lookup(projectID string) (*Room, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	rm, ok := reg.rooms[projectID]
	return rm, ok
}

// Evict shuts down and removes the Room for projectID, if present. Intended to be called once a Room's idle alarm
// has fired and it holds no connections; the registry itself does not watch for that condition.
func (reg *Registry) Evict(projectID string) {
	reg.mu.Lock()
	rm, ok := reg.rooms[projectID]
	if ok {
		delete(reg.rooms, projectID)
	}
	reg.mu.Unlock()
	if ok {
		rm.Shutdown()
	}
}

// Count returns the number of live Rooms, for the worker-level /health endpoint.
func (reg *Registry) Count() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}

// Shutdown stops every Room in the registry. Intended for process shutdown.
func (reg *Registry) Shutdown() {
	reg.mu.Lock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, rm := range reg.rooms {
		rooms = append(rooms, rm)
	}
	reg.rooms = make(map[string]*Room)
	reg.mu.Unlock()

	for _, rm := range rooms {
		rm.Shutdown()
	}
}
