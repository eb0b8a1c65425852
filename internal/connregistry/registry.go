// Package connregistry implements the Connection Registry (§4.C): the
// process-local record of currently active connections (Locations or
// Tunnels with a live WireGuard interface). Grounded on the teacher's
// internal/daemon.Manager — a mutex-guarded map plus one per-entry
// cancellation handle — adapted from managing subprocesses to managing
// each connection's stats-pump goroutine.
package connregistry

import (
	"context"
	"sync"
	"time"

	"github.com/defguard/client/internal/errors"
	"github.com/defguard/client/internal/store"
)

// ActiveConnection is one live connection tracked by the registry.
type ActiveConnection struct {
	ID            string // google/uuid string, assigned at connect time
	EntityID      int64  // store.Location.ID or store.Tunnel.ID
	Kind          store.ConnectionKind
	InterfaceName string
	ConnectedAt   time.Time

	cancel   context.CancelFunc
	pumpDone chan struct{}
	stopOnce sync.Once
}

// Cancel stops this connection's stats pump and waits for it to exit.
func (c *ActiveConnection) Cancel() {
	c.stopOnce.Do(func() {
		c.cancel()
		<-c.pumpDone
	})
}

// Registry is the mutex-guarded map of active connections.
type Registry struct {
	mu    sync.Mutex
	byID  map[string]*ActiveConnection
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{byID: make(map[string]*ActiveConnection)}
}

// Add registers a new active connection and starts pump, a function that
// runs until ctx (derived internally) is cancelled — typically the
// Statistics Aggregator's per-connection sample loop (§4.I). Add takes
// ownership of signaling pump's context; callers must not start their own.
// Per spec.md §4.C, "if one already existed for (location_id, kind),
// aborts and awaits the prior pump first" — Add cancels and awaits any
// existing entry for the same (entityID, kind) before inserting the new
// one, so at most one ActiveConnection per (entityID, kind) ever exists
// even under concurrent callers.
func (r *Registry) Add(id string, entityID int64, kind store.ConnectionKind, interfaceName string, pump func(ctx context.Context)) *ActiveConnection {
	ctx, cancel := context.WithCancel(context.Background())
	conn := &ActiveConnection{
		ID:            id,
		EntityID:      entityID,
		Kind:          kind,
		InterfaceName: interfaceName,
		ConnectedAt:   time.Now(),
		cancel:        cancel,
		pumpDone:      make(chan struct{}),
	}

	r.mu.Lock()
	var prior *ActiveConnection
	for priorID, c := range r.byID {
		if c.EntityID == entityID && c.Kind == kind {
			prior = c
			delete(r.byID, priorID)
			break
		}
	}
	r.byID[id] = conn
	r.mu.Unlock()

	if prior != nil {
		prior.Cancel()
	}

	go func() {
		defer close(conn.pumpDone)
		pump(ctx)
	}()
	return conn
}

// Remove cancels and removes a connection by ID. Returns not-found if no
// such connection is registered.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	conn, ok := r.byID[id]
	if ok {
		delete(r.byID, id)
	}
	r.mu.Unlock()

	if !ok {
		return errors.NotFound("active connection not found")
	}
	conn.Cancel()
	return nil
}

// Find returns the active connection with the given ID, if any.
func (r *Registry) Find(id string) (*ActiveConnection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.byID[id]
	return conn, ok
}

// FindByEntity returns the active connection for a given (entityID, kind)
// pair, if one exists — a Location or Tunnel may have at most one active
// connection at a time (§3 invariant).
func (r *Registry) FindByEntity(entityID int64, kind store.ConnectionKind) (*ActiveConnection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, conn := range r.byID {
		if conn.EntityID == entityID && conn.Kind == kind {
			return conn, true
		}
	}
	return nil, false
}

// HasActiveAny reports whether any of the given entity IDs (Locations, by
// primary key) currently has a live connection — the Config Poller's
// "Instance has no active connections" guard (§4.C by_instance, §4.E step 5).
func (r *Registry) HasActiveAny(kind store.ConnectionKind, entityIDs []int64) bool {
	if len(entityIDs) == 0 {
		return false
	}
	want := make(map[int64]struct{}, len(entityIDs))
	for _, id := range entityIDs {
		want[id] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, conn := range r.byID {
		if conn.Kind != kind {
			continue
		}
		if _, ok := want[conn.EntityID]; ok {
			return true
		}
	}
	return false
}

// ListByKind returns a snapshot of every active connection of a given kind.
func (r *Registry) ListByKind(kind store.ConnectionKind) []*ActiveConnection {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*ActiveConnection
	for _, conn := range r.byID {
		if conn.Kind == kind {
			out = append(out, conn)
		}
	}
	return out
}

// List returns a snapshot of every active connection.
func (r *Registry) List() []*ActiveConnection {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*ActiveConnection, 0, len(r.byID))
	for _, conn := range r.byID {
		out = append(out, conn)
	}
	return out
}

// CloseAll cancels every active connection's stats pump and clears the
// registry. It does not remove the WireGuard interfaces themselves.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := make([]*ActiveConnection, 0, len(r.byID))
	for _, conn := range r.byID {
		conns = append(conns, conn)
	}
	r.byID = make(map[string]*ActiveConnection)
	r.mu.Unlock()

	for _, conn := range conns {
		conn.Cancel()
	}
}
