// Package liveness implements the Liveness Supervisor (§4.F): the
// background loop that detects peers no longer exchanging inbound traffic
// and disconnects — or disconnects and reconnects — them through the
// Connection Orchestrator. Grounded on the Config Poller's own loop shape
// (internal/poller), itself grounded on the original client's periodic
// task pattern, generalized from "reconcile config" to "judge peer
// health".
package liveness

import (
	"context"
	"time"

	"github.com/defguard/client/internal/connregistry"
	"github.com/defguard/client/internal/events"
	"github.com/defguard/client/internal/store"
)

// Disconnector is the subset of the Orchestrator the Supervisor drives —
// defined locally so this package never imports internal/orchestrator,
// mirroring orchestrator.InstancePoller's dependency inversion.
type Disconnector interface {
	Connect(ctx context.Context, entityID int64, kind store.ConnectionKind, presharedKey string) error
	Disconnect(ctx context.Context, entityID int64, kind store.ConnectionKind) error
}

// Supervisor periodically judges every ActiveConnection's peer health.
type Supervisor struct {
	db       *store.DB
	registry *connregistry.Registry
	orch     Disconnector
	bus      *events.Bus
	interval time.Duration
}

// New creates a Supervisor. interval is the loop period P_check
// (spec.md §4.F, default 30s); peer_alive_period comes from Settings at
// each iteration, since it can change at runtime.
func New(db *store.DB, registry *connregistry.Registry, orch Disconnector, bus *events.Bus, interval time.Duration) *Supervisor {
	return &Supervisor{db: db, registry: registry, orch: orch, bus: bus, interval: interval}
}

// Run loops until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkOnce(ctx)
		}
	}
}

type verdict int

const (
	healthy verdict = iota
	broken          // never alive, past grace period
	stale           // neither healthy nor broken: inbound traffic stopped, or none seen yet within the grace period
)

// checkOnce implements spec.md §4.F steps 1-3: take a snapshot of the
// active connections under the Registry's lock via List(), then judge and
// act on each after the lock is released.
func (s *Supervisor) checkOnce(ctx context.Context) {
	settings, err := s.db.GetSettings()
	if err != nil {
		return
	}
	alivePeriod := time.Duration(settings.PeerAlivePeriod) * time.Second

	now := time.Now()
	conns := s.registry.List()

	type judged struct {
		conn *connregistry.ActiveConnection
		v    verdict
	}
	var acted []judged

	for _, conn := range conns {
		sample, err := s.db.LatestInboundTrafficSample(conn.EntityID, conn.Kind)
		if err != nil {
			continue
		}

		var v verdict
		switch {
		case sample != nil && now.Sub(sample.CollectedAt) <= alivePeriod:
			v = healthy
		case sample == nil && now.Sub(conn.ConnectedAt) > alivePeriod:
			v = broken
		default:
			v = stale
		}

		if v != healthy {
			acted = append(acted, judged{conn: conn, v: v})
		}
	}

	for _, j := range acted {
		s.act(ctx, j.conn, j.v)
	}
}

func (s *Supervisor) act(ctx context.Context, conn *connregistry.ActiveConnection, v verdict) {
	switch v {
	case broken:
		if err := s.orch.Disconnect(ctx, conn.EntityID, conn.Kind); err != nil {
			return
		}
		s.bus.Publish(events.DeadConnectionDropped, conn.EntityID)

	case stale:
		if conn.Kind == store.KindLocation {
			loc, err := s.db.GetLocation(conn.EntityID)
			if err == nil && loc.MFAMode != store.MFADisabled {
				// A fresh MFA challenge is required before reconnecting;
				// the Supervisor cannot supply one, so it stops here.
				s.orch.Disconnect(ctx, conn.EntityID, conn.Kind)
				return
			}
		}
		if err := s.orch.Disconnect(ctx, conn.EntityID, conn.Kind); err != nil {
			return
		}
		s.bus.Publish(events.DeadConnectionReconnect, conn.EntityID)
		s.orch.Connect(ctx, conn.EntityID, conn.Kind, "")
	}
}
