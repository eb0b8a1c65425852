// Package stats implements the Statistics Aggregator (§4.I): the
// per-connection sample pump that turns the Daemon's streamed peer
// counters into persisted StatsSample rows, plus the periodic purge loop
// that trims old samples. Grounded on daemonclient.Client.ReadInterfaceData
// producing the same wgtypes.InterfaceData frames the Interface Daemon
// already streams for every other consumer of that IPC verb.
package stats

import (
	"context"
	"time"

	"github.com/defguard/client/internal/daemonclient"
	"github.com/defguard/client/internal/store"
	"github.com/defguard/client/internal/wgtypes"
)

// Pump reads an interface's counter stream and writes one StatsSample per
// frame. Its method value satisfies orchestrator.StatsPump.
type Pump struct {
	db     *store.DB
	daemon *daemonclient.Client
}

// New creates a Pump bound to db and daemon.
func New(db *store.DB, daemon *daemonclient.Client) *Pump {
	return &Pump{db: db, daemon: daemon}
}

// Run streams interfaceName's counters from the daemon and persists a
// StatsSample for each frame until ctx is cancelled or the stream ends —
// the function this package hands the Orchestrator as its StatsPump hook
// (§4.C: "exactly one statistics pump task per ActiveConnection").
func (p *Pump) Run(ctx context.Context, connID string, entityID int64, kind store.ConnectionKind, interfaceName string) {
	frames, errs, err := p.daemon.ReadInterfaceData(ctx, interfaceName)
	if err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			p.storeFrame(entityID, kind, frame)
		case <-errs:
			return
		}
	}
}

// storeFrame persists one sample. A frame with no peers (the interface
// exists but the handshake hasn't completed yet) is skipped rather than
// recorded as a zeroed sample — each service interface carries exactly
// one peer, so frame.Peers[0] is that connection's own counters.
func (p *Pump) storeFrame(entityID int64, kind store.ConnectionKind, frame wgtypes.InterfaceData) {
	if len(frame.Peers) == 0 {
		return
	}
	peer := frame.Peers[0]

	var lastHandshake uint64
	if peer.LastHandshake != nil {
		lastHandshake = *peer.LastHandshake
	}

	p.db.AddStatsSample(&store.StatsSample{
		EntityID:      entityID,
		Kind:          kind,
		CollectedAt:   time.Now(),
		Upload:        peer.TxBytes,
		Download:      peer.RxBytes,
		LastHandshake: lastHandshake,
		ListenPort:    frame.ListenPort,
	})
}

// PurgeLoop runs the §4.I purge loop: every period, delete StatsSample
// rows older than the retention window Settings carries, inside the one
// transaction PurgeOldStats already wraps its delete in.
func (p *Pump) PurgeLoop(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.purgeOnce()
		}
	}
}

func (p *Pump) purgeOnce() {
	settings, err := p.db.GetSettings()
	if err != nil {
		return
	}
	retention := time.Duration(settings.StatsRetentionHours) * time.Hour
	if retention <= 0 {
		return
	}
	cutoff := time.Now().Add(-retention)
	p.db.PurgeOldStats(cutoff)
}
