// Package poller implements the Config Poller (§4.E): the background loop
// that periodically reconciles each enrolled Instance's Locations against
// its proxy's view, applying the result in place when nothing is connected
// and deferring to a notification otherwise. Grounded on the original
// client's periodic config-poll loop (both the plain and the
// enterprise-aware revisions), generalized from a single-instance Tauri
// command into a loop over every enrolled instance.
package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"dario.cat/mergo"

	"github.com/defguard/client/internal/connregistry"
	"github.com/defguard/client/internal/errors"
	"github.com/defguard/client/internal/events"
	"github.com/defguard/client/internal/store"
	"github.com/defguard/client/internal/version"
)

// Poller periodically reconciles every enrolled Instance against its
// proxy's /api/v1/poll endpoint.
type Poller struct {
	db         *store.DB
	registry   *connregistry.Registry
	bus        *events.Bus
	httpClient *http.Client
	interval   time.Duration
	reqTimeout time.Duration
}

// New creates a Poller. interval is the loop period P_poll; reqTimeout
// bounds each individual poll request (spec.md §4.E step 1, default 5s).
func New(db *store.DB, registry *connregistry.Registry, bus *events.Bus, interval, reqTimeout time.Duration) *Poller {
	return &Poller{
		db:         db,
		registry:   registry,
		bus:        bus,
		httpClient: &http.Client{},
		interval:   interval,
		reqTimeout: reqTimeout,
	}
}

// Run polls every enrolled instance once per interval until ctx is
// cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollAll(ctx)
		}
	}
}

func (p *Poller) pollAll(ctx context.Context) {
	instances, err := p.db.ListInstances()
	if err != nil {
		return
	}
	for _, inst := range instances {
		if inst.Token == nil || *inst.Token == "" {
			continue
		}
		// Instances are polled independently; one instance's transport or
		// parse failure must not stop the others (spec.md §4.E step 2).
		p.pollInstance(ctx, inst)
	}
}

// PollOnce polls a single instance immediately — used by the Orchestrator
// to trigger a one-shot reconciliation right after a Location disconnects
// (§4.D disconnect, final step). Implements orchestrator.InstancePoller.
func (p *Poller) PollOnce(ctx context.Context, instanceID int64) error {
	inst, err := p.db.GetInstance(instanceID)
	if err != nil {
		return err
	}
	if inst.Token == nil || *inst.Token == "" {
		return errors.New(errors.KindNoPollingToken, "instance has no polling token")
	}
	return p.pollInstance(ctx, inst)
}

func (p *Poller) pollInstance(ctx context.Context, inst *store.Instance) error {
	reqCtx, cancel := context.WithTimeout(ctx, p.reqTimeout)
	defer cancel()

	body, err := json.Marshal(InstanceInfoRequest{Token: *inst.Token})
	if err != nil {
		return errors.Wrap(errors.KindJSON, "encode poll request", err)
	}

	url := strings.TrimRight(inst.ProxyURL, "/") + "/api/v1/poll"
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(errors.KindHTTP, "build poll request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", version.Product+"/"+version.Version())

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return errors.Wrap(errors.KindHTTP, "poll instance", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPaymentRequired:
		return p.handlePaymentRequired(inst)
	case resp.StatusCode != http.StatusOK:
		return errors.New(errors.KindHTTP, fmt.Sprintf("poll instance: unexpected status %d", resp.StatusCode))
	}

	var infoResp InstanceInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&infoResp); err != nil {
		return errors.Wrap(errors.KindJSON, "decode poll response", err)
	}
	if infoResp.DeviceConfig == nil {
		return errors.New(errors.KindJSON, "poll response missing device_config")
	}

	return p.reconcile(inst, infoResp.DeviceConfig)
}

// handlePaymentRequired implements spec.md §4.E step 2's payment-required
// branch: a 402 means the instance's enterprise subscription lapsed. If
// the instance still believes it is enterprise-enabled locally, clear that
// and its dependent fields; otherwise there is nothing to do. Either way
// this is a recorded state, not a transport error.
func (p *Poller) handlePaymentRequired(inst *store.Instance) error {
	if !inst.EnterpriseEnabled {
		return nil
	}
	inst.EnterpriseEnabled = false
	inst.DisableAllTraffic = false
	if err := p.db.ApplyInstanceUpdate(inst, true, nil, nil, false); err != nil {
		return err
	}
	p.bus.Publish(events.InstanceUpdate, inst.UUID)
	return nil
}

// instancePatch is the subset of Instance fields a poll response can
// update. Pointer fields distinguish "the response didn't mention this"
// from "the response says empty" — the only way mergo.WithOverride can
// tell the two apart for scalar types like bool.
type instancePatch struct {
	Name              *string
	URL               *string
	Username          *string
	DisableAllTraffic *bool
	EnterpriseEnabled *bool
	Token             *string
}

func currentPatch(inst *store.Instance) instancePatch {
	return instancePatch{
		Name:              &inst.Name,
		URL:               &inst.URL,
		Username:          &inst.Username,
		DisableAllTraffic: &inst.DisableAllTraffic,
		EnterpriseEnabled: &inst.EnterpriseEnabled,
		Token:             inst.Token,
	}
}

func responsePatch(ic *InstanceConfig) instancePatch {
	return instancePatch{
		Name:              &ic.Name,
		URL:               &ic.URL,
		Username:          &ic.Username,
		DisableAllTraffic: &ic.DisableAllTraffic,
		EnterpriseEnabled: &ic.EnterpriseEnabled,
		Token:             ic.Token,
	}
}

// reconcile computes whether the instance or its location set changed and,
// if so, either applies the change in place or defers to a notification,
// per spec.md §4.E steps 3-6.
func (p *Poller) reconcile(inst *store.Instance, dc *DeviceConfigResponse) error {
	existing, err := p.db.ListLocationsByInstance(inst.ID)
	if err != nil {
		return err
	}

	incoming := make([]*store.Location, 0, len(dc.Configs))
	for _, c := range dc.Configs {
		incoming = append(incoming, &store.Location{
			InstanceID:        inst.ID,
			NetworkID:         c.NetworkID,
			Name:              c.NetworkName,
			Address:           c.AssignedIP,
			PeerPubKey:        c.Pubkey,
			Endpoint:          c.Endpoint,
			AllowedIPs:        c.AllowedIPs,
			DNS:               c.DNS,
			KeepaliveInterval: c.KeepaliveInterval,
			MFAMode:           mfaModeFromBool(c.MFAEnabled),
		})
	}

	var merged instancePatch
	infoChanged := false
	if dc.Instance != nil {
		merged = currentPatch(inst)
		patch := responsePatch(dc.Instance)
		if err := mergo.Merge(&merged, patch, mergo.WithOverride, mergo.WithoutDereference); err != nil {
			return errors.Wrap(errors.KindInternal, "merge instance config", err)
		}
		infoChanged = merged.Name != nil && *merged.Name != inst.Name ||
			merged.URL != nil && *merged.URL != inst.URL ||
			merged.Username != nil && *merged.Username != inst.Username ||
			merged.DisableAllTraffic != nil && *merged.DisableAllTraffic != inst.DisableAllTraffic ||
			merged.EnterpriseEnabled != nil && *merged.EnterpriseEnabled != inst.EnterpriseEnabled
	}

	locationsChanged := locationSetChanged(existing, incoming)
	if !infoChanged && !locationsChanged {
		return nil
	}

	entityIDs := make([]int64, len(existing))
	for i, loc := range existing {
		entityIDs[i] = loc.ID
	}
	if p.registry.HasActiveAny(store.KindLocation, entityIDs) {
		// A user is connected to at least one of this instance's
		// Locations — don't mutate state under them, just notify
		// (spec.md §4.E step 6).
		p.bus.Publish(events.ConfigChanged, inst.Name)
		return nil
	}

	wasDisableAllTraffic := inst.DisableAllTraffic
	if infoChanged {
		applyPatch(inst, merged)
	}
	clearRouteAllTraffic := inst.DisableAllTraffic && !wasDisableAllTraffic

	var upserts []*store.Location
	var deletes []int64
	if locationsChanged {
		upserts, deletes = diffLocations(existing, incoming)
	}

	if err := p.db.ApplyInstanceUpdate(inst, infoChanged, upserts, deletes, clearRouteAllTraffic); err != nil {
		return err
	}
	p.bus.Publish(events.InstanceUpdate, inst.UUID)
	return nil
}

func applyPatch(inst *store.Instance, patch instancePatch) {
	if patch.Name != nil {
		inst.Name = *patch.Name
	}
	if patch.URL != nil {
		inst.URL = *patch.URL
	}
	if patch.Username != nil {
		inst.Username = *patch.Username
	}
	if patch.DisableAllTraffic != nil {
		inst.DisableAllTraffic = *patch.DisableAllTraffic
	}
	if patch.EnterpriseEnabled != nil {
		inst.EnterpriseEnabled = *patch.EnterpriseEnabled
	}
	inst.Token = patch.Token
}

// diffLocations splits the incoming location set into the rows to upsert
// (matched to an existing row by NetworkID, new otherwise) and the IDs of
// existing rows absent from the incoming set.
func diffLocations(existing, incoming []*store.Location) (upserts []*store.Location, deletes []int64) {
	byNetworkID := make(map[int64]*store.Location, len(existing))
	for _, loc := range existing {
		byNetworkID[loc.NetworkID] = loc
	}

	seen := make(map[int64]bool, len(incoming))
	for _, loc := range incoming {
		if old, ok := byNetworkID[loc.NetworkID]; ok {
			seen[old.NetworkID] = true
		}
		upserts = append(upserts, loc)
	}
	for _, loc := range existing {
		if !seen[loc.NetworkID] {
			deletes = append(deletes, loc.ID)
		}
	}
	return upserts, deletes
}

func locationSetChanged(existing, incoming []*store.Location) bool {
	if len(existing) != len(incoming) {
		return true
	}
	byNetworkID := make(map[int64]*store.Location, len(existing))
	for _, loc := range existing {
		byNetworkID[loc.NetworkID] = loc
	}
	for _, loc := range incoming {
		old, ok := byNetworkID[loc.NetworkID]
		if !ok || !old.SameConfig(loc) {
			return true
		}
	}
	return false
}

func mfaModeFromBool(enabled bool) store.MFAMode {
	if enabled {
		return store.MFAInternal
	}
	return store.MFADisabled
}
