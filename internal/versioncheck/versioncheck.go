// Package versioncheck implements the one-shot "is a new client version
// available" HTTP exchange from spec.md §6
// (https://pkgs.defguard.net/api/update/check), grounded on
// internal/enrollment's doJSON request/response shape — the same
// single-endpoint POST-and-decode pattern, reused here for a different
// proxy and payload. Unlike enrollment and the Config Poller, this talks
// to a fixed first-party URL rather than a per-Instance one.
package versioncheck

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/defguard/client/internal/errors"
	"github.com/defguard/client/internal/events"
	"github.com/defguard/client/internal/version"
)

// Endpoint is the fixed update-check URL spec.md §6 names.
const Endpoint = "https://pkgs.defguard.net/api/update/check"

// CheckRequest is the body of an update/check call.
type CheckRequest struct {
	Product         string `json:"product"`
	ClientVersion   string `json:"client_version"`
	OperatingSystem string `json:"operating_system"`
}

// AppVersionInfo is the response body: the latest published release.
type AppVersionInfo struct {
	Version         string `json:"version"`
	ReleaseDate     string `json:"release_date"`
	ReleaseNotesURL string `json:"release_notes_url"`
	UpdateURL       string `json:"update_url"`
}

// Checker performs the update-check exchange and reports its result on
// the event bus as APP_VERSION_FETCH, mirroring how the Config Poller
// reports INSTANCE_UPDATE rather than returning errors to a UI layer
// directly.
type Checker struct {
	httpClient *http.Client
	bus        *events.Bus
	reqTimeout time.Duration
	os         string
	endpoint   string
}

// New creates a Checker. reqTimeout bounds the HTTP call (spec.md §5:
// "HTTP requests 5s"); operatingSystem is the platform string sent to the
// proxy (e.g. "linux", "darwin", "windows").
func New(bus *events.Bus, reqTimeout time.Duration, operatingSystem string) *Checker {
	return &Checker{
		httpClient: &http.Client{},
		bus:        bus,
		reqTimeout: reqTimeout,
		os:         operatingSystem,
		endpoint:   Endpoint,
	}
}

// NewWithEndpoint is New with an overridable endpoint, used by tests to
// point the Checker at an httptest.Server instead of the real proxy.
func NewWithEndpoint(bus *events.Bus, reqTimeout time.Duration, operatingSystem, endpoint string) *Checker {
	c := New(bus, reqTimeout, operatingSystem)
	c.endpoint = endpoint
	return c
}

// Check runs one update-check exchange. A transient network error is
// returned to the caller rather than published, matching §7's "transient
// network errors in the Config Poller and Version Check are logged and
// retried on the next tick" — the caller's periodic loop decides whether
// and when to retry.
func (c *Checker) Check(ctx context.Context) (*AppVersionInfo, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.reqTimeout)
	defer cancel()

	reqBody := CheckRequest{
		Product:         version.Product,
		ClientVersion:   version.Version(),
		OperatingSystem: c.os,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, errors.Wrap(errors.KindJSON, "encode version check request", err)
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(errors.KindHTTP, "build version check request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", version.Product+"/"+version.Version())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(errors.KindHTTP, "version check request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New(errors.KindHTTP, fmt.Sprintf("version check: unexpected status %d", resp.StatusCode))
	}

	var info AppVersionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, errors.Wrap(errors.KindJSON, "decode version check response", err)
	}

	c.bus.Publish(events.AppVersionFetch, &info)
	return &info, nil
}

// RunPeriodic loops Check every interval until ctx is cancelled. A failed
// check is dropped without being logged or published and is retried on
// the next tick (§7); only successful results reach the event bus.
func (c *Checker) RunPeriodic(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Check(ctx) //nolint:errcheck // transient errors are retried next tick, not surfaced here
		}
	}
}
