// Package enrollment implements the Enrollment Client (§4.H): the
// single-shot, two-step exchange that turns a one-time enrollment token
// into a fully configured Instance, grounded on the original CLI's
// enroll() command (enrollment/start, then enrollment/create_device).
// Unlike the Config Poller, this runs once per new instance and is never
// retried on its own — callers decide whether to prompt the user again.
package enrollment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/defguard/client/internal/errors"
	"github.com/defguard/client/internal/poller"
	"github.com/defguard/client/internal/store"
	"github.com/defguard/client/internal/version"
	"github.com/defguard/client/internal/wgtypes"
)

// Client drives the two-step enrollment exchange against a proxy.
type Client struct {
	db         *store.DB
	httpClient *http.Client
	reqTimeout time.Duration
}

// New creates a Client. reqTimeout bounds each of the two HTTP calls
// (spec.md §5: "HTTP requests 5s").
func New(db *store.DB, reqTimeout time.Duration) *Client {
	return &Client{
		db:         db,
		httpClient: &http.Client{},
		reqTimeout: reqTimeout,
	}
}

// StartRequest is the body of the enrollment/start call.
type StartRequest struct {
	Token string `json:"token"`
}

// InstanceInfo is the "instance" sub-object of an enrollment/start
// response — the scalar fields of the Instance being enrolled into.
type InstanceInfo struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	URL               string `json:"url"`
	ProxyURL          string `json:"proxy_url"`
	Username          string `json:"username"`
	DisableAllTraffic bool   `json:"disable_all_traffic"`
	EnterpriseEnabled bool   `json:"enterprise_enabled"`
}

// StartResponse is the body of a successful enrollment/start response.
type StartResponse struct {
	Instance *InstanceInfo `json:"instance"`
}

// CreateDeviceRequest is the body of the enrollment/create_device call —
// the device's freshly generated public key, registered against the token
// that enrollment/start already validated.
type CreateDeviceRequest struct {
	Name   string `json:"name"`
	Pubkey string `json:"pubkey"`
	Token  string `json:"token"`
}

// CreateDeviceResponse reuses the Config Poller's device-config shape:
// both calls are answered by the same underlying proxy endpoint that
// hands back an instance plus its location configs.
type CreateDeviceResponse struct {
	Instance *poller.InstanceConfig  `json:"instance"`
	Configs  []poller.LocationConfig `json:"configs"`
}

// Enroll runs the full enrollment exchange and persists the result as a
// new Instance, KeyPair, and single Location in one transaction
// (spec.md §4.H). token is the one-time enrollment token the user was
// given out of band; deviceName identifies this device to the proxy.
func (c *Client) Enroll(ctx context.Context, proxyURL, token, deviceName string) (*store.Instance, error) {
	start, err := c.enrollmentStart(ctx, proxyURL, token)
	if err != nil {
		return nil, err
	}
	if start.Instance == nil {
		return nil, errors.New(errors.KindJSON, "enrollment start response missing instance")
	}

	key, err := wgtypes.GenerateKey()
	if err != nil {
		return nil, errors.Wrap(errors.KindWireGuard, "generate enrollment key pair", err)
	}

	device, err := c.createDevice(ctx, proxyURL, token, deviceName, key.PublicKey().String())
	if err != nil {
		return nil, err
	}
	if len(device.Configs) != 1 {
		return nil, errors.New(errors.KindJSON, fmt.Sprintf("enrollment device config has %d locations, want exactly 1", len(device.Configs)))
	}
	cfg := device.Configs[0]

	inst := &store.Instance{
		UUID:              start.Instance.ID,
		Name:              start.Instance.Name,
		URL:               start.Instance.URL,
		ProxyURL:          strings.TrimRight(proxyURL, "/"),
		Username:          start.Instance.Username,
		DisableAllTraffic: start.Instance.DisableAllTraffic,
		EnterpriseEnabled: start.Instance.EnterpriseEnabled,
	}
	if device.Instance != nil {
		inst.Name = device.Instance.Name
		inst.DisableAllTraffic = device.Instance.DisableAllTraffic
		inst.EnterpriseEnabled = device.Instance.EnterpriseEnabled
	}

	kp := &store.KeyPair{
		PrivateKey: key.String(),
		PublicKey:  key.PublicKey().String(),
	}

	loc := &store.Location{
		NetworkID:         cfg.NetworkID,
		Name:              cfg.NetworkName,
		Address:           cfg.AssignedIP,
		PeerPubKey:        cfg.Pubkey,
		Endpoint:          cfg.Endpoint,
		AllowedIPs:        cfg.AllowedIPs,
		DNS:               cfg.DNS,
		KeepaliveInterval: cfg.KeepaliveInterval,
		MFAMode:           mfaModeFromBool(cfg.MFAEnabled),
	}

	instanceID, err := c.db.CreateEnrolledInstance(inst, kp, loc)
	if err != nil {
		return nil, err
	}
	inst.ID = instanceID
	return inst, nil
}

func (c *Client) enrollmentStart(ctx context.Context, proxyURL, token string) (*StartResponse, error) {
	var resp StartResponse
	err := c.post(ctx, proxyURL, "/api/v1/enrollment/start", StartRequest{Token: token}, &resp)
	return &resp, err
}

func (c *Client) createDevice(ctx context.Context, proxyURL, token, deviceName, pubkey string) (*CreateDeviceResponse, error) {
	var resp CreateDeviceResponse
	err := c.post(ctx, proxyURL, "/api/v1/enrollment/create_device", CreateDeviceRequest{
		Name:   deviceName,
		Pubkey: pubkey,
		Token:  token,
	}, &resp)
	return &resp, err
}

func (c *Client) post(ctx context.Context, proxyURL, path string, reqBody, respBody any) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.reqTimeout)
	defer cancel()

	body, err := json.Marshal(reqBody)
	if err != nil {
		return errors.Wrap(errors.KindJSON, "encode enrollment request", err)
	}

	url := strings.TrimRight(proxyURL, "/") + path
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(errors.KindHTTP, "build enrollment request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", version.Product+"/"+version.Version())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return errors.Wrap(errors.KindHTTP, "enrollment request "+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.New(errors.KindHTTP, fmt.Sprintf("enrollment request %s: unexpected status %d", path, resp.StatusCode))
	}
	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return errors.Wrap(errors.KindJSON, "decode enrollment response", err)
	}
	return nil
}

func mfaModeFromBool(enabled bool) store.MFAMode {
	if enabled {
		return store.MFAInternal
	}
	return store.MFADisabled
}
