// Package daemonclient is the unprivileged side of the Interface Daemon's
// IPC boundary (§4.B): an HTTP client dialed over a unix socket (POSIX) or
// named pipe (Windows). Grounded on the teacher's internal/client/client.go
// doJSON/doRaw helper pair, adapted to the daemon's three verbs plus a
// streaming reader for read_interface_data.
package daemonclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"

	"github.com/defguard/client/internal/wgtypes"
)

// Client talks to the Interface Daemon over its platform transport.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// New creates a client dialed against the given transport dialer — unix
// socket on POSIX (see dial_unix.go), named pipe on Windows (dial_windows.go).
func New(dial func(ctx context.Context) (net.Conn, error)) *Client {
	return &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					return dial(ctx)
				},
			},
			Timeout: 0, // streaming reads must not time out
		},
		baseURL: "http://defguard-service",
	}
}

// CreateInterface asks the daemon to bring up a WireGuard interface.
func (c *Client) CreateInterface(ctx context.Context, req wgtypes.CreateInterfaceRequest) error {
	return c.doJSON(ctx, "POST", "/v1/interfaces", req, nil)
}

// RemoveInterface asks the daemon to tear down a WireGuard interface.
func (c *Client) RemoveInterface(ctx context.Context, req wgtypes.RemoveInterfaceRequest) error {
	return c.doJSON(ctx, "POST", "/v1/interfaces/remove", req, nil)
}

// ReadInterfaceData opens the streaming read_interface_data connection and
// returns a channel of frames. The channel closes when ctx is cancelled or
// the daemon ends the stream; the first error, if any, is sent before close.
func (c *Client) ReadInterfaceData(ctx context.Context, interfaceName string) (<-chan wgtypes.InterfaceData, <-chan error, error) {
	resp, err := c.doRaw(ctx, "GET", "/v1/interfaces/"+url.PathEscape(interfaceName)+"/data", nil)
	if err != nil {
		return nil, nil, err
	}

	frames := make(chan wgtypes.InterfaceData)
	errs := make(chan error, 1)

	go func() {
		defer resp.Body.Close()
		defer close(frames)

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			var data wgtypes.InterfaceData
			if err := json.Unmarshal(scanner.Bytes(), &data); err != nil {
				errs <- fmt.Errorf("decode interface data frame: %w", err)
				return
			}
			select {
			case frames <- data:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errs <- err
		}
	}()

	return frames, errs, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, result interface{}) error {
	resp, err := c.doRaw(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if result == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(result)
}

// doRaw makes an HTTP request and returns the raw response. Caller is
// responsible for closing resp.Body.
func (c *Client) doRaw(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s: %w", method, path, err)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		var errBody struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		if err := json.Unmarshal(data, &errBody); err == nil && errBody.Error != "" {
			return nil, fmt.Errorf("daemon returned %d: %s", resp.StatusCode, errBody.Error)
		}
		return nil, fmt.Errorf("daemon returned %d: %s", resp.StatusCode, string(data))
	}

	return resp, nil
}
