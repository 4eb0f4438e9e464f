package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ruteri/node-storage/api"
	"github.com/ruteri/node-storage/interfaces"
	"github.com/ruteri/node-storage/manager"
)

// DefaultTimeout bounds a request when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// StorageClient talks to the storage API of another node agent. It also
// implements interfaces.StorageBackend, which makes a peer usable as a
// backend of the local manager.
type StorageClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewStorageClient creates a client for the API at baseURL, e.g.
// "http://10.0.0.5:8080".
func NewStorageClient(baseURL string, timeout time.Duration) (*StorageClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%w: invalid storage API url %q", interfaces.ErrInvalidConfig, baseURL)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &StorageClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

func (c *StorageClient) Name() string {
	return "remote:" + c.baseURL
}

func (c *StorageClient) Get(ctx context.Context, key string, consistency interfaces.ConsistencyLevel) ([]byte, bool, error) {
	if err := interfaces.ValidateKey(key); err != nil {
		return nil, false, err
	}

	resp, err := c.do(ctx, http.MethodGet, keyURL(c.baseURL, key, consistency), nil)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		value, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, false, fmt.Errorf("%w: reading value: %v", interfaces.ErrConnectionFailed, err)
		}
		return value, true, nil
	case http.StatusNotFound:
		return nil, false, nil
	default:
		return nil, false, decodeError(resp)
	}
}

func (c *StorageClient) Put(ctx context.Context, key string, value []byte, consistency interfaces.ConsistencyLevel) error {
	if err := interfaces.ValidateKey(key); err != nil {
		return err
	}
	return c.expectNoContent(ctx, http.MethodPut, keyURL(c.baseURL, key, consistency), value)
}

func (c *StorageClient) Delete(ctx context.Context, key string, consistency interfaces.ConsistencyLevel) error {
	if err := interfaces.ValidateKey(key); err != nil {
		return err
	}
	return c.expectNoContent(ctx, http.MethodDelete, keyURL(c.baseURL, key, consistency), nil)
}

// Available reports whether the peer is ready to serve.
func (c *StorageClient) Available(ctx context.Context) bool {
	resp, err := c.do(ctx, http.MethodGet, c.baseURL+"/readyz", nil)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// Metrics fetches the peer's manager counters.
func (c *StorageClient) Metrics(ctx context.Context) (manager.MetricsSnapshot, error) {
	var snap manager.MetricsSnapshot
	err := c.getJSON(ctx, c.baseURL+api.MetricsPath, &snap)
	return snap, err
}

// ResetMetrics zeroes the peer's manager counters.
func (c *StorageClient) ResetMetrics(ctx context.Context) error {
	return c.expectNoContent(ctx, http.MethodDelete, c.baseURL+api.MetricsPath, nil)
}

// Backends lists the peer's registered backends.
func (c *StorageClient) Backends(ctx context.Context) ([]manager.BackendInfo, error) {
	var backends []manager.BackendInfo
	err := c.getJSON(ctx, c.baseURL+api.BackendsPath, &backends)
	return backends, err
}

func (c *StorageClient) getJSON(ctx context.Context, endpoint string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("could not parse response from %s: %w", endpoint, err)
	}
	return nil
}

func (c *StorageClient) expectNoContent(ctx context.Context, method, endpoint string, body []byte) error {
	resp, err := c.do(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *StorageClient) do(ctx context.Context, method, endpoint string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidConfig, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", interfaces.ErrConnectionFailed, method, endpoint, err)
	}
	return resp, nil
}

func keyURL(base, key string, consistency interfaces.ConsistencyLevel) string {
	return base + api.KVPath(key) + "?" + api.ConsistencyParam + "=" + consistency.String()
}

var codeErrors = map[string]error{
	api.CodeInvalidKey:       interfaces.ErrInvalidKey,
	api.CodeInvalidConfig:    interfaces.ErrInvalidConfig,
	api.CodeBackendNotFound:  interfaces.ErrBackendNotFound,
	api.CodeNoBackends:       interfaces.ErrNoBackends,
	api.CodeConnectionFailed: interfaces.ErrConnectionFailed,
	api.CodeReadOnly:         interfaces.ErrReadOnly,
}

// ErrRemote is returned for peer errors that have no local sentinel.
var ErrRemote = errors.New("remote storage error")

// decodeError turns an error response back into the matching sentinel error.
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var er api.ErrorResponse
	if err := json.Unmarshal(data, &er); err != nil || er.Code == "" {
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%w: status %d: %s", interfaces.ErrConnectionFailed, resp.StatusCode, strings.TrimSpace(string(data)))
		}
		return fmt.Errorf("%w: status %d: %s", ErrRemote, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if sentinel, ok := codeErrors[er.Code]; ok {
		return fmt.Errorf("%w: %s", sentinel, er.Message)
	}
	return fmt.Errorf("%w: %s (%s)", ErrRemote, er.Message, er.Code)
}
