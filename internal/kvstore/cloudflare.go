package kvstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// CloudflareKV is a KV backend on the Cloudflare Workers KV REST API.
type CloudflareKV struct {
	baseURL  string
	apiToken string
	client   *http.Client
}

// NewCloudflareKV creates a backend for the given account and namespace.
func NewCloudflareKV(accountID, namespaceID, apiToken string) *CloudflareKV {
	return &CloudflareKV{
		baseURL: fmt.Sprintf(
			"https://api.cloudflare.com/client/v4/accounts/%s/storage/kv/namespaces/%s",
			accountID, namespaceID),
		apiToken: apiToken,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

// Get returns the stored value for key, or ErrNotFound on a 404.
func (c *CloudflareKV) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, key, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("kv get %q failed: status %d", key, resp.StatusCode)
	}

	value, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("kv get %q failed reading body: %w", key, err)
	}
	return value, nil
}

// Put stores value under key.
func (c *CloudflareKV) Put(ctx context.Context, key string, value []byte) error {
	resp, err := c.do(ctx, http.MethodPut, key, bytes.NewReader(value))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("kv put %q failed: status %d", key, resp.StatusCode)
	}
	return nil
}

// Delete removes key. Cloudflare returns 404 for absent keys, which is
// treated as success to match the KV contract.
func (c *CloudflareKV) Delete(ctx context.Context, key string) error {
	resp, err := c.do(ctx, http.MethodDelete, key, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("kv delete %q failed: status %d", key, resp.StatusCode)
	}
	return nil
}

func (c *CloudflareKV) do(ctx context.Context, method, key string, body io.Reader) (*http.Response, error) {
	reqURL := c.baseURL + "/values/" + url.PathEscape(key)
	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("kv %s %q failed building request: %w", method, key, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kv %s %q failed: %w", method, key, err)
	}
	return resp, nil
}
