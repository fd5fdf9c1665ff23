// Package clinical speaks the clinical data exchange API. The exchange
// serves generic resources per data type, so the mapping to entities is a
// straight field passthrough.
package clinical

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/YIKHLEF/ClinicBoost-sub004/provider"
	syncengine "github.com/YIKHLEF/ClinicBoost-sub004/sync"
)

type Client struct {
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

func New(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return "clinical" }

type wireResource struct {
	ID           string            `json:"id,omitempty"`
	ResourceType string            `json:"resourceType"`
	Attributes   map[string]string `json:"attributes"`
	LastUpdated  time.Time         `json:"lastUpdated"`
}

type listResourcesResponse struct {
	Resources []wireResource `json:"resources"`
}

type createResourceResponse struct {
	ID string `json:"id"`
}

func (c *Client) FetchRecords(ctx context.Context, p provider.Provider, dataType string, window syncengine.Window) ([]syncengine.Entity, error) {
	creds, err := credentials(p)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("from", window.From.UTC().Format(time.RFC3339))
	q.Set("to", window.To.UTC().Format(time.RFC3339))
	endpoint := fmt.Sprintf("%s/api/v1/%s?%s", baseURL(creds), url.PathEscape(dataType), q.Encode())

	body, err := c.do(ctx, creds, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var resp listResourcesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode clinical resources: %w", err)
	}

	out := make([]syncengine.Entity, 0, len(resp.Resources))
	for _, res := range resp.Resources {
		out = append(out, toEntity(dataType, res))
	}
	return out, nil
}

func (c *Client) CreateRecord(ctx context.Context, p provider.Provider, entity syncengine.Entity) (string, error) {
	creds, err := credentials(p)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(toWire(entity))
	if err != nil {
		return "", fmt.Errorf("failed to marshal clinical resource: %w", err)
	}
	endpoint := fmt.Sprintf("%s/api/v1/%s", baseURL(creds), url.PathEscape(entity.EntityType))
	body, err := c.do(ctx, creds, http.MethodPost, endpoint, raw)
	if err != nil {
		return "", err
	}
	var resp createResourceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to decode created resource: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("clinical exchange returned no resource id")
	}
	return resp.ID, nil
}

func (c *Client) UpdateRecord(ctx context.Context, p provider.Provider, externalID string, entity syncengine.Entity) error {
	creds, err := credentials(p)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(toWire(entity))
	if err != nil {
		return fmt.Errorf("failed to marshal clinical resource: %w", err)
	}
	endpoint := fmt.Sprintf("%s/api/v1/%s/%s", baseURL(creds), url.PathEscape(entity.EntityType), url.PathEscape(externalID))
	_, err = c.do(ctx, creds, http.MethodPut, endpoint, raw)
	return err
}

func (c *Client) Probe(ctx context.Context, p provider.Provider) error {
	creds, err := credentials(p)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, creds, http.MethodGet, baseURL(creds)+"/api/v1/status", nil)
	return err
}

func (c *Client) do(ctx context.Context, creds provider.ClinicalCredentials, method, endpoint string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create clinical request: %w", err)
	}
	req.SetBasicAuth(creds.ClientID, creds.ClientSecret)
	if creds.TenantID != "" {
		req.Header.Set("X-Tenant-ID", creds.TenantID)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("clinical request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read clinical response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("clinical exchange error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func credentials(p provider.Provider) (provider.ClinicalCredentials, error) {
	creds, ok := p.Credentials.(provider.ClinicalCredentials)
	if !ok {
		return provider.ClinicalCredentials{}, fmt.Errorf("provider %q has no clinical credentials", p.ID)
	}
	return creds, nil
}

func baseURL(creds provider.ClinicalCredentials) string {
	return strings.TrimRight(creds.BaseURL, "/")
}

func toEntity(dataType string, res wireResource) syncengine.Entity {
	fields := make(map[string]string, len(res.Attributes))
	for k, v := range res.Attributes {
		fields[k] = v
	}
	return syncengine.Entity{
		ExternalID:   res.ID,
		EntityType:   dataType,
		Fields:       fields,
		LastModified: res.LastUpdated,
		Origin:       syncengine.OriginExternal,
	}
}

func toWire(entity syncengine.Entity) wireResource {
	return wireResource{
		ResourceType: entity.EntityType,
		Attributes:   entity.CloneFields(),
		LastUpdated:  entity.LastModified,
	}
}

var _ syncengine.Adapter = (*Client)(nil)
