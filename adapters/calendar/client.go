// Package calendar speaks the REST calendar API used by both calendar
// providers. Records map to calendar events keyed by the external event id.
package calendar

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

const defaultCalendarID = "primary"

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

func (c *Client) Name() string { return "calendar" }

type wireEvent struct {
	ID        string    `json:"id,omitempty"`
	Title     string    `json:"title"`
	Start     string    `json:"start"`
	End       string    `json:"end,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	Status    string    `json:"status,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type listEventsResponse struct {
	Events []wireEvent `json:"events"`
}

type createEventResponse struct {
	ID string `json:"id"`
}

func (c *Client) FetchRecords(ctx context.Context, p provider.Provider, dataType string, window syncengine.Window) ([]syncengine.Entity, error) {
	if dataType != "appointment" {
		return nil, fmt.Errorf("%w: calendar cannot sync %q", syncengine.ErrNotSupported, dataType)
	}
	creds, err := credentials(p)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("from", window.From.UTC().Format(time.RFC3339))
	q.Set("to", window.To.UTC().Format(time.RFC3339))
	endpoint := fmt.Sprintf("%s/calendars/%s/events?%s", baseURL(creds), url.PathEscape(calendarID(creds)), q.Encode())

	body, err := c.do(ctx, creds, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var resp listEventsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode calendar events: %w", err)
	}

	out := make([]syncengine.Entity, 0, len(resp.Events))
	for _, ev := range resp.Events {
		out = append(out, toEntity(ev))
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
		return "", fmt.Errorf("failed to marshal calendar event: %w", err)
	}
	endpoint := fmt.Sprintf("%s/calendars/%s/events", baseURL(creds), url.PathEscape(calendarID(creds)))
	body, err := c.do(ctx, creds, http.MethodPost, endpoint, raw)
	if err != nil {
		return "", err
	}
	var resp createEventResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to decode created event: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("calendar API returned no event id")
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
		return fmt.Errorf("failed to marshal calendar event: %w", err)
	}
	endpoint := fmt.Sprintf("%s/calendars/%s/events/%s", baseURL(creds), url.PathEscape(calendarID(creds)), url.PathEscape(externalID))
	_, err = c.do(ctx, creds, http.MethodPut, endpoint, raw)
	return err
}

func (c *Client) Probe(ctx context.Context, p provider.Provider) error {
	creds, err := credentials(p)
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/calendars/%s", baseURL(creds), url.PathEscape(calendarID(creds)))
	_, err = c.do(ctx, creds, http.MethodGet, endpoint, nil)
	return err
}

func (c *Client) do(ctx context.Context, creds provider.CalendarCredentials, method, endpoint string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.APIKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calendar request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read calendar response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("calendar API error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func credentials(p provider.Provider) (provider.CalendarCredentials, error) {
	creds, ok := p.Credentials.(provider.CalendarCredentials)
	if !ok {
		return provider.CalendarCredentials{}, fmt.Errorf("provider %q has no calendar credentials", p.ID)
	}
	return creds, nil
}

func baseURL(creds provider.CalendarCredentials) string {
	return strings.TrimRight(creds.BaseURL, "/")
}

func calendarID(creds provider.CalendarCredentials) string {
	if strings.TrimSpace(creds.CalendarID) == "" {
		return defaultCalendarID
	}
	return creds.CalendarID
}

func toEntity(ev wireEvent) syncengine.Entity {
	fields := map[string]string{
		"title":      ev.Title,
		"start_time": ev.Start,
	}
	if ev.End != "" {
		fields["end_time"] = ev.End
	}
	if ev.Notes != "" {
		fields["notes"] = ev.Notes
	}
	if ev.Status != "" {
		fields["status"] = ev.Status
	}
	return syncengine.Entity{
		ExternalID:   ev.ID,
		EntityType:   "appointment",
		Fields:       fields,
		LastModified: ev.UpdatedAt,
		Origin:       syncengine.OriginExternal,
	}
}

func toWire(entity syncengine.Entity) wireEvent {
	return wireEvent{
		Title:     entity.Field("title"),
		Start:     entity.Field("start_time"),
		End:       entity.Field("end_time"),
		Notes:     entity.Field("notes"),
		Status:    entity.Field("status"),
		UpdatedAt: entity.LastModified,
	}
}

var _ syncengine.Adapter = (*Client)(nil)
