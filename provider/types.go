// Package provider holds the configuration model for external systems the
// clinic synchronizes with, and the registry that owns it.
package provider

import (
	"fmt"
	"strings"
	"time"
)

type Type string

const (
	TypeCalendar Type = "calendar"
	TypeClinical Type = "clinical"
)

type Direction string

const (
	DirectionBidirectional Direction = "bidirectional"
	DirectionInbound       Direction = "inbound"
	DirectionOutbound      Direction = "outbound"
)

type ConflictPolicy string

const (
	PolicyInternalWins ConflictPolicy = "internal-wins"
	PolicyExternalWins ConflictPolicy = "external-wins"
	PolicyManual       ConflictPolicy = "manual"
	PolicyMerge        ConflictPolicy = "merge"
)

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnected    Status = "connected"
	StatusSyncing      Status = "syncing"
	StatusError        Status = "error"
)

type Settings struct {
	SyncDirection        Direction      `json:"syncDirection"`
	SyncFrequencyMinutes int            `json:"syncFrequencyMinutes"`
	ConflictPolicy       ConflictPolicy `json:"conflictResolutionPolicy"`
	DataTypes            []string       `json:"dataTypes"`
}

func DefaultSettings() Settings {
	return Settings{
		SyncDirection:        DirectionBidirectional,
		SyncFrequencyMinutes: 30,
		ConflictPolicy:       PolicyManual,
		DataTypes:            []string{"appointment"},
	}
}

// SettingsPatch updates a subset of Settings; nil fields are left as-is.
type SettingsPatch struct {
	SyncDirection        *Direction      `json:"syncDirection,omitempty"`
	SyncFrequencyMinutes *int            `json:"syncFrequencyMinutes,omitempty"`
	ConflictPolicy       *ConflictPolicy `json:"conflictResolutionPolicy,omitempty"`
	DataTypes            []string        `json:"dataTypes,omitempty"`
}

func (s Settings) Apply(patch SettingsPatch) Settings {
	out := s
	if patch.SyncDirection != nil {
		out.SyncDirection = *patch.SyncDirection
	}
	if patch.SyncFrequencyMinutes != nil && *patch.SyncFrequencyMinutes > 0 {
		out.SyncFrequencyMinutes = *patch.SyncFrequencyMinutes
	}
	if patch.ConflictPolicy != nil {
		out.ConflictPolicy = *patch.ConflictPolicy
	}
	if patch.DataTypes != nil {
		out.DataTypes = append([]string(nil), patch.DataTypes...)
	}
	return out
}

// Credentials is the tagged union of per-provider-type credential bundles.
// Each bundle validates its required fields once at configuration time.
type Credentials interface {
	ProviderType() Type
	Validate() error
}

type CalendarCredentials struct {
	APIKey     string `json:"apiKey"`
	BaseURL    string `json:"baseUrl"`
	CalendarID string `json:"calendarId"`
}

func (c CalendarCredentials) ProviderType() Type { return TypeCalendar }

func (c CalendarCredentials) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("calendar credentials: apiKey is required")
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("calendar credentials: baseUrl is required")
	}
	return nil
}

type ClinicalCredentials struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	TenantID     string `json:"tenantId"`
	BaseURL      string `json:"baseUrl"`
}

func (c ClinicalCredentials) ProviderType() Type { return TypeClinical }

func (c ClinicalCredentials) Validate() error {
	if strings.TrimSpace(c.ClientID) == "" {
		return fmt.Errorf("clinical credentials: clientId is required")
	}
	if strings.TrimSpace(c.ClientSecret) == "" {
		return fmt.Errorf("clinical credentials: clientSecret is required")
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("clinical credentials: baseUrl is required")
	}
	return nil
}

// Provider is one configured external system endpoint. Credentials never
// appear in the persisted snapshot.
type Provider struct {
	ID          string      `json:"id"`
	DisplayName string      `json:"displayName"`
	Type        Type        `json:"type"`
	Enabled     bool        `json:"enabled"`
	Credentials Credentials `json:"-"`
	Settings    Settings    `json:"settings"`
	Status      Status      `json:"status"`
	LastSyncAt  *time.Time  `json:"lastSyncAt,omitempty"`
}

// Snapshot is the persisted form of a Provider.
type Snapshot struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"displayName"`
	Type        Type       `json:"type"`
	Enabled     bool       `json:"enabled"`
	Settings    Settings   `json:"settings"`
	Status      Status     `json:"status"`
	LastSyncAt  *time.Time `json:"lastSyncAt,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func (p Provider) Snapshot() Snapshot {
	return Snapshot{
		ID:          p.ID,
		DisplayName: p.DisplayName,
		Type:        p.Type,
		Enabled:     p.Enabled,
		Settings:    p.Settings,
		Status:      p.Status,
		LastSyncAt:  p.LastSyncAt,
		UpdatedAt:   time.Now().UTC(),
	}
}
