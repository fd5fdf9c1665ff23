// Package sync implements the external-system synchronization engine:
// matching, field-level conflict detection and resolution, and the pass
// orchestration that reconciles clinic-internal records with third-party
// systems.
package sync

import "time"

type Origin string

const (
	OriginInternal Origin = "internal"
	OriginExternal Origin = "external"
)

// Entity is one syncable record in provider-agnostic form. Each adapter
// owns the mapping between its wire format and this shape.
type Entity struct {
	InternalID   string            `json:"internalId,omitempty"`
	ExternalID   string            `json:"externalId,omitempty"`
	EntityType   string            `json:"entityType"`
	Fields       map[string]string `json:"fields"`
	LastModified time.Time         `json:"lastModified"`
	Origin       Origin            `json:"origin"`
}

func (e Entity) Field(name string) string {
	if e.Fields == nil {
		return ""
	}
	return e.Fields[name]
}

// CloneFields returns a copy of the field map, never nil.
func (e Entity) CloneFields() map[string]string {
	out := make(map[string]string, len(e.Fields))
	for k, v := range e.Fields {
		out[k] = v
	}
	return out
}

// Window bounds the records a pass considers.
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && !t.After(w.To)
}

type Resolution string

const (
	ResolutionInternalWins Resolution = "internal-wins"
	ResolutionExternalWins Resolution = "external-wins"
	ResolutionMerge        Resolution = "merge"
)

// Conflict is a matched record pair with differing field values. Conflicts
// are an expected outcome of a pass, not an error.
type Conflict struct {
	ID                string     `json:"id"`
	ProviderID        string     `json:"providerId,omitempty"`
	EntityType        string     `json:"entityType"`
	Internal          Entity     `json:"internalRecord"`
	External          Entity     `json:"externalRecord"`
	ConflictingFields []string   `json:"conflictingFields"`
	Resolution        Resolution `json:"resolution,omitempty"`
	Resolved          bool       `json:"resolved"`
}

// Result reports one completed pass. It is always produced, even when
// individual records fail: partial failure never aborts a pass.
type Result struct {
	Success          bool       `json:"success"`
	RecordsProcessed int        `json:"recordsProcessed"`
	RecordsCreated   int        `json:"recordsCreated"`
	RecordsUpdated   int        `json:"recordsUpdated"`
	RecordsSkipped   int        `json:"recordsSkipped"`
	Errors           []string   `json:"errors"`
	Conflicts        []Conflict `json:"conflicts"`
	DurationMs       int64      `json:"durationMs"`
	Timestamp        time.Time  `json:"timestamp"`
}

func (r *Result) addError(msg string) {
	r.Errors = append(r.Errors, msg)
}
