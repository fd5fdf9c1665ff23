package sync

import (
	"context"
	"fmt"
	"sort"
	stdsync "sync"

	"github.com/google/uuid"

	"github.com/YIKHLEF/ClinicBoost-sub004/observe"
	"github.com/YIKHLEF/ClinicBoost-sub004/provider"
)

// ErrConflictNotFound is returned when resolving an unknown conflict id.
var ErrConflictNotFound = fmt.Errorf("conflict not found")

// DiffFields returns the sorted set of field names whose values differ
// between the two versions. Fields missing from one side count as differing.
func DiffFields(internal, external Entity) []string {
	seen := make(map[string]bool)
	var diff []string
	for k, v := range internal.Fields {
		seen[k] = true
		if external.Field(k) != v {
			diff = append(diff, k)
		}
	}
	for k, v := range external.Fields {
		if seen[k] {
			continue
		}
		if internal.Field(k) != v {
			diff = append(diff, k)
		}
	}
	sort.Strings(diff)
	return diff
}

// Outcome is the write plan produced by applying a resolution policy.
// InternalChanges are field values to write to the internal store and
// ExternalChanges are values to push to the external system.
type Outcome struct {
	Resolution      Resolution
	InternalChanges map[string]string
	ExternalChanges map[string]string
}

// Resolver detects conflicts between matched record pairs and applies the
// provider's conflict policy. Pairs under a manual policy are parked until
// an operator resolves them.
type Resolver struct {
	mu      stdsync.Mutex
	pending map[string]*Conflict
	sink    observe.Sink
}

type ResolverOption func(*Resolver)

func WithResolverSink(s observe.Sink) ResolverOption {
	return func(r *Resolver) {
		if s != nil {
			r.sink = s
		}
	}
}

func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		pending: make(map[string]*Conflict),
		sink:    observe.NoopSink{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Detect compares a matched pair and returns a conflict when any field
// differs. A nil conflict means the pair is identical.
func (r *Resolver) Detect(providerID string, pair Pair) *Conflict {
	diff := DiffFields(pair.Internal, pair.External)
	if len(diff) == 0 {
		return nil
	}
	c := &Conflict{
		ID:                uuid.New().String(),
		ProviderID:        providerID,
		EntityType:        pair.Internal.EntityType,
		Internal:          pair.Internal,
		External:          pair.External,
		ConflictingFields: diff,
	}
	_ = r.sink.Emit(context.Background(), observe.Event{
		Kind:       observe.KindConflict,
		Status:     observe.StatusStarted,
		ServiceTag: "sync",
		ProviderID: providerID,
		DataType:   c.EntityType,
		Message:    fmt.Sprintf("conflict detected on %d field(s)", len(diff)),
		Attributes: map[string]any{"conflict_id": c.ID},
	})
	return c
}

// Apply resolves a conflict under the given policy. Manual conflicts are
// parked on the pending list and produce an empty outcome.
func (r *Resolver) Apply(c *Conflict, policy provider.ConflictPolicy) Outcome {
	switch policy {
	case provider.PolicyManual:
		r.mu.Lock()
		r.pending[c.ID] = c
		r.mu.Unlock()
		return Outcome{}
	case provider.PolicyInternalWins:
		c.Resolution = ResolutionInternalWins
		c.Resolved = true
		return Outcome{
			Resolution:      ResolutionInternalWins,
			ExternalChanges: pickFields(c.Internal, c.ConflictingFields),
		}
	case provider.PolicyExternalWins:
		c.Resolution = ResolutionExternalWins
		c.Resolved = true
		return Outcome{
			Resolution:      ResolutionExternalWins,
			InternalChanges: pickFields(c.External, c.ConflictingFields),
		}
	case provider.PolicyMerge:
		return r.merge(c)
	default:
		r.mu.Lock()
		r.pending[c.ID] = c
		r.mu.Unlock()
		return Outcome{}
	}
}

// merge resolves field by field: the version with the strictly newer
// lastModified wins, ties go to the internal version.
func (r *Resolver) merge(c *Conflict) Outcome {
	out := Outcome{Resolution: ResolutionMerge}
	for _, f := range c.ConflictingFields {
		if c.External.LastModified.After(c.Internal.LastModified) {
			if out.InternalChanges == nil {
				out.InternalChanges = make(map[string]string)
			}
			out.InternalChanges[f] = c.External.Field(f)
		} else {
			if out.ExternalChanges == nil {
				out.ExternalChanges = make(map[string]string)
			}
			out.ExternalChanges[f] = c.Internal.Field(f)
		}
	}
	c.Resolution = ResolutionMerge
	c.Resolved = true
	return out
}

// Pending returns unresolved conflicts ordered by id.
func (r *Resolver) Pending() []Conflict {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Conflict, 0, len(r.pending))
	for _, c := range r.pending {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Resolve applies an operator decision to a parked conflict and removes it
// from the pending list. The returned outcome carries the writes to make.
func (r *Resolver) Resolve(id string, resolution Resolution) (Conflict, Outcome, error) {
	r.mu.Lock()
	c, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if !ok {
		return Conflict{}, Outcome{}, fmt.Errorf("%w: %s", ErrConflictNotFound, id)
	}

	var out Outcome
	switch resolution {
	case ResolutionExternalWins:
		c.Resolution = ResolutionExternalWins
		out = Outcome{
			Resolution:      ResolutionExternalWins,
			InternalChanges: pickFields(c.External, c.ConflictingFields),
		}
	case ResolutionMerge:
		out = r.merge(c)
	default:
		c.Resolution = ResolutionInternalWins
		out = Outcome{
			Resolution:      ResolutionInternalWins,
			ExternalChanges: pickFields(c.Internal, c.ConflictingFields),
		}
	}
	c.Resolved = true

	_ = r.sink.Emit(context.Background(), observe.Event{
		Kind:       observe.KindConflict,
		Status:     observe.StatusCompleted,
		ServiceTag: "sync",
		ProviderID: c.ProviderID,
		DataType:   c.EntityType,
		Message:    fmt.Sprintf("conflict resolved as %s", c.Resolution),
		Attributes: map[string]any{"conflict_id": c.ID},
	})
	return *c, out, nil
}

// Repark returns a conflict to the pending list. Used when the writes for
// an operator decision fail, so the conflict is not lost before it is
// actually applied.
func (r *Resolver) Repark(c Conflict) {
	c.Resolved = false
	c.Resolution = ""
	r.mu.Lock()
	r.pending[c.ID] = &c
	r.mu.Unlock()
}

func pickFields(e Entity, fields []string) map[string]string {
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		out[f] = e.Field(f)
	}
	return out
}
