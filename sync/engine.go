package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/YIKHLEF/ClinicBoost-sub004/observe"
	"github.com/YIKHLEF/ClinicBoost-sub004/provider"
)

// Engine runs one reconciliation pass per provider: fetch both sides,
// match, resolve conflicts, and apply direction-gated writes. Per-record
// failures are recorded on the result and never abort the pass.
type Engine struct {
	store    Datastore
	matcher  Matcher
	resolver *Resolver
	sink     observe.Sink
	now      func() time.Time
}

type EngineOption func(*Engine)

func WithEngineSink(s observe.Sink) EngineOption {
	return func(e *Engine) {
		if s != nil {
			e.sink = s
		}
	}
}

func WithMatcher(m Matcher) EngineOption {
	return func(e *Engine) { e.matcher = m }
}

func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEngine(store Datastore, resolver *Resolver, opts ...EngineOption) *Engine {
	e := &Engine{
		store:    store,
		matcher:  NewMatcher(),
		resolver: resolver,
		sink:     observe.NoopSink{},
		now:      time.Now,
	}
	if e.resolver == nil {
		e.resolver = NewResolver()
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunPass reconciles every configured data type of one provider inside the
// window. A fetch failure for a data type marks the result unsuccessful but
// the remaining data types still run.
func (e *Engine) RunPass(ctx context.Context, adapter Adapter, p provider.Provider, window Window) Result {
	start := e.now()
	result := Result{Success: true, Timestamp: start.UTC()}

	for _, dataType := range p.Settings.DataTypes {
		e.runDataType(ctx, adapter, p, dataType, window, &result)
	}

	result.DurationMs = e.now().Sub(start).Milliseconds()
	return result
}

func (e *Engine) runDataType(ctx context.Context, adapter Adapter, p provider.Provider, dataType string, window Window, result *Result) {
	external, err := adapter.FetchRecords(ctx, p, dataType, window)
	if err != nil {
		result.Success = false
		result.addError(fmt.Sprintf("%s: fetch %s: %v", p.ID, dataType, err))
		return
	}
	internal, err := e.store.QueryByWindow(ctx, dataType, window)
	if err != nil {
		result.Success = false
		result.addError(fmt.Sprintf("%s: query %s: %v", p.ID, dataType, err))
		return
	}

	set := e.matcher.Match(internal, external)
	dir := p.Settings.SyncDirection

	// Matched pairs first, then creates, so retried passes converge.
	for _, pair := range set.Pairs {
		result.RecordsProcessed++
		e.reconcilePair(ctx, adapter, p, pair, result)
	}

	if dir == provider.DirectionBidirectional || dir == provider.DirectionInbound {
		for _, ex := range set.UnmatchedExternal {
			result.RecordsProcessed++
			e.createInternal(ctx, p, ex, result)
		}
	}
	if dir == provider.DirectionBidirectional || dir == provider.DirectionOutbound {
		for _, in := range set.UnmatchedInternal {
			result.RecordsProcessed++
			e.createExternal(ctx, adapter, p, in, result)
		}
	}
}

func (e *Engine) reconcilePair(ctx context.Context, adapter Adapter, p provider.Provider, pair Pair, result *Result) {
	conflict := e.resolver.Detect(p.ID, pair)
	if conflict == nil {
		result.RecordsSkipped++
		return
	}

	outcome := e.resolver.Apply(conflict, p.Settings.ConflictPolicy)
	result.Conflicts = append(result.Conflicts, *conflict)
	if !conflict.Resolved {
		// Parked for manual resolution; no writes this pass.
		return
	}
	e.applyOutcome(ctx, adapter, p, pair, outcome, result)
}

// applyOutcome writes the resolution plan, respecting the sync direction.
// A write blocked by the direction setting is not an error; the record
// simply stays divergent on that side.
func (e *Engine) applyOutcome(ctx context.Context, adapter Adapter, p provider.Provider, pair Pair, outcome Outcome, result *Result) {
	dir := p.Settings.SyncDirection
	updated := false

	if len(outcome.InternalChanges) > 0 && (dir == provider.DirectionBidirectional || dir == provider.DirectionInbound) {
		merged := pair.Internal
		merged.Fields = pair.Internal.CloneFields()
		for k, v := range outcome.InternalChanges {
			merged.Fields[k] = v
		}
		merged.LastModified = e.now().UTC()
		if err := e.store.UpdateByID(ctx, merged.EntityType, merged.InternalID, merged); err != nil {
			result.Success = false
			result.addError(fmt.Sprintf("%s: update internal %s: %v", p.ID, merged.InternalID, err))
		} else {
			updated = true
		}
	}

	if len(outcome.ExternalChanges) > 0 && (dir == provider.DirectionBidirectional || dir == provider.DirectionOutbound) {
		pushed := pair.External
		pushed.Fields = pair.External.CloneFields()
		for k, v := range outcome.ExternalChanges {
			pushed.Fields[k] = v
		}
		if err := adapter.UpdateRecord(ctx, p, pair.External.ExternalID, pushed); err != nil {
			result.Success = false
			result.addError(fmt.Sprintf("%s: update external %s: %v", p.ID, pair.External.ExternalID, err))
		} else {
			updated = true
		}
	}

	if updated {
		result.RecordsUpdated++
	}
}

// ApplyResolution performs the writes for an operator-resolved conflict.
// The returned strings describe writes that failed.
func (e *Engine) ApplyResolution(ctx context.Context, adapter Adapter, p provider.Provider, c Conflict, outcome Outcome) []string {
	var result Result
	pair := Pair{Internal: c.Internal, External: c.External}
	e.applyOutcome(ctx, adapter, p, pair, outcome, &result)
	return result.Errors
}

func (e *Engine) createInternal(ctx context.Context, p provider.Provider, external Entity, result *Result) {
	entity := external
	entity.Fields = external.CloneFields()
	entity.Origin = OriginExternal
	id, err := e.store.Insert(ctx, entity.EntityType, entity)
	if err != nil {
		result.Success = false
		result.addError(fmt.Sprintf("%s: create internal for %s: %v", p.ID, external.ExternalID, err))
		return
	}
	result.RecordsCreated++
	_ = e.sink.Emit(ctx, observe.Event{
		Kind:       observe.KindRecord,
		Status:     observe.StatusCompleted,
		ServiceTag: "sync",
		ProviderID: p.ID,
		DataType:   entity.EntityType,
		Message:    "imported external record",
		Attributes: map[string]any{"internal_id": id, "external_id": external.ExternalID},
	})
}

func (e *Engine) createExternal(ctx context.Context, adapter Adapter, p provider.Provider, internal Entity, result *Result) {
	externalID, err := adapter.CreateRecord(ctx, p, internal)
	if err != nil {
		result.Success = false
		result.addError(fmt.Sprintf("%s: create external for %s: %v", p.ID, internal.InternalID, err))
		return
	}
	result.RecordsCreated++

	// Persist the link so the next pass matches by externalId.
	linked := internal
	linked.Fields = internal.CloneFields()
	linked.ExternalID = externalID
	if err := e.store.UpdateByID(ctx, linked.EntityType, linked.InternalID, linked); err != nil {
		result.Success = false
		result.addError(fmt.Sprintf("%s: link %s to %s: %v", p.ID, internal.InternalID, externalID, err))
		return
	}
	_ = e.sink.Emit(ctx, observe.Event{
		Kind:       observe.KindRecord,
		Status:     observe.StatusCompleted,
		ServiceTag: "sync",
		ProviderID: p.ID,
		DataType:   internal.EntityType,
		Message:    "exported internal record",
		Attributes: map[string]any{"internal_id": internal.InternalID, "external_id": externalID},
	})
}
