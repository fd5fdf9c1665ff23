package sync

import (
	"context"
	"errors"

	"github.com/YIKHLEF/ClinicBoost-sub004/provider"
)

var ErrNotSupported = errors.New("sync: operation not supported by adapter")

// Adapter is implemented once per provider type and owns that provider's
// wire mapping. Every call must honor the context deadline; timeouts are
// classified as network timeouts upstream.
type Adapter interface {
	Name() string
	FetchRecords(ctx context.Context, p provider.Provider, dataType string, window Window) ([]Entity, error)
	CreateRecord(ctx context.Context, p provider.Provider, entity Entity) (string, error)
	UpdateRecord(ctx context.Context, p provider.Provider, externalID string, entity Entity) error
	Probe(ctx context.Context, p provider.Provider) error
}

// Datastore exposes the internal persistent store operations the engine
// needs; its schema is owned elsewhere.
type Datastore interface {
	QueryByWindow(ctx context.Context, entityType string, window Window) ([]Entity, error)
	Insert(ctx context.Context, entityType string, entity Entity) (string, error)
	UpdateByID(ctx context.Context, entityType, internalID string, entity Entity) error
}
