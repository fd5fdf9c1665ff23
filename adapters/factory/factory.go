// Package factory maps provider types to the adapter that speaks their
// protocol. Adapters are stateless, so one instance per type is shared.
package factory

import (
	"context"
	"fmt"
	"net/http"

	"github.com/YIKHLEF/ClinicBoost-sub004/adapters/calendar"
	"github.com/YIKHLEF/ClinicBoost-sub004/adapters/clinical"
	"github.com/YIKHLEF/ClinicBoost-sub004/provider"
	syncengine "github.com/YIKHLEF/ClinicBoost-sub004/sync"
)

type Factory struct {
	calendar *calendar.Client
	clinical *clinical.Client
}

type Option func(*Factory)

func WithHTTPClient(h *http.Client) Option {
	return func(f *Factory) {
		if h != nil {
			f.calendar = calendar.New(calendar.WithHTTPClient(h))
			f.clinical = clinical.New(clinical.WithHTTPClient(h))
		}
	}
}

func New(opts ...Option) *Factory {
	f := &Factory{
		calendar: calendar.New(),
		clinical: clinical.New(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Factory) Resolve(p provider.Provider) (syncengine.Adapter, error) {
	switch p.Type {
	case provider.TypeCalendar:
		return f.calendar, nil
	case provider.TypeClinical:
		return f.clinical, nil
	default:
		return nil, fmt.Errorf("no adapter for provider type %q", p.Type)
	}
}

// Probe satisfies the registry's configuration-time connectivity check by
// delegating to the provider's adapter.
func (f *Factory) Probe(ctx context.Context, p provider.Provider) error {
	adapter, err := f.Resolve(p)
	if err != nil {
		return err
	}
	return adapter.Probe(ctx, p)
}

var _ provider.Prober = (*Factory)(nil)
