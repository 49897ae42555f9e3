package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/brandvault/metaledger/internal/bulk"
	"github.com/brandvault/metaledger/internal/candidate"
	"github.com/brandvault/metaledger/internal/events"
	"github.com/brandvault/metaledger/internal/ledger"
	"github.com/brandvault/metaledger/internal/model"
	"github.com/brandvault/metaledger/internal/override"
	"github.com/brandvault/metaledger/internal/policy"
	"github.com/brandvault/metaledger/internal/resolver"
	"github.com/brandvault/metaledger/internal/store"
)

// appEnv holds the initialized store, registries, and services shared by the
// serve/resolve/candidates commands.
type appEnv struct {
	Store      store.Store
	Fields     *model.FieldRegistry
	Ledger     *ledger.Service
	Resolver   *resolver.Service
	Overrides  *override.Service
	Candidates *candidate.Service
	Bulk       *bulk.Service
	Bus        *events.Dispatcher
	cancel     context.CancelFunc
}

// Close stops the event worker and releases the store.
func (e *appEnv) Close() {
	if e.Bus != nil {
		e.Bus.Close()
	}
	if e.cancel != nil {
		e.cancel()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Store.MaxConns, cfg.Store.MinConns)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// initEnv sets up the store, field registry, event dispatcher, and every
// domain service. Callers should defer env.Close().
func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	fields, err := policy.LoadFieldsFromFile(cfg.Fields.Path)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	// Capabilities are normally checked by the surrounding platform; the
	// standalone binary trusts its gateway and grants everything.
	checker := policy.AllowAll()
	gate := policy.NewGate(checker)

	bus := events.NewDispatcher(cfg.Events.BufferSize, cfg.Events.DispatchPerSec)
	busCtx, cancel := context.WithCancel(context.Background())
	go bus.Run(busCtx)
	monitor := events.NewCompletionMonitor(st, bus)

	led := ledger.NewService(st, fields, gate, checker, bus, monitor)
	sup := resolver.NewSuppressor(cfg.Suppression.DefaultThreshold, cfg.Suppression.Thresholds)

	return &appEnv{
		Store:      st,
		Fields:     fields,
		Ledger:     led,
		Resolver:   resolver.NewService(st, fields, sup, checker),
		Overrides:  override.NewService(st, fields, led, checker),
		Candidates: candidate.NewService(st, fields, led, checker),
		Bulk: bulk.NewService(st, fields, led, checker,
			time.Duration(cfg.Bulk.PreviewTTLSecs)*time.Second, cfg.Bulk.MaxConcurrentAssets),
		Bus:    bus,
		cancel: cancel,
	}, nil
}
