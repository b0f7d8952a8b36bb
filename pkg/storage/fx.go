package storage

import (
	"context"

	"go.uber.org/fx"

	"assistant/pkg/config"
	"assistant/pkg/logger"
	"assistant/pkg/session"
)

// Module provides the SQLite store as *Store and session.Store.
var Module = fx.Module("storage",
	fx.Provide(
		ProvideStore,
		func(s *Store) session.Store { return s },
	),
)

// ProvideStore opens the session database and closes it on shutdown.
func ProvideStore(lc fx.Lifecycle, cfg *config.Config, log *logger.Logger) (*Store, error) {
	store, err := Open(context.Background(), cfg.Storage.DBPath, log)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return store.Close()
		},
	})
	return store, nil
}
