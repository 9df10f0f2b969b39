package app

import (
	"context"
	"errors"
	"fmt"

	"prayeralert/internal/config"
	appLog "prayeralert/internal/log"
	"prayeralert/internal/notify"
)

// OpenStore selects the pending-alert backend. The returned func closes it.
func OpenStore(ctx context.Context, cfg config.StoreConfig, auth *notify.Authorizer) (notify.Store, func() error, error) {
	nop := func() error { return nil }

	switch cfg.Backend {
	case "memory":
		appLog.Info("pending store", "backend", "memory")
		return notify.NewMemoryStore(auth), nop, nil
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, nil, errors.New("store: redis backend needs redis_addr")
		}
		s, err := notify.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisKey, auth)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "file", "":
		appLog.Info("pending store", "backend", "file", "path", cfg.Path)
		return notify.NewFileStore(cfg.Path, auth), nop, nil
	default:
		return nil, nil, fmt.Errorf("store: unknown backend %q", cfg.Backend)
	}
}
