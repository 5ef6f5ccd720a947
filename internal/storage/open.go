package storage

import (
	"context"
	"fmt"
	"strings"

	logx "sitewatch/pkg/logx"
)

// Open initializes the configured backend and its schema.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	log = log.With(logx.Component("storage"))
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "memory", "mem":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "postgres", "postgresql", "pg":
		return openPostgres(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, driver)
	}
}
