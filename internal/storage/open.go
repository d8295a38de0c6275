package storage

import (
	"context"
	"errors"
	"strings"

	logx "hookrelay/pkg/logx"
)

// Store is the minimal persistence API used by the queue and the pipeline.
//
// SaveQueue overwrites the single durable queue snapshot; LoadQueue returns
// the last saved snapshot (nil when none exists). The snapshot encoding is
// owned by the caller; the store treats it as opaque bytes.
type Store interface {
	SaveQueue(ctx context.Context, snapshot []byte) error
	LoadQueue(ctx context.Context) ([]byte, error)
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
