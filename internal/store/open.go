package store

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "alarmd/pkg/logx"
)

// KV is the persistence API used by the alarm store and the lifecycle.
//
// Get/Set implement the narrow key-value contract the alarm collection is
// serialized through; the ring-history methods record completed firing
// sessions for observability and maintenance pruning.
type KV interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error

	AppendRing(ctx context.Context, e RingEntry) error
	RecentRings(ctx context.Context, limit int) ([]RingEntry, error)
	PruneRings(ctx context.Context, olderThan time.Time) (removed int, err error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (KV, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
