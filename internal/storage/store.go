// Package storage is the kiosk's durable key/value area: the cart snapshot
// and the staff session live here between restarts.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	pingTimeout  = 1 * time.Second
	queryTimeout = 3 * time.Second
)

var ErrEmptyKey = errors.New("storage: empty key")

// Store holds opaque values under string keys. Writers sharing one backend are
// not coordinated; the last Put wins.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

type Options struct {
	Driver string
	DSN    string
	Prefix string
}

// Open builds the backend named by opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "", "memory":
		return NewMemStore(), nil
	case "file":
		return NewFileStore(opts.DSN)
	case "sqlite":
		return OpenSQLite(ctx, opts.DSN)
	case "postgres":
		return OpenPostgres(ctx, opts.DSN)
	case "redis":
		return OpenRedis(ctx, opts.DSN, opts.Prefix)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", opts.Driver)
	}
}

func withTimeout(parent context.Context, d time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, d)
	defer cancel()
	return fn(ctx)
}

func checkKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return nil
}
