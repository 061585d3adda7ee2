package main

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/datastore"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	ea "github.com/panyam/easyauth"
	"github.com/panyam/easyauth/stores/fs"
	"github.com/panyam/easyauth/stores/gae"
	gormstore "github.com/panyam/easyauth/stores/gorm"
	"github.com/panyam/easyauth/stores/memory"
	pgstore "github.com/panyam/easyauth/stores/postgres"
	redisstore "github.com/panyam/easyauth/stores/redis"
)

type storeOptions struct {
	Kind        string
	FSPath      string
	RedisAddr   string
	RedisPrefix string
	DSN         string
	GCPProject  string
	Namespace   string
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openStore returns the Adapter selected by opts and whatever must be closed
// on shutdown.
func openStore(ctx context.Context, opts storeOptions) (ea.Adapter, io.Closer, error) {
	switch opts.Kind {
	case "", "memory":
		return memory.New(), nopCloser{}, nil

	case "fs":
		if opts.FSPath == "" {
			return nil, nil, fmt.Errorf("-fs-path is required for the fs store")
		}
		return fs.New(opts.FSPath), nopCloser{}, nil

	case "redis":
		client := goredis.NewClient(&goredis.Options{Addr: opts.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		return redisstore.New(client, opts.RedisPrefix), client, nil

	case "postgres":
		store, err := pgstore.Open(ctx, opts.DSN)
		if err != nil {
			return nil, nil, err
		}
		return store, store.DB(), nil

	case "gorm":
		db, err := gorm.Open(postgres.Open(opts.DSN), &gorm.Config{TranslateError: true})
		if err != nil {
			return nil, nil, fmt.Errorf("gorm open: %w", err)
		}
		if err := gormstore.AutoMigrate(db); err != nil {
			return nil, nil, fmt.Errorf("gorm migrate: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		return gormstore.New(db), sqlDB, nil

	case "gae":
		client, err := datastore.NewClient(ctx, opts.GCPProject)
		if err != nil {
			return nil, nil, fmt.Errorf("datastore client: %w", err)
		}
		return gae.New(client, opts.Namespace), client, nil
	}
	return nil, nil, fmt.Errorf("unknown store %q", opts.Kind)
}
