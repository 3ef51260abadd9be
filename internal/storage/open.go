package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendS3     = "s3"
	BackendMemory = "memory"
	BackendNone   = "none"
)

// Options selects and configures a backend.
type Options struct {
	Backend    string
	Dir        string
	SQLitePath string
	Redis      RedisConfig
	S3         S3Config
}

// Open creates the configured BlobStore. An empty backend means none.
func Open(ctx context.Context, opts Options, logger *zap.Logger) (BlobStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "storage"), zap.String("backend", opts.Backend))

	var (
		store BlobStore
		err   error
	)
	switch opts.Backend {
	case BackendFile:
		store, err = NewFileStore(opts.Dir)
	case BackendSQLite:
		store, err = NewSQLiteStore(opts.SQLitePath, logger)
	case BackendRedis:
		store, err = NewRedisStore(ctx, opts.Redis)
	case BackendS3:
		store, err = NewS3Store(ctx, opts.S3)
	case BackendMemory:
		store = NewMemoryStore()
	case BackendNone, "":
		store = NewNoopStore()
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
	if err != nil {
		return nil, err
	}
	logger.Info("storage ready")
	return store, nil
}
