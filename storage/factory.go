package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/johnwmail/nshare/config"
)

// Backend bundles the stores selected by configuration
type Backend struct {
	Name    string
	Pastes  PasteStore
	Uploads UploadStore
	Locker  Locker

	closers []func() error
}

// Close releases every store the backend opened
func (b *Backend) Close() error {
	var errs []error
	for _, c := range b.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Open builds the storage backend named by cfg.Storage. DynamoDB and S3
// hold pastes only; their upload sessions stay in process memory. Size limits
// above what the backend can store in one record are lowered in cfg.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.ClampSizeLimits() {
		logger.Warn("Size limits lowered to the storage backend ceiling",
			"storage", cfg.Storage, "max_file_size", cfg.MaxFileSize, "max_total_size", cfg.MaxTotalSize)
	}

	switch cfg.Storage {
	case config.StorageMemory, "":
		mem := NewMemoryStore()
		return &Backend{
			Name:    config.StorageMemory,
			Pastes:  mem,
			Uploads: mem,
			Locker:  NewKeyedLocker(),
			closers: []func() error{mem.Close},
		}, nil

	case config.StorageRedis:
		client, err := NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		store := NewRedisStore(client, cfg.RedisPrefix)
		logger.Info("Using Redis storage", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
		return &Backend{
			Name:    config.StorageRedis,
			Pastes:  store,
			Uploads: store,
			Locker:  store,
			closers: []func() error{store.Close},
		}, nil

	case config.StorageMongoDB:
		store, err := NewMongoStore(ctx, cfg.MongoDBURI, cfg.MongoDBDatabase)
		if err != nil {
			return nil, err
		}
		logger.Info("Using MongoDB storage", "database", cfg.MongoDBDatabase)
		return &Backend{
			Name:    config.StorageMongoDB,
			Pastes:  store,
			Uploads: store,
			Locker:  NewKeyedLocker(),
			closers: []func() error{store.Close},
		}, nil

	case config.StorageDynamoDB:
		store, err := NewDynamoStore(ctx, cfg.DynamoDBTable, cfg.AWSRegion)
		if err != nil {
			return nil, err
		}
		mem := NewMemoryStore()
		logger.Info("Using DynamoDB storage", "table", cfg.DynamoDBTable, "region", cfg.AWSRegion)
		logger.Info("Upload sessions are kept in process memory")
		return &Backend{
			Name:    config.StorageDynamoDB,
			Pastes:  store,
			Uploads: mem,
			Locker:  NewKeyedLocker(),
			closers: []func() error{store.Close, mem.Close},
		}, nil

	case config.StorageS3:
		store, err := NewS3Store(ctx, S3Options{
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			Region:    cfg.AWSRegion,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
		}, logger)
		if err != nil {
			return nil, err
		}
		mem := NewMemoryStore()
		logger.Info("Using S3 storage", "bucket", cfg.S3Bucket, "prefix", cfg.S3Prefix)
		logger.Info("Upload sessions are kept in process memory")
		return &Backend{
			Name:    config.StorageS3,
			Pastes:  store,
			Uploads: mem,
			Locker:  NewKeyedLocker(),
			closers: []func() error{store.Close, mem.Close},
		}, nil
	}

	return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage)
}
