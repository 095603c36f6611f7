package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/atinyakov/heartline/internal/client/storage"
	"github.com/atinyakov/heartline/internal/client/storage/redisstore"
	"github.com/atinyakov/heartline/internal/client/tabsync"
	"github.com/atinyakov/heartline/internal/client/transport"
	"github.com/atinyakov/heartline/internal/config"
	"github.com/atinyakov/heartline/internal/db"
	"github.com/atinyakov/heartline/internal/logger"
	"github.com/atinyakov/heartline/internal/repository"
)

const cleanInterval = time.Hour

// openPostgres is replaced in tests.
var openPostgres = db.InitPostgres

// Env holds what the tabs of one process share: the cookie jar (inside
// HTTP), the snapshot storage and the cross-tab channel.
type Env struct {
	Options *config.Options
	Origin  *url.URL
	HTTP    *http.Client
	Backend storage.Backend
	Channel tabsync.Channel
	Log     *zap.Logger

	closers []func() error
}

// NewEnv builds the shared resources described by opts. The snapshot
// cleaner of the postgres backend runs until ctx is done.
func NewEnv(ctx context.Context, opts *config.Options, log *zap.Logger) (*Env, error) {
	log = logger.OrNop(log)
	origin, err := url.Parse(opts.BaseURL)
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", opts.BaseURL)
	}

	client, err := transport.New(transport.Options{
		CAFile:   opts.CAFile,
		CertFile: opts.CertFile,
		KeyFile:  opts.KeyFile,
	})
	if err != nil {
		return nil, err
	}

	e := &Env{Options: opts, Origin: origin, HTTP: client, Log: log}

	var rdb redis.UniversalClient
	redisClient := func() redis.UniversalClient {
		if rdb == nil {
			rdb = redis.NewClient(&redis.Options{Addr: opts.RedisAddr})
			e.closers = append(e.closers, rdb.Close)
		}
		return rdb
	}

	switch opts.Storage {
	case config.StorageMemory:
		e.Backend = storage.NewMemoryBackend()
	case config.StorageRedis:
		e.Backend = redisstore.New(redisstore.Config{Client: redisClient()})
	case config.StoragePostgres:
		sqlDB, err := openPostgres(opts.DatabaseDSN)
		if err != nil {
			_ = e.Close()
			return nil, err
		}
		e.closers = append(e.closers, sqlDB.Close)
		e.Backend = repository.NewPostgresSnapshotRepository(sqlDB)
		startCleaner(ctx, sqlDB, opts.SnapshotRetention.D(), log)
	default:
		b, err := fileBackend(opts)
		if err != nil {
			_ = e.Close()
			return nil, err
		}
		e.Backend = b
	}

	switch opts.TabSync {
	case config.TabSyncRedis:
		e.Channel = tabsync.NewRedisChannel(redisClient(), origin.String(), log)
	default:
		e.Channel = tabsync.NewHub()
	}
	e.closers = append([]func() error{e.Channel.Close}, e.closers...)

	return e, nil
}

// Close releases the shared resources.
func (e *Env) Close() error {
	var errs []error
	for _, c := range e.closers {
		errs = append(errs, c())
	}
	e.closers = nil
	return errors.Join(errs...)
}

func fileBackend(opts *config.Options) (*storage.FileBackend, error) {
	if opts.EncryptionKey == "" {
		return storage.NewFileBackend(opts.StoragePath, nil), nil
	}
	aead, err := storage.NewAEAD(opts.EncryptionKey)
	if err != nil {
		return nil, err
	}
	return storage.NewFileBackend(opts.StoragePath, aead), nil
}

func startCleaner(ctx context.Context, sqlDB *sql.DB, retention time.Duration, log *zap.Logger) {
	if retention <= 0 {
		return
	}
	db.StartSnapshotCleaner(ctx, sqlDB, cleanInterval, retention, log)
}
