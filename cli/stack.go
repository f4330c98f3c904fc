package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"game-profile-engine/services"
	"game-profile-engine/storage"
	"game-profile-engine/utils"
)

// Stack is the set of tiers a process works against, built from Config.
type Stack struct {
	Local    *storage.LocalTier
	Session  storage.Tier
	Remote   storage.RemoteTransport
	Notifier storage.Notifier

	// RemoteDB is set when this process owns the system-of-record database.
	RemoteDB *storage.GormRemote

	closers []func() error
}

type stackOptions struct {
	sink storage.SnapshotSink
}

// OpenStack opens the local tier (sqlite), the session tier (redis or
// memory) and the remote tier (postgres, HTTP, or none).
func OpenStack(ctx context.Context, cfg utils.Config, log *utils.Logger, opts stackOptions) (*Stack, error) {
	s := &Stack{}

	localDB, err := openSQLite(cfg.LocalDBPath)
	if err != nil {
		return nil, err
	}
	s.addCloser(gormCloser(localDB))
	kv, err := storage.NewGormKV(localDB)
	if err != nil {
		s.Close()
		return nil, err
	}
	localOpts := []storage.LocalOption{}
	if opts.sink != nil {
		localOpts = append(localOpts, storage.WithSnapshotSink(opts.sink))
	}
	s.Local = storage.NewLocalTier(kv, log, localOpts...)

	if cfg.RedisAddr != "" {
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			s.Close()
			return nil, fmt.Errorf("connect redis at %s: %w", cfg.RedisAddr, err)
		}
		s.addCloser(rdb.Close)
		s.Session = storage.NewSessionTier(storage.NewRedisKV(rdb, cfg.SessionTTL))
		notifier := storage.NewRedisNotifier(rdb, cfg.RedisChannel, log)
		if err := notifier.Start(ctx); err != nil {
			s.Close()
			return nil, err
		}
		s.Notifier = notifier
	} else {
		s.Session = storage.NewSessionTier(storage.NewMemoryKVWithTTL(cfg.SessionTTL, nil))
		s.Notifier = storage.NewMemoryNotifier()
	}

	switch {
	case cfg.DatabaseURL != "":
		db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.addCloser(gormCloser(db))
		remote, err := storage.NewGormRemote(db)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Remote = remote
		s.RemoteDB = remote
	case cfg.RemoteURL != "":
		remote, err := storage.NewHTTPRemote(cfg.RemoteURL, cfg.GameServiceToken, cfg.RemoteTimeout)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Remote = remote
	default:
		log.Warn("[STACK] no remote tier configured, profiles stay on this device")
	}
	return s, nil
}

// EngineConfig returns the engine settings shared by every session.
func (s *Stack) EngineConfig(cfg utils.Config, log *utils.Logger) services.EngineConfig {
	ec := services.EngineConfig{
		Local:         s.Local,
		Session:       s.Session,
		Notifier:      s.Notifier,
		Logger:        log,
		SyncInterval:  cfg.SyncInterval,
		RetryAttempts: cfg.RemoteRetryAttempts,
		RetryInitial:  cfg.RemoteRetryInitial,
	}
	// Keep a nil interface when no remote is configured.
	if s.Remote != nil {
		ec.Remote = s.Remote
	}
	return ec
}

func (s *Stack) addCloser(fn func() error) { s.closers = append(s.closers, fn) }

// Close releases connections in reverse order of opening.
func (s *Stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func openSQLite(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create local db dir: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open local db %s: %w", path, err)
	}
	return db, nil
}

func gormCloser(db *gorm.DB) func() error {
	return func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
}
