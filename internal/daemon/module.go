package daemon

import (
	"context"
	"path/filepath"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"msgr/internal/api"
	"msgr/internal/bus"
	"msgr/internal/lock"
	"msgr/internal/logging"
	"msgr/internal/session"
	"msgr/internal/store"
	intsync "msgr/internal/sync"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName  string
	Dir          string        // optional override for testing; empty = use default
	PollInterval time.Duration // optional override; zero = default
	InitialDelay time.Duration // optional override; zero = default
}

func (p Params) dir() string {
	if p.Dir != "" {
		return p.Dir
	}
	return session.Dir(p.SessionName)
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideSession,
			provideClient,
			provideEngine,
			providePoller,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	if p.Dir != "" {
		return logging.New(filepath.Join(p.Dir, "logs", "msgrd.log"), p.SessionName)
	}
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(p.dir())
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := filepath.Join(p.dir(), "msgr.db")
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideSession(p Params, b *bus.Bus) (*session.Manager, error) {
	return session.NewManager(filepath.Join(p.dir(), "settings.toml"), b)
}

func provideClient(sess *session.Manager, logger *zap.Logger) *api.Client {
	return api.New(sess.ServerURL(), sess, logger)
}

func provideEngine(db *store.DB, client *api.Client, sess *session.Manager, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, client, sess, b, logger)
}

func providePoller(p Params, engine *intsync.Engine, sess *session.Manager, logger *zap.Logger) *intsync.Poller {
	return intsync.NewPoller(engine, sess, logger, p.PollInterval, p.InitialDelay)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, db *store.DB, sess *session.Manager, client *api.Client, poller *intsync.Poller, b *bus.Bus, logger *zap.Logger) {
	var watchCancel context.CancelFunc
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// A persisted user id must resolve against the local store; a
			// mismatch means the store and settings diverged and nothing
			// downstream can be trusted.
			if err := sess.Hydrate(db); err != nil {
				return err
			}

			// Rebuild the remote client whenever the server URL changes.
			watchCtx, cancel := context.WithCancel(context.Background())
			watchCancel = cancel
			go client.WatchSettings(watchCtx, b)

			poller.Start(context.Background())

			if u := sess.CurrentUser(); u != nil {
				logger.Info("session restored", zap.String("user_id", u.UserID))
			} else {
				logger.Info("no credentials found, sign-in required")
			}
			return nil
		},
		OnStop: func(_ context.Context) error {
			poller.Stop()
			if watchCancel != nil {
				watchCancel()
			}
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
