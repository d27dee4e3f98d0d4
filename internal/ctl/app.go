package ctl

import (
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"msgr/internal/api"
	"msgr/internal/bus"
	"msgr/internal/lock"
	"msgr/internal/logging"
	"msgr/internal/session"
	"msgr/internal/store"
	intsync "msgr/internal/sync"
)

// app bundles the components a command needs, bound to one locked session.
type app struct {
	name    string
	lk      *lock.Lock
	db      *store.DB
	session *session.Manager
	engine  *intsync.Engine
	logger  *zap.Logger
}

// openApp locks the session and wires the store, session manager and sync
// engine against it. The caller must Close.
func openApp(sessionFlag string) (*app, error) {
	name := session.Resolve(sessionFlag)
	if err := session.ValidateName(name); err != nil {
		return nil, err
	}
	if err := session.EnsureDir(name); err != nil {
		return nil, err
	}

	lk, err := lock.Acquire(session.Dir(name))
	if err != nil {
		var held *lock.LockHeldError
		if errors.As(err, &held) {
			return nil, fmt.Errorf("session %q is in use by PID %d; stop msgrd first", name, held.PID)
		}
		return nil, err
	}

	logger, err := logging.NewQuiet(filepath.Join(session.LogDir(name), "msgrctl.log"), name)
	if err != nil {
		_ = lk.Release()
		return nil, err
	}

	db, err := store.Open(session.DBPath(name))
	if err != nil {
		_ = lk.Release()
		return nil, err
	}
	if _, err := db.Migrate(); err != nil {
		_ = db.Close()
		_ = lk.Release()
		return nil, err
	}

	b := bus.New()
	sess, err := session.NewManager(session.SettingsPath(name), b)
	if err != nil {
		_ = db.Close()
		_ = lk.Release()
		return nil, err
	}
	if err := sess.Hydrate(db); err != nil {
		_ = db.Close()
		_ = lk.Release()
		return nil, err
	}

	client := api.New(sess.ServerURL(), sess, logger)
	engine := intsync.NewEngine(db, client, sess, b, logger)

	return &app{
		name:    name,
		lk:      lk,
		db:      db,
		session: sess,
		engine:  engine,
		logger:  logger,
	}, nil
}

func (a *app) Close() {
	_ = a.db.Close()
	_ = a.lk.Release()
	_ = a.logger.Sync()
}
