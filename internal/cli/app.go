// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// app.go - Builds the petwell components from configuration.
//
// Each command opens an App, asks it for the components it needs and closes
// it on return. Components are built lazily so "rules list" never touches
// the database and "config show" never dials Redis.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/jeranaias/petwell/internal/alerts"
	"github.com/jeranaias/petwell/internal/api"
	"github.com/jeranaias/petwell/internal/clock"
	"github.com/jeranaias/petwell/internal/config"
	"github.com/jeranaias/petwell/internal/guard"
	"github.com/jeranaias/petwell/internal/health"
	"github.com/jeranaias/petwell/internal/logging"
	"github.com/jeranaias/petwell/internal/notify"
	"github.com/jeranaias/petwell/internal/offline"
	"github.com/jeranaias/petwell/internal/session"
	"github.com/jeranaias/petwell/internal/storage"
	"github.com/jeranaias/petwell/internal/token"
)

// App holds the configuration and whatever components a command has asked
// for so far.
type App struct {
	Config     *config.Config
	ConfigPath string
	Log        *logrus.Logger

	out  io.Writer
	json bool
	clk  clock.Clock

	closers []func() error

	table   *health.SpeciesTable
	db      *storage.AlertStore
	engine  *alerts.Engine
	inbox   *notify.Inbox
	store   token.Store
	client  *api.Client
	guard   *guard.Guard
	session *session.Lifecycle
}

// loadConfig reads the configuration named by --config, or the default
// location, and applies command line overrides.
func loadConfig(g *globalOptions) (*config.Config, string, error) {
	var (
		cfg  *config.Config
		path = g.configPath
		err  error
	)
	if path != "" {
		cfg, err = config.LoadFromPath(path)
	} else {
		path, err = config.ConfigPathTOML()
		if err != nil {
			return nil, "", err
		}
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config: %w", err)
	}

	if g.offline {
		cfg.API.Offline = true
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	return cfg, path, nil
}

// openApp loads configuration, initializes logging and offline mode.
func openApp(g *globalOptions, out io.Writer) (*App, error) {
	cfg, path, err := loadConfig(g)
	if err != nil {
		return nil, err
	}

	closeLog, err := logging.Init(cfg.Logging)
	if err != nil {
		return nil, err
	}
	offline.SetOfflineMode(cfg.API.Offline)

	a := &App{
		Config:     cfg,
		ConfigPath: path,
		Log:        logging.Std(),
		out:        out,
		json:       g.jsonOutput,
		clk:        clock.Real(),
	}
	a.closers = append(a.closers, func() error { closeLog(); return nil })
	return a, nil
}

// Close releases components in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// =============================================================================
// ALERTS
// =============================================================================

// SpeciesTable returns the range table with the configured fallback.
func (a *App) SpeciesTable() (*health.SpeciesTable, error) {
	if a.table != nil {
		return a.table, nil
	}
	t, err := health.NewSpeciesTable(a.Config.Alerts.Fallback())
	if err != nil {
		return nil, err
	}
	a.table = t
	return t, nil
}

// AlertStore opens the alert database.
func (a *App) AlertStore() (*storage.AlertStore, error) {
	if a.db != nil {
		return a.db, nil
	}
	path := config.ResolvePath(a.Config.Alerts.DatabasePath)
	db, err := storage.Open(path)
	if err != nil {
		return nil, err
	}
	a.db = db
	a.onClose(db.Close)
	return db, nil
}

// Engine returns an alert engine restored from the database and wired to
// the notification channels.
func (a *App) Engine(ctx context.Context) (*alerts.Engine, error) {
	if a.engine != nil {
		return a.engine, nil
	}
	table, err := a.SpeciesTable()
	if err != nil {
		return nil, err
	}
	db, err := a.AlertStore()
	if err != nil {
		return nil, err
	}
	settings, err := a.Config.Notifications.Settings()
	if err != nil {
		return nil, err
	}

	engine := alerts.New(alerts.DefaultRegistry(),
		alerts.WithClock(a.clk),
		alerts.WithStore(db),
		alerts.WithSink(a.Dispatcher()),
		alerts.WithLogger(a.Log),
		alerts.WithHistoryLimit(a.Config.Alerts.HistoryLimit),
		alerts.WithSpeciesTable(table),
		alerts.WithNotificationSettings(settings),
	)

	active, err := db.LoadActive(ctx)
	if err != nil {
		return nil, err
	}
	resolved, err := db.History(ctx, a.Config.Alerts.HistoryLimit)
	if err != nil {
		return nil, err
	}
	n := engine.Restore(append(active, resolved...))
	logging.Event(a.Log, "ALERTS_RESTORED").WithField("active", n).Debug("alert state restored")

	a.engine = engine
	return engine, nil
}

// Inbox returns the in-app inbox fed by the dispatcher.
func (a *App) Inbox() *notify.Inbox {
	if a.inbox == nil {
		a.inbox = notify.NewInbox(notify.DefaultInboxCapacity)
	}
	return a.inbox
}

// Dispatcher routes notifications to every configured channel. A channel
// that is enabled but lacks credentials is left without a sink; delivery to
// it then fails and is logged by the engine.
func (a *App) Dispatcher() *notify.Dispatcher {
	n := a.Config.Notifications
	d := notify.NewDispatcher(
		notify.WithAlways(notify.NewLogSink(a.Log)),
		notify.WithChannel(alerts.ChannelInApp, a.Inbox()),
		notify.WithDispatcherLogger(a.Log),
	)

	if n.Email {
		sender, err := notify.NewEmailSender(n.SendGridKey, n.EmailFrom, n.EmailTo)
		if err != nil {
			logging.Event(a.Log, "NOTIFY_CHANNEL_UNAVAILABLE").
				WithField("channel", alerts.ChannelEmail).WithError(err).Warn("email channel disabled")
		} else {
			d.Attach(alerts.ChannelEmail, sender)
		}
	}
	if n.Push {
		sender, err := notify.NewPushSender(n.PushURL)
		if err != nil {
			logging.Event(a.Log, "NOTIFY_CHANNEL_UNAVAILABLE").
				WithField("channel", alerts.ChannelPush).WithError(err).Warn("push channel disabled")
		} else {
			d.Attach(alerts.ChannelPush, sender)
		}
	}
	return d
}

// =============================================================================
// SESSION
// =============================================================================

// TokenStore opens the configured credential store. watch enables change
// notification for long-running commands.
func (a *App) TokenStore(ctx context.Context, watch bool) (token.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	cfg := a.Config.TokenStore

	var (
		store token.Store
		err   error
	)
	switch cfg.Backend {
	case config.BackendMemory:
		store = token.NewMemoryStore()
	case config.BackendFile:
		opts := []token.FileOption{token.WithFileLogger(a.Log)}
		if cfg.EncryptionKey != "" {
			key, kerr := token.ParseKey(cfg.EncryptionKey)
			if kerr != nil {
				return nil, kerr
			}
			opts = append(opts, token.WithEncryptionKey(key))
		}
		if !watch {
			opts = append(opts, token.WithoutWatch())
		}
		path := config.ResolvePath(cfg.Path)
		if err := ensureDir(path); err != nil {
			return nil, err
		}
		store, err = token.NewFileStore(path, opts...)
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		opts := []token.RedisOption{token.WithRedisLogger(a.Log)}
		if cfg.RedisChannel != "" {
			opts = append(opts, token.WithRedisChannel(cfg.RedisChannel))
		}
		store, err = token.NewRedisStore(ctx, client, cfg.RedisNamespace, opts...)
		if err != nil {
			client.Close()
		} else {
			a.onClose(client.Close)
		}
	default:
		return nil, fmt.Errorf("unknown token store backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	a.store = store
	a.onClose(store.Close)
	return store, nil
}

// APIClient returns the backend client.
func (a *App) APIClient() (*api.Client, error) {
	if a.client != nil {
		return a.client, nil
	}
	c, err := api.New(a.Config.API.BaseURL,
		api.WithLogger(a.Log),
		api.WithTimeout(a.Config.API.Timeout()),
	)
	if err != nil {
		return nil, err
	}
	a.client = c
	return c, nil
}

// Guard returns the login lockout and rate limiter.
func (a *App) Guard() (*guard.Guard, error) {
	if a.guard != nil {
		return a.guard, nil
	}
	cfg := a.Config.Guard
	opts := []guard.LockoutOption{
		guard.WithMaxAttempts(cfg.MaxLoginAttempts),
		guard.WithLockoutDuration(cfg.LockoutDuration()),
		guard.WithLockoutClock(a.clk),
		guard.WithLockoutLogger(a.Log),
	}
	if cfg.StatePath != "" {
		path := config.ResolvePath(cfg.StatePath)
		if err := ensureDir(path); err != nil {
			return nil, err
		}
		opts = append(opts, guard.WithStatePath(path))
	}

	lockout, err := guard.NewLockout(opts...)
	if errors.Is(err, guard.ErrStateTampered) {
		logging.Event(a.Log, "AUTH_LOCKOUT_STATE_RESET").WithError(err).Warn("lockout state discarded")
	} else if err != nil {
		return nil, err
	}

	limiter := guard.NewRateLimiter(cfg.LoginRatePerMinute, cfg.LoginBurst, a.clk)
	a.guard = guard.New(lockout, limiter, a.Log)
	return a.guard, nil
}

// Session returns a lifecycle over the configured store and backend. The
// API client's snapshot requests use the session's access token.
func (a *App) Session(ctx context.Context, watch bool) (*session.Lifecycle, error) {
	if a.session != nil {
		return a.session, nil
	}
	store, err := a.TokenStore(ctx, watch)
	if err != nil {
		return nil, err
	}
	client, err := a.APIClient()
	if err != nil {
		return nil, err
	}
	g, err := a.Guard()
	if err != nil {
		return nil, err
	}

	lc := session.New(a.clk, store, client, a.Config.Session.Settings(),
		session.WithLogger(a.Log),
		session.WithGuard(g),
	)
	client.SetTokenSource(lc.AccessToken)

	a.session = lc
	a.onClose(func() error { lc.Close(); return nil })
	return lc, nil
}

// =============================================================================
// OUTPUT
// =============================================================================

// emit prints data as a JSON envelope in --json mode and calls human
// otherwise.
func (a *App) emit(command string, data interface{}, human func(w io.Writer)) error {
	if a.json {
		return NewJSONResponse(command, data).Write(a.out)
	}
	human(a.out)
	return nil
}

// ensureDir creates the parent directory of a state file.
func ensureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0700)
}
