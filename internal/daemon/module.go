// Package daemon composes the sync core into a runnable process: config,
// logging, the single-instance lock, the REST and websocket transports,
// and the coordinator, wired through fx with lifecycle hooks.
package daemon

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/corpchat/chatsync/internal/bus"
	"github.com/corpchat/chatsync/internal/config"
	"github.com/corpchat/chatsync/internal/coordinator"
	"github.com/corpchat/chatsync/internal/gateway"
	"github.com/corpchat/chatsync/internal/lock"
	"github.com/corpchat/chatsync/internal/logging"
	"github.com/corpchat/chatsync/internal/metrics"
	"github.com/corpchat/chatsync/internal/rest"
	"github.com/corpchat/chatsync/internal/session"
	"github.com/corpchat/chatsync/internal/socket"
	"github.com/corpchat/chatsync/internal/status"
	"github.com/corpchat/chatsync/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved invocation settings passed to the fx module.
type Params struct {
	SessionName string
	// ConfigPath overrides the default config location; empty = default.
	ConfigPath string
	// LockPath overrides the pidfile location; empty = default. Used by
	// tests to stay out of the real session directory.
	LockPath string

	// Credentials. A token skips the login call; otherwise a login and
	// password obtain one.
	Token    string
	Login    string
	Password string
}

// Module composes all providers and lifecycle hooks for the daemon.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideRestClient,
			provideSocketSession,
			provideGateway,
			provideCoordinator,
			provideMetricsServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = session.ConfigPath()
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	return config.Load(path)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	path := p.LockPath
	if path == "" {
		if err := session.EnsureDir(p.SessionName); err != nil {
			return nil, err
		}
		path = session.LockPath(p.SessionName)
	}
	l, err := lock.Acquire(path)
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired", zap.String("path", l.Path()))
	return l, nil
}

func provideStore(b *bus.Bus) *store.Store {
	return store.New(b)
}

func provideRestClient(cfg *config.Config, logger *zap.Logger) *rest.Client {
	return rest.NewClient(cfg.Server.BaseURL, logger)
}

func provideSocketSession(cfg *config.Config, m *status.Machine, logger *zap.Logger) *socket.Session {
	return socket.New(socket.Options{
		BaseURL:           cfg.Server.BaseURL,
		WSPath:            cfg.Server.WSPath,
		HeartbeatInterval: cfg.Sync.HeartbeatInterval.Std(),
		ReconnectDelay:    cfg.Sync.ReconnectDelay.Std(),
		ReconnectMaxDelay: cfg.Sync.ReconnectMaxDelay.Std(),
	}, m, logger)
}

func provideGateway(sess *socket.Session, restc *rest.Client, st *store.Store, logger *zap.Logger) *gateway.Gateway {
	return gateway.New(sess, restc, st, logger)
}

func provideCoordinator(restc *rest.Client, sess *socket.Session, gw *gateway.Gateway,
	st *store.Store, b *bus.Bus, logger *zap.Logger) *coordinator.Coordinator {
	return coordinator.New(restc, sess, gw, st, b, logger)
}

func provideMetricsServer(cfg *config.Config) *http.Server {
	return &http.Server{
		Addr:    cfg.Metrics.ListenAddr,
		Handler: metrics.Handler(),
	}
}

func registerLifecycle(lc fx.Lifecycle, p Params, coord *coordinator.Coordinator,
	lk *lock.Lock, metricsSrv *http.Server, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if metricsSrv.Addr != "" {
				go func() {
					if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("metrics server error", zap.Error(err))
					}
				}()
			}

			if p.Login != "" {
				if err := coord.Login(context.Background(), p.Login, p.Password); err != nil {
					return err
				}
			}
			return coord.Start(context.Background(), p.Token)
		},
		OnStop: func(ctx context.Context) error {
			coord.Stop()

			shutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := metricsSrv.Shutdown(shutCtx); err != nil {
				logger.Warn("metrics server shutdown", zap.Error(err))
			}

			if err := lk.Release(); err != nil {
				logger.Warn("lock release failed", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
