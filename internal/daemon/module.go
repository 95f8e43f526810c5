package daemon

import (
	"context"
	"fmt"

	"github.com/matheus3301/crmsync/internal/api"
	"github.com/matheus3301/crmsync/internal/bus"
	"github.com/matheus3301/crmsync/internal/config"
	"github.com/matheus3301/crmsync/internal/crm"
	"github.com/matheus3301/crmsync/internal/device"
	"github.com/matheus3301/crmsync/internal/lock"
	"github.com/matheus3301/crmsync/internal/logging"
	"github.com/matheus3301/crmsync/internal/profile"
	"github.com/matheus3301/crmsync/internal/scheduler"
	"github.com/matheus3301/crmsync/internal/status"
	"github.com/matheus3301/crmsync/internal/store"
	intsync "github.com/matheus3301/crmsync/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
	SocketPath  string // optional override for testing; empty = use default
	UserAgent   string
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideSettings,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideDeviceSource,
			provideSender,
			provideReconciler,
			provideTransmitter,
			provideSyncEngine,
			provideCoordinator,
			provideScheduler,
			provideControlService,
			provideMetricsServer,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideSettings(p Params) (*config.Settings, error) {
	return config.LoadSettings(profile.SettingsPath(p.ProfileName))
}

func provideLogger(p Params, s *config.Settings) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName, logging.Options{
		Level:      s.Log.Level,
		MaxSizeMB:  s.Log.MaxSizeMB,
		MaxBackups: s.Log.MaxBackups,
		MaxAgeDays: s.Log.MaxAgeDays,
	})
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore takes the lock so the snapshot is never opened unlocked.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.StoreDBPath(p.ProfileName)
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

func provideDeviceSource(p Params, s *config.Settings, logger *zap.Logger) (*device.SQLiteSource, error) {
	path := s.Device.Path
	if path == "" {
		path = profile.DeviceDBPath(p.ProfileName)
	}
	perms := device.StaticPermissions{Contacts: s.Device.Contacts, CallLog: s.Device.CallLog}
	src, err := device.OpenSource(path, perms, logger.Named("device"))
	if err != nil {
		return nil, err
	}
	logger.Info("device source opened",
		zap.String("path", path),
		zap.Bool("contacts", perms.Contacts),
		zap.Bool("call_log", perms.CallLog),
	)
	return src, nil
}

func provideSender(p Params, s *config.Settings, logger *zap.Logger) (intsync.Sender, error) {
	if !s.CRM.Configured() {
		logger.Warn("crm endpoint not configured, every sync will fail until it is",
			zap.String("settings", profile.SettingsPath(p.ProfileName)))
		return crm.Unconfigured{}, nil
	}
	c, err := crm.New(crm.Options{
		BaseURL:      s.CRM.BaseURL,
		ContactsPath: s.CRM.ContactsPath,
		CallsPath:    s.CRM.CallsPath,
		Timeout:      s.CRM.Timeout,
		APIKey:       s.CRM.APIKey,
		APIKeyHeader: s.CRM.APIKeyHeader,
		ClientID:     s.CRM.ClientID,
		ClientSecret: s.CRM.ClientSecret,
		TokenURL:     s.CRM.TokenURL,
		Scopes:       s.CRM.Scopes,
		UserAgent:    p.UserAgent,
	}, nil, logger.Named("crm"))
	if err != nil {
		return nil, fmt.Errorf("crm client: %w", err)
	}
	return c, nil
}

func provideReconciler(src *device.SQLiteSource, db *store.DB, logger *zap.Logger) *intsync.Reconciler {
	return intsync.NewReconciler(src, db, logger.Named("reconciler"))
}

func provideTransmitter(sender intsync.Sender, db *store.DB, logger *zap.Logger) *intsync.Transmitter {
	return intsync.NewTransmitter(sender, db, logger.Named("transmitter"))
}

func provideSyncEngine(r *intsync.Reconciler, t *intsync.Transmitter, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(r, t, b, logger.Named("sync"))
}

func provideCoordinator(engine *intsync.Engine, src *device.SQLiteSource, db *store.DB, m *status.Machine, b *bus.Bus, logger *zap.Logger) *scheduler.Coordinator {
	return scheduler.NewCoordinator(engine, src.Permissions(), db, m, b, logger.Named("coordinator"))
}

func provideScheduler(db *store.DB, coord *scheduler.Coordinator, s *config.Settings, b *bus.Bus, logger *zap.Logger) *scheduler.Scheduler {
	cond := scheduler.StaticConditions{OnUnmetered: s.Device.Unmetered, OnCharging: s.Device.Charging}
	return scheduler.New(db, coord, cond, b, logger.Named("scheduler"), scheduler.Options{
		IncludeCalls: s.Sync.IncludeCalls,
	})
}

func provideControlService(p Params, m *status.Machine, coord *scheduler.Coordinator, sched *scheduler.Scheduler, db *store.DB, b *bus.Bus, s *config.Settings) *api.ControlService {
	return api.NewControlService(p.ProfileName, m, coord, sched, db, b, api.ControlOptions{
		IncludeCalls:  s.Sync.IncludeCalls,
		CRMConfigured: s.CRM.Configured(),
	})
}

func provideMetricsServer(s *config.Settings, logger *zap.Logger) *MetricsServer {
	return NewMetricsServer(s.Metrics.ListenAddr, logger)
}

// registerStartupJob registers the configured periodic job. The configured
// policy is usually KEEP, so a restart never resets a job rescheduled
// through the control API.
func registerStartupJob(ctx context.Context, sched *scheduler.Scheduler, s *config.Settings) error {
	if !s.Schedule.Enabled {
		return nil
	}
	policy, err := scheduler.ParsePolicy(s.Schedule.Policy)
	if err != nil {
		return err
	}
	_, _, err = sched.Register(ctx, scheduler.JobSpec{
		Name:     s.Schedule.Job,
		Interval: s.Schedule.Interval,
		Constraints: scheduler.Constraints{
			RequireUnmetered: s.Schedule.RequireUnmetered,
			RequireCharging:  s.Schedule.RequireCharging,
		},
	}, policy)
	return err
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, metricsSrv *MetricsServer, lk *lock.Lock, db *store.DB, src *device.SQLiteSource, sched *scheduler.Scheduler, s *config.Settings, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// Restore jobs persisted by earlier runs, then the configured one.
			if err := sched.Load(ctx); err != nil {
				return fmt.Errorf("load jobs: %w", err)
			}
			if err := registerStartupJob(ctx, sched, s); err != nil {
				return fmt.Errorf("register startup job: %w", err)
			}

			// Start gRPC server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if err := metricsSrv.Start(); err != nil {
				return err
			}

			sched.Start(context.Background())
			logger.Info("daemon started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			sched.Stop()
			metricsSrv.Stop(ctx)
			srv.Stop(ctx)
			if err := src.Close(); err != nil {
				logger.Warn("error closing device source", zap.Error(err))
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
