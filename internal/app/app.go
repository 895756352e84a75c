package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"alarmd/internal/alarm"
	"alarmd/internal/audio"
	"alarmd/internal/config"
	"alarmd/internal/eventbus"
	"alarmd/internal/notify"
	"alarmd/internal/ring"
	rtsup "alarmd/internal/runtime/supervisor"
	"alarmd/internal/sched"
	"alarmd/internal/sounds"
	"alarmd/internal/store"
	logx "alarmd/pkg/logx"
)

// App wires the daemon together: config, storage, sounds, the notification
// pipeline and the firing state machine.
type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	kv     store.KV
	alarms *store.Alarms
	sounds *sounds.Resolver
	notes  *notify.Service
	tg     *notify.TelegramSink
	audio  *audio.Loop
	sched  *sched.Scheduler
	ring   *ring.Lifecycle

	cron *cron.Cron
}

// audioStarter adapts the audio loop to the lifecycle's collaborator shape.
type audioStarter struct{ loop *audio.Loop }

func (a audioStarter) Start(ctx context.Context, s alarm.Sound) (ring.AudioSession, error) {
	return a.loop.Start(ctx, s)
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg.Logging))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg.Storage)
	if err != nil {
		return nil, err
	}
	kv, err := store.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	alarmsCol := store.NewAlarms(kv, log.With(logx.String("comp", "alarms")))

	resolver := sounds.NewResolver(cfg.Sounds, log.With(logx.String("comp", "sounds")))

	notes := notify.NewService(log.With(logx.String("comp", "notify")), bus)
	notes.AddSink(notify.NewLogSink(log.With(logx.String("comp", "notify"))))

	var tg *notify.TelegramSink
	if cfg.Telegram != nil {
		tg, err = notify.NewTelegramSink(*cfg.Telegram, notes.EmitAction,
			log.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, fmt.Errorf("telegram sink: %w", err)
		}
		notes.AddSink(tg)
	}

	// WARN+ log lines reach the user through the same sinks as alarms.
	logSvc.SetAlertFunc(func(ctx context.Context, msg string) {
		notes.Alert("alarmd", msg)
	})

	player := audio.NewOtoPlayer(log.With(logx.String("comp", "audio")))
	loop := audio.NewLoop(player, func(title, body string) {
		bus.Publish(eventbus.Event{Type: eventbus.TypeAudioFailed, Data: body})
		notes.Alert(title, body)
	}, log.With(logx.String("comp", "audio")))

	schedSvc := sched.New(notes, resolver, func() sched.Settings {
		c := cfgm.Get()
		return sched.Settings{
			BackupCount:   c.BackupCount(),
			BackupSpacing: c.BackupSpacing(),
			Location:      c.Location(),
		}
	}, log.With(logx.String("comp", "sched")))

	lifecycle := ring.NewLifecycle(alarmsCol, resolver, audioStarter{loop}, schedSvc, kv, bus,
		func() ring.Settings {
			c := cfgm.Get()
			return ring.Settings{
				RingTimeout: c.RingTimeout(),
				SnoozeDelay: c.SnoozeDelay(),
				Location:    c.Location(),
			}
		}, log.With(logx.String("comp", "ring")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		kv:      kv,
		alarms:  alarmsCol,
		sounds:  resolver,
		notes:   notes,
		tg:      tg,
		audio:   loop,
		sched:   schedSvc,
		ring:    lifecycle,
	}, nil
}

// Done is closed when the app supervisor context is cancelled (fatal error
// or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		return config.Validate(cfg)
	})
	a.sup.GoRestart("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if a.tg != nil {
		a.tg.Start(a.sup.Context())
	}

	// Bring stored alarms back to life: every enabled alarm gets a fresh
	// occurrence (timers do not survive restarts).
	if _, err := a.alarms.Load(ctx); err != nil {
		return fmt.Errorf("load alarms: %w", err)
	}
	for _, al := range a.alarms.All() {
		if !al.Enabled {
			continue
		}
		if err := a.armAlarm(ctx, al); err != nil {
			a.log.Warn("startup scheduling failed", logx.String("alarm", al.ID), logx.Err(err))
		}
	}

	a.sup.GoRestart("notify.pump", func(c context.Context) error {
		return a.pumpNotifications(c)
	})

	a.startMaintenance()
	a.watchConfig()
	a.logEvents()

	a.log.Info("alarmd started",
		logx.Int("alarms", len(a.alarms.All())),
		logx.Bool("telegram", a.tg != nil))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	a.log.Info("alarmd stopping")
	if a.cron != nil {
		stopCtx := a.cron.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
		}
	}
	if cur, ok := a.ring.Current(); ok {
		a.ring.Stop(ctx, cur.AlarmID)
	}
	a.notes.Close()
	if a.tg != nil {
		a.tg.Stop(ctx)
	}
	var err error
	if a.sup != nil {
		err = a.sup.Stop(ctx)
	}
	if cerr := a.kv.Close(); cerr != nil && err == nil {
		err = cerr
	}
	_ = a.logs.Close()
	return err
}

// pumpNotifications routes fired notifications and user responses into the
// firing state machine.
func (a *App) pumpNotifications(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-a.notes.Events():
			switch e.Kind {
			case notify.KindFired:
				if !e.Payload.IsAlarm {
					continue
				}
				if err := a.ring.Fire(ctx, e.Payload.AlarmID); err != nil {
					a.log.Warn("fire failed", logx.String("alarm", e.Payload.AlarmID), logx.Err(err))
				}
			case notify.KindAction:
				switch e.ActionID {
				case notify.ActionStop:
					a.ring.Stop(ctx, e.Payload.AlarmID)
				case notify.ActionSnooze:
					a.ring.Snooze(ctx, e.Payload.AlarmID)
				default:
					a.log.Debug("unhandled notification action",
						logx.String("alarm", e.Payload.AlarmID),
						logx.String("action", e.ActionID))
				}
			}
		}
	}
}

// startMaintenance arms the daily reconcile job: re-verify that every
// enabled alarm has live notifications and prune old ring history.
func (a *App) startMaintenance() {
	cfg := a.cfgm.Get()
	if cfg.Maintenance.Enabled != nil && !*cfg.Maintenance.Enabled {
		a.log.Info("maintenance disabled via config")
		return
	}
	spec := strings.TrimSpace(cfg.Maintenance.ReconcileSpec)
	if spec == "" {
		spec = config.DefaultReconcileSpec
	}

	a.cron = cron.New(cron.WithLocation(cfg.Location()))
	_, err := a.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		a.maintain(ctx)
	})
	if err != nil {
		a.log.Error("invalid maintenance schedule", logx.String("spec", spec), logx.Err(err))
		a.cron = nil
		return
	}
	a.cron.Start()
	a.log.Info("maintenance scheduled", logx.String("spec", spec))
}

func (a *App) maintain(ctx context.Context) {
	rearmed := a.sched.Reconcile(ctx, a.alarms.All())

	cfg := a.cfgm.Get()
	maxAge, _ := config.ParseDurationOrDefault("maintenance.history_max_age",
		cfg.Maintenance.HistoryMaxAge, config.DefaultHistoryMaxAge)
	pruned, err := a.kv.PruneRings(ctx, time.Now().Add(-maxAge))
	if err != nil {
		a.log.Warn("ring history prune failed", logx.Err(err))
	}

	a.log.Info("maintenance run",
		logx.Int("rearmed", rearmed),
		logx.Int("pruned", pruned))
}

// watchConfig applies hot-reloadable sections when the config file changes.
// Storage and Telegram changes need a restart; everything else is live.
func (a *App) watchConfig() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.logs.Apply(mapLoggingConfig(newCfg.Logging))
				a.sounds.Apply(newCfg.Sounds)
				a.log.Info("config reloaded")
			}
		}
	})
}

// logEvents mirrors bus traffic into the debug log.
func (a *App) logEvents() {
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})
}

func mapLoggingConfig(lc config.LoggingConfig) logx.Config {
	console := true
	if lc.Console != nil {
		console = *lc.Console
	}
	return logx.Config{
		Level:   lc.Level,
		Console: console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
		Alert: logx.AlertConfig{
			Enabled:    lc.Alert.Enabled,
			MinLevel:   lc.Alert.MinLevel,
			RatePerSec: lc.Alert.RatePerSec,
		},
	}
}

func mapStorageConfig(sc config.StorageConfig) (store.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
	if err != nil {
		return store.Config{}, err
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		path = "./alarmd"
	}
	return store.Config{
		Driver:      sc.Driver,
		Path:        path,
		BusyTimeout: busy,
	}, nil
}
