package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/hrygo/routinesense/ai/habit"
	"github.com/hrygo/routinesense/ai/metrics"
	"github.com/hrygo/routinesense/ai/observability/logging"
	"github.com/hrygo/routinesense/ai/proactive"
	"github.com/hrygo/routinesense/internal/profile"
	"github.com/hrygo/routinesense/internal/version"
	"github.com/hrygo/routinesense/plugin/notify"
	"github.com/hrygo/routinesense/store"
	"github.com/hrygo/routinesense/store/db"
)

// app holds the process-wide dependencies shared by every command.
type app struct {
	profile    *profile.Profile
	logger     *slog.Logger
	store      *store.Store
	exporter   *metrics.PrometheusExporter
	config     proactive.Config
	dispatcher *notify.Dispatcher
	telegram   *notify.TelegramSink
}

func loadProfile() *profile.Profile {
	p := &profile.Profile{
		Mode:            viper.GetString("mode"),
		Addr:            viper.GetString("addr"),
		Port:            viper.GetInt("port"),
		Data:            viper.GetString("data"),
		Driver:          viper.GetString("driver"),
		DSN:             viper.GetString("dsn"),
		Timezone:        viper.GetString("timezone"),
		LogLevel:        viper.GetString("log-level"),
		LogFormat:       viper.GetString("log-format"),
		NotifyQueueSize: viper.GetInt("notify.queue-size"),
		NotifyRatePerS:  viper.GetFloat64("notify.rate"),
		Version:         version.GetCurrentVersion(viper.GetString("mode")),
	}
	p.FromEnv()
	return p
}

func newApp(ctx context.Context) (*app, error) {
	instanceProfile := loadProfile()
	if err := instanceProfile.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid profile")
	}

	logger := logging.New(os.Stderr, instanceProfile.LogLevel, instanceProfile.LogFormat)
	slog.SetDefault(logger)

	dbDriver, err := db.NewDBDriver(instanceProfile)
	if err != nil {
		printDatabaseError(err, instanceProfile)
		return nil, err
	}

	storeInstance := store.New(dbDriver, instanceProfile)
	if err := storeInstance.Migrate(ctx); err != nil {
		_ = storeInstance.Close()
		return nil, errors.Wrap(err, "failed to migrate")
	}

	cfg, err := engineConfig(instanceProfile.Location())
	if err != nil {
		_ = storeInstance.Close()
		return nil, err
	}

	return &app{
		profile:  instanceProfile,
		logger:   logger,
		store:    storeInstance,
		exporter: metrics.NewPrometheusExporter(metrics.DefaultConfig()),
		config:   cfg,
	}, nil
}

// engineConfig reads the engine settings from viper.
func engineConfig(loc *time.Location) (proactive.Config, error) {
	cfg := proactive.DefaultConfig()
	cfg.Analysis = &habit.AnalysisConfig{
		LookbackDays:   viper.GetInt("lookback-days"),
		MinOccurrences: viper.GetInt("min-occurrences"),
		Location:       loc,
	}
	cfg.CreateThreshold = viper.GetFloat64("create-threshold")
	cfg.OfferThreshold = viper.GetFloat64("offer-threshold")
	cfg.StaleAfter = viper.GetDuration("stale-after")
	cfg.DetectInterval = viper.GetDuration("detect-interval")
	cfg.SweepInterval = viper.GetDuration("sweep-interval")
	cfg.Concurrency = viper.GetInt("concurrency")
	cfg.UserTimeout = viper.GetDuration("user-timeout")

	for priority := range cfg.GracePeriods {
		if d := viper.GetDuration("grace." + string(priority)); d > 0 {
			cfg.GracePeriods[priority] = d
		}
	}

	if viper.IsSet("priority-keywords") {
		var table habit.PriorityTable
		if err := viper.UnmarshalKey("priority-keywords", &table); err != nil {
			return cfg, errors.Wrap(err, "invalid priority-keywords")
		}
		cfg.Priorities = table
	}

	if cfg.OfferThreshold < cfg.CreateThreshold {
		slog.Warn("offer threshold below create threshold; every new pattern is offered",
			"create_threshold", cfg.CreateThreshold,
			"offer_threshold", cfg.OfferThreshold)
	}
	return cfg, nil
}

func (a *app) options() []proactive.Option {
	return []proactive.Option{
		proactive.WithLogger(a.logger),
		proactive.WithMetrics(a.exporter),
	}
}

// sink builds the notification fan-out behind a rate-limited dispatcher.
func (a *app) sink() (notify.Sink, error) {
	sinks := notify.Fanout{
		notify.NewInboxSink(a.store),
		notify.NewLogSink(a.logger),
	}
	if a.profile.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(a.profile.WebhookURL))
	}
	if a.profile.TelegramBotToken != "" {
		chats, fallback, err := a.profile.ParseTelegramChatIDs()
		if err != nil {
			return nil, err
		}
		telegram, err := notify.NewTelegramSink(&notify.TelegramConfig{
			BotToken:    a.profile.TelegramBotToken,
			Chats:       chats,
			DefaultChat: fallback,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, telegram)
		a.telegram = telegram
	}

	a.dispatcher = notify.NewDispatcher(sinks, notify.DispatcherConfig{
		QueueSize:     a.profile.NotifyQueueSize,
		RatePerSecond: a.profile.NotifyRatePerS,
		Burst:         1,
		Location:      a.profile.Location(),
		Observer:      a.exporter,
		Logger:        a.logger,
	})
	return a.dispatcher, nil
}

func (a *app) engine() (*proactive.Detector, *proactive.Monitor, error) {
	sink, err := a.sink()
	if err != nil {
		return nil, nil, err
	}
	detector := proactive.NewDetector(a.store, a.store, sink, a.config, a.options()...)
	monitor := proactive.NewMonitor(a.store, a.store, sink, a.config, a.options()...)
	return detector, monitor, nil
}

func (a *app) responder() *proactive.Responder {
	return proactive.NewResponder(a.store, a.config, a.options()...)
}

func (a *app) close() {
	if a.dispatcher != nil {
		if err := a.dispatcher.Close(shutdownTimeout); err != nil {
			a.logger.Warn("notification dispatcher did not drain", "error", err)
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close store", "error", err)
	}
}
