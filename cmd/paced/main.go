package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"paced/internal/config"
	"paced/internal/eventbus"
	"paced/internal/feed"
	"paced/internal/history"
	"paced/internal/notify"
	"paced/internal/probe"
	"paced/pkg/logx"
	"paced/pkg/pacer"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./paced.yaml", "path to config file (yaml or json)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath); err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console || !cfg.Logging.File.Enabled,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer log.Close()
	mgr.SetLogger(log.With(logx.String("component", "config")))

	slogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slogLevel(cfg.Logging.Level),
	}))

	interval, err := cfg.EngineInterval()
	if err != nil {
		return err
	}
	opts, err := cfg.EngineOptions()
	if err != nil {
		return err
	}
	opts.Logger = slogger.With(slog.String("component", "pacer"))
	sched, err := pacer.New(interval, opts)
	if err != nil {
		return err
	}

	store, err := openHistory(cfg, log)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	notifier, err := buildNotifier(cfg, slogger)
	if err != nil {
		return err
	}

	bus := eventbus.New[feed.ProbeEvent]()
	events, unsubEvents := bus.Subscribe(64)
	defer unsubEvents()
	go consumeEvents(events, store, notifier, log)

	f := feed.New(sched, slogger.With(slog.String("component", "feed")), bus)
	for i, pc := range cfg.Probes {
		p, err := buildProbe(pc, slogger)
		if err != nil {
			return fmt.Errorf("probes[%d]: %w", i, err)
		}
		timeout, err := config.ParseDurationField(fmt.Sprintf("probes[%d].timeout", i), pc.Timeout)
		if err != nil {
			return err
		}
		if err := f.Register(p, pc.Schedule, timeout); err != nil {
			return err
		}
	}
	f.Start()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		f.Stop(sctx)
		cancel()
	}()

	go func() {
		if err := mgr.Watch(ctx); err != nil {
			log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	sub := mgr.Subscribe(1)
	defer mgr.Unsubscribe(sub)
	go applyReloads(sub, sched, log)

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn("systemd notify failed", logx.Err(err))
	} else if sent {
		log.Debug("systemd notified: ready")
	}

	log.Info("paced started",
		logx.Duration("interval", interval),
		logx.Int("probes", len(cfg.Probes)),
		logx.Bool("history", store != nil),
	)

	<-ctx.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	sched.Pause()
	log.Info("paced stopping")
	return nil
}

// consumeEvents records every finished probe run and escalates failures.
func consumeEvents(events <-chan feed.ProbeEvent, store history.Store, notifier *notify.Notifier, log logx.Logger) {
	for ev := range events {
		if store != nil {
			it := history.Item{Probe: ev.Probe, Type: ev.Type, Started: ev.At}
			if ev.Result != nil {
				it.Started = ev.Result.Started
				it.Duration = ev.Result.Duration
				it.Detail = ev.Result.Detail
			}
			if ev.Err != nil {
				it.Error = ev.Err.Error()
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := store.Append(ctx, it); err != nil {
				log.Warn("history append failed", logx.String("probe", ev.Probe), logx.Err(err))
			}
			cancel()
		}
		if ev.Err != nil {
			notifier.ProbeFailed(ev.Probe, ev.Err)
		}
	}
}

// applyReloads pushes live-tunable settings from config reloads into the
// engine. Only the pacing interval is hot-swappable; everything else needs
// a restart.
func applyReloads(sub chan *config.Config, sched *pacer.Scheduler, log logx.Logger) {
	for cfg := range sub {
		iv, err := cfg.EngineInterval()
		if err != nil {
			continue // Validate() already refused it; belt and suspenders
		}
		if iv == sched.Interval() {
			continue
		}
		if err := sched.SetInterval(iv); err != nil {
			log.Warn("interval update rejected", logx.Err(err))
			continue
		}
		log.Info("pacing interval updated", logx.Duration("interval", iv))
	}
}

func buildProbe(pc config.ProbeConfig, log *slog.Logger) (probe.Probe, error) {
	plog := log.With(slog.String("component", "probe"))
	switch strings.ToLower(strings.TrimSpace(pc.Type)) {
	case "http":
		return probe.NewHTTP(pc.Name, pc.URL, plog), nil
	case "speedtest":
		return probe.NewSpeedtest(pc.Name, plog), nil
	default:
		return nil, fmt.Errorf("unknown probe type %q", pc.Type)
	}
}

func openHistory(cfg *config.Config, log logx.Logger) (history.Store, error) {
	if cfg.History == nil {
		return nil, nil
	}
	busy, err := config.ParseDurationField("history.busy_timeout", cfg.History.BusyTimeout)
	if err != nil {
		return nil, err
	}
	driver := cfg.History.Driver
	if strings.TrimSpace(driver) == "" {
		driver = "file"
	}
	return history.Open(history.Config{
		Driver:      driver,
		Path:        cfg.History.Path,
		BusyTimeout: busy,
		Keep:        cfg.History.Keep,
	}, log.With(logx.String("component", "history")))
}

func buildNotifier(cfg *config.Config, log *slog.Logger) (*notify.Notifier, error) {
	if cfg.Notifier == nil {
		return nil, nil
	}
	minGap, err := config.ParseDurationField("notifier.min_gap", cfg.Notifier.MinGap)
	if err != nil {
		return nil, err
	}
	return notify.New(notify.Config{
		Token:  cfg.Notifier.Token,
		ChatID: cfg.Notifier.ChatID,
		MinGap: minGap,
	}, log.With(slog.String("component", "notify")))
}

func slogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace", "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
