package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/kelindar/event"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pmicvib/internal/config"
	"pmicvib/internal/logging"
	"pmicvib/internal/vibrator"
	"pmicvib/internal/web"
)

var sdNotify = daemon.SdNotify

const closeTimeout = 3 * time.Second

func newRunCmd(configPath *string) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the vibrator daemon and its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx, *configPath, listen, nil)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Override http.listen")
	return cmd
}

// runDaemon serves until ctx is done. sleep delivers host suspend (true) and
// resume (false) requests; nil selects SIGUSR1/SIGUSR2.
func runDaemon(ctx context.Context, configPath, listenOverride string, sleep <-chan bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listenOverride != "" {
		cfg.HTTP.Listen = listenOverride
	}

	logs := web.NewLogBuffer(2000)
	log, closeLog, err := logging.New(cfg.Log, logs)
	if err != nil {
		return err
	}
	defer closeLog()

	hw, err := openHardware(cfg, log)
	if err != nil {
		log.Error("hardware init failed", zap.Error(err))
		return err
	}
	defer hw.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	disp := event.NewDispatcher()
	defer disp.Close()

	opts := append(hw.deviceOptions(),
		vibrator.WithLogger(log.Named("vibrator")),
		vibrator.WithMetrics(vibrator.NewMetrics(reg)),
		vibrator.WithEvents(disp),
	)
	dev, err := vibrator.New(hw.port, deviceConfig(cfg), opts...)
	if err != nil {
		log.Error("vibrator init failed", zap.Error(err))
		return err
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		_, _ = sdNotify(false, daemon.SdNotifyStopping)
		if err := dev.Close(cctx); err != nil {
			log.Warn("vibrator close", zap.Error(err))
		}
	}()

	defer event.Subscribe(disp, func(ev vibrator.ApplyFailedEvent) {
		log.Warn("apply failed", zap.Bool("on", ev.On), zap.Bool("forced", ev.Forced), zap.String("error", ev.Message))
	})()

	history := web.NewHistory(200)
	defer history.Attach(disp)()

	watcher := config.NewWatcher(configPath, log)
	levelMV := cfg.Vibrator.DefaultLevelMV
	watcher.OnReload(func(next config.Config) {
		if next.Vibrator.DefaultLevelMV == levelMV {
			return
		}
		levelMV = next.Vibrator.DefaultLevelMV
		dev.SetLevel(levelMV)
		log.Info("drive level reloaded", zap.Int("level_mv", levelMV))
	})
	if err := watcher.Start(ctx); err != nil {
		log.Warn("config watcher disabled", zap.Error(err))
	}
	defer watcher.Close()

	httpCtx, stopHTTP := context.WithCancel(ctx)
	handler := web.Handler(dev, history, logs, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpErr := make(chan error, 1)
	httpDone := make(chan struct{})
	go func() {
		defer close(httpDone)
		httpErr <- web.Serve(httpCtx, cfg.HTTP.Listen, handler)
	}()
	// In-flight requests finish before the device is closed.
	defer func() {
		stopHTTP()
		<-httpDone
	}()

	if sleep == nil {
		sleep = hostSleepSignals(ctx)
	}

	if ok, err := sdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn("sd_notify failed", zap.Error(err))
	} else if ok {
		log.Debug("sd_notify ready sent")
	}
	log.Info("pmicvib running",
		zap.String("listen", cfg.HTTP.Listen),
		zap.String("i2c", cfg.PMIC.I2CPath()),
		zap.Uint16("addr", cfg.PMIC.Addr),
		zap.Int("level_mv", dev.Level()),
	)

	for {
		select {
		case <-ctx.Done():
			log.Info("pmicvib stopping")
			return nil
		case err := <-httpErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error("http server stopped", zap.Error(err))
				return err
			}
			return nil
		case suspend := <-sleep:
			sctx, cancel := context.WithTimeout(ctx, closeTimeout)
			if suspend {
				err = dev.Suspend(sctx)
			} else {
				err = dev.Resume(sctx)
			}
			cancel()
			if err != nil {
				log.Warn("power transition failed", zap.Bool("suspend", suspend), zap.Error(err))
			}
		}
	}
}

// hostSleepSignals maps SIGUSR1 to suspend and SIGUSR2 to resume.
func hostSleepSignals(ctx context.Context) <-chan bool {
	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGUSR1, syscall.SIGUSR2)
	out := make(chan bool)
	go func() {
		defer signal.Stop(sigCh)
		for {
			select {
			case <-ctx.Done():
				return
			case s := <-sigCh:
				select {
				case out <- s == syscall.SIGUSR1:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
