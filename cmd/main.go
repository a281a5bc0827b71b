package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/okian/wddbridge/internal/adapters/azimuth"
	"github.com/okian/wddbridge/internal/adapters/comb"
	"github.com/okian/wddbridge/internal/adapters/http/api"
	"github.com/okian/wddbridge/internal/adapters/mq/queue"
	"github.com/okian/wddbridge/internal/adapters/wdd"
	app "github.com/okian/wddbridge/internal/app"
	"github.com/okian/wddbridge/internal/config"
	"github.com/okian/wddbridge/internal/domain/dance"
	"github.com/okian/wddbridge/internal/domain/dedupe"
	"github.com/okian/wddbridge/internal/domain/model"
	"github.com/okian/wddbridge/internal/domain/policy"
	"github.com/okian/wddbridge/pkg/logger"
	"github.com/okian/wddbridge/pkg/stats"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

func main() {
	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		logger.Get().Error(ctx, "bridge terminated", logger.Error(err))
		stop()
		os.Exit(1)
	}
}

// newFlagSet declares the command line. Flags override WDD_* variables and
// the config file; unset flags leave them alone.
func newFlagSet() *pflag.FlagSet {
	d := config.New()
	fs := pflag.NewFlagSet("wdd-bridge", pflag.ContinueOnError)
	fs.String("log-level", d.LogLevel, "log level: debug, info, warn, error")
	fs.String("addr", d.Addr, "admin HTTP listen address")
	fs.String("wdd-addr", d.WDDAddr, "listen address for waggle decoder sessions")
	fs.String("wdd-authkey", "", "key decoders must present")
	fs.String("nats-url", "", "NATS server to subscribe to for waggles")
	fs.String("nats-subject", d.NATSSubject, "NATS subject carrying waggles")
	fs.StringP("comb-port", "p", "", "serial device, .wav file for audio playback, or empty for dummy mode")
	fs.StringP("comb-config", "c", "", "comb layout file")
	fs.Int("character-delay-ms", d.CharacterDelayMS, "pause between bus characters")
	fs.Int("reconnect-interval-ms", d.ReconnectIntervalMS, "minimum time between reconnect attempts")
	fs.String("audio-player", d.AudioPlayer, "command playing the audio file")
	fs.String("stats-file", "", "JSON lines statistics file, <date> expands to the UTC date")
	fs.Int("sound-index", d.SoundIndex, "soundboard file for all-actuators mode (0-11)")
	fs.Int("signal-index", d.SignalIndex, "signal linked to the nearest actuator (1-5)")
	fs.IntSlice("use-soundboard", d.UseSoundboard, "soundboards used in all-actuators mode")
	fs.Bool("all-actuators", false, "play the soundboard on every actuator")
	fs.Bool("hardwired-signals", false, "use the per-actuator signals from the layout")
	fs.Float64("signal-duration", d.SignalDuration, "activation hold in seconds")
	fs.Float64("waggle-max-gap", d.WaggleMaxGap, "seconds after which a dance is closed")
	fs.Int("waggle-min-count", d.WaggleMinCount, "waggles needed before a dance triggers")
	fs.Float64("waggle-max-distance", d.WaggleMaxDistance, "pixels between waggles of one dance")
	fs.Int("queue-size", d.QueueSize, "inbound and comb queue capacity")
	fs.Int("dedupe-size", d.DedupeSize, "remembered waggle ids")
	fs.Float64("azimuth-refresh-s", d.AzimuthRefreshS, "seconds between sun azimuth updates")
	fs.Float64("azimuth-fixed-deg", d.AzimuthFixedDeg, "compass azimuth used without an azimuth command")
	fs.String("azimuth-command", "", "program printing the compass azimuth for lat, lon and time")
	return fs
}

// run wires every component and blocks until ctx is done or the bridge fails.
func run(ctx context.Context, args []string) error {
	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load(ctx, fs)
	if err != nil {
		return err
	}

	log := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	layout, err := config.LoadLayout(cfg.CombConfig)
	if err != nil {
		return err
	}

	recorder, err := newRecorder(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = recorder.Close() }()

	az, err := startAzimuth(ctx, cfg, layout)
	if err != nil {
		return err
	}
	defer az.Close()
	if _, err := az.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for sun azimuth: %w", err)
	}

	pol, err := newPolicy(layout, recorder)
	if err != nil {
		return err
	}

	sides, err := newSides(cfg, layout, az, recorder)
	if err != nil {
		return err
	}

	connector, err := newConnector(cfg, layout.ActuatorCount(), recorder)
	if err != nil {
		return err
	}
	if err := connector.Start(ctx); err != nil {
		return fmt.Errorf("start comb: %w", err)
	}

	inbound := queue.NewInMemoryQueue[model.WaggleEvent](
		queue.WithName("inbound"),
		queue.WithCapacity(cfg.QueueSize),
	)
	deduper := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(cfg.DedupeSize))
	intakeOpts := []wdd.Option{
		wdd.WithDeduper(deduper),
		wdd.WithRecorder(recorder),
	}

	listener := wdd.NewListener(inbound, cfg.WDDAuthKey, intakeOpts...)
	bridgeOpts := []app.Option{
		app.WithLogger(log.Named("bridge")),
		app.WithRecorder(recorder),
		app.WithAzimuth(az),
		app.WithEventSource("wdd", listener),
	}
	if pol != nil {
		bridgeOpts = append(bridgeOpts, app.WithPolicy(pol))
	}

	if cfg.NATSURL != "" {
		sub, err := wdd.NewSubscriber(inbound, cfg.NATSURL, cfg.NATSSubject, intakeOpts...)
		if err != nil {
			_ = connector.Close(ctx)
			return err
		}
		if err := sub.Start(ctx); err != nil {
			_ = connector.Close(ctx)
			return err
		}
		bridgeOpts = append(bridgeOpts, app.WithEventSource("nats", app.EventSourceFunc(func(context.Context) error {
			return sub.Close()
		})))
	}

	bridge, err := app.New(inbound, connector, sides, bridgeOpts...)
	if err != nil {
		_ = connector.Close(ctx)
		return err
	}

	srv := newAdminServer(cfg.Addr, inboundDeps{Deduper: deduper, InMemoryQueue: inbound}, bridge)
	go func() {
		log.Info(ctx, "starting admin HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "admin HTTP server failed", logger.Error(err))
		}
	}()
	go func() {
		if err := listener.ListenAndServe(ctx, cfg.WDDAddr); err != nil && !errors.Is(err, wdd.ErrClosed) {
			log.Error(ctx, "waggle listener failed", logger.Error(err))
		}
	}()

	runErr := bridge.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "admin server shutdown failed", logger.Error(err))
	}
	log.Info(ctx, "bridge stopped")
	return runErr
}

// inboundDeps exposes the inbound queue and the shared deduper to the admin
// API.
type inboundDeps struct {
	dedupe.Deduper
	*queue.InMemoryQueue[model.WaggleEvent]
}

func newAdminServer(addr string, deps api.Dependencies, sp api.StatsProvider) *http.Server {
	mux := http.NewServeMux()
	api.NewServer(deps, sp).Register(mux)
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func newRecorder(cfg *config.Config) (stats.Recorder, error) {
	if strings.TrimSpace(cfg.StatsFile) == "" {
		return stats.Nop(), nil
	}
	r, err := stats.NewFileRecorder(cfg.StatsFile)
	if err != nil {
		return nil, err
	}
	logger.Get().Info(context.Background(), "writing statistics",
		logger.String("file", r.FileName()), logger.String("token", r.Token()))
	return r, nil
}

func startAzimuth(ctx context.Context, cfg *config.Config, layout *config.Layout) (*azimuth.Updater, error) {
	var calc azimuth.Calculator = azimuth.Fixed(cfg.AzimuthFixedDeg)
	if cfg.AzimuthCommand != "" {
		cmd, err := azimuth.NewCommand(cfg.AzimuthCommand)
		if err != nil {
			return nil, err
		}
		calc = cmd
	}
	u := azimuth.NewUpdater(calc, layout.Latitude, layout.Longitude,
		azimuth.WithRefresh(cfg.AzimuthRefresh()))
	u.Start(ctx)
	return u, nil
}

// newPolicy returns nil when the layout has no experiment, in which case
// every dance is forwarded.
func newPolicy(layout *config.Layout, recorder stats.Recorder) (*policy.Policy, error) {
	if layout.Experiment == nil {
		logger.Get().Info(context.Background(), "no experiment configured, forwarding every dance")
		return nil, nil
	}
	rules, err := layout.Rules()
	if err != nil {
		return nil, err
	}
	p := policy.New(rules,
		policy.WithTolerance(layout.ToleranceRad()),
		policy.WithRecorder(recorder))
	total, today := p.Summary(time.Now())
	logger.Get().Info(context.Background(), "loaded experiment timetable",
		logger.Int("rules", total), logger.Int("rules_today", today))
	return p, nil
}

func newSides(cfg *config.Config, layout *config.Layout, az *azimuth.Updater, recorder stats.Recorder) ([]*app.HiveSide, error) {
	act := app.ActivationFromConfig(cfg)
	sides := make([]*app.HiveSide, 0, len(layout.Cameras))
	for _, cam := range layout.Cameras {
		side, err := app.NewHiveSide(cam, az, act,
			app.WithSideRecorder(recorder),
			app.WithDetectorOptions(
				dance.WithMaxGap(cfg.MaxGap()),
				dance.WithMinCount(cfg.WaggleMinCount),
				dance.WithMaxDistance(cfg.WaggleMaxDistance),
			))
		if err != nil {
			return nil, err
		}
		sides = append(sides, side)
	}
	logger.Get().Info(context.Background(), "loaded comb layout",
		logger.Int("cameras", len(sides)),
		logger.Int("actuators", layout.ActuatorCount()),
		logger.String("mode", act.Mode.String()))
	return sides, nil
}

func newConnector(cfg *config.Config, count int, recorder stats.Recorder) (*comb.Connector, error) {
	opts := []comb.Option{
		comb.WithCharacterDelay(cfg.CharacterDelay()),
		comb.WithReconnectInterval(cfg.ReconnectInterval()),
		comb.WithQueueSize(cfg.QueueSize),
		comb.WithRecorder(recorder),
	}
	switch comb.ModeForPort(cfg.CombPort) {
	case comb.ModeSerial:
		opts = append(opts, comb.WithDialer(comb.SerialDialer{Path: cfg.CombPort}))
	case comb.ModeAudio:
		player, err := comb.NewCommandPlayer(cfg.CombPort, cfg.AudioPlayer)
		if err != nil {
			return nil, err
		}
		opts = append(opts, comb.WithAudioPlayer(player))
	}
	return comb.NewConnector(count, opts...)
}
