package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tmarkwell/checkclock/internal/ap"
	"github.com/tmarkwell/checkclock/internal/checkin"
	"github.com/tmarkwell/checkclock/internal/clock"
	"github.com/tmarkwell/checkclock/internal/config"
	"github.com/tmarkwell/checkclock/internal/display"
	"github.com/tmarkwell/checkclock/internal/engine"
	"github.com/tmarkwell/checkclock/internal/ipc"
	"github.com/tmarkwell/checkclock/internal/metrics"
	"github.com/tmarkwell/checkclock/internal/rtc"
	"github.com/tmarkwell/checkclock/internal/store"
)

func main() {
	// check for argument to determine config location
	argPath := "/etc/checkclock/config.toml"
	if len(os.Args) > 1 {
		argPath = os.Args[1]
	}
	cfg, err := config.LoadFromFile(argPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", argPath).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("bad log_level")
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	log.Info().Str("config", argPath).Msg("checkclockd starting")

	policy, err := checkin.ParsePolicy(cfg.Policy.DisconnectPolicy)
	if err != nil {
		log.Fatal().Err(err).Msg("bad disconnect policy")
	}
	target := int32(cfg.Policy.TargetDuration.Std().Seconds())

	st, err := store.Open(cfg.StatePath, target)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.StatePath).Msg("failed to open state store")
	}
	defer st.Close()

	var src clock.TimeSource
	if cfg.Clock.SystemClock {
		src = clock.NewSystemSource(cfg.Clock.TimezoneOffsetMinutes)
		log.Info().Msg("using system clock")
	} else {
		ds, err := rtc.Open(cfg.Clock.I2CBus)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open RTC")
		}
		defer ds.Close()
		src = ds
	}

	var disp display.Display
	if cfg.Display.Console {
		disp = &display.Console{W: os.Stdout}
	} else {
		tm, err := display.OpenTM1637(cfg.Display.ClkPin, cfg.Display.DioPin, cfg.Display.Brightness)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open display")
		}
		disp = tm
	}

	hap, err := ap.DialHostapd(cfg.AP.ControlSocket, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Str("socket", cfg.AP.ControlSocket).Msg("failed to attach to hostapd")
	}
	defer hap.Close()

	machine := checkin.NewMachine(checkin.Config{
		Target:          target,
		Policy:          policy,
		RelearnEnabled:  *cfg.Policy.RelearnEnabled,
		DisconnectDelay: cfg.Policy.DisconnectDelay.Std(),
	}, clockwork.NewRealClock(), st, hap.Deauthenticate, log.Logger)

	rec, err := st.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load state record")
	}
	machine.Restore(rec)
	log.Info().
		Uint32("day", rec.DayKey).
		Int32("remaining", rec.Remaining).
		Bool("started", rec.Started).
		Bool("device_known", rec.HaveMAC).
		Msg("state restored")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ipc.Serve(ctx, &ipc.Manager{Machine: machine, Source: src}); err != nil {
			log.Error().Err(err).Msg("ipc service error")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := metrics.Serve(ctx, cfg.MetricsAddr, log.Logger); err != nil {
			log.Error().Err(err).Msg("metrics service error")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		e := engine.New(machine, src, disp, hap.Events(), clockwork.NewRealClock(), log.Logger)
		if err := e.Run(ctx); err != nil {
			log.Error().Err(err).Msg("engine error")
		}
	}()

	wg.Wait()
	log.Info().Msg("shutdown complete")
}
