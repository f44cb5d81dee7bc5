// Package engine drives the once-per-second main loop: read the clock,
// advance the check-in machine, render the display.
package engine

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/tmarkwell/checkclock/internal/ap"
	"github.com/tmarkwell/checkclock/internal/checkin"
	"github.com/tmarkwell/checkclock/internal/clock"
	"github.com/tmarkwell/checkclock/internal/display"
	"github.com/tmarkwell/checkclock/internal/metrics"
)

const readTimeout = 2 * time.Second

// Engine ties the device adapters to the state machine. Association
// events arrive on a channel from the access point watcher and are
// serialized here with the periodic tick.
type Engine struct {
	machine *checkin.Machine
	src     clock.TimeSource
	disp    display.Display
	events  <-chan ap.Event
	clk     clockwork.Clock
	log     zerolog.Logger
}

func New(machine *checkin.Machine, src clock.TimeSource, disp display.Display, events <-chan ap.Event, clk clockwork.Clock, log zerolog.Logger) *Engine {
	return &Engine{
		machine: machine,
		src:     src,
		disp:    disp,
		events:  events,
		clk:     clk,
		log:     log.With().Str("component", "engine").Logger(),
	}
}

// Run loops until ctx is cancelled. No cycle error is fatal: a failed
// clock read freezes the countdown for that cycle and the loop keeps
// going in degraded mode.
func (e *Engine) Run(ctx context.Context) error {
	ticker := e.clk.NewTicker(1 * time.Second)
	defer ticker.Stop()

	e.log.Info().Msg("engine started")
	e.cycle(ctx)

	for {
		select {
		case <-ctx.Done():
			e.log.Info().Msg("engine shutting down")
			e.machine.Close()
			e.disp.Clear()
			return nil
		case ev, ok := <-e.events:
			if !ok {
				e.log.Warn().Msg("access point event stream closed")
				e.events = nil
				continue
			}
			e.handleEvent(ev)
		case <-ticker.Chan():
			e.cycle(ctx)
		}
	}
}

func (e *Engine) handleEvent(ev ap.Event) {
	switch ev.Kind {
	case ap.StaConnected:
		e.machine.HandleConnect(ev.MAC, ev.AID)
	case ap.StaDisconnected:
		e.machine.HandleDisconnect(ev.MAC, ev.AID)
	}
}

func (e *Engine) cycle(ctx context.Context) {
	readCtx, cancel := context.WithTimeout(ctx, readTimeout)
	r, err := e.src.Read(readCtx)
	cancel()
	if err != nil {
		// Skip the tick entirely; frozen is better than corrupted.
		metrics.RTCErrors.Inc()
		e.log.Warn().Err(err).Msg("time source read failed, skipping cycle")
		e.disp.ShowBlank()
		return
	}

	e.machine.Tick(r)
	snap := e.machine.Snapshot()

	hours := int(snap.Remaining) / 3600
	minutes := (int(snap.Remaining) % 3600) / 60
	colon := r.Second%2 == 0
	if err := e.disp.Show(hours, minutes, colon); err != nil {
		e.log.Warn().Err(err).Msg("display write failed")
	}

	metrics.RemainingSeconds.Set(float64(snap.Remaining))
	if snap.Started {
		metrics.Started.Set(1)
	} else {
		metrics.Started.Set(0)
	}

	e.log.Debug().
		Str("time", r.String()).
		Int32("remaining", snap.Remaining).
		Str("phase", snap.Phase().String()).
		Msg("tick")

	// Once a minute, note the RTC's die temperature; handy for spotting
	// a failing module.
	if r.Second == 0 {
		if temp, err := e.src.Temperature(ctx); err == nil {
			e.log.Debug().Float64("temp_c", temp).Msg("rtc temperature")
		}
	}
}
