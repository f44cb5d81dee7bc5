package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	CheckIns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkclock_checkins_total",
		Help: "Accepted connections that started the daily countdown.",
	})
	Rejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkclock_rejections_total",
		Help: "Connections ignored because the station is not the known device.",
	})
	Relearns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkclock_relearns_total",
		Help: "Times the known device identity was overwritten.",
	})
	Deauths = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkclock_deauths_total",
		Help: "Delayed disconnects that fired successfully.",
	})
	SaveErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkclock_save_errors_total",
		Help: "Failed writes to the state store.",
	})
	RTCErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkclock_rtc_errors_total",
		Help: "Cycles skipped because the time source read failed.",
	})

	RemainingSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "checkclock_remaining_seconds",
		Help: "Seconds left on today's countdown.",
	})
	Started = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "checkclock_started",
		Help: "1 once today's check-in has happened.",
	})
)

// Serve exposes /metrics and /healthz until ctx is cancelled. addr
// empty means metrics are disabled.
func Serve(ctx context.Context, addr string, log zerolog.Logger) error {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("metrics listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
