package checkin

import (
	"github.com/jonboulle/clockwork"

	"github.com/tmarkwell/checkclock/internal/metrics"
)

// pendingDisconnect is the single deferred-deauth slot. Slot identity
// (pointer comparison against m.pending) guarantees a fire happens at
// most once per arming even when cancel and fire race.
type pendingDisconnect struct {
	aid    uint16
	timer  clockwork.Timer
	cancel chan struct{}
}

// armDisconnectLocked replaces any pending slot with a fresh timer.
// Last armed wins; two live timers are never allowed.
func (m *Machine) armDisconnectLocked(aid uint16) {
	m.cancelPendingLocked()
	p := &pendingDisconnect{
		aid:    aid,
		timer:  m.clk.NewTimer(m.cfg.DisconnectDelay),
		cancel: make(chan struct{}),
	}
	m.pending = p
	go m.waitDisconnect(p)
	m.log.Debug().
		Uint16("aid", aid).
		Dur("delay", m.cfg.DisconnectDelay).
		Msg("armed delayed disconnect")
}

// cancelPendingLocked stops and drains the timer so its goroutine and
// channel never leak.
func (m *Machine) cancelPendingLocked() {
	if m.pending == nil {
		return
	}
	close(m.pending.cancel)
	stopAndDrainTimer(m.pending.timer)
	m.pending = nil
}

func (m *Machine) waitDisconnect(p *pendingDisconnect) {
	select {
	case <-p.timer.Chan():
	case <-p.cancel:
		return
	}

	m.mu.Lock()
	if m.pending != p {
		// Replaced between fire and lock; the newer slot owns the action.
		m.mu.Unlock()
		return
	}
	m.pending = nil
	m.mu.Unlock()

	// The deauth call is I/O; keep it outside the state lock. Failure
	// is logged and the slot stays cleared so a future connect re-arms:
	// the station may simply have left already.
	if err := m.deauth(p.aid); err != nil {
		m.log.Warn().Err(err).Uint16("aid", p.aid).Msg("deauthenticate failed")
		return
	}
	metrics.Deauths.Inc()
	m.log.Info().Uint16("aid", p.aid).Msg("deauthenticated station")
}

// stopAndDrainTimer stops a timer and drains its channel if it already
// fired, per the time.Timer.Stop contract.
func stopAndDrainTimer(t clockwork.Timer) {
	if !t.Stop() {
		select {
		case <-t.Chan():
		default:
		}
	}
}
