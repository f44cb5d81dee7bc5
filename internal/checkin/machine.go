package checkin

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/tmarkwell/checkclock/internal/clock"
	"github.com/tmarkwell/checkclock/internal/metrics"
	"github.com/tmarkwell/checkclock/internal/store"
)

// DisconnectPolicy selects when an accepted connection schedules a
// delayed deauthentication.
type DisconnectPolicy int

const (
	// DisconnectAlways arms the deauth timer on every accepted connect.
	DisconnectAlways DisconnectPolicy = iota
	// DisconnectFirstOfDay arms it only on the connect that starts the
	// day's countdown.
	DisconnectFirstOfDay
)

// ParsePolicy maps the config spelling to a policy value.
func ParsePolicy(s string) (DisconnectPolicy, error) {
	switch s {
	case "always":
		return DisconnectAlways, nil
	case "first-of-day":
		return DisconnectFirstOfDay, nil
	}
	return 0, fmt.Errorf("unknown disconnect policy %q", s)
}

// Phase is derived from the state record, never stored.
type Phase int

const (
	PhaseWaiting Phase = iota // not started today
	PhaseRunning              // started, time left
	PhaseDone                 // started, countdown exhausted
)

func (p Phase) String() string {
	switch p {
	case PhaseWaiting:
		return "waiting"
	case PhaseRunning:
		return "running"
	case PhaseDone:
		return "done"
	}
	return "unknown"
}

// KnownDevice is the single phone identity the machine accepts.
type KnownDevice struct {
	Present bool
	MAC     MAC
}

// State is the machine's snapshot. Remaining is clamped at 0 and only
// decreases while Started is true.
type State struct {
	DayKey    clock.DayKey
	Remaining int32
	Started   bool
	Device    KnownDevice
}

func (s State) Phase() Phase {
	switch {
	case !s.Started:
		return PhaseWaiting
	case s.Remaining > 0:
		return PhaseRunning
	default:
		return PhaseDone
	}
}

// Config carries the policy knobs for a Machine.
type Config struct {
	Target          int32 // countdown target, seconds
	Policy          DisconnectPolicy
	RelearnEnabled  bool
	DisconnectDelay time.Duration
	SaveInterval    time.Duration // throttle for opportunistic saves
	MaxTickDelta    int64         // clamp for one tick's elapsed seconds
}

func (c *Config) setDefaults() {
	if c.SaveInterval <= 0 {
		c.SaveInterval = 60 * time.Second
	}
	if c.MaxTickDelta <= 0 {
		c.MaxTickDelta = 60
	}
	if c.DisconnectDelay <= 0 {
		c.DisconnectDelay = 30 * time.Second
	}
}

// Saver is what the machine needs from the persistence layer.
type Saver interface {
	Save(store.Record) error
}

// DeauthFunc targets the access point's disconnect action.
type DeauthFunc func(aid uint16) error

// ConnectResult reports what HandleConnect decided; used by callers for
// logging and by tests.
type ConnectResult struct {
	Accepted  bool
	Learned   bool // device identity written (first learn or relearn)
	CheckedIn bool // this connect started the countdown
	Scheduled bool // a delayed disconnect was armed
}

// Machine owns all check-in state. Every entry point takes the one
// mutex, so the engine tick, the AP event handlers and the disconnect
// timer callback serialize against each other.
type Machine struct {
	cfg    Config
	clk    clockwork.Clock
	saver  Saver
	deauth DeauthFunc
	log    zerolog.Logger

	mu       sync.Mutex
	state    State
	prevSet  bool
	prev     int64 // epoch of the previous tick's reading
	lastSave time.Time
	pending  *pendingDisconnect
}

func NewMachine(cfg Config, clk clockwork.Clock, saver Saver, deauth DeauthFunc, log zerolog.Logger) *Machine {
	cfg.setDefaults()
	return &Machine{
		cfg:    cfg,
		clk:    clk,
		saver:  saver,
		deauth: deauth,
		log:    log.With().Str("component", "checkin").Logger(),
	}
}

// Restore seeds the machine from the persisted record at boot.
func (m *Machine) Restore(rec store.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = State{
		DayKey:    clock.DayKey(rec.DayKey),
		Remaining: rec.Remaining,
		Started:   rec.Started,
		Device:    KnownDevice{Present: rec.HaveMAC, MAC: MAC(rec.MAC)},
	}
	if m.state.Remaining < 0 {
		m.state.Remaining = 0
	}
}

func (m *Machine) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// PendingAID reports the armed disconnect slot, if any.
func (m *Machine) PendingAID() (uint16, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return 0, false
	}
	return m.pending.aid, true
}

// HandleConnect runs the acceptance policy for one station association.
func (m *Machine) HandleConnect(mac MAC, aid uint16) ConnectResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res ConnectResult
	switch {
	case !m.state.Device.Present:
		m.state.Device = KnownDevice{Present: true, MAC: mac}
		res.Accepted = true
		res.Learned = true
		m.log.Info().Str("mac", mac.String()).Msg("learned device")
	case m.state.Device.MAC == mac:
		res.Accepted = true
	case m.cfg.RelearnEnabled && !m.state.Started:
		m.state.Device = KnownDevice{Present: true, MAC: mac}
		res.Accepted = true
		res.Learned = true
		metrics.Relearns.Inc()
		m.log.Info().Str("mac", mac.String()).Msg("relearned device")
	default:
		metrics.Rejections.Inc()
		m.log.Info().
			Str("mac", mac.String()).
			Str("known", m.state.Device.MAC.String()).
			Bool("started", m.state.Started).
			Msg("rejected unknown device")
		return res
	}

	if !m.state.Started {
		m.state.Started = true
		res.CheckedIn = true
		metrics.CheckIns.Inc()
		m.log.Info().
			Str("mac", mac.String()).
			Int32("remaining", m.state.Remaining).
			Msg("checked in")
	}

	// Identity learn and check-in start are transitions that must not
	// be lost; one immediate save covers whichever happened.
	if res.Learned || res.CheckedIn {
		m.saveLocked()
	}

	if m.cfg.Policy == DisconnectAlways || (m.cfg.Policy == DisconnectFirstOfDay && res.CheckedIn) {
		m.armDisconnectLocked(aid)
		res.Scheduled = true
	}
	return res
}

// HandleDisconnect cancels the pending deauth when the departing
// association is the one the timer targets. A different association
// leaving does not preempt the armed slot.
func (m *Machine) HandleDisconnect(mac MAC, aid uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending != nil && m.pending.aid == aid {
		m.cancelPendingLocked()
		m.log.Debug().Uint16("aid", aid).Msg("station left before deauth fired; cancelled")
	}
}

// Tick advances the countdown with a fresh wall-clock reading. Callers
// skip Tick entirely when the time source read failed, which freezes
// rather than corrupts state.
func (m *Machine) Tick(r clock.Reading) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Rollover before the decrement, on the freshly read date.
	if key := r.DayKey(); key != m.state.DayKey {
		m.log.Info().
			Uint32("old", uint32(m.state.DayKey)).
			Uint32("new", uint32(key)).
			Msg("day rollover")
		m.state.DayKey = key
		m.state.Remaining = m.cfg.Target
		m.state.Started = false
		m.saveLocked()
	}

	epoch := r.Epoch()
	if !m.prevSet {
		m.prevSet = true
		m.prev = epoch
		return
	}
	delta := epoch - m.prev
	m.prev = epoch
	if delta < 0 {
		delta = 0 // clock set backward
	}
	if delta > m.cfg.MaxTickDelta {
		delta = m.cfg.MaxTickDelta // long stall, don't overshoot
	}

	if !m.state.Started || m.state.Remaining <= 0 || delta == 0 {
		return
	}
	dec := int32(delta)
	if dec > m.state.Remaining {
		dec = m.state.Remaining
	}
	m.state.Remaining -= dec
	if m.state.Remaining == 0 {
		m.log.Info().Msg("countdown finished")
	}

	// Routine ticks persist on minute boundaries, rate-limited so the
	// flash isn't written every second.
	if m.state.Remaining%60 == 0 && m.clk.Now().Sub(m.lastSave) >= m.cfg.SaveInterval {
		m.saveLocked()
	}
}

// Forget drops the learned device identity and persists immediately.
func (m *Machine) Forget() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.Device.Present {
		return
	}
	m.log.Info().Str("mac", m.state.Device.MAC.String()).Msg("forgetting device")
	m.state.Device = KnownDevice{}
	m.saveLocked()
}

// Close cancels any pending disconnect and force-saves.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelPendingLocked()
	m.saveLocked()
}

// saveLocked writes the current state through the saver. A failed save
// leaves memory correct; the next successful write catches up.
func (m *Machine) saveLocked() {
	rec := store.Record{
		DayKey:    uint32(m.state.DayKey),
		Remaining: m.state.Remaining,
		Started:   m.state.Started,
		HaveMAC:   m.state.Device.Present,
		MAC:       m.state.Device.MAC,
	}
	if err := m.saver.Save(rec); err != nil {
		metrics.SaveErrors.Inc()
		m.log.Error().Err(err).Msg("state save failed")
		return
	}
	m.lastSave = m.clk.Now()
}
