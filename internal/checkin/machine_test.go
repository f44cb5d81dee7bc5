package checkin

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmarkwell/checkclock/internal/clock"
	"github.com/tmarkwell/checkclock/internal/store"
)

// memSaver records every save so tests can assert on write counts and
// the last committed record.
type memSaver struct {
	mu    sync.Mutex
	saves []store.Record
	fail  error
}

func (s *memSaver) Save(rec store.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.saves = append(s.saves, rec)
	return nil
}

func (s *memSaver) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saves)
}

func (s *memSaver) last() store.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves[len(s.saves)-1]
}

type testRig struct {
	m      *Machine
	clk    *clockwork.FakeClock
	saver  *memSaver
	deauth chan uint16
}

func newRig(t *testing.T, cfg Config) *testRig {
	t.Helper()
	rig := &testRig{
		clk:    clockwork.NewFakeClock(),
		saver:  &memSaver{},
		deauth: make(chan uint16, 8),
	}
	rig.m = NewMachine(cfg, rig.clk, rig.saver, func(aid uint16) error {
		rig.deauth <- aid
		return nil
	}, zerolog.Nop())
	return rig
}

func reading(day, hour, min, sec int) clock.Reading {
	return clock.Reading{Year: 2025, Month: 3, Day: day, Hour: hour, Minute: min, Second: sec}
}

func mustMAC(t *testing.T, s string) MAC {
	t.Helper()
	m, err := ParseMAC(s)
	require.NoError(t, err)
	return m
}

func waitDeauth(t *testing.T, ch chan uint16) (uint16, bool) {
	t.Helper()
	select {
	case aid := <-ch:
		return aid, true
	case <-time.After(500 * time.Millisecond):
		return 0, false
	}
}

func TestTickDecrementsOncePerSecond(t *testing.T) {
	rig := newRig(t, Config{Target: 300})
	day := reading(10, 8, 0, 0).DayKey()
	rig.m.Restore(store.Record{DayKey: uint32(day), Remaining: 5, Started: true})

	rig.m.Tick(reading(10, 8, 0, 0)) // seeds previous epoch only
	assert.Equal(t, int32(5), rig.m.Snapshot().Remaining)

	for i := 1; i <= 5; i++ {
		rig.m.Tick(reading(10, 8, 0, i))
		assert.Equal(t, int32(5-i), rig.m.Snapshot().Remaining)
	}

	// Exhausted: further ticks are no-ops, started stays true.
	rig.m.Tick(reading(10, 8, 0, 6))
	snap := rig.m.Snapshot()
	assert.Equal(t, int32(0), snap.Remaining)
	assert.True(t, snap.Started)
	assert.Equal(t, PhaseDone, snap.Phase())
}

func TestTickClockSetBackward(t *testing.T) {
	rig := newRig(t, Config{Target: 300})
	day := reading(10, 9, 0, 10).DayKey()
	rig.m.Restore(store.Record{DayKey: uint32(day), Remaining: 100, Started: true})

	rig.m.Tick(reading(10, 9, 0, 10))
	rig.m.Tick(reading(10, 9, 0, 5)) // 5 seconds backward
	assert.Equal(t, int32(100), rig.m.Snapshot().Remaining)

	// The next forward tick resumes from the new epoch.
	rig.m.Tick(reading(10, 9, 0, 6))
	assert.Equal(t, int32(99), rig.m.Snapshot().Remaining)
}

func TestTickLongStallClamped(t *testing.T) {
	rig := newRig(t, Config{Target: 300})
	day := reading(10, 9, 0, 0).DayKey()
	rig.m.Restore(store.Record{DayKey: uint32(day), Remaining: 200, Started: true})

	rig.m.Tick(reading(10, 9, 0, 0))
	rig.m.Tick(reading(10, 9, 2, 0)) // 120 seconds later
	assert.Equal(t, int32(140), rig.m.Snapshot().Remaining, "delta must clamp to 60")
}

func TestDayRolloverResets(t *testing.T) {
	rig := newRig(t, Config{Target: 300})
	day := reading(10, 23, 59, 59).DayKey()
	rig.m.Restore(store.Record{DayKey: uint32(day), Remaining: 42, Started: true})
	rig.m.Tick(reading(10, 23, 59, 59))

	rig.m.Tick(reading(11, 0, 0, 0))
	snap := rig.m.Snapshot()
	assert.Equal(t, reading(11, 0, 0, 0).DayKey(), snap.DayKey)
	assert.Equal(t, int32(300), snap.Remaining)
	assert.False(t, snap.Started)

	// The reset is force-saved.
	require.NotZero(t, rig.saver.count())
	rec := rig.saver.last()
	assert.Equal(t, int32(300), rec.Remaining)
	assert.False(t, rec.Started)
}

func TestDayRolloverIdempotentWhenWaiting(t *testing.T) {
	rig := newRig(t, Config{Target: 300})
	day := reading(10, 6, 0, 0).DayKey()
	rig.m.Restore(store.Record{DayKey: uint32(day), Remaining: 300, Started: false})

	rig.m.Tick(reading(11, 6, 0, 0))
	snap := rig.m.Snapshot()
	assert.Equal(t, int32(300), snap.Remaining)
	assert.False(t, snap.Started)
}

func TestRolloverKeepsKnownDevice(t *testing.T) {
	rig := newRig(t, Config{Target: 300, RelearnEnabled: true})
	mac := mustMAC(t, "aa:bb:cc:dd:ee:ff")
	rig.m.Restore(store.Record{DayKey: 20250310, Remaining: 0, Started: true, HaveMAC: true, MAC: mac})

	rig.m.Tick(reading(11, 0, 0, 1))
	snap := rig.m.Snapshot()
	assert.True(t, snap.Device.Present)
	assert.Equal(t, mac, snap.Device.MAC)
}

func TestFirstConnectionLearnsAndChecksIn(t *testing.T) {
	rig := newRig(t, Config{Target: 300, Policy: DisconnectFirstOfDay, RelearnEnabled: true, DisconnectDelay: 30 * time.Second})
	mac := mustMAC(t, "aa:bb:cc:dd:ee:ff")

	res := rig.m.HandleConnect(mac, 1)
	assert.True(t, res.Accepted)
	assert.True(t, res.Learned)
	assert.True(t, res.CheckedIn)
	assert.True(t, res.Scheduled)

	snap := rig.m.Snapshot()
	assert.True(t, snap.Started)
	assert.Equal(t, KnownDevice{Present: true, MAC: mac}, snap.Device)

	// Learn + check-in persisted immediately.
	require.NotZero(t, rig.saver.count())
	rec := rig.saver.last()
	assert.True(t, rec.Started)
	assert.True(t, rec.HaveMAC)
	assert.Equal(t, [6]byte(mac), rec.MAC)

	aid, armed := rig.m.PendingAID()
	assert.True(t, armed)
	assert.Equal(t, uint16(1), aid)
}

func TestUnknownDeviceRejectedAfterCheckIn(t *testing.T) {
	rig := newRig(t, Config{Target: 300, Policy: DisconnectFirstOfDay, RelearnEnabled: true})
	macA := mustMAC(t, "aa:bb:cc:dd:ee:ff")
	macB := mustMAC(t, "11:22:33:44:55:66")

	rig.m.HandleConnect(macA, 1)
	saves := rig.saver.count()

	res := rig.m.HandleConnect(macB, 2)
	assert.False(t, res.Accepted)
	assert.False(t, res.Scheduled)
	assert.Equal(t, macA, rig.m.Snapshot().Device.MAC, "known device must not change")
	assert.Equal(t, saves, rig.saver.count(), "rejection must not write state")

	aid, armed := rig.m.PendingAID()
	assert.True(t, armed)
	assert.Equal(t, uint16(1), aid, "pending disconnect must still target the first station")
}

func TestRelearnBeforeCheckIn(t *testing.T) {
	rig := newRig(t, Config{Target: 300, RelearnEnabled: true})
	macA := mustMAC(t, "aa:bb:cc:dd:ee:ff")
	macB := mustMAC(t, "11:22:33:44:55:66")
	rig.m.Restore(store.Record{Remaining: 300, HaveMAC: true, MAC: macA})

	res := rig.m.HandleConnect(macB, 3)
	assert.True(t, res.Accepted)
	assert.True(t, res.Learned)
	assert.Equal(t, macB, rig.m.Snapshot().Device.MAC)
}

func TestRelearnDisabled(t *testing.T) {
	rig := newRig(t, Config{Target: 300, RelearnEnabled: false})
	macA := mustMAC(t, "aa:bb:cc:dd:ee:ff")
	macB := mustMAC(t, "11:22:33:44:55:66")
	rig.m.Restore(store.Record{Remaining: 300, HaveMAC: true, MAC: macA})

	res := rig.m.HandleConnect(macB, 3)
	assert.False(t, res.Accepted)
	assert.Equal(t, macA, rig.m.Snapshot().Device.MAC)
}

// A finished countdown leaves started=true until rollover, so relearn
// stays blocked for the rest of the day.
func TestRelearnBlockedWhileDone(t *testing.T) {
	rig := newRig(t, Config{Target: 300, RelearnEnabled: true})
	macA := mustMAC(t, "aa:bb:cc:dd:ee:ff")
	macB := mustMAC(t, "11:22:33:44:55:66")
	rig.m.Restore(store.Record{Remaining: 0, Started: true, HaveMAC: true, MAC: macA})

	res := rig.m.HandleConnect(macB, 3)
	assert.False(t, res.Accepted)
	assert.Equal(t, PhaseDone, rig.m.Snapshot().Phase())
}

func TestDisconnectPolicyAlwaysVsFirstOfDay(t *testing.T) {
	mac := mustMAC(t, "aa:bb:cc:dd:ee:ff")

	always := newRig(t, Config{Target: 300, Policy: DisconnectAlways})
	always.m.HandleConnect(mac, 1)
	res := always.m.HandleConnect(mac, 2) // reconnect, already checked in
	assert.True(t, res.Accepted)
	assert.False(t, res.CheckedIn)
	assert.True(t, res.Scheduled)

	firstOnly := newRig(t, Config{Target: 300, Policy: DisconnectFirstOfDay})
	firstOnly.m.HandleConnect(mac, 1)
	res = firstOnly.m.HandleConnect(mac, 2)
	assert.True(t, res.Accepted)
	assert.False(t, res.Scheduled)
}

func TestThrottledSaveOnMinuteBoundary(t *testing.T) {
	rig := newRig(t, Config{Target: 600, SaveInterval: 60 * time.Second})
	day := reading(10, 8, 0, 0).DayKey()
	rig.m.Restore(store.Record{DayKey: uint32(day), Remaining: 180, Started: true})
	rig.m.Tick(reading(10, 8, 0, 0))

	tickSecond := func(offset int) {
		rig.clk.Advance(time.Second)
		rig.m.Tick(reading(10, 8, offset/60, offset%60))
	}

	// lastSave is unset, so the first minute boundary saves.
	for i := 1; i <= 60; i++ {
		tickSecond(i)
	}
	assert.Equal(t, int32(120), rig.m.Snapshot().Remaining)
	assert.Equal(t, 1, rig.saver.count(), "first minute boundary saves")

	// 30 more seconds: no boundary, no save.
	for i := 61; i <= 90; i++ {
		tickSecond(i)
	}
	assert.Equal(t, 1, rig.saver.count())

	// Next boundary, and 60 s of wall time have passed since the save.
	for i := 91; i <= 120; i++ {
		tickSecond(i)
	}
	assert.Equal(t, int32(60), rig.m.Snapshot().Remaining)
	assert.Equal(t, 2, rig.saver.count())
}

func TestThrottleSuppressesEarlyBoundary(t *testing.T) {
	rig := newRig(t, Config{Target: 600, SaveInterval: 60 * time.Second, MaxTickDelta: 60})
	day := reading(10, 8, 0, 0).DayKey()
	rig.m.Restore(store.Record{DayKey: uint32(day), Remaining: 180, Started: true})
	rig.m.Tick(reading(10, 8, 0, 0))

	// First boundary saves (no prior save on record).
	rig.clk.Advance(time.Second)
	rig.m.Tick(reading(10, 8, 1, 0))
	require.Equal(t, 1, rig.saver.count())

	// A 60 s reading jump hits the next boundary after only 1 s of
	// wall time; the throttle must hold the write back.
	rig.clk.Advance(time.Second)
	rig.m.Tick(reading(10, 8, 2, 0))
	assert.Equal(t, int32(60), rig.m.Snapshot().Remaining)
	assert.Equal(t, 1, rig.saver.count())
}

func TestSaveFailureKeepsMemoryState(t *testing.T) {
	rig := newRig(t, Config{Target: 300})
	rig.saver.fail = errors.New("flash worn out")
	mac := mustMAC(t, "aa:bb:cc:dd:ee:ff")

	res := rig.m.HandleConnect(mac, 1)
	assert.True(t, res.Accepted)
	snap := rig.m.Snapshot()
	assert.True(t, snap.Started)
	assert.Equal(t, mac, snap.Device.MAC)
}

func TestForgetClearsDevice(t *testing.T) {
	rig := newRig(t, Config{Target: 300})
	mac := mustMAC(t, "aa:bb:cc:dd:ee:ff")
	rig.m.Restore(store.Record{Remaining: 300, HaveMAC: true, MAC: mac})

	rig.m.Forget()
	assert.False(t, rig.m.Snapshot().Device.Present)
	require.Equal(t, 1, rig.saver.count())
	assert.False(t, rig.saver.last().HaveMAC)
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    DisconnectPolicy
		wantErr bool
	}{
		{in: "always", want: DisconnectAlways},
		{in: "first-of-day", want: DisconnectFirstOfDay},
		{in: "sometimes", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParsePolicy(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		assert.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
