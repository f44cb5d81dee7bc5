package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmarkwell/checkclock/internal/ap"
	"github.com/tmarkwell/checkclock/internal/checkin"
	"github.com/tmarkwell/checkclock/internal/clock"
	"github.com/tmarkwell/checkclock/internal/store"
)

type fakeSource struct {
	mu  sync.Mutex
	r   clock.Reading
	err error
}

func (f *fakeSource) Read(ctx context.Context) (clock.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return clock.Reading{}, f.err
	}
	return f.r, nil
}

func (f *fakeSource) Write(ctx context.Context, r clock.Reading) error { return nil }

func (f *fakeSource) Temperature(ctx context.Context) (float64, error) {
	return 0, errors.New("no sensor")
}

type shownFrame struct {
	hours, minutes int
	colon          bool
	blank          bool
}

type fakeDisplay struct {
	mu     sync.Mutex
	frames []shownFrame
	clears int
}

func (f *fakeDisplay) Show(hours, minutes int, colon bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, shownFrame{hours: hours, minutes: minutes, colon: colon})
	return nil
}

func (f *fakeDisplay) ShowBlank() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, shownFrame{blank: true})
	return nil
}

func (f *fakeDisplay) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	return nil
}

func (f *fakeDisplay) last(t *testing.T) shownFrame {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.frames)
	return f.frames[len(f.frames)-1]
}

type nopSaver struct{}

func (nopSaver) Save(store.Record) error { return nil }

func newTestEngine(src clock.TimeSource, disp *fakeDisplay, events <-chan ap.Event, rec store.Record) (*Engine, *checkin.Machine) {
	m := checkin.NewMachine(checkin.Config{Target: 28800}, clockwork.NewFakeClock(), nopSaver{}, func(uint16) error { return nil }, zerolog.Nop())
	m.Restore(rec)
	e := New(m, src, disp, events, clockwork.NewRealClock(), zerolog.Nop())
	return e, m
}

func TestCycleRendersRemainingAsHHMM(t *testing.T) {
	r := clock.Reading{Year: 2025, Month: 3, Day: 10, Hour: 8, Minute: 0, Second: 2}
	src := &fakeSource{r: r}
	disp := &fakeDisplay{}
	// 2h35m40s remaining renders as 02:35.
	e, _ := newTestEngine(src, disp, nil, store.Record{
		DayKey: uint32(r.DayKey()), Remaining: 2*3600 + 35*60 + 40, Started: true,
	})

	e.cycle(context.Background())
	frame := disp.last(t)
	assert.Equal(t, 2, frame.hours)
	assert.Equal(t, 35, frame.minutes)
	assert.True(t, frame.colon, "even second shows the colon")

	// Odd second blinks the colon off.
	src.mu.Lock()
	src.r.Second = 3
	src.mu.Unlock()
	e.cycle(context.Background())
	assert.False(t, disp.last(t).colon)
}

func TestCycleSkipsTickOnReadError(t *testing.T) {
	r := clock.Reading{Year: 2025, Month: 3, Day: 10, Hour: 8, Minute: 0, Second: 0}
	src := &fakeSource{r: r}
	disp := &fakeDisplay{}
	e, m := newTestEngine(src, disp, nil, store.Record{
		DayKey: uint32(r.DayKey()), Remaining: 100, Started: true,
	})

	e.cycle(context.Background()) // seeds the previous epoch
	src.mu.Lock()
	src.r.Second = 1
	src.mu.Unlock()
	e.cycle(context.Background())
	require.Equal(t, int32(99), m.Snapshot().Remaining)

	src.mu.Lock()
	src.err = errors.New("i2c timeout")
	src.mu.Unlock()
	e.cycle(context.Background())

	assert.Equal(t, int32(99), m.Snapshot().Remaining, "failed read must freeze the countdown")
	assert.True(t, disp.last(t).blank, "failed read renders the no-signal pattern")
}

func TestEventsDriveTheMachine(t *testing.T) {
	mac, err := checkin.ParseMAC("aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)

	src := &fakeSource{r: clock.Reading{Year: 2025, Month: 3, Day: 10, Hour: 8}}
	disp := &fakeDisplay{}
	e, m := newTestEngine(src, disp, nil, store.Record{Remaining: 28800})

	e.handleEvent(ap.Event{Kind: ap.StaConnected, MAC: mac, AID: 1})
	assert.True(t, m.Snapshot().Started)
	assert.True(t, m.Snapshot().Device.Present)
}

func TestRunStopsOnCancel(t *testing.T) {
	src := &fakeSource{r: clock.Reading{Year: 2025, Month: 3, Day: 10, Hour: 8}}
	disp := &fakeDisplay{}
	events := make(chan ap.Event)
	e, _ := newTestEngine(src, disp, events, store.Record{Remaining: 28800})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop on cancel")
	}

	disp.mu.Lock()
	defer disp.mu.Unlock()
	assert.NotZero(t, disp.clears, "display cleared on shutdown")
}
