// Package ipc exposes the daemon's control surface on the system bus.
package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/tmarkwell/checkclock/internal/checkin"
	"github.com/tmarkwell/checkclock/internal/clock"
)

const (
	ObjectPath    = "/io/github/tmarkwell/checkclock"
	InterfaceName = "io.github.tmarkwell.checkclock.Manager"
	ServiceName   = "io.github.tmarkwell.checkclock"
)

// Status is the JSON document returned to ccctl.
type Status struct {
	DayKey       uint32 `json:"day_key"`
	Remaining    int32  `json:"remaining_seconds"`
	Started      bool   `json:"started"`
	Phase        string `json:"phase"`
	DeviceKnown  bool   `json:"device_known"`
	DeviceMAC    string `json:"device_mac,omitempty"`
	PendingAID   uint16 `json:"pending_aid,omitempty"`
	PendingArmed bool   `json:"pending_armed"`
}

// Manager is the object exported on the bus.
type Manager struct {
	Machine *checkin.Machine
	Source  clock.TimeSource
}

func (m *Manager) GetStatus() (string, *dbus.Error) {
	snap := m.Machine.Snapshot()
	st := Status{
		DayKey:      uint32(snap.DayKey),
		Remaining:   snap.Remaining,
		Started:     snap.Started,
		Phase:       snap.Phase().String(),
		DeviceKnown: snap.Device.Present,
	}
	if snap.Device.Present {
		st.DeviceMAC = snap.Device.MAC.String()
	}
	if aid, ok := m.Machine.PendingAID(); ok {
		st.PendingAID = aid
		st.PendingArmed = true
	}
	data, err := json.Marshal(st)
	if err != nil {
		return "", dbus.MakeFailedError(err)
	}
	return string(data), nil
}

// ForgetDevice clears the learned phone so the next connection relearns.
func (m *Manager) ForgetDevice() *dbus.Error {
	m.Machine.Forget()
	return nil
}

// SetClock writes an RFC 3339 timestamp to the time source. The
// timestamp's own zone is taken as the wall time to store.
func (m *Manager) SetClock(stamp string) *dbus.Error {
	t, err := time.Parse(time.RFC3339, stamp)
	if err != nil {
		return dbus.MakeFailedError(fmt.Errorf("parse %q: %w", stamp, err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Source.Write(ctx, clock.FromTime(t)); err != nil {
		return dbus.MakeFailedError(err)
	}
	return nil
}

// Serve exports the manager until ctx is cancelled.
func Serve(ctx context.Context, mgr *Manager) error {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf("failed to connect to system bus: %w", err)
	}
	defer conn.Close()

	reply, err := conn.RequestName(ServiceName, dbus.NameFlagDoNotQueue)
	if err != nil || reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("failed to request name %s: %w", ServiceName, err)
	}

	if err := conn.Export(mgr, dbus.ObjectPath(ObjectPath), InterfaceName); err != nil {
		return fmt.Errorf("failed to export interface: %w", err)
	}

	<-ctx.Done()
	return nil
}
