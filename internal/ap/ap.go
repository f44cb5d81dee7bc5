// Package ap adapts the Wi-Fi access point stack: station association
// events in, deauthentication out.
package ap

import (
	"github.com/tmarkwell/checkclock/internal/checkin"
)

type EventKind int

const (
	StaConnected EventKind = iota
	StaDisconnected
)

// Event is one station association change, as the core consumes it.
type Event struct {
	Kind EventKind
	MAC  checkin.MAC
	AID  uint16
}

// AccessPoint is the contract the daemon wires to the state machine.
type AccessPoint interface {
	// Events delivers association changes until Close.
	Events() <-chan Event
	// Deauthenticate kicks the station holding the association id.
	Deauthenticate(aid uint16) error
	Close() error
}
