package ap

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tmarkwell/checkclock/internal/checkin"
)

const cmdTimeout = 2 * time.Second

// Hostapd speaks the hostapd control interface: a unix datagram socket
// per radio. One connection runs commands, a second is ATTACHed for
// unsolicited events (the wpa_ctrl convention, so replies and events
// never interleave on one socket).
type Hostapd struct {
	log    zerolog.Logger
	events chan Event

	cmdMu sync.Mutex
	cmd   *net.UnixConn
	ev    *net.UnixConn

	localDir string

	mu       sync.Mutex
	macByAID map[uint16]checkin.MAC
	aidByMAC map[checkin.MAC]uint16

	closeOnce sync.Once
	closed    chan struct{}
}

// DialHostapd connects to the control socket of one hostapd interface,
// e.g. /var/run/hostapd/wlan0.
func DialHostapd(ctrlPath string, log zerolog.Logger) (*Hostapd, error) {
	dir, err := os.MkdirTemp("", "checkclock-ctrl-")
	if err != nil {
		return nil, fmt.Errorf("ctrl socket dir: %w", err)
	}

	h := &Hostapd{
		log:      log.With().Str("component", "hostapd").Logger(),
		events:   make(chan Event, 16),
		localDir: dir,
		macByAID: make(map[uint16]checkin.MAC),
		aidByMAC: make(map[checkin.MAC]uint16),
		closed:   make(chan struct{}),
	}

	h.cmd, err = dialUnixgram(ctrlPath, filepath.Join(dir, "cmd"))
	if err != nil {
		h.Close()
		return nil, err
	}
	h.ev, err = dialUnixgram(ctrlPath, filepath.Join(dir, "ev"))
	if err != nil {
		h.Close()
		return nil, err
	}

	if err := h.attach(); err != nil {
		h.Close()
		return nil, err
	}

	go h.readEvents()
	return h, nil
}

func dialUnixgram(remote, local string) (*net.UnixConn, error) {
	laddr := &net.UnixAddr{Name: local, Net: "unixgram"}
	raddr := &net.UnixAddr{Name: remote, Net: "unixgram"}
	conn, err := net.DialUnix("unixgram", laddr, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial hostapd ctrl %s: %w", remote, err)
	}
	return conn, nil
}

// attach subscribes the event connection to unsolicited messages.
func (h *Hostapd) attach() error {
	if err := h.ev.SetDeadline(time.Now().Add(cmdTimeout)); err != nil {
		return err
	}
	if _, err := h.ev.Write([]byte("ATTACH")); err != nil {
		return fmt.Errorf("attach: %w", err)
	}
	buf := make([]byte, 256)
	n, err := h.ev.Read(buf)
	if err != nil {
		return fmt.Errorf("attach reply: %w", err)
	}
	if strings.TrimSpace(string(buf[:n])) != "OK" {
		return fmt.Errorf("attach rejected: %q", string(buf[:n]))
	}
	return h.ev.SetDeadline(time.Time{})
}

func (h *Hostapd) Events() <-chan Event { return h.events }

func (h *Hostapd) readEvents() {
	buf := make([]byte, 2048)
	for {
		n, err := h.ev.Read(buf)
		if err != nil {
			select {
			case <-h.closed:
			default:
				h.log.Error().Err(err).Msg("event socket read failed")
			}
			close(h.events)
			return
		}
		line := strings.TrimSpace(string(buf[:n]))
		h.handleLine(line)
	}
}

func (h *Hostapd) handleLine(line string) {
	kind, mac, ok := ParseEvent(line)
	if !ok {
		return
	}
	switch kind {
	case StaConnected:
		aid, err := h.stationAID(mac)
		if err != nil {
			h.log.Warn().Err(err).Str("mac", mac.String()).Msg("aid lookup failed")
		}
		h.mu.Lock()
		if old, ok := h.aidByMAC[mac]; ok {
			delete(h.macByAID, old)
		}
		h.aidByMAC[mac] = aid
		h.macByAID[aid] = mac
		h.mu.Unlock()
		h.emit(Event{Kind: StaConnected, MAC: mac, AID: aid})
	case StaDisconnected:
		h.mu.Lock()
		aid := h.aidByMAC[mac]
		delete(h.aidByMAC, mac)
		delete(h.macByAID, aid)
		h.mu.Unlock()
		h.emit(Event{Kind: StaDisconnected, MAC: mac, AID: aid})
	}
}

func (h *Hostapd) emit(ev Event) {
	select {
	case h.events <- ev:
	default:
		h.log.Warn().Str("mac", ev.MAC.String()).Msg("event channel full, dropping")
	}
}

// stationAID asks hostapd for the association id of a connected MAC.
func (h *Hostapd) stationAID(mac checkin.MAC) (uint16, error) {
	reply, err := h.command("STA " + mac.String())
	if err != nil {
		return 0, err
	}
	return ParseStationAID(reply)
}

// Deauthenticate resolves the association id back to a MAC and issues
// the hostapd DEAUTHENTICATE command.
func (h *Hostapd) Deauthenticate(aid uint16) error {
	h.mu.Lock()
	mac, ok := h.macByAID[aid]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("no connected station with aid %d", aid)
	}
	reply, err := h.command("DEAUTHENTICATE " + mac.String())
	if err != nil {
		return err
	}
	if strings.TrimSpace(reply) != "OK" {
		return fmt.Errorf("deauthenticate %s: %q", mac, strings.TrimSpace(reply))
	}
	return nil
}

func (h *Hostapd) command(cmd string) (string, error) {
	h.cmdMu.Lock()
	defer h.cmdMu.Unlock()
	if err := h.cmd.SetDeadline(time.Now().Add(cmdTimeout)); err != nil {
		return "", err
	}
	if _, err := h.cmd.Write([]byte(cmd)); err != nil {
		return "", fmt.Errorf("%s: %w", cmd, err)
	}
	buf := make([]byte, 4096)
	n, err := h.cmd.Read(buf)
	if err != nil {
		return "", fmt.Errorf("%s reply: %w", cmd, err)
	}
	return string(buf[:n]), nil
}

func (h *Hostapd) Close() error {
	h.closeOnce.Do(func() {
		close(h.closed)
		if h.ev != nil {
			h.ev.Close()
		}
		if h.cmd != nil {
			h.cmd.Close()
		}
		if h.localDir != "" {
			os.RemoveAll(h.localDir)
		}
	})
	return nil
}

// ParseEvent recognizes the station lifecycle lines hostapd emits on an
// attached socket, e.g. "<3>AP-STA-CONNECTED aa:bb:cc:dd:ee:ff".
func ParseEvent(line string) (EventKind, checkin.MAC, bool) {
	// Strip the "<level>" prefix.
	if strings.HasPrefix(line, "<") {
		if i := strings.IndexByte(line, '>'); i >= 0 {
			line = line[i+1:]
		}
	}
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, checkin.MAC{}, false
	}
	var kind EventKind
	switch fields[0] {
	case "AP-STA-CONNECTED":
		kind = StaConnected
	case "AP-STA-DISCONNECTED":
		kind = StaDisconnected
	default:
		return 0, checkin.MAC{}, false
	}
	mac, err := checkin.ParseMAC(fields[1])
	if err != nil {
		return 0, checkin.MAC{}, false
	}
	return kind, mac, true
}

// ParseStationAID extracts the "aid=" field from a STA command reply.
func ParseStationAID(reply string) (uint16, error) {
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		if v, ok := strings.CutPrefix(line, "aid="); ok {
			aid, err := strconv.ParseUint(v, 10, 16)
			if err != nil {
				return 0, fmt.Errorf("bad aid %q: %w", v, err)
			}
			return uint16(aid), nil
		}
	}
	return 0, fmt.Errorf("no aid field in STA reply")
}
