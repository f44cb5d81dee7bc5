package checkin

import (
	"fmt"
	"net"
)

// MAC is a station hardware address. Fixed-size so it can be compared
// and persisted directly.
type MAC [6]byte

func ParseMAC(s string) (MAC, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return MAC{}, err
	}
	if len(hw) != 6 {
		return MAC{}, fmt.Errorf("mac %q: want 6 bytes, got %d", s, len(hw))
	}
	var m MAC
	copy(m[:], hw)
	return m, nil
}

func (m MAC) String() string {
	return net.HardwareAddr(m[:]).String()
}
