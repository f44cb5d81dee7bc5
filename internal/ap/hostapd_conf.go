package ap

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tmarkwell/checkclock/internal/config"
)

// HostapdConf renders the hostapd stanza for the radio the daemon
// expects: WPA2-PSK, the configured channel and station cap, and a
// control interface at the socket path the daemon attaches to.
func HostapdConf(iface string, cfg config.APConfig) string {
	var b strings.Builder
	fmt.Fprintf(&b, "interface=%s\n", iface)
	b.WriteString("driver=nl80211\n")
	fmt.Fprintf(&b, "ctrl_interface=%s\n", filepath.Dir(cfg.ControlSocket))
	fmt.Fprintf(&b, "ssid=%s\n", cfg.SSID)
	b.WriteString("hw_mode=g\n")
	fmt.Fprintf(&b, "channel=%d\n", cfg.Channel)
	fmt.Fprintf(&b, "max_num_sta=%d\n", cfg.MaxStations)
	b.WriteString("wpa=2\n")
	fmt.Fprintf(&b, "wpa_passphrase=%s\n", cfg.Passphrase)
	b.WriteString("wpa_key_mgmt=WPA-PSK\n")
	b.WriteString("rsn_pairwise=CCMP\n")
	return b.String()
}
