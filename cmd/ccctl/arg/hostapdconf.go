package arg

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/tmarkwell/checkclock/internal/ap"
	"github.com/tmarkwell/checkclock/internal/config"
)

var (
	confPath  string
	confIface string
)

var hostapdConfCmd = &cobra.Command{
	Use:   "hostapd-conf",
	Short: "Print the hostapd stanza matching the daemon's AP settings",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.LoadFromFile(confPath)
		if err != nil {
			log.Fatal("Failed to load config:", err)
		}
		fmt.Print(ap.HostapdConf(confIface, cfg.AP))
	},
}

func init() {
	hostapdConfCmd.Flags().StringVarP(&confPath, "config", "c", "/etc/checkclock/config.toml", "daemon config file")
	hostapdConfCmd.Flags().StringVarP(&confIface, "interface", "i", "wlan0", "wireless interface")
	rootCmd.AddCommand(hostapdConfCmd)
}
