package arg

import (
	"fmt"
	"os"

	"github.com/godbus/dbus/v5"
	"github.com/spf13/cobra"

	"github.com/tmarkwell/checkclock/internal/ipc"
)

var rootCmd = &cobra.Command{
	Use:   "ccctl",
	Short: "ccctl is the command line tool for checkclock",
	Long: `ccctl talks to the checkclock daemon over D-Bus. Use it to
query the countdown, forget the learned phone, or set the clock.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// daemonObject opens the system bus and returns the daemon's object.
func daemonObject() (*dbus.Conn, dbus.BusObject, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}
	return conn, conn.Object(ipc.ServiceName, dbus.ObjectPath(ipc.ObjectPath)), nil
}
