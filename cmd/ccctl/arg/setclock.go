package arg

import (
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/tmarkwell/checkclock/internal/ipc"
)

var fromSystem bool

var setClockCmd = &cobra.Command{
	Use:   "set-clock [rfc3339-timestamp]",
	Short: "Write the RTC from a timestamp or the system clock",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var stamp string
		switch {
		case fromSystem:
			stamp = time.Now().Format(time.RFC3339)
		case len(args) == 1:
			stamp = args[0]
		default:
			log.Fatal("provide a timestamp or use --from-system")
		}

		conn, obj, err := daemonObject()
		if err != nil {
			log.Fatal(err)
		}
		defer conn.Close()

		err = obj.Call(ipc.InterfaceName+".SetClock", 0, stamp).Store()
		if err != nil {
			log.Fatal("Failed to call method:", err)
		}

		fmt.Println("Clock set to", stamp)
	},
}

func init() {
	setClockCmd.Flags().BoolVar(&fromSystem, "from-system", false, "use the current system time")
	rootCmd.AddCommand(setClockCmd)
}
