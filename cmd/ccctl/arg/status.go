package arg

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/tmarkwell/checkclock/internal/ipc"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show today's countdown state",
	Run: func(cmd *cobra.Command, args []string) {
		conn, obj, err := daemonObject()
		if err != nil {
			log.Fatal(err)
		}
		defer conn.Close()

		var result string
		err = obj.Call(ipc.InterfaceName+".GetStatus", 0).Store(&result)
		if err != nil {
			log.Fatal("Failed to call method:", err)
		}

		fmt.Println(result)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
