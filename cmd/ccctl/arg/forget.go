package arg

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/tmarkwell/checkclock/internal/ipc"
)

var forgetCmd = &cobra.Command{
	Use:   "forget",
	Short: "Forget the learned phone so the next connection relearns",
	Run: func(cmd *cobra.Command, args []string) {
		conn, obj, err := daemonObject()
		if err != nil {
			log.Fatal(err)
		}
		defer conn.Close()

		err = obj.Call(ipc.InterfaceName+".ForgetDevice", 0).Store()
		if err != nil {
			log.Fatal("Failed to call method:", err)
		}

		fmt.Println("Device forgotten")
	},
}

func init() {
	rootCmd.AddCommand(forgetCmd)
}
