package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/warden/internal/locker"
	"github.com/andresmejia3/warden/internal/utils"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports a locker relay could be attached to",
	// No database needed.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		ports, err := locker.Ports()
		if err != nil {
			utils.Die("Failed to enumerate serial ports", err, nil)
		}
		if len(ports) == 0 {
			fmt.Println("No serial ports found.")
			return
		}
		for _, p := range ports {
			fmt.Println(p)
		}
	},
}

func init() {
	rootCmd.AddCommand(portsCmd)
}
