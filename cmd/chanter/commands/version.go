package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the chanter version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("chanter", version)
	},
}
