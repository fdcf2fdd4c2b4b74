// cmd/meal-scan/version.go
package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "1.0.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version",
	// skip config loading so version works anywhere
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "meal-scan version %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
