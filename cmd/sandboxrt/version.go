package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is set at release build time via -ldflags; "dev" outside of a
// release build.
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the sandboxrt version",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("sandboxrt version %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
