package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"sdx/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the SDX version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("SDX version %s\n", version.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
