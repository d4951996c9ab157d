// Package cmd contains the snkey tool commands.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var keyFile string

func init() {
	rootCmd.PersistentFlags().StringVarP(&keyFile, "key-file", "k", "zstore/storenode.key", "Path to the node private key.")
}

var rootCmd = &cobra.Command{
	Use:   "snkey",
	Short: "Storage node key management",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
