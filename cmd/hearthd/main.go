package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "hearthd",
	Short: "Hearth workspace orchestration daemon",
	Long:  `hearthd provisions, bills, and proxies developer workspace containers.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the hearthd version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
