// Command runplanectl drives a runplane server from the terminal.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	principal string
)

var rootCmd = &cobra.Command{
	Use:           "runplanectl",
	Short:         "Create, resume and follow runs on a runplane server",
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8000", "runplane HTTP address")
	rootCmd.PersistentFlags().StringVar(&principal, "principal", "", "principal sent as X-Principal")

	rootCmd.AddCommand(threadsCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(streamCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
