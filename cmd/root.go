package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/luma/rudis/cmd/gen"
)

// Path of an optional TOML config file
var configPath string

var RootCmd = &cobra.Command{
	Use:   "rudis",
	Short: "A RESP speaking key value server",
	Long: `Rudis is a key value server that speaks RESP2 and RESP3, so any
redis client can talk to it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a TOML config file")

	RootCmd.AddCommand(StartCmd)
	RootCmd.AddCommand(CliCmd)
	RootCmd.AddCommand(VersionCmd)
	RootCmd.AddCommand(gen.RootCmd)
}

func Execute() {
	if err := RootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
