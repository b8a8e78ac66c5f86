package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/luma/rudis/internal/meta"
)

var versionJSON bool

var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version and build info",
	RunE: func(cmd *cobra.Command, args []string) error {
		info := meta.GetInfo()

		if !versionJSON {
			fmt.Fprintln(cmd.OutOrStdout(), info.String())
			return nil
		}

		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

func init() {
	VersionCmd.Flags().BoolVar(&versionJSON, "json", false, "Print the build info as JSON")
}
