package gen

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var RootCmd = &cobra.Command{
	Use:   "gen",
	Short: "Generators for rudis documentation",
	Long:  `Generators for rudis documentation`,
}

func init() {
	RootCmd.AddCommand(ManPagesCmd)
	RootCmd.AddCommand(MarkdownCmd)
}

// ensureDir creates dir if it is missing and tells out about it.
func ensureDir(out io.Writer, dir string) error {
	_, err := os.Stat(dir)
	if err == nil {
		return nil
	}

	if !os.IsNotExist(err) {
		return err
	}

	fmt.Fprintln(out, "Directory", dir, "does not exist, creating...")
	return os.MkdirAll(dir, 0750)
}

// addDirFlag registers a --dir flag completing to directories.
func addDirFlag(cmd *cobra.Command, dir *string, def string) {
	flags := cmd.PersistentFlags()

	flags.StringVar(dir, "dir", def, "the directory to write to.")

	// For bash-completion
	if err := flags.SetAnnotation("dir", cobra.BashCompSubdirsInDir, []string{}); err != nil {
		panic(err)
	}
}
