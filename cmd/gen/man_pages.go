package gen

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"

	"github.com/luma/rudis/internal/meta"
)

var (
	manDir      string
	markdownDir string
)

var ManPagesCmd = &cobra.Command{
	Use:   "man",
	Short: "Generate man pages for rudis",
	Long: `Generates up-to-date man pages for rudis and every subcommand. By
default the pages are written to the "man" directory under the current
directory.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		header := &doc.GenManHeader{
			Section: "1",
			Manual:  "Rudis Manual",
			Source:  fmt.Sprintf("rudis %s", meta.VersionString()),
		}

		if !strings.HasSuffix(manDir, string(filepath.Separator)) {
			manDir += string(filepath.Separator)
		}

		out := cmd.OutOrStdout()
		if err := ensureDir(out, manDir); err != nil {
			return err
		}

		cmd.Root().DisableAutoGenTag = true

		fmt.Fprintln(out, "Generating rudis man pages in", manDir, "...")

		if err := doc.GenManTree(cmd.Root(), header, manDir); err != nil {
			return err
		}

		fmt.Fprintln(out, "Done.")

		return nil
	},
}

var MarkdownCmd = &cobra.Command{
	Use:   "markdown",
	Short: "Generate markdown docs for rudis",
	Long: `Generates one markdown file per command, linked together, in the
"docs" directory under the current directory by default.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if err := ensureDir(out, markdownDir); err != nil {
			return err
		}

		cmd.Root().DisableAutoGenTag = true

		fmt.Fprintln(out, "Generating rudis markdown docs in", markdownDir, "...")

		if err := doc.GenMarkdownTree(cmd.Root(), markdownDir); err != nil {
			return err
		}

		fmt.Fprintln(out, "Done.")

		return nil
	},
}

func init() {
	addDirFlag(ManPagesCmd, &manDir, "man/")
	addDirFlag(MarkdownCmd, &markdownDir, "docs/")
}
