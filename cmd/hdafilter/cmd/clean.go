package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

// cleanCmd is the checkin half of the content filter. git feeds the
// worktree bytes on stdin and stores whatever comes out on stdout.
var cleanCmd = &cobra.Command{
	Use:   "clean <file>",
	Short: "Convert an HDA to its tracked text form (git clean filter)",
	Long: `Convert a binary Houdini asset read from stdin into the text
representation stored by git, writing it to stdout.

The original binary is archived in the configured large object store
first, so the exact bytes stay retrievable even if hotl conversion is
not reversible bit for bit. When hotl is missing the input passes
through unchanged (or as a pointer when the store accepted it).

This command is normally wired into .git/config by "hdafilter install"
and invoked by git, not by hand. The <file> argument is only used for
reporting and as the archive key; git passes it via the %f placeholder.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		file := args[0]
		ctx := context.Background()
		f := newFilter(ctx)

		in := os.Stdin
		out := os.Stdout
		if params.clean.fromFile {
			fh, err := os.Open(file)
			if err != nil {
				wrapFatalln("cannot open "+file, err)
				return
			}
			defer fh.Close()
			in = fh
		}
		if params.clean.toFile {
			fh, err := os.Create(txtPath(file))
			if err != nil {
				wrapFatalln("cannot create "+txtPath(file), err)
				return
			}
			defer fh.Close()
			out = fh
		}

		if err := f.Clean(ctx, file, in, out); err != nil {
			// a non-zero exit tells git to abort the checkin
			wrapFatalln("clean failed for "+file, err)
			return
		}
	},
}

func init() {
	rootCmd.AddCommand(cleanCmd)
	cleanCmd.Flags().BoolVar(&params.clean.fromFile, "from-file", false,
		"debug: read the asset from <file> instead of stdin")
	cleanCmd.Flags().BoolVar(&params.clean.toFile, "to-file", false,
		"debug: write the text form next to <file> with an .hda_txt suffix instead of stdout")
}
