package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

// smudgeCmd is the checkout half of the content filter.
var smudgeCmd = &cobra.Command{
	Use:   "smudge <file>",
	Short: "Restore an HDA from its tracked form (git smudge filter)",
	Long: `Restore the binary Houdini asset from the tracked content read on
stdin, writing it to stdout.

The archived original takes precedence: when the large object store
has the binary for this path it is emitted byte for byte. Otherwise
the text representation is collapsed back through hotl. When neither
works the tracked content passes through unchanged so no data is ever
lost; a later checkout on a better equipped machine restores it.

This command is normally wired into .git/config by "hdafilter install"
and invoked by git, not by hand.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		file := args[0]
		ctx := context.Background()
		f := newFilter(ctx)

		in := os.Stdin
		out := os.Stdout
		if params.smudge.fromFile {
			fh, err := os.Open(txtPath(file))
			if err != nil {
				wrapFatalln("cannot open "+txtPath(file), err)
				return
			}
			defer fh.Close()
			in = fh
		}
		if params.smudge.toFile {
			fh, err := os.Create(smudgedPath(file))
			if err != nil {
				wrapFatalln("cannot create "+smudgedPath(file), err)
				return
			}
			defer fh.Close()
			out = fh
		}

		if err := f.Smudge(ctx, file, in, out); err != nil {
			wrapFatalln("smudge failed for "+file, err)
			return
		}
	},
}

func init() {
	rootCmd.AddCommand(smudgeCmd)
	smudgeCmd.Flags().BoolVar(&params.smudge.fromFile, "from-file", false,
		"debug: read the text form from the <file> .hda_txt sibling instead of stdin")
	smudgeCmd.Flags().BoolVar(&params.smudge.toFile, "to-file", false,
		"debug: write the asset next to <file> with a _smudged suffix instead of stdout")
}
