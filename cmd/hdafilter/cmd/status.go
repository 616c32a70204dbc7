package cmd

import (
	"context"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/oneconcern/hdafilter/pkg/gitattr"
	"github.com/oneconcern/hdafilter/pkg/gitcli"
	"github.com/oneconcern/hdafilter/pkg/locator"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// statusCmd reports what the filter would actually do on this machine.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the filter installation and tool availability",
	Long: `Show how the HDA filter is set up here: whether hotl and git-lfs
are usable, which filter commands git is configured with, and the
.gitattributes entry for *.hda files.

Every line degrades to a defined behavior, so a missing tool is
reported as a capability, not an error.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		statusLine("version", NewVersionInfo().Version, true)

		git, err := gitcli.New(gitcli.WithLogger(logger))
		if err != nil {
			statusLine("git", "not found", false)
			return
		}
		loc := locator.New(git, locator.WithLogger(logger))

		if path, ok := loc.Hotl(ctx); ok {
			statusLine("hotl", path, true)
		} else {
			statusLine("hotl", "not found (assets stay binary on checkin)", false)
		}
		if clean, smudge, ok := loc.LFS(ctx); ok {
			statusLine("lfs clean", clean, true)
			statusLine("lfs smudge", smudge, true)
		} else {
			statusLine("git-lfs", "not usable (originals are not archived)", false)
		}

		for _, key := range []string{filterClean, filterSmudge, filterRequired, locator.ConfigHotl, configTimeout} {
			value := configValue(ctx, git, key)
			statusLine(key, value, value != "")
		}

		statusAttributes(ctx, git)
	},
}

func statusAttributes(ctx context.Context, git *gitcli.Git) {
	paths := make([]string, 0, 2)
	if top, err := git.TopLevel(ctx); err == nil {
		paths = append(paths, filepath.Join(top, ".gitattributes"))
	} else {
		statusLine(".gitattributes", "not in a git worktree", false)
	}
	if gitDir, err := git.GitDir(ctx); err == nil {
		paths = append(paths, filepath.Join(gitDir, "info", "attributes"))
	}

	found := false
	for _, path := range paths {
		file, err := gitattr.Load(afero.NewOsFs(), path)
		if err != nil {
			statusLine(path, err.Error(), false)
			continue
		}
		set := file.Pattern(hdaAttributes)
		if set.Len() == 0 {
			continue
		}
		found = true
		statusLine(path, hdaAttributes+" "+set.String(), set.Has("filter"))
	}
	if !found && len(paths) > 0 {
		statusLine(hdaAttributes, "no attributes (run hdafilter install)", false)
	}
}

func configValue(ctx context.Context, git *gitcli.Git, key string) string {
	args := []string{"config"}
	if params.status.local {
		args = append(args, "--local")
	}
	args = append(args, "--get", key)
	out, err := git.Run(ctx, args...)
	if err != nil {
		return ""
	}
	return out
}

func statusLine(key, value string, ok bool) {
	if value == "" {
		value = "unset"
		ok = false
	}
	if ok {
		infoLogger.Printf("%-20s %s", key+":", color.GreenString("%s", value))
	} else {
		infoLogger.Printf("%-20s %s", key+":", color.RedString("%s", value))
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&params.status.local, "local", false,
		"only report configuration from the local repository scope")
}
