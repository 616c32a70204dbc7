package cmd

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/oneconcern/hdafilter/pkg/gitattr"
	"github.com/oneconcern/hdafilter/pkg/gitcli"
	"github.com/oneconcern/hdafilter/pkg/locator"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	filterClean    = "filter.hda.clean"
	filterSmudge   = "filter.hda.smudge"
	filterRequired = "filter.hda.required"

	hdaAttributes = "*.hda"
)

// installCmd wires the filter into git: config entries, the
// .gitattributes pattern and optionally a copy of the binary.
var installCmd = &cobra.Command{
	Use:   "install [install_dir]",
	Short: "Register the HDA filter with git",
	Long: `Register the HDA content filter with git.

This sets the filter.hda.clean and filter.hda.smudge commands, marks
the filter as required, records the hotl location found on this
machine, and adds the *.hda pattern to the repository .gitattributes.

With an install_dir argument the hdafilter binary is also copied
there, for sharing a fixed location across users.

By default the configuration is written to the local repository; use
--global to apply it machine-wide.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		git, err := gitcli.New(gitcli.WithLogger(logger))
		if err != nil {
			wrapFatalln("git is required to install the filter", err)
			return
		}

		if len(args) > 0 {
			if err := copySelf(args[0]); err != nil {
				wrapFatalln("cannot install the binary to "+args[0], err)
				return
			}
		}

		hotlPath := params.install.hotl
		if hotlPath != "" {
			if _, err := os.Stat(hotlPath); err != nil {
				wrapFatalln("hotl not found at "+hotlPath, err)
				return
			}
		} else {
			loc := locator.New(git, locator.WithLogger(logger))
			if found, ok := loc.Hotl(ctx); ok {
				hotlPath = found
			}
		}

		local := params.install.local
		if hotlPath != "" {
			if err := git.ConfigSet(ctx, locator.ConfigHotl, hotlPath, local); err != nil {
				wrapFatalln("cannot record the hotl location", err)
				return
			}
			infoLogger.Println("using hotl at", hotlPath)
		} else {
			infoLogger.Println("hotl not found; checkins will keep assets binary until Houdini is installed")
		}

		self := selfCommand()
		settings := [][2]string{
			{filterClean, self + " clean %f"},
			{filterSmudge, self + " smudge %f"},
			{filterRequired, "true"},
		}
		for _, kv := range settings {
			if err := git.ConfigSet(ctx, kv[0], kv[1], local); err != nil {
				wrapFatalln("cannot set "+kv[0], err)
				return
			}
		}

		if err := installAttributes(ctx, git); err != nil {
			wrapFatalln("cannot update .gitattributes", err)
			return
		}
		infoLogger.Println("HDA filter installed")
	},
}

// installAttributes merges the *.hda pattern into the repository
// .gitattributes, preserving whatever else is in the file.
func installAttributes(ctx context.Context, git *gitcli.Git) error {
	top, err := git.TopLevel(ctx)
	if err != nil {
		return err
	}
	fs := afero.NewOsFs()
	path := filepath.Join(top, ".gitattributes")
	file, err := gitattr.Load(fs, path)
	if err != nil {
		return err
	}
	set := file.Pattern(hdaAttributes)
	set.Set("-text", "lockable")
	set.SetValue("filter", "hda")
	set.SetValue("diff", "hda")
	set.SetValue("merge", "hda")
	return file.Save(fs, path)
}

// selfCommand is the command git should run for this filter. A bare
// name is fine when the binary resolves on PATH, otherwise the
// absolute path is pinned into the config.
func selfCommand() string {
	const name = "hdafilter"
	if _, err := exec.LookPath(name); err == nil {
		return name
	}
	self, err := os.Executable()
	if err != nil {
		logger.Warn("cannot resolve the running binary, assuming it is on PATH", zap.Error(err))
		return name
	}
	return filepath.ToSlash(self)
}

func copySelf(dir string) error {
	self, err := os.Executable()
	if err != nil {
		return err
	}
	src, err := os.Open(self)
	if err != nil {
		return err
	}
	defer src.Close()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	dst, err := os.OpenFile(filepath.Join(dir, filepath.Base(self)), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return err
	}
	return dst.Close()
}

func init() {
	rootCmd.AddCommand(installCmd)
	installCmd.Flags().StringVar(&params.install.hotl, "hotl", "",
		"path to the hotl executable, overriding the platform search")
	installCmd.Flags().BoolVar(&params.install.local, "local", true,
		"write the git configuration to the local repository (use --local=false for --global)")
}
