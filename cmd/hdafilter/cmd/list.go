package cmd

import (
	"context"
	"os"

	units "github.com/docker/go-units"
	"github.com/fatih/color"
	"github.com/oneconcern/hdafilter/pkg/gitcli"
	"github.com/oneconcern/hdafilter/pkg/locator"
	"github.com/spf13/cobra"
)

// listCmd surveys the hotl installs this machine could use.
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List hotl candidates found on this machine",
	Long: `List every hotl executable found in the platform install locations,
newest Houdini version first, plus any location pinned in git config.
The first usable entry is the one the filter picks.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		if git, err := gitcli.New(gitcli.WithLogger(logger)); err == nil {
			if pinned, err := git.ConfigGet(ctx, locator.ConfigHotl); err == nil && pinned != "" {
				listLine("pinned", pinned)
			}
		}
		candidates := locator.Candidates()
		if len(candidates) == 0 {
			infoLogger.Println("no Houdini installation found")
			return
		}
		for _, candidate := range candidates {
			listLine("found", candidate)
		}
	},
}

func listLine(tag, path string) {
	fi, err := os.Stat(path)
	if err != nil {
		infoLogger.Printf("%s %s", color.RedString("%-6s", "absent"), path)
		return
	}
	infoLogger.Printf("%s %s (%s)", color.GreenString("%-6s", tag), path, units.HumanSize(float64(fi.Size())))
}

func init() {
	rootCmd.AddCommand(listCmd)
}
