package cmd

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/oneconcern/hdafilter/pkg/archive"
	"github.com/oneconcern/hdafilter/pkg/filter"
	"github.com/oneconcern/hdafilter/pkg/gitcli"
	"github.com/oneconcern/hdafilter/pkg/hotl"
	"github.com/oneconcern/hdafilter/pkg/lfs"
	"github.com/oneconcern/hdafilter/pkg/locator"
	"github.com/oneconcern/hdafilter/pkg/storage/localfs"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// configTimeout is the per-repo override for external tool timeouts
const configTimeout = "hdafilter.timeout"

// newFilter assembles the state machine from whatever tools this
// machine actually has. Missing tools are capabilities, not errors:
// with nothing installed the filter is an exact pass-through.
func newFilter(ctx context.Context) *filter.Filter {
	git, err := gitcli.New(gitcli.WithLogger(logger))
	if err != nil {
		logger.Warn("git not found, filter runs inert", zap.Error(err))
		git = nil
	}
	loc := locator.New(git, locator.WithLogger(logger))
	timeout := toolTimeout(ctx, git)

	opts := []filter.Option{
		filter.WithLogger(logger),
		filter.WithArchiver(newArchiver(ctx, git, loc, timeout)),
	}
	if path, ok := loc.Hotl(ctx); ok {
		opts = append(opts, filter.WithConverter(hotl.New(path,
			hotl.WithTimeout(timeout),
			hotl.WithLogger(logger),
			hotl.WithFilterVersion(NewVersionInfo().Version),
		)))
	}
	return filter.New(opts...)
}

// newArchiver picks the large-object backend per the archive setting:
// auto (git-lfs when the repo has it), lfs, localfs, none.
func newArchiver(ctx context.Context, git *gitcli.Git, loc *locator.Locator, timeout time.Duration) archive.Archiver {
	mode := strings.ToLower(config.Archive)
	switch mode {
	case "none":
		return archive.NewNoop()
	case "localfs":
		if git == nil {
			return archive.NewNoop()
		}
		gitDir, err := git.GitDir(ctx)
		if err != nil {
			logger.Warn("no git directory, disabling the local archive", zap.Error(err))
			return archive.NewNoop()
		}
		base := afero.NewBasePathFs(afero.NewOsFs(), filepath.Join(gitDir, "hda", "objects"))
		return archive.NewStore(localfs.New(base))
	case "lfs", "auto":
		clean, smudge, ok := loc.LFS(ctx)
		if !ok {
			if mode == "lfs" {
				logger.Warn("archive backend is lfs but git-lfs is not usable here")
			}
			return archive.NewNoop()
		}
		return archive.NewLFS(lfs.NewClient(clean, smudge,
			lfs.WithTimeout(timeout),
			lfs.WithLogger(logger),
		))
	default:
		logger.Warn("unknown archive backend, running without a store", zap.String("archive", mode))
		return archive.NewNoop()
	}
}

func toolTimeout(ctx context.Context, git *gitcli.Git) time.Duration {
	value := config.Timeout
	if git != nil {
		if override, err := git.ConfigGet(ctx, configTimeout); err == nil && override != "" {
			value = override
		}
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		logger.Warn("invalid timeout, using the default", zap.String("timeout", value))
		return hotl.DefaultTimeout
	}
	return d
}
