// Package locator discovers the external tools the filter can lean
// on: Houdini's hotl converter and the repository's git-lfs filter.
//
// Discovery is a best-effort, side-effect-free probe. Absence is a
// normal outcome reported as a capability flag, never as an error,
// and results are cached for the lifetime of the process so that
// per-file filter invocations do not re-scan the disk.
package locator

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/oneconcern/hdafilter/pkg/gitcli"
	"go.uber.org/zap"
)

const (
	// ConfigHotl is the git config key pinning the hotl executable
	ConfigHotl = "hdafilter.hotl"

	configLFSClean  = "filter.lfs.clean"
	configLFSSmudge = "filter.lfs.smudge"
)

// Location is a globbed candidate install path for hotl.
type Location struct {
	Dir     string
	Glob    string
	Subpath string
}

// Locations returns where Houdini installs live on the given
// platform.
func Locations(goos string) []Location {
	switch goos {
	case "windows":
		return []Location{
			{Dir: "C:/Program Files/Side Effects Software", Glob: "Houdini*", Subpath: "bin/hotl.exe"},
		}
	case "darwin":
		return []Location{
			{Dir: "/Applications/Houdini", Glob: "Houdini*", Subpath: "Frameworks/Houdini.framework/Versions/Current/Resources/bin/hotl"},
		}
	default:
		return []Location{
			{Dir: "/opt", Glob: "hfs*", Subpath: "bin/hotl"},
		}
	}
}

// Candidates expands the platform locations into concrete paths,
// newest install first. The paths are not checked for existence.
func Candidates() []string {
	return expand(Locations(runtime.GOOS))
}

func expand(locations []Location) []string {
	var out []string
	for _, loc := range locations {
		matches, err := filepath.Glob(filepath.Join(loc.Dir, loc.Glob))
		if err != nil {
			continue
		}
		// version-sorted directories: reverse lexical order puts the
		// newest Houdini first
		sort.Sort(sort.Reverse(sort.StringSlice(matches)))
		for _, m := range matches {
			out = append(out, filepath.Join(m, loc.Subpath))
		}
	}
	return out
}

// Locator probes for tools once and caches the answers.
type Locator struct {
	git       *gitcli.Git
	l         *zap.Logger
	locations []Location

	hotlOnce sync.Once
	hotlPath string

	lfsOnce   sync.Once
	lfsClean  string
	lfsSmudge string
}

// Option alters the locator construction
type Option func(*Locator)

// WithLogger injects a logger
func WithLogger(l *zap.Logger) Option {
	return func(lc *Locator) {
		lc.l = l
	}
}

// WithLocations overrides the platform search table (tests)
func WithLocations(locations []Location) Option {
	return func(lc *Locator) {
		lc.locations = locations
	}
}

// New builds a locator. git may be nil, in which case only the
// platform search runs and git-lfs is reported absent.
func New(git *gitcli.Git, opts ...Option) *Locator {
	lc := &Locator{
		git:       git,
		l:         zap.NewNop(),
		locations: Locations(runtime.GOOS),
	}
	for _, apply := range opts {
		apply(lc)
	}
	return lc
}

// Hotl returns the hotl executable path and whether one was found.
// The git config entry wins over the platform search.
func (lc *Locator) Hotl(ctx context.Context) (string, bool) {
	lc.hotlOnce.Do(func() {
		if lc.git != nil {
			configured, err := lc.git.ConfigGet(ctx, ConfigHotl)
			if err == nil && configured != "" {
				if isTool(configured) {
					lc.hotlPath = configured
					lc.l.Debug("hotl from git config", zap.String("path", configured))
					return
				}
				lc.l.Warn("configured hotl missing, falling back to search",
					zap.String("path", configured))
			}
		}
		for _, candidate := range expand(lc.locations) {
			if isTool(candidate) {
				lc.hotlPath = candidate
				lc.l.Debug("hotl from platform search", zap.String("path", candidate))
				return
			}
		}
		lc.l.Debug("no hotl found; is Houdini installed?")
	})
	return lc.hotlPath, lc.hotlPath != ""
}

// LFS returns the repository's configured git-lfs clean and smudge
// command lines, and whether the store is usable.
func (lc *Locator) LFS(ctx context.Context) (clean, smudge string, ok bool) {
	lc.lfsOnce.Do(func() {
		if lc.git == nil {
			return
		}
		cleanCmd, err := lc.git.ConfigGet(ctx, configLFSClean)
		if err != nil || cleanCmd == "" {
			lc.l.Debug("no git-lfs clean filter configured")
			return
		}
		smudgeCmd, err := lc.git.ConfigGet(ctx, configLFSSmudge)
		if err != nil || smudgeCmd == "" {
			lc.l.Debug("no git-lfs smudge filter configured")
			return
		}
		// a configured but uninstalled client counts as absent
		if fields := strings.Fields(cleanCmd); len(fields) > 0 {
			if _, err := exec.LookPath(fields[0]); err != nil {
				lc.l.Warn("git-lfs configured but not on PATH", zap.String("command", fields[0]))
				return
			}
		}
		lc.lfsClean = cleanCmd
		lc.lfsSmudge = smudgeCmd
	})
	return lc.lfsClean, lc.lfsSmudge, lc.lfsClean != "" && lc.lfsSmudge != ""
}

func isTool(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}
