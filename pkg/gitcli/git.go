// Package gitcli shells out to the git binary found on the PATH.
//
// The filter deliberately reads repository configuration through git
// itself rather than parsing config files: whatever git resolves
// (includes, worktree config, system scope) is what the filter sees.
package gitcli

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/oneconcern/hdafilter/pkg/errors"
	"go.uber.org/zap"
)

// ErrGit reports a git invocation failure, with stderr attached
var ErrGit = errors.New("git command failed")

// Git runs git commands against the repository enclosing the current
// working directory.
type Git struct {
	path string
	dir  string
	l    *zap.Logger
}

// Option alters the git runner construction
type Option func(*Git)

// WithLogger injects a logger
func WithLogger(l *zap.Logger) Option {
	return func(g *Git) {
		g.l = l
	}
}

// WithPath forces the git executable location (tests)
func WithPath(path string) Option {
	return func(g *Git) {
		g.path = path
	}
}

// WithDir runs git from another directory than the process cwd
func WithDir(dir string) Option {
	return func(g *Git) {
		g.dir = dir
	}
}

// New locates git on the PATH and returns a runner.
func New(opts ...Option) (*Git, error) {
	g := &Git{l: zap.NewNop()}
	for _, apply := range opts {
		apply(g)
	}
	if g.path == "" {
		path, err := exec.LookPath("git")
		if err != nil {
			return nil, ErrGit.WrapMessage("git not found on PATH")
		}
		g.path = path
	}
	return g, nil
}

// Run executes a git command and returns its trimmed stdout.
func (g *Git) Run(ctx context.Context, args ...string) (string, error) {
	g.l.Debug("running git", zap.Strings("args", args))
	cmd := exec.CommandContext(ctx, g.path, args...)
	cmd.Dir = g.dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", ErrGit.WrapMessage(strings.Join(append([]string{"git"}, args...), " ") + ": " + msg)
	}
	return strings.TrimRight(stdout.String(), "\n"), nil
}

// ConfigGet returns a config value, or empty when the key is unset.
// An unset key is not an error.
func (g *Git) ConfigGet(ctx context.Context, key string) (string, error) {
	cmd := exec.CommandContext(ctx, g.path, "config", "--get", key)
	cmd.Dir = g.dir
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		var xerr *exec.ExitError
		if errors.As(err, &xerr) && xerr.ExitCode() == 1 {
			return "", nil
		}
		return "", ErrGit.WrapMessage("config --get " + key + ": " + err.Error())
	}
	return strings.TrimSpace(stdout.String()), nil
}

// ConfigSet writes a config value, globally by default or in the
// repository's local scope.
func (g *Git) ConfigSet(ctx context.Context, key, value string, local bool) error {
	scope := "--global"
	if local {
		scope = "--local"
	}
	_, err := g.Run(ctx, "config", scope, key, value)
	return err
}

// TopLevel returns the working tree root, or an error outside a repo.
func (g *Git) TopLevel(ctx context.Context) (string, error) {
	out, err := g.Run(ctx, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", ErrGit.WrapMessage("not inside a git working tree")
	}
	return out, nil
}

// GitDir returns the repository's git directory as an absolute path.
func (g *Git) GitDir(ctx context.Context) (string, error) {
	return g.Run(ctx, "rev-parse", "--absolute-git-dir")
}
