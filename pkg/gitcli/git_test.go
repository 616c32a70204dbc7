package gitcli

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRepo(t *testing.T) *Git {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	g, err := New(WithDir(dir))
	require.NoError(t, err)
	_, err = g.Run(context.Background(), "init", "-q")
	require.NoError(t, err)
	return g
}

func TestConfigRoundTrip(t *testing.T) {
	g := setupRepo(t)
	ctx := context.Background()

	// unset key: empty value, no error
	v, err := g.ConfigGet(ctx, "hdafilter.hotl")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, g.ConfigSet(ctx, "hdafilter.hotl", "/opt/hfs20.5/bin/hotl", true))
	v, err = g.ConfigGet(ctx, "hdafilter.hotl")
	require.NoError(t, err)
	assert.Equal(t, "/opt/hfs20.5/bin/hotl", v)
}

func TestTopLevel(t *testing.T) {
	g := setupRepo(t)
	top, err := g.TopLevel(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, top)

	dir, err := g.GitDir(context.Background())
	require.NoError(t, err)
	assert.Contains(t, dir, ".git")
}

func TestRunFailure(t *testing.T) {
	g := setupRepo(t)
	_, err := g.Run(context.Background(), "no-such-subcommand")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGit)
}
