// Package hotl wraps Houdini's hotl utility, which expands a binary
// HDA into a directory of sections ("-t") and collapses such a
// directory back into a binary ("-l").
//
// Expansion output is encoded as a deterministic text archive, so the
// tracked representation is a pure function of the binary content and
// the converter identity. Both directions spool through temporary
// files: on any failure nothing has been written to the caller's
// output.
package hotl

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/oneconcern/hdafilter/pkg/encode"
	"github.com/oneconcern/hdafilter/pkg/errors"
	"github.com/oneconcern/hdafilter/pkg/storage"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// ErrConversion reports a failed expand or collapse. During checkin
// this is fatal for the asset; during checkout callers fall back to
// the best remaining representation.
var ErrConversion = errors.New("conversion failed")

// DefaultTimeout bounds a single hotl invocation
const DefaultTimeout = 5 * time.Minute

// Tool is a located hotl executable.
type Tool struct {
	path    string
	ident   string
	version string
	timeout time.Duration
	fs      afero.Fs
	l       *zap.Logger
}

// Option alters the tool construction
type Option func(*Tool)

// WithTimeout bounds each hotl invocation
func WithTimeout(d time.Duration) Option {
	return func(t *Tool) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithLogger injects a logger
func WithLogger(l *zap.Logger) Option {
	return func(t *Tool) {
		t.l = l
	}
}

// WithFilterVersion records the filter version in archive metadata
func WithFilterVersion(v string) Option {
	return func(t *Tool) {
		t.version = v
	}
}

// New wraps the hotl executable at path.
func New(path string, opts ...Option) *Tool {
	t := &Tool{
		path:    path,
		ident:   Ident(path),
		timeout: DefaultTimeout,
		fs:      afero.NewOsFs(),
		l:       zap.NewNop(),
	}
	for _, apply := range opts {
		apply(t)
	}
	return t
}

func (t *Tool) String() string {
	return t.path
}

// Ident derives a stable converter identity from the install path,
// e.g. /opt/hfs20.5.370/bin/hotl yields "hfs20.5.370". The identity
// lands in archive metadata, so it must not depend on the host.
func Ident(path string) string {
	elements := strings.Split(filepath.ToSlash(path), "/")
	for i := len(elements) - 1; i >= 0; i-- {
		e := elements[i]
		if !strings.HasPrefix(e, "hfs") && !strings.HasPrefix(e, "Houdini") {
			continue
		}
		// pick the versioned install directory, not e.g. Houdini.framework
		if strings.ContainsAny(e, "0123456789") {
			return e
		}
	}
	if len(elements) >= 2 {
		return elements[len(elements)-2]
	}
	return path
}

// Expand converts the binary stream into its tracked text form.
func (t *Tool) Expand(ctx context.Context, assetPath string, binary io.Reader, text io.Writer) error {
	work, err := os.MkdirTemp("", "hdafilter-expand-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(work)

	blob := filepath.Join(work, "blob"+filepath.Ext(assetPath))
	size, err := spool(blob, binary)
	if err != nil {
		return err
	}
	expanded := filepath.Join(work, "expanded")
	if err := os.MkdirAll(expanded, 0700); err != nil {
		return err
	}
	if err := t.run(ctx, assetPath, "-t", expanded, blob); err != nil {
		return err
	}
	entries, err := os.ReadDir(expanded)
	if err != nil {
		return err
	}
	if len(entries) == 0 && size > 0 {
		return ErrConversion.WrapMessage(assetPath + ": hotl produced no sections")
	}

	out, err := os.Create(filepath.Join(work, "text"))
	if err != nil {
		return err
	}
	defer out.Close()
	md := encode.Metadata{
		Name:          filepath.ToSlash(assetPath),
		FilterVersion: t.version,
		Converter:     t.ident,
	}
	if err := encode.WriteMetadata(out, md); err != nil {
		return err
	}
	if _, err := encode.NewEncoder(t.fs).EncodeDirectory(expanded, out); err != nil {
		return ErrConversion.Wrap(err)
	}
	if _, err := out.Seek(0, io.SeekStart); err != nil {
		return err
	}
	_, err = storage.PipeIO(text, out)
	t.l.Debug("expanded asset", zap.String("asset", assetPath), zap.Int64("binary_size", size))
	return err
}

// Collapse converts the tracked text form back into the binary.
func (t *Tool) Collapse(ctx context.Context, assetPath string, text io.Reader, binary io.Writer) error {
	work, err := os.MkdirTemp("", "hdafilter-collapse-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(work)

	br := bufio.NewReader(text)
	if _, err := encode.ReadMetadata(br); err != nil {
		return ErrConversion.Wrap(err)
	}
	expanded := filepath.Join(work, "expanded")
	if err := encode.NewDecoder(t.fs).DecodeDirectory(expanded, br); err != nil {
		return ErrConversion.Wrap(err)
	}

	blob := filepath.Join(work, "blob"+filepath.Ext(assetPath))
	if err := t.run(ctx, assetPath, "-l", expanded, blob); err != nil {
		return err
	}
	f, err := os.Open(blob)
	if err != nil {
		return ErrConversion.WrapMessage(assetPath + ": hotl produced no output")
	}
	defer f.Close()
	n, err := storage.PipeIO(binary, f)
	t.l.Debug("collapsed asset", zap.String("asset", assetPath), zap.Int64("binary_size", n))
	return err
}

func (t *Tool) run(ctx context.Context, assetPath string, args ...string) error {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	t.l.Debug("running hotl", zap.Strings("args", args))
	cmd := exec.CommandContext(ctx, t.path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		if ctx.Err() != nil {
			msg = "timed out: " + msg
		}
		return ErrConversion.WrapMessage(assetPath + ": " + msg)
	}
	return nil
}

func spool(path string, r io.Reader) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	n, err := storage.PipeIO(f, r)
	if err != nil {
		_ = f.Close()
		return n, err
	}
	return n, f.Close()
}
