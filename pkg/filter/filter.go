// Package filter implements the clean/smudge decision core.
//
// Each filter event is handled statelessly from two capabilities: is
// a converter available, is a large-object store available. Every
// combination has a defined, non-crashing behavior:
//
//	clean:  converter present        -> emit expanded text (expand
//	        failure aborts the checkin for this asset)
//	        converter absent         -> emit the input unchanged
//	        store present            -> archive the binary first, best
//	        effort; an archive failure never blocks the text
//	smudge: store present with a hit -> emit the archived original
//	        else converter + archive -> collapse the text
//	        else                     -> emit the input unchanged
//
// The working tree is reconstructed from the best representation
// available; smudge degrades instead of failing so a checkout never
// wedges the whole tree.
package filter

import (
	"bufio"
	"context"
	"io"
	"os"

	"github.com/oneconcern/hdafilter/pkg/archive"
	"github.com/oneconcern/hdafilter/pkg/encode"
	"github.com/oneconcern/hdafilter/pkg/errors"
	"github.com/oneconcern/hdafilter/pkg/lfs"
	"github.com/oneconcern/hdafilter/pkg/storage"
	"go.uber.org/zap"
)

// ErrClean reports a fatal checkin failure for one asset
var ErrClean = errors.New("clean failed")

// Converter turns binaries into tracked text and back.
type Converter interface {
	Expand(ctx context.Context, assetPath string, binary io.Reader, text io.Writer) error
	Collapse(ctx context.Context, assetPath string, text io.Reader, binary io.Writer) error
	String() string
}

// Filter handles clean and smudge events for one repository.
type Filter struct {
	conv Converter
	arch archive.Archiver
	l    *zap.Logger
}

// Option alters the filter construction
type Option func(*Filter)

// WithConverter injects the converter; nil means "converter absent"
func WithConverter(c Converter) Option {
	return func(f *Filter) {
		f.conv = c
	}
}

// WithArchiver injects the large-object backend
func WithArchiver(a archive.Archiver) Option {
	return func(f *Filter) {
		f.arch = a
	}
}

// WithLogger injects a logger
func WithLogger(l *zap.Logger) Option {
	return func(f *Filter) {
		f.l = l
	}
}

// New builds a filter. With no options it is fully inert: both
// directions pass bytes through unchanged.
func New(opts ...Option) *Filter {
	f := &Filter{
		arch: archive.NewNoop(),
		l:    zap.NewNop(),
	}
	for _, apply := range opts {
		apply(f)
	}
	return f
}

// Clean handles a checkin event: the working-tree binary comes in,
// the tracked content goes out.
func (f *Filter) Clean(ctx context.Context, assetPath string, in io.Reader, out io.Writer) error {
	spooled, cleanup, err := spool(in)
	if err != nil {
		return ErrClean.Wrap(err)
	}
	defer cleanup()

	// archive the original first, best effort: losing the archive
	// only loses the fast path, the text is still authoritative
	var ptr *lfs.Pointer
	if rdr, err := spooled(); err == nil {
		ptr, err = f.arch.Archive(ctx, assetPath, rdr)
		_ = rdr.Close()
		if err != nil {
			f.l.Warn("archiving failed, continuing without the stored original",
				zap.String("asset", assetPath),
				zap.String("store", f.arch.String()),
				zap.Error(err))
			ptr = nil
		}
	}
	if ptr != nil {
		if _, err := out.Write(ptr.Raw); err != nil {
			return ErrClean.Wrap(err)
		}
	}

	if f.conv != nil {
		rdr, err := spooled()
		if err != nil {
			return ErrClean.Wrap(err)
		}
		defer rdr.Close()
		// expand failure aborts the checkin: silently tracking a
		// corrupt representation is worse than failing loudly
		if err := f.conv.Expand(ctx, assetPath, rdr, out); err != nil {
			return ErrClean.Wrap(err)
		}
		return nil
	}

	if ptr == nil {
		// fully inert: pass the binary through unchanged
		rdr, err := spooled()
		if err != nil {
			return ErrClean.Wrap(err)
		}
		defer rdr.Close()
		if _, err := storage.PipeIO(out, rdr); err != nil {
			return ErrClean.Wrap(err)
		}
	}
	// with a pointer and no converter the pointer alone is tracked,
	// which is exactly what the plain lfs filter would have produced
	return nil
}

// Smudge handles a checkout event: the tracked content comes in, the
// working-tree file goes out. It never fails over representation
// problems, only over I/O on its own streams.
func (f *Filter) Smudge(ctx context.Context, assetPath string, in io.Reader, out io.Writer) error {
	br := bufio.NewReader(in)
	ptr, err := lfs.ReadPointer(br)
	if err != nil {
		return err
	}
	spooled, cleanup, err := spool(br)
	if err != nil {
		return err
	}
	defer cleanup()

	// the archived original is byte-identical, it takes precedence
	// over collapsing the text
	if retrieved, ok := f.retrieve(ctx, assetPath, ptr); ok {
		defer retrieved.Close()
		_, err := storage.PipeIO(out, retrieved)
		return err
	}

	isText := f.sniff(spooled)
	if f.conv != nil && isText {
		if collapsed, ok := f.collapse(ctx, assetPath, spooled); ok {
			defer collapsed.Close()
			_, err := storage.PipeIO(out, collapsed)
			return err
		}
	}

	// degraded: hand back the tracked content unchanged
	if isText && f.conv == nil {
		f.l.Warn("no converter available, leaving asset in its text form",
			zap.String("asset", assetPath))
	}
	if ptr != nil {
		if _, err := out.Write(ptr.Raw); err != nil {
			return err
		}
	}
	rdr, err := spooled()
	if err != nil {
		return err
	}
	defer rdr.Close()
	_, err = storage.PipeIO(out, rdr)
	return err
}

// retrieve fetches the archived original into a spool, so a store
// failing mid-stream can never corrupt the checkout.
func (f *Filter) retrieve(ctx context.Context, assetPath string, ptr *lfs.Pointer) (io.ReadCloser, bool) {
	tmp, err := os.CreateTemp("", "hdafilter-retrieve-")
	if err != nil {
		return nil, false
	}
	found, err := f.arch.Retrieve(ctx, assetPath, ptr, tmp)
	if err != nil {
		f.l.Warn("store retrieval failed, falling back",
			zap.String("asset", assetPath),
			zap.String("store", f.arch.String()),
			zap.Error(err))
	}
	if err != nil || !found {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return nil, false
	}
	return rewound(tmp), true
}

func (f *Filter) collapse(ctx context.Context, assetPath string, spooled func() (io.ReadCloser, error)) (io.ReadCloser, bool) {
	rdr, err := spooled()
	if err != nil {
		return nil, false
	}
	defer rdr.Close()
	tmp, err := os.CreateTemp("", "hdafilter-collapse-")
	if err != nil {
		return nil, false
	}
	if err := f.conv.Collapse(ctx, assetPath, rdr, tmp); err != nil {
		f.l.Warn("collapse failed, emitting the tracked text unchanged",
			zap.String("asset", assetPath),
			zap.Error(err))
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return nil, false
	}
	return rewound(tmp), true
}

func (f *Filter) sniff(spooled func() (io.ReadCloser, error)) bool {
	rdr, err := spooled()
	if err != nil {
		return false
	}
	defer rdr.Close()
	return encode.Sniff(bufio.NewReader(rdr))
}

// spool drains r into a temp file and returns a factory of fresh
// readers over the content, since most paths need it more than once.
func spool(r io.Reader) (func() (io.ReadCloser, error), func(), error) {
	tmp, err := os.CreateTemp("", "hdafilter-spool-")
	if err != nil {
		return nil, nil, err
	}
	name := tmp.Name()
	if _, err := storage.PipeIO(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return nil, nil, err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return nil, nil, err
	}
	open := func() (io.ReadCloser, error) {
		return os.Open(name)
	}
	cleanup := func() {
		_ = os.Remove(name)
	}
	return open, cleanup, nil
}

type rewoundFile struct {
	*os.File
}

func (r rewoundFile) Close() error {
	err := r.File.Close()
	_ = os.Remove(r.File.Name())
	return err
}

func rewound(f *os.File) io.ReadCloser {
	_, _ = f.Seek(0, io.SeekStart)
	return rewoundFile{File: f}
}
