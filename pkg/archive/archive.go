// Package archive abstracts where the original binary of an asset is
// parked during checkin and fetched from during checkout.
//
// Three backends cover the deployment spectrum: git-lfs when the repo
// has it, a store under the git directory when it doesn't, and a
// no-op that degrades the filter to text-only operation.
package archive

import (
	"context"
	"io"

	"github.com/oneconcern/hdafilter/pkg/errors"
	"github.com/oneconcern/hdafilter/pkg/lfs"
	"github.com/oneconcern/hdafilter/pkg/storage"
)

// ErrStore reports a genuine large-object store failure. Absence of
// an archived object is never reported through this error.
var ErrStore = errors.New("large object store failure")

// Archiver parks and retrieves original binaries by asset path.
type Archiver interface {
	// Archive stores the binary. Backends that track retrieval state
	// inside the repository content (git-lfs) return the pointer to
	// emit ahead of the tracked text; others return nil.
	Archive(ctx context.Context, path string, binary io.Reader) (*lfs.Pointer, error)

	// Retrieve writes the archived binary to w and reports whether it
	// was found. A missing object is (false, nil), not an error.
	Retrieve(ctx context.Context, path string, ptr *lfs.Pointer, w io.Writer) (bool, error)

	String() string
}

// NewNoop returns the pass-through archiver used when no store is
// configured.
func NewNoop() Archiver {
	return noop{}
}

type noop struct{}

func (noop) Archive(ctx context.Context, path string, binary io.Reader) (*lfs.Pointer, error) {
	return nil, nil
}

func (noop) Retrieve(ctx context.Context, path string, ptr *lfs.Pointer, w io.Writer) (bool, error) {
	return false, nil
}

func (noop) String() string {
	return "none"
}

// NewStore returns an archiver keyed by asset path over a blob store.
func NewStore(s storage.Store) Archiver {
	return &storeArchiver{s: s}
}

type storeArchiver struct {
	s storage.Store
}

func (a *storeArchiver) Archive(ctx context.Context, path string, binary io.Reader) (*lfs.Pointer, error) {
	if err := a.s.Put(ctx, path, binary); err != nil {
		return nil, ErrStore.Wrap(err)
	}
	return nil, nil
}

func (a *storeArchiver) Retrieve(ctx context.Context, path string, ptr *lfs.Pointer, w io.Writer) (bool, error) {
	rdr, err := a.s.Get(ctx, path)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, ErrStore.Wrap(err)
	}
	defer rdr.Close()
	if _, err := storage.PipeIO(w, rdr); err != nil {
		return false, ErrStore.Wrap(err)
	}
	return true, nil
}

func (a *storeArchiver) String() string {
	return a.s.String()
}

// NewLFS returns an archiver backed by the repository's git-lfs
// filter commands.
func NewLFS(c *lfs.Client) Archiver {
	return &lfsArchiver{c: c}
}

type lfsArchiver struct {
	c *lfs.Client
}

func (a *lfsArchiver) Archive(ctx context.Context, path string, binary io.Reader) (*lfs.Pointer, error) {
	ptr, err := a.c.Clean(ctx, path, binary)
	if err != nil {
		return nil, ErrStore.Wrap(err)
	}
	return ptr, nil
}

func (a *lfsArchiver) Retrieve(ctx context.Context, path string, ptr *lfs.Pointer, w io.Writer) (bool, error) {
	if ptr == nil {
		// never archived through lfs: nothing to fetch
		return false, nil
	}
	if err := a.c.Smudge(ctx, path, ptr, w); err != nil {
		return false, ErrStore.Wrap(err)
	}
	return true, nil
}

func (a *lfsArchiver) String() string {
	return "git-lfs"
}
