package filter

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"testing"

	"github.com/oneconcern/hdafilter/pkg/archive"
	"github.com/oneconcern/hdafilter/pkg/encode"
	"github.com/oneconcern/hdafilter/pkg/errors"
	"github.com/oneconcern/hdafilter/pkg/lfs"
	"github.com/oneconcern/hdafilter/pkg/storage/localfs"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var binaryFixture = append([]byte("INDX"), []byte("\x00\x01\xff\xfesections\nand more\x00")...)

// fakeConverter expands a binary into a single-payload text archive
// and collapses it back, standing in for hotl.
type fakeConverter struct {
	expandErr   bool
	collapseErr bool
}

func (c fakeConverter) Expand(ctx context.Context, assetPath string, binary io.Reader, text io.Writer) error {
	if c.expandErr {
		return errors.New("expand blew up").WrapMessage(assetPath)
	}
	data, err := io.ReadAll(binary)
	if err != nil {
		return err
	}
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "hda/payload", data, 0600); err != nil {
		return err
	}
	md := encode.Metadata{Name: assetPath, FilterVersion: "test", Converter: "fake"}
	if err := encode.WriteMetadata(text, md); err != nil {
		return err
	}
	_, err = encode.NewEncoder(fs).EncodeDirectory("hda", text)
	return err
}

func (c fakeConverter) Collapse(ctx context.Context, assetPath string, text io.Reader, binary io.Writer) error {
	if c.collapseErr {
		return errors.New("collapse blew up").WrapMessage(assetPath)
	}
	br := bufio.NewReader(text)
	if _, err := encode.ReadMetadata(br); err != nil {
		return err
	}
	fs := afero.NewMemMapFs()
	if err := encode.NewDecoder(fs).DecodeDirectory("out", br); err != nil {
		return err
	}
	data, err := afero.ReadFile(fs, "out/payload")
	if err != nil {
		return err
	}
	_, err = binary.Write(data)
	return err
}

func (c fakeConverter) String() string { return "fake" }

// failingArchiver simulates a configured store that is down.
type failingArchiver struct{}

func (failingArchiver) Archive(ctx context.Context, path string, binary io.Reader) (*lfs.Pointer, error) {
	return nil, archive.ErrStore.WrapMessage("store is down")
}

func (failingArchiver) Retrieve(ctx context.Context, path string, ptr *lfs.Pointer, w io.Writer) (bool, error) {
	return false, archive.ErrStore.WrapMessage("store is down")
}

func (failingArchiver) String() string { return "broken" }

// pointerArchiver mimics the lfs backend: archiving yields a pointer
// and retrieval requires one.
type pointerArchiver struct {
	objects map[string][]byte
}

func newPointerArchiver() *pointerArchiver {
	return &pointerArchiver{objects: map[string][]byte{}}
}

func (a *pointerArchiver) Archive(ctx context.Context, path string, binary io.Reader) (*lfs.Pointer, error) {
	data, err := io.ReadAll(binary)
	if err != nil {
		return nil, archive.ErrStore.Wrap(err)
	}
	oid := sha256.Sum256(data)
	a.objects[path] = data
	raw := "version https://git-lfs.github.com/spec/v1\n" +
		"oid sha256:" + hex.EncodeToString(oid[:]) + "\n" +
		"size " + strconv.Itoa(len(data)) + "\n"
	return &lfs.Pointer{Raw: []byte(raw), Oid: hex.EncodeToString(oid[:]), Size: int64(len(data))}, nil
}

func (a *pointerArchiver) Retrieve(ctx context.Context, path string, ptr *lfs.Pointer, w io.Writer) (bool, error) {
	if ptr == nil {
		return false, nil
	}
	data, ok := a.objects[path]
	if !ok {
		return false, nil
	}
	_, err := w.Write(data)
	return true, err
}

func (a *pointerArchiver) String() string { return "fake-lfs" }

func memStore() archive.Archiver {
	return archive.NewStore(localfs.New(afero.NewMemMapFs()))
}

func clean(t *testing.T, f *Filter, in []byte) []byte {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, f.Clean(context.Background(), "assets/foo.hda", bytes.NewReader(in), &out))
	return out.Bytes()
}

func smudge(t *testing.T, f *Filter, in []byte) []byte {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, f.Smudge(context.Background(), "assets/foo.hda", bytes.NewReader(in), &out))
	return out.Bytes()
}

// checkin decision table

func TestCleanConverterAndStore(t *testing.T) {
	store := memStore()
	f := New(WithConverter(fakeConverter{}), WithArchiver(store))

	tracked := clean(t, f, binaryFixture)
	assert.True(t, encode.Sniff(bufio.NewReader(bytes.NewReader(tracked))), "tracked content is text")

	var archived bytes.Buffer
	found, err := store.Retrieve(context.Background(), "assets/foo.hda", nil, &archived)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, binaryFixture, archived.Bytes(), "original binary archived verbatim")
}

func TestCleanConverterOnly(t *testing.T) {
	f := New(WithConverter(fakeConverter{}))
	tracked := clean(t, f, binaryFixture)
	assert.True(t, encode.Sniff(bufio.NewReader(bytes.NewReader(tracked))))
}

func TestCleanStoreOnly(t *testing.T) {
	store := memStore()
	f := New(WithArchiver(store))

	tracked := clean(t, f, binaryFixture)
	assert.Equal(t, binaryFixture, tracked, "binary passes through unchanged")

	var archived bytes.Buffer
	found, err := store.Retrieve(context.Background(), "assets/foo.hda", nil, &archived)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, binaryFixture, archived.Bytes())
}

func TestCleanInert(t *testing.T) {
	f := New()
	assert.Equal(t, binaryFixture, clean(t, f, binaryFixture))
}

func TestCleanExpandFailureAborts(t *testing.T) {
	f := New(WithConverter(fakeConverter{expandErr: true}), WithArchiver(memStore()))

	var out bytes.Buffer
	err := f.Clean(context.Background(), "assets/foo.hda", bytes.NewReader(binaryFixture), &out)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrClean)
	assert.Contains(t, err.Error(), "assets/foo.hda")
	assert.Zero(t, out.Len(), "no partial tracked content")
}

func TestCleanArchiveFailureIsolated(t *testing.T) {
	f := New(WithConverter(fakeConverter{}), WithArchiver(failingArchiver{}))

	tracked := clean(t, f, binaryFixture)
	assert.True(t, encode.Sniff(bufio.NewReader(bytes.NewReader(tracked))),
		"text representation survives a store failure")
}

func TestCleanIdempotent(t *testing.T) {
	f := New(WithConverter(fakeConverter{}), WithArchiver(memStore()))
	one := clean(t, f, binaryFixture)
	two := clean(t, f, binaryFixture)
	assert.Equal(t, one, two, "tracked text is a pure function of the binary")
}

// checkout decision table

func TestSmudgeStorePrecedence(t *testing.T) {
	store := memStore()
	ctx := context.Background()

	// poison the text so only the store can produce this content
	_, err := store.Archive(ctx, "assets/foo.hda", bytes.NewReader([]byte("STORED ORIGINAL")))
	require.NoError(t, err)

	var text bytes.Buffer
	require.NoError(t, fakeConverter{}.Expand(ctx, "assets/foo.hda", bytes.NewReader([]byte("FROM TEXT")), &text))

	f := New(WithConverter(fakeConverter{}), WithArchiver(store))
	assert.Equal(t, []byte("STORED ORIGINAL"), smudge(t, f, text.Bytes()),
		"archived original wins over collapsing")
}

func TestSmudgeStoreMissFallsBackToCollapse(t *testing.T) {
	f := New(WithConverter(fakeConverter{}), WithArchiver(memStore()))
	tracked := clean(t, New(WithConverter(fakeConverter{})), binaryFixture)
	assert.Equal(t, binaryFixture, smudge(t, f, tracked))
}

func TestSmudgeConverterOnly(t *testing.T) {
	f := New(WithConverter(fakeConverter{}))
	tracked := clean(t, f, binaryFixture)
	assert.Equal(t, binaryFixture, smudge(t, f, tracked))
}

func TestSmudgeStoreOnlyHit(t *testing.T) {
	store := memStore()
	cleanFilter := New(WithArchiver(store))
	tracked := clean(t, cleanFilter, binaryFixture)

	smudgeFilter := New(WithArchiver(store))
	assert.Equal(t, binaryFixture, smudge(t, smudgeFilter, tracked))
}

func TestSmudgeStoreOnlyMissEmitsTextUnchanged(t *testing.T) {
	// text checked in elsewhere, this machine has no converter and an
	// empty store: the tracked text comes out as-is
	tracked := clean(t, New(WithConverter(fakeConverter{})), binaryFixture)

	f := New(WithArchiver(memStore()))
	assert.Equal(t, tracked, smudge(t, f, tracked))
}

func TestSmudgeInert(t *testing.T) {
	f := New()
	assert.Equal(t, binaryFixture, smudge(t, f, binaryFixture))
}

func TestSmudgeCollapseFailureFallsBack(t *testing.T) {
	tracked := clean(t, New(WithConverter(fakeConverter{})), binaryFixture)

	f := New(WithConverter(fakeConverter{collapseErr: true}))
	assert.Equal(t, tracked, smudge(t, f, tracked), "checkout degrades, never aborts")
}

func TestSmudgeStoreFailureFallsBack(t *testing.T) {
	f := New(WithConverter(fakeConverter{}), WithArchiver(failingArchiver{}))
	tracked := clean(t, New(WithConverter(fakeConverter{})), binaryFixture)
	assert.Equal(t, binaryFixture, smudge(t, f, tracked))
}

// pointer plumbing, lfs style

func TestPointerRoundTrip(t *testing.T) {
	arch := newPointerArchiver()
	f := New(WithConverter(fakeConverter{}), WithArchiver(arch))

	tracked := clean(t, f, binaryFixture)
	assert.True(t, lfs.IsPointer(tracked), "pointer leads the tracked content")

	assert.Equal(t, binaryFixture, smudge(t, f, tracked))
}

func TestPointerOnlyTrackedWithoutConverter(t *testing.T) {
	arch := newPointerArchiver()
	f := New(WithArchiver(arch))

	tracked := clean(t, f, binaryFixture)
	assert.True(t, lfs.IsPointer(tracked))

	ptr, err := lfs.ParsePointer(tracked)
	require.NoError(t, err)
	assert.Equal(t, int64(len(binaryFixture)), ptr.Size)
	assert.Equal(t, string(ptr.Raw), string(tracked), "nothing but the pointer is tracked")
}

func TestPointerPreservedOnDegradedSmudge(t *testing.T) {
	arch := newPointerArchiver()
	tracked := clean(t, New(WithConverter(fakeConverter{}), WithArchiver(arch)), binaryFixture)

	// a machine with neither tool must not destroy the tracked form
	f := New()
	assert.Equal(t, tracked, smudge(t, f, tracked))
}

// one asset travelling across three differently equipped machines

func TestScenarioAcrossMachines(t *testing.T) {
	sharedStore := memStore()
	b1 := binaryFixture

	// machine A has both tools and checks the asset in
	machineA := New(WithConverter(fakeConverter{}), WithArchiver(sharedStore))
	t1 := clean(t, machineA, b1)

	// machine B has the store but no Houdini
	machineB := New(WithArchiver(sharedStore))
	assert.Equal(t, b1, smudge(t, machineB, t1))

	// machine C has Houdini but no store
	machineC := New(WithConverter(fakeConverter{}))
	assert.Equal(t, b1, smudge(t, machineC, t1))
}

func TestSmudgeLargeContent(t *testing.T) {
	big := bytes.Repeat([]byte("0123456789abcdef"), 1<<14) // 256 KiB
	f := New(WithConverter(fakeConverter{}))
	tracked := clean(t, f, big)
	got := smudge(t, f, tracked)
	if !bytes.Equal(big, got) {
		t.Fatalf("round trip mismatch: %s", fmt.Sprintf("%d vs %d bytes", len(big), len(got)))
	}
}
