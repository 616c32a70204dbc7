package encode

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/oneconcern/hdafilter/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildFixture(t testing.TB) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	files := map[string][]byte{
		"hda/INDEX__SECTION":        []byte("Operator: pipes::burner\nLabel: Burner\n"),
		"hda/Sections.list":         []byte("\"\"\nINDEX__SECTION\n"),
		"hda/pipes_8_8burner/Blob":  {0x00, 0x01, 0xff, 0xfe, '\n', 0x00},
		"hda/pipes_8_8burner/Empty": {},
		// payload that looks like our own framing must survive
		"hda/pipes_8_8burner/Tricky": []byte("\n--------\ntype:file\nname:fake\n--------\n"),
	}
	for name, data := range files {
		require.NoError(t, fs.MkdirAll(filepath.Dir(name), 0700))
		require.NoError(t, afero.WriteFile(fs, name, data, 0600))
	}
	return fs
}

func treeContents(t testing.TB, fs afero.Fs, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		require.NoError(t, err)
		if info.IsDir() {
			return nil
		}
		data, err := afero.ReadFile(fs, path)
		require.NoError(t, err)
		rel, err := filepath.Rel(root, path)
		require.NoError(t, err)
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestRoundTrip(t *testing.T) {
	src := buildFixture(t)

	var buf bytes.Buffer
	digest, err := NewEncoder(src).EncodeDirectory("hda", &buf)
	require.NoError(t, err)
	require.NotEmpty(t, digest)

	dst := afero.NewMemMapFs()
	err = NewDecoder(dst).DecodeDirectory("out", bufio.NewReader(&buf))
	require.NoError(t, err)

	assert.Equal(t, treeContents(t, src, "hda"), treeContents(t, dst, "out"))
}

func TestEncodeDeterministic(t *testing.T) {
	src := buildFixture(t)

	var one, two bytes.Buffer
	d1, err := NewEncoder(src).EncodeDirectory("hda", &one)
	require.NoError(t, err)
	d2, err := NewEncoder(src).EncodeDirectory("hda", &two)
	require.NoError(t, err)

	assert.Equal(t, d1, d2)
	assert.Equal(t, one.Bytes(), two.Bytes())
}

func TestDecodeCorruptPayload(t *testing.T) {
	src := buildFixture(t)
	var buf bytes.Buffer
	_, err := NewEncoder(src).EncodeDirectory("hda", &buf)
	require.NoError(t, err)

	raw := buf.Bytes()
	idx := bytes.Index(raw, []byte("Operator:"))
	require.True(t, idx > 0)
	raw[idx] ^= 0x20

	err = NewDecoder(afero.NewMemMapFs()).DecodeDirectory("out", bufio.NewReader(bytes.NewReader(raw)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecode))
}

func TestDecodeTruncated(t *testing.T) {
	src := buildFixture(t)
	var buf bytes.Buffer
	_, err := NewEncoder(src).EncodeDirectory("hda", &buf)
	require.NoError(t, err)

	raw := buf.Bytes()[:buf.Len()/2]
	err = NewDecoder(afero.NewMemMapFs()).DecodeDirectory("out", bufio.NewReader(bytes.NewReader(raw)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecode))
}

func TestDecodeRejectsEscapingNames(t *testing.T) {
	archive := strings.Join([]string{
		"", Separator,
		"type:directory",
		"name:.",
		Separator,
		"", Separator,
		"type:file",
		"name:../evil",
		"sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		"length:0",
		Separator,
		"",
	}, "\n")

	err := NewDecoder(afero.NewMemMapFs()).DecodeDirectory("out", bufio.NewReader(strings.NewReader(archive)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecode))
}

func TestMetadataRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	md := Metadata{
		Name:          "assets/fx/burner.hda",
		FilterVersion: "1.2.3",
		Converter:     "hfs20.5.370",
	}
	require.NoError(t, WriteMetadata(&buf, md))

	r := bufio.NewReader(&buf)
	assert.True(t, Sniff(r))

	got, err := ReadMetadata(r)
	require.NoError(t, err)
	assert.Equal(t, md, got)
}

func TestSniff(t *testing.T) {
	assert.False(t, Sniff(bufio.NewReader(bytes.NewReader([]byte{0x89, 'H', 'D', 'A', 0x00}))))
	assert.False(t, Sniff(bufio.NewReader(strings.NewReader(""))))
	assert.False(t, Sniff(bufio.NewReader(strings.NewReader("version https://git-lfs.github.com/spec/v1\n"))))

	var buf bytes.Buffer
	require.NoError(t, WriteMetadata(&buf, Metadata{Name: "a.hda"}))
	assert.True(t, Sniff(bufio.NewReader(&buf)))
}

func TestUnsupportedFormatVersion(t *testing.T) {
	archive := strings.Join([]string{
		"", Separator,
		"type:metadata",
		"name:a.hda",
		"format_version:99",
		"filter_version:",
		"converter:",
		Separator,
		"",
	}, "\n")
	_, err := ReadMetadata(bufio.NewReader(strings.NewReader(archive)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecode))
}

func TestRoundTripSymlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink fixtures need a unix host")
	}
	root := t.TempDir()
	src := filepath.Join(root, "src")
	require.NoError(t, os.MkdirAll(src, 0700))
	require.NoError(t, os.WriteFile(filepath.Join(src, "real"), []byte("payload"), 0600))
	require.NoError(t, os.Symlink("real", filepath.Join(src, "link")))

	fs := afero.NewOsFs()
	var buf bytes.Buffer
	_, err := NewEncoder(fs).EncodeDirectory(src, &buf)
	require.NoError(t, err)

	out := filepath.Join(root, "out")
	require.NoError(t, NewDecoder(fs).DecodeDirectory(out, bufio.NewReader(&buf)))

	target, err := os.Readlink(filepath.Join(out, "link"))
	require.NoError(t, err)
	assert.Equal(t, "real", target)
	data, err := os.ReadFile(filepath.Join(out, "real"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}
