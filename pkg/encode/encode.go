// Package encode implements the textual archive format used to track
// an expanded HDA in git.
//
// An archive is a sequence of delimited headers, each a block of
// key:value lines between separator lines, optionally followed by raw
// payload bytes. Entries appear in sorted directory order and every
// directory closes with a footer carrying a digest chained over its
// children, so the encoding is a pure function of the directory tree:
// no timestamps, host names or traversal ordering can leak into the
// tracked text.
package encode

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/oneconcern/hdafilter/pkg/errors"
	"github.com/spf13/afero"
)

const (
	// Separator delimits header blocks in the archive
	Separator = "--------"

	// FormatVersion is bumped on any incompatible change to the layout
	FormatVersion = 1
)

// ErrDecode reports a malformed or corrupted text archive
var ErrDecode = errors.New("text archive decode failed")

// EntryType discriminates header blocks
type EntryType string

const (
	TypeMetadata  EntryType = "metadata"
	TypeFile      EntryType = "file"
	TypeDirectory EntryType = "directory"
	TypeSymlink   EntryType = "symlink"
	TypeFooter    EntryType = "footer"
)

// Header is the parsed form of one delimited block.
type Header struct {
	Type   EntryType
	Name   string
	SHA256 string
	Length int64
	Target string

	// metadata fields
	FormatVersion int
	FilterVersion string
	Converter     string
}

// Metadata describes the archive provenance. It deliberately carries
// no dates: two encodings of the same content must be byte-identical.
type Metadata struct {
	Name          string
	FilterVersion string
	Converter     string
}

// serialize renders a header canonically. Both the encoder and the
// decoder hash this exact text, which is what makes the directory
// digest chain verifiable.
func serialize(h Header) string {
	var b strings.Builder
	b.WriteString("\n" + Separator + "\n")
	b.WriteString("type:" + string(h.Type) + "\n")
	b.WriteString("name:" + h.Name + "\n")
	switch h.Type {
	case TypeMetadata:
		b.WriteString("format_version:" + strconv.Itoa(h.FormatVersion) + "\n")
		b.WriteString("filter_version:" + h.FilterVersion + "\n")
		b.WriteString("converter:" + h.Converter + "\n")
	case TypeFile:
		b.WriteString("sha256:" + h.SHA256 + "\n")
		b.WriteString("length:" + strconv.FormatInt(h.Length, 10) + "\n")
	case TypeSymlink:
		b.WriteString("target:" + h.Target + "\n")
	case TypeFooter:
		b.WriteString("sha256:" + h.SHA256 + "\n")
	}
	b.WriteString(Separator + "\n")
	return b.String()
}

func writeHeader(w io.Writer, h Header) (string, error) {
	s := serialize(h)
	_, err := io.WriteString(w, s)
	return s, err
}

// WriteMetadata starts an archive stream with its provenance block.
func WriteMetadata(w io.Writer, md Metadata) error {
	if strings.ContainsRune(md.Name, '\n') {
		return errors.New("asset name contains a newline")
	}
	_, err := writeHeader(w, Header{
		Type:          TypeMetadata,
		Name:          md.Name,
		FormatVersion: FormatVersion,
		FilterVersion: md.FilterVersion,
		Converter:     md.Converter,
	})
	return err
}

// Encoder writes directory trees as text archives.
type Encoder struct {
	fs afero.Fs
}

// NewEncoder builds an encoder over the given file system
func NewEncoder(fs afero.Fs) *Encoder {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Encoder{fs: fs}
}

// EncodeDirectory encodes the tree rooted at root and returns the
// root digest.
func (e *Encoder) EncodeDirectory(root string, w io.Writer) (string, error) {
	return e.encodeDir(root, root, w)
}

func (e *Encoder) encodeDir(root, dir string, w io.Writer) (string, error) {
	rel, err := relName(root, dir)
	if err != nil {
		return "", err
	}
	hdr, err := writeHeader(w, Header{Type: TypeDirectory, Name: rel})
	if err != nil {
		return "", err
	}
	sum := sha256.New()
	_, _ = sum.Write([]byte(hdr))

	// afero.ReadDir sorts by name, keeping the stream deterministic
	entries, err := afero.ReadDir(e.fs, dir)
	if err != nil {
		return "", err
	}
	for _, fi := range entries {
		full := filepath.Join(dir, fi.Name())
		switch {
		case fi.IsDir():
			digest, err := e.encodeDir(root, full, w)
			if err != nil {
				return "", err
			}
			_, _ = sum.Write([]byte(digest))
		case fi.Mode()&os.ModeSymlink != 0:
			s, err := e.encodeSymlink(root, full, w)
			if err != nil {
				return "", err
			}
			_, _ = sum.Write([]byte(s))
		default:
			s, err := e.encodeFile(root, full, w)
			if err != nil {
				return "", err
			}
			_, _ = sum.Write([]byte(s))
		}
	}
	digest := hex.EncodeToString(sum.Sum(nil))
	footer, err := writeHeader(w, Header{Type: TypeFooter, Name: rel, SHA256: digest})
	if err != nil {
		return "", err
	}
	_, _ = sum.Write([]byte(footer))
	return hex.EncodeToString(sum.Sum(nil)), nil
}

func (e *Encoder) encodeFile(root, file string, w io.Writer) (string, error) {
	rel, err := relName(root, file)
	if err != nil {
		return "", err
	}
	data, err := afero.ReadFile(e.fs, file)
	if err != nil {
		return "", err
	}
	sha := sha256.Sum256(data)
	hdr, err := writeHeader(w, Header{
		Type:   TypeFile,
		Name:   rel,
		SHA256: hex.EncodeToString(sha[:]),
		Length: int64(len(data)),
	})
	if err != nil {
		return "", err
	}
	if _, err = w.Write(data); err != nil {
		return "", err
	}
	// guarantee the next header starts on a fresh line
	if _, err = io.WriteString(w, "\n"); err != nil {
		return "", err
	}
	return hdr, nil
}

func (e *Encoder) encodeSymlink(root, file string, w io.Writer) (string, error) {
	rel, err := relName(root, file)
	if err != nil {
		return "", err
	}
	lr, ok := e.fs.(afero.LinkReader)
	if !ok {
		return "", errors.New("symlinks not supported by file system").WrapMessage(rel)
	}
	target, err := lr.ReadlinkIfPossible(file)
	if err != nil {
		return "", err
	}
	return writeHeader(w, Header{
		Type:   TypeSymlink,
		Name:   rel,
		Target: filepath.ToSlash(target),
	})
}

func relName(root, file string) (string, error) {
	rel, err := filepath.Rel(root, file)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if strings.ContainsRune(rel, '\n') {
		return "", errors.New("entry name contains a newline").WrapMessage(rel)
	}
	return rel, nil
}

// safeJoin resolves an archive entry name under root, refusing names
// that would escape it.
func safeJoin(root, name string) (string, error) {
	clean := path.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, "../") || path.IsAbs(clean) {
		return "", ErrDecode.WrapMessage("entry escapes archive root: " + name)
	}
	return filepath.Join(root, filepath.FromSlash(clean)), nil
}
