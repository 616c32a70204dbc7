package encode

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strconv"
	"strings"

	"github.com/oneconcern/hdafilter/pkg/errors"
	"github.com/spf13/afero"
)

// Sniff reports whether the stream positioned at r starts with a text
// archive produced by this package. It only peeks, the reader is left
// untouched.
func Sniff(r *bufio.Reader) bool {
	peek, _ := r.Peek(64)
	s := strings.TrimLeft(string(peek), "\r\n")
	return strings.HasPrefix(s, Separator+"\ntype:"+string(TypeMetadata))
}

// ReadMetadata consumes and validates the archive provenance block.
func ReadMetadata(r *bufio.Reader) (Metadata, error) {
	hdr, err := parseHeader(r)
	if err != nil {
		return Metadata{}, ErrDecode.Wrap(err)
	}
	if hdr.Type != TypeMetadata {
		return Metadata{}, ErrDecode.WrapMessage("expected metadata header, got " + string(hdr.Type))
	}
	if hdr.FormatVersion != FormatVersion {
		return Metadata{}, ErrDecode.WrapMessage("unsupported format version " + strconv.Itoa(hdr.FormatVersion))
	}
	return Metadata{
		Name:          hdr.Name,
		FilterVersion: hdr.FilterVersion,
		Converter:     hdr.Converter,
	}, nil
}

// Decoder materializes text archives back into directory trees.
type Decoder struct {
	fs afero.Fs
}

// NewDecoder builds a decoder over the given file system
func NewDecoder(fs afero.Fs) *Decoder {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Decoder{fs: fs}
}

// DecodeDirectory reads one directory archive from r and writes the
// tree under root, verifying per-file digests and the directory
// chain. Any mismatch or truncation yields ErrDecode; callers must
// treat the partially written tree as garbage.
func (d *Decoder) DecodeDirectory(root string, r *bufio.Reader) error {
	hdr, err := parseHeader(r)
	if err != nil {
		return ErrDecode.Wrap(err)
	}
	if hdr.Type != TypeDirectory {
		return ErrDecode.WrapMessage("expected directory header, got " + string(hdr.Type))
	}
	if err := d.fs.MkdirAll(root, 0700); err != nil {
		return err
	}
	_, err = d.decodeDir(root, hdr, r)
	return err
}

func (d *Decoder) decodeDir(root string, dir Header, r *bufio.Reader) (string, error) {
	sum := sha256.New()
	_, _ = sum.Write([]byte(serialize(dir)))
	for {
		hdr, err := parseHeader(r)
		if err == io.EOF {
			return "", ErrDecode.WrapMessage("unexpected end of archive in " + dir.Name)
		}
		if err != nil {
			return "", ErrDecode.Wrap(err)
		}
		switch hdr.Type {
		case TypeFile:
			if err := d.decodeFile(root, hdr, r); err != nil {
				return "", err
			}
			_, _ = sum.Write([]byte(serialize(hdr)))
		case TypeSymlink:
			if err := d.decodeSymlink(root, hdr); err != nil {
				return "", err
			}
			_, _ = sum.Write([]byte(serialize(hdr)))
		case TypeDirectory:
			target, err := safeJoin(root, hdr.Name)
			if err != nil {
				return "", err
			}
			if err := d.fs.MkdirAll(target, 0700); err != nil {
				return "", err
			}
			digest, err := d.decodeDir(root, hdr, r)
			if err != nil {
				return "", err
			}
			_, _ = sum.Write([]byte(digest))
		case TypeFooter:
			if hdr.Name != dir.Name {
				return "", ErrDecode.WrapMessage("footer for " + hdr.Name + " closes directory " + dir.Name)
			}
			digest := hex.EncodeToString(sum.Sum(nil))
			if hdr.SHA256 != digest {
				return "", ErrDecode.WrapMessage("directory hash mismatch in " + dir.Name)
			}
			_, _ = sum.Write([]byte(serialize(hdr)))
			return hex.EncodeToString(sum.Sum(nil)), nil
		default:
			return "", ErrDecode.WrapMessage("unknown entry type " + string(hdr.Type))
		}
	}
}

func (d *Decoder) decodeFile(root string, hdr Header, r *bufio.Reader) error {
	target, err := safeJoin(root, hdr.Name)
	if err != nil {
		return err
	}
	data := make([]byte, hdr.Length)
	if _, err := io.ReadFull(r, data); err != nil {
		return ErrDecode.WrapMessage("truncated payload for " + hdr.Name)
	}
	sha := sha256.Sum256(data)
	if hex.EncodeToString(sha[:]) != hdr.SHA256 {
		return ErrDecode.WrapMessage("file hash mismatch for " + hdr.Name)
	}
	return afero.WriteFile(d.fs, target, data, 0600)
}

func (d *Decoder) decodeSymlink(root string, hdr Header) error {
	target, err := safeJoin(root, hdr.Name)
	if err != nil {
		return err
	}
	if _, err := safeJoin(root, hdr.Target); err != nil {
		return err
	}
	linker, ok := d.fs.(afero.Linker)
	if !ok {
		return errors.New("symlinks not supported by file system").WrapMessage(hdr.Name)
	}
	return linker.SymlinkIfPossible(hdr.Target, target)
}

// parseHeader reads the next delimited header block. io.EOF is
// returned only when the stream ends cleanly before a block starts.
func parseHeader(r *bufio.Reader) (Header, error) {
	var hdr Header
	// skip the blank padding between payloads and headers
	for {
		line, err := r.ReadString('\n')
		text := strings.TrimRight(line, "\r\n")
		if err == io.EOF && text == "" {
			return hdr, io.EOF
		}
		if err != nil && err != io.EOF {
			return hdr, err
		}
		if text == "" {
			continue
		}
		if text != Separator {
			return hdr, errors.New("expected separator").WrapMessage(text)
		}
		break
	}
	for {
		line, err := r.ReadString('\n')
		text := strings.TrimRight(line, "\r\n")
		if err != nil && !(err == io.EOF && text == Separator) {
			return hdr, errors.New("unterminated header")
		}
		if text == Separator {
			return hdr, nil
		}
		key, value, found := strings.Cut(text, ":")
		if !found {
			return hdr, errors.New("malformed header line").WrapMessage(text)
		}
		switch key {
		case "type":
			hdr.Type = EntryType(value)
		case "name":
			hdr.Name = value
		case "sha256":
			hdr.SHA256 = value
		case "length":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil || n < 0 {
				return hdr, errors.New("invalid length").WrapMessage(value)
			}
			hdr.Length = n
		case "target":
			hdr.Target = value
		case "format_version":
			n, err := strconv.Atoi(value)
			if err != nil {
				return hdr, errors.New("invalid format version").WrapMessage(value)
			}
			hdr.FormatVersion = n
		case "filter_version":
			hdr.FilterVersion = value
		case "converter":
			hdr.Converter = value
		default:
			// unknown keys from a newer writer are skipped, not fatal
		}
	}
}
