// Package lfs drives the git-lfs filter commands configured in the
// enclosing repository.
//
// git-lfs is treated as a black box: the package shells out to the
// exact clean/smudge command lines found in git config, the same ones
// git itself would run, and only understands the pointer text those
// commands exchange.
package lfs

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/oneconcern/hdafilter/pkg/errors"
	"go.uber.org/zap"
)

// pointer files start with this line, per the git-lfs spec
const pointerPrefix = "version https://git-lfs"

// ErrLFS reports a git-lfs invocation failure
var ErrLFS = errors.New("git-lfs invocation failed")

// Pointer is a parsed LFS pointer block.
type Pointer struct {
	// Raw holds the pointer exactly as emitted by git-lfs clean,
	// suitable for feeding back into git-lfs smudge
	Raw  []byte
	Oid  string
	Size int64
}

// IsPointer reports whether the buffer starts with an LFS pointer.
func IsPointer(b []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(b, "\r\n"), []byte(pointerPrefix))
}

// ReadPointer consumes a pointer block from the head of the stream.
// It returns (nil, nil) when the stream does not start with one, in
// which case nothing is consumed.
func ReadPointer(r *bufio.Reader) (*Pointer, error) {
	peek, _ := r.Peek(len(pointerPrefix))
	if !bytes.HasPrefix(peek, []byte(pointerPrefix)) {
		return nil, nil
	}
	// a pointer block is three lines: version, oid, size
	var raw bytes.Buffer
	ptr := &Pointer{}
	for i := 0; i < 3; i++ {
		line, err := r.ReadString('\n')
		raw.WriteString(line)
		if err != nil && err != io.EOF {
			return nil, err
		}
		text := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(text, "oid "):
			ptr.Oid = strings.TrimPrefix(strings.TrimPrefix(text, "oid "), "sha256:")
		case strings.HasPrefix(text, "size "):
			n, perr := strconv.ParseInt(strings.TrimPrefix(text, "size "), 10, 64)
			if perr == nil {
				ptr.Size = n
			}
		}
		if err == io.EOF {
			break
		}
	}
	ptr.Raw = raw.Bytes()
	return ptr, nil
}

// ParsePointer parses a pointer out of a byte buffer.
func ParsePointer(b []byte) (*Pointer, error) {
	if !IsPointer(b) {
		return nil, ErrLFS.WrapMessage("not an LFS pointer")
	}
	return ReadPointer(bufio.NewReader(bytes.NewReader(b)))
}

// Client runs the repository's configured LFS filter commands.
type Client struct {
	clean   string
	smudge  string
	timeout time.Duration
	l       *zap.Logger
}

// Option alters the client construction
type Option func(*Client)

// WithTimeout bounds each git-lfs invocation
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithLogger injects a logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		c.l = l
	}
}

// NewClient wraps the clean and smudge command lines from git config
// (filter.lfs.clean, filter.lfs.smudge).
func NewClient(clean, smudge string, opts ...Option) *Client {
	c := &Client{
		clean:  clean,
		smudge: smudge,
		l:      zap.NewNop(),
	}
	for _, apply := range opts {
		apply(c)
	}
	return c
}

// Clean feeds the binary through git-lfs clean, which stores the blob
// and yields the pointer to track.
func (c *Client) Clean(ctx context.Context, file string, binary io.Reader) (*Pointer, error) {
	var out bytes.Buffer
	if err := c.run(ctx, c.clean, file, binary, &out); err != nil {
		return nil, err
	}
	ptr, err := ParsePointer(out.Bytes())
	if err != nil {
		return nil, ErrLFS.WrapMessage("clean output for " + file + " is not a pointer")
	}
	c.l.Debug("archived via git-lfs", zap.String("file", file), zap.String("oid", ptr.Oid))
	return ptr, nil
}

// Smudge feeds the pointer through git-lfs smudge, writing the
// original binary to w.
func (c *Client) Smudge(ctx context.Context, file string, ptr *Pointer, w io.Writer) error {
	if ptr == nil {
		return ErrLFS.WrapMessage("no pointer to smudge for " + file)
	}
	if err := c.run(ctx, c.smudge, file, bytes.NewReader(ptr.Raw), w); err != nil {
		return err
	}
	c.l.Debug("retrieved via git-lfs", zap.String("file", file), zap.String("oid", ptr.Oid))
	return nil
}

func (c *Client) run(ctx context.Context, cmdline, file string, in io.Reader, out io.Writer) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	args := strings.Fields(substFile(cmdline, file))
	if len(args) == 0 {
		return ErrLFS.WrapMessage("empty command line")
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdin = in
	cmd.Stdout = out
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return ErrLFS.WrapMessage(args[0] + ": " + msg)
	}
	return nil
}

// substFile substitutes the %f placeholder git uses in filter command
// lines.
func substFile(cmd, file string) string {
	return strings.ReplaceAll(cmd, "%f", file)
}
