// Package gitattr models .gitattributes files.
//
// Unlike a naive rewrite, loading and saving preserves comments,
// blank lines and the order of unrelated patterns: install only ever
// touches the patterns it owns.
package gitattr

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/spf13/afero"
)

// State of a single attribute on a pattern
type State int

const (
	// Unspecified means the pattern says nothing about the attribute
	Unspecified State = iota
	// Set marks an enabled attribute ("lockable")
	Set
	// Unset marks a disabled attribute ("-text")
	Unset
	// Valued marks an attribute with a value ("filter=hda")
	Valued
)

// Attribute is one attribute token on a pattern line.
type Attribute struct {
	Name  string
	State State
	Value string
}

// ParseAttribute parses a single token such as "-text", "lockable" or
// "filter=hda".
func ParseAttribute(token string) Attribute {
	switch {
	case strings.HasPrefix(token, "-"):
		return Attribute{Name: token[1:], State: Unset}
	case strings.Contains(token, "="):
		name, value, _ := strings.Cut(token, "=")
		return Attribute{Name: name, State: Valued, Value: value}
	default:
		return Attribute{Name: token, State: Set}
	}
}

func (a Attribute) String() string {
	switch a.State {
	case Unset:
		return "-" + a.Name
	case Valued:
		return a.Name + "=" + a.Value
	default:
		return a.Name
	}
}

// AttributeSet is the ordered set of attributes on one pattern.
type AttributeSet struct {
	attrs []Attribute
}

// Get returns the attribute for name, Unspecified when absent.
func (s *AttributeSet) Get(name string) Attribute {
	for _, a := range s.attrs {
		if a.Name == name {
			return a
		}
	}
	return Attribute{Name: name, State: Unspecified}
}

// Has reports whether the set says anything about name.
func (s *AttributeSet) Has(name string) bool {
	return s.Get(name).State != Unspecified
}

// Len counts the attributes in the set
func (s *AttributeSet) Len() int {
	return len(s.attrs)
}

// Set parses and upserts attribute tokens, keeping first-seen order
// for existing names.
func (s *AttributeSet) Set(tokens ...string) {
	for _, token := range tokens {
		s.put(ParseAttribute(token))
	}
}

// SetValue upserts a valued attribute such as filter=hda.
func (s *AttributeSet) SetValue(name, value string) {
	s.put(Attribute{Name: name, State: Valued, Value: value})
}

func (s *AttributeSet) put(attr Attribute) {
	for i, a := range s.attrs {
		if a.Name == attr.Name {
			s.attrs[i] = attr
			return
		}
	}
	s.attrs = append(s.attrs, attr)
}

func (s *AttributeSet) String() string {
	tokens := make([]string, 0, len(s.attrs))
	for _, a := range s.attrs {
		tokens = append(tokens, a.String())
	}
	return strings.Join(tokens, " ")
}

// line is either a raw passthrough (comment, blank) or an owned
// pattern entry.
type line struct {
	raw     string
	pattern string
	attrs   *AttributeSet
}

// File is a parsed .gitattributes file.
type File struct {
	lines []*line
	index map[string]*line
}

// NewFile returns an empty attributes file model
func NewFile() *File {
	return &File{index: map[string]*line{}}
}

// Load parses path; a missing file yields an empty model.
func Load(fs afero.Fs, path string) (*File, error) {
	f := NewFile()
	exists, err := afero.Exists(fs, path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return f, nil
	}
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		text := scanner.Text()
		trimmed := strings.TrimSpace(text)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			f.lines = append(f.lines, &line{raw: text})
			continue
		}
		fields := strings.Fields(trimmed)
		set := &AttributeSet{}
		set.Set(fields[1:]...)
		f.addPattern(fields[0], set)
	}
	return f, scanner.Err()
}

func (f *File) addPattern(pattern string, set *AttributeSet) {
	l := &line{pattern: pattern, attrs: set}
	f.lines = append(f.lines, l)
	f.index[pattern] = l
}

// Pattern returns the attribute set for a pattern, creating the entry
// when absent.
func (f *File) Pattern(pattern string) *AttributeSet {
	if l, ok := f.index[pattern]; ok {
		return l.attrs
	}
	set := &AttributeSet{}
	f.addPattern(pattern, set)
	return set
}

// Patterns lists the patterns carrying attributes, in file order.
func (f *File) Patterns() []string {
	var out []string
	for _, l := range f.lines {
		if l.attrs != nil && l.attrs.Len() > 0 {
			out = append(out, l.pattern)
		}
	}
	return out
}

// Save writes the file back, keeping unrelated lines verbatim.
func (f *File) Save(fs afero.Fs, path string) error {
	var buf bytes.Buffer
	for _, l := range f.lines {
		if l.attrs == nil {
			buf.WriteString(l.raw + "\n")
			continue
		}
		if l.attrs.Len() == 0 {
			continue
		}
		buf.WriteString(l.pattern + " " + l.attrs.String() + "\n")
	}
	return afero.WriteFile(fs, path, buf.Bytes(), 0644)
}
