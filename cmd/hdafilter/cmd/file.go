package cmd

import (
	"path/filepath"
	"strings"
)

// txtPath derives the debug text file name: foo.hda -> foo.hda_txt
func txtPath(file string) string {
	ext := filepath.Ext(file)
	return strings.TrimSuffix(file, ext) + ".hda_txt"
}

// smudgedPath derives the debug output name: foo.hda -> foo_smudged.hda
func smudgedPath(file string) string {
	ext := filepath.Ext(file)
	return strings.TrimSuffix(file, ext) + "_smudged" + ext
}
