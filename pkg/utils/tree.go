package utils

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	indentPrefix    = "    "
	entryPrefix     = "├── "
	lastEntryPrefix = "└── "
	verticalLine    = "│   "
)

// SaveMirrorTree writes an ASCII tree of mirrorDir into outputFilePath.
// The output file itself is left out of the listing when it lives inside mirrorDir.
func SaveMirrorTree(mirrorDir, outputFilePath string, log *logrus.Entry) error {
	if _, err := os.Stat(mirrorDir); err != nil {
		return fmt.Errorf("%w: mirror directory '%s': %w", ErrFilesystem, mirrorDir, err)
	}

	file, err := os.Create(outputFilePath)
	if err != nil {
		return fmt.Errorf("%w: create tree file '%s': %w", ErrFilesystem, outputFilePath, err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	skip := filepath.Clean(outputFilePath)
	if err := WriteTree(writer, mirrorDir, func(p string) bool { return filepath.Clean(p) == skip }); err != nil {
		log.Errorf("Tree generation for '%s' failed: %v", mirrorDir, err)
		return err
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("%w: flush tree file: %w", ErrFilesystem, err)
	}
	log.Debugf("Wrote mirror tree for %s to %s", mirrorDir, outputFilePath)
	return nil
}

// WriteTree renders root as a directory tree. Directories sort before files,
// then entries sort case-insensitively. skip may be nil.
func WriteTree(w io.Writer, root string, skip func(path string) bool) error {
	header := fmt.Sprintf("Mirror Structure for: %s", root)
	if _, err := fmt.Fprintf(w, "%s\n%s\n\n%s/\n", header, strings.Repeat("=", len(header)), filepath.Base(root)); err != nil {
		return err
	}
	return writeTreeLevel(w, root, "", skip)
}

func writeTreeLevel(w io.Writer, dir, indent string, skip func(string) bool) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("%w: read directory '%s': %w", ErrFilesystem, dir, err)
	}
	if skip != nil {
		entries = slices.DeleteFunc(entries, func(e os.DirEntry) bool { return skip(filepath.Join(dir, e.Name())) })
	}

	slices.SortFunc(entries, func(a, b os.DirEntry) int {
		if a.IsDir() != b.IsDir() {
			if a.IsDir() {
				return -1
			}
			return 1
		}
		return strings.Compare(strings.ToLower(a.Name()), strings.ToLower(b.Name()))
	})

	for i, entry := range entries {
		last := i == len(entries)-1
		connector, childIndent := entryPrefix, indent+verticalLine
		if last {
			connector, childIndent = lastEntryPrefix, indent+indentPrefix
		}
		if _, err := fmt.Fprintf(w, "%s%s%s\n", indent, connector, entry.Name()); err != nil {
			return err
		}
		if entry.IsDir() {
			if err := writeTreeLevel(w, filepath.Join(dir, entry.Name()), childIndent, skip); err != nil {
				return err
			}
		}
	}
	return nil
}
