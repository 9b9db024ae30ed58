// Package zip streams artifact archives.
package zip

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
)

// Entry is one file in an archive. Path is read from disk when set;
// otherwise Data is written.
type Entry struct {
	Name string
	Path string
	Data []byte
}

// Write streams entries as a zip archive to w. Duplicate names get a
// numeric suffix so no entry shadows another.
func Write(w io.Writer, entries []Entry) error {
	zw := zip.NewWriter(w)
	seen := make(map[string]int, len(entries))
	for _, entry := range entries {
		name := uniqueName(entry.Name, seen)
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
		if err != nil {
			return fmt.Errorf("zip: create %s: %w", name, err)
		}
		if err := writeEntry(fw, entry); err != nil {
			return fmt.Errorf("zip: write %s: %w", name, err)
		}
	}
	return zw.Close()
}

func writeEntry(w io.Writer, entry Entry) error {
	if entry.Path == "" {
		_, err := w.Write(entry.Data)
		return err
	}
	f, err := os.Open(entry.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

func uniqueName(name string, seen map[string]int) string {
	name = strings.TrimLeft(path.Clean("/"+strings.ReplaceAll(name, "\\", "/")), "/")
	if name == "" {
		name = "file"
	}
	n := seen[name]
	seen[name] = n + 1
	if n == 0 {
		return name
	}
	ext := path.Ext(name)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), n+1, ext)
}
