package export

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DocWriter writes one file per uri under Dir.
type DocWriter struct {
	Dir string
	// UriToPath keeps uri path segments as directories, otherwise they become '_'.
	UriToPath bool
}

func NewDocWriter(dir string, uriToPath bool) (*DocWriter, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DocWriter{Dir: dir, UriToPath: uriToPath}, nil
}

// PathFor maps a uri to a file below Dir.
func (d *DocWriter) PathFor(uri string) (string, error) {
	name := strings.TrimLeft(uri, "/")
	if !d.UriToPath {
		name = strings.NewReplacer("/", "_", "\\", "_").Replace(name)
	}
	if name == "" {
		return "", fmt.Errorf("uri %q gives an empty file name", uri)
	}
	p := filepath.Join(d.Dir, filepath.FromSlash(name))
	rel, err := filepath.Rel(d.Dir, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("uri %q escapes %s", uri, d.Dir)
	}
	return p, nil
}

// Write stores items, one per line, in the file derived from uri.
func (d *DocWriter) Write(uri string, items []string) (string, error) {
	p, err := d.PathFor(uri)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(p)
	if err != nil {
		return "", err
	}
	w := bufio.NewWriter(f)
	for _, it := range items {
		w.WriteString(it)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return "", err
	}
	return p, f.Close()
}
