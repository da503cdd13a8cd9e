package export

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const distinctCacheSize = 100000

// ErrorFile 失败批次记录, 第一次写入时才创建文件
type ErrorFile struct {
	path  string
	delim string

	mu   sync.Mutex
	f    *os.File
	seen *lru.Cache[string, struct{}]
}

// NewErrorFile returns nil when name is blank. Relative names live under dir.
func NewErrorFile(dir, name, delim string, distinct bool) (*ErrorFile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	if !filepath.IsAbs(name) && dir != "" {
		name = filepath.Join(dir, name)
	}
	e := &ErrorFile{path: name, delim: delim}
	if distinct {
		cache, err := lru.New[string, struct{}](distinctCacheSize)
		if err != nil {
			return nil, err
		}
		e.seen = cache
	}
	return e, nil
}

func (e *ErrorFile) Path() string {
	return e.path
}

// Line renders <uris joined by delim><delim><message>; the delimiter is omitted for an empty message.
func Line(uris []string, delim, message string) string {
	line := strings.Join(uris, delim)
	message = strings.TrimSpace(strings.ReplaceAll(strings.ReplaceAll(message, "\r", " "), "\n", " "))
	if message != "" {
		line += delim + message
	}
	return line
}

// Write records a failed batch. Empty batches are skipped.
func (e *ErrorFile) Write(uris []string, message string) error {
	if e == nil || len(uris) == 0 {
		return nil
	}
	line := Line(uris, e.delim, message)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.seen != nil {
		if e.seen.Contains(line) {
			return nil
		}
		e.seen.Add(line, struct{}{})
	}
	if e.f == nil {
		if err := os.MkdirAll(filepath.Dir(e.path), 0o755); err != nil {
			return err
		}
		f, err := os.OpenFile(e.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		e.f = f
	}
	_, err := e.f.WriteString(line + "\n")
	return err
}

func (e *ErrorFile) Close() error {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.f == nil {
		return nil
	}
	err := e.f.Close()
	e.f = nil
	return err
}
