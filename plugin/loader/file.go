package loader

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bodgit/sevenzip"
	"github.com/chengcxy/docshift/configor"
	"github.com/chengcxy/docshift/exception"
	"github.com/chengcxy/docshift/logger"
	"github.com/chengcxy/docshift/plugin"
	"github.com/chengcxy/docshift/source"
)

const maxLineSize = 1 << 20

// FileLoader reads one uri per line from URIS-FILE. A .7z archive is read from its
// first regular entry. Blank lines are skipped.
type FileLoader struct {
	path    string
	total   int64
	rc      io.ReadCloser
	archive *sevenzip.ReadCloser
	scanner *bufio.Scanner
}

func NewFileLoader() plugin.UrisLoader {
	return &FileLoader{}
}

func (l *FileLoader) Open(ctx context.Context, opts *configor.Options, _ source.ContentSource) error {
	l.path = opts.Get(configor.UrisFile)
	if l.path == "" {
		return exception.NewConfigError(configor.UrisFile, "URIS-FILE is not set")
	}
	// 先数一遍行数得到 total
	if err := l.reopen(); err != nil {
		return err
	}
	var n int64
	for l.scanner.Scan() {
		if err := ctx.Err(); err != nil {
			l.Close()
			return err
		}
		if strings.TrimSpace(l.scanner.Text()) != "" {
			n++
		}
	}
	if err := l.scanner.Err(); err != nil {
		l.Close()
		return exception.NewLoadError(configor.UrisFile, err, "cannot read %s", l.path)
	}
	l.total = n
	if err := l.reopen(); err != nil {
		return err
	}
	logger.Infof("uris file %s has %d uris", l.path, n)
	return nil
}

func (l *FileLoader) reopen() error {
	l.Close()
	rc, archive, err := openUrisFile(l.path)
	if err != nil {
		return exception.NewLoadError(configor.UrisFile, err, "cannot open %s", l.path)
	}
	l.rc, l.archive = rc, archive
	l.scanner = bufio.NewScanner(rc)
	l.scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	return nil
}

func openUrisFile(path string) (io.ReadCloser, *sevenzip.ReadCloser, error) {
	if !strings.EqualFold(filepath.Ext(path), ".7z") {
		f, err := os.Open(path)
		return f, nil, err
	}
	archive, err := sevenzip.OpenReader(path)
	if err != nil {
		return nil, nil, err
	}
	for _, f := range archive.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			archive.Close()
			return nil, nil, err
		}
		return rc, archive, nil
	}
	archive.Close()
	return nil, nil, errors.New("archive has no file entry")
}

func (l *FileLoader) Total() int64 { return l.total }

func (l *FileLoader) BatchRef() string { return "" }

func (l *FileLoader) Next(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if l.scanner == nil {
		return "", io.EOF
	}
	for l.scanner.Scan() {
		if line := strings.TrimSpace(l.scanner.Text()); line != "" {
			return line, nil
		}
	}
	if err := l.scanner.Err(); err != nil {
		return "", exception.NewLoadError(configor.UrisFile, err, "cannot read %s", l.path)
	}
	return "", io.EOF
}

func (l *FileLoader) Close() error {
	var err error
	if l.rc != nil {
		err = l.rc.Close()
		l.rc = nil
	}
	if l.archive != nil {
		if cerr := l.archive.Close(); err == nil {
			err = cerr
		}
		l.archive = nil
	}
	l.scanner = nil
	return err
}
