package export

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/chengcxy/docshift/logger"
	"github.com/gofrs/flock"
)

type SinkConfig struct {
	Dir     string
	Name    string
	PartExt string
	// TopContent opens the file on SealHeader; @URIS_BATCH_REF becomes the bound batch reference.
	TopContent string
	// BottomContent is appended on Finalize.
	BottomContent string
	// Sort is ascending|descending with an optional |distinct, blank means no sort.
	Sort string
	// Comparator replaces the ascending/descending order of Sort when set.
	Comparator Comparator
	// HeaderLines < 0 means count the lines written before SealHeader.
	HeaderLines int
	Zip         bool
	// ChunkLines bounds the lines held in memory by the external sort.
	ChunkLines int
	Uploader   Uploader
	// Placeholder names the working file while Name is still unknown.
	Placeholder string
}

// Sink 聚合导出文件, 多个 worker 并发 Append, 每次 Append 的内容整体写入
type Sink struct {
	cfg SinkConfig

	mu          sync.Mutex
	f           *os.File
	w           *bufio.Writer
	workPath    string
	lock        *flock.Flock
	lines       int
	headerLines int
	sealed      bool
	closed      bool
	appends     int
	// pending 表头确定前的写入, SealHeader 时排在 TopContent 之后落盘
	pending bytes.Buffer
	ref     string
}

// BatchRefPlaceholder in TopContent is replaced with the uris batch reference.
const BatchRefPlaceholder = "@URIS_BATCH_REF"

var ErrSinkClosed = errors.New("export sink is closed")

func NewSink(cfg SinkConfig) (*Sink, error) {
	if cfg.Dir == "" {
		cfg.Dir = "."
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	name := cfg.Name
	if name == "" {
		if cfg.Placeholder == "" {
			return nil, errors.New("export sink needs a name or a placeholder")
		}
		name = cfg.Placeholder
	}
	s := &Sink{cfg: cfg, headerLines: cfg.HeaderLines}
	if err := s.open(filepath.Join(cfg.Dir, name+cfg.PartExt)); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sink) open(path string) error {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock %s: %w", path, err)
	}
	if !locked {
		return fmt.Errorf("export file %s is in use by another job", path)
	}
	f, err := os.Create(path)
	if err != nil {
		_ = lock.Unlock()
		return err
	}
	s.f, s.w, s.workPath, s.lock = f, bufio.NewWriter(f), path, lock
	return nil
}

// Append writes p in one piece.
func (s *Sink) Append(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	if s.sealed {
		if _, err := s.w.Write(p); err != nil {
			return err
		}
	} else {
		s.pending.Write(p)
	}
	s.lines += bytes.Count(p, []byte{'\n'})
	s.appends++
	return nil
}

// AppendItems writes every item followed by a newline as a single payload.
func (s *Sink) AppendItems(items []string) error {
	if len(items) == 0 {
		return nil
	}
	var buf bytes.Buffer
	for _, it := range items {
		buf.WriteString(it)
		buf.WriteByte('\n')
	}
	return s.Append(buf.Bytes())
}

// SealHeader writes the top content and everything appended so far, then fixes the
// header line count unless it was configured.
func (s *Sink) SealHeader() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sealLocked()
}

func (s *Sink) sealLocked() error {
	if s.sealed {
		return nil
	}
	s.sealed = true
	if top := s.cfg.TopContent; top != "" {
		top = withNewline(strings.ReplaceAll(top, BatchRefPlaceholder, s.ref))
		if _, err := s.w.WriteString(top); err != nil {
			return err
		}
		s.lines += strings.Count(top, "\n")
	}
	if _, err := s.pending.WriteTo(s.w); err != nil {
		return err
	}
	if s.headerLines < 0 {
		s.headerLines = s.lines
	}
	return nil
}

// Bind gives the sink its final name once the batch reference is known.
func (s *Sink) Bind(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ref = name
	if s.cfg.Name != "" || name == "" {
		return nil
	}
	if err := s.w.Flush(); err != nil {
		return err
	}
	target := filepath.Join(s.cfg.Dir, name+s.cfg.PartExt)
	lock := flock.New(target + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return err
	}
	if !locked {
		return fmt.Errorf("export file %s is in use by another job", target)
	}
	if err := os.Rename(s.workPath, target); err != nil {
		_ = lock.Unlock()
		return err
	}
	s.releaseLock()
	s.cfg.Name, s.workPath, s.lock = name, target, lock
	return nil
}

func (s *Sink) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Name
}

func (s *Sink) Lines() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lines
}

func (s *Sink) releaseLock() {
	if s.lock != nil {
		_ = s.lock.Unlock()
		_ = os.Remove(s.lock.Path())
		s.lock = nil
	}
}

// Finalize appends the bottom content, sorts, renames, zips and uploads.
// Returns the path of the final artifact.
func (s *Sink) Finalize(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrSinkClosed
	}
	defer s.releaseLock()
	if err := s.sealLocked(); err != nil {
		s.closed = true
		_ = s.f.Close()
		return "", err
	}
	s.closed = true

	if s.cfg.BottomContent != "" {
		if _, err := s.w.WriteString(withNewline(s.cfg.BottomContent)); err != nil {
			return "", err
		}
	}
	if err := s.w.Flush(); err != nil {
		return "", err
	}
	if err := s.f.Close(); err != nil {
		return "", err
	}
	if s.cfg.Name == "" {
		return s.workPath, fmt.Errorf("export file %s never got a name, set EXPORT-FILE-NAME", s.workPath)
	}

	if spec := strings.TrimSpace(s.cfg.Sort); spec != "" {
		header := s.headerLines
		if header < 0 {
			header = 0
		}
		order, distinct := ParseSortSpec(spec)
		cmp := s.cfg.Comparator
		if cmp == nil {
			cmp = Ascending
			if order == Descending {
				cmp = Reverse(cmp)
			}
		}
		if err := SortFile(s.workPath, SortOptions{
			HeaderLines: header,
			Compare:     cmp,
			Distinct:    distinct,
			ChunkLines:  s.cfg.ChunkLines,
			TempDir:     s.cfg.Dir,
		}); err != nil {
			return "", fmt.Errorf("sort %s: %w", s.workPath, err)
		}
	}

	final := filepath.Join(s.cfg.Dir, s.cfg.Name)
	if s.workPath != final {
		if err := os.Rename(s.workPath, final); err != nil {
			return "", err
		}
	}
	if s.cfg.Zip {
		zipped, err := ZipFile(final)
		if err != nil {
			return "", err
		}
		final = zipped
	}
	if s.cfg.Uploader != nil {
		location, err := s.cfg.Uploader.Upload(ctx, final)
		if err != nil {
			return final, fmt.Errorf("upload %s: %w", final, err)
		}
		logger.Infof("export file uploaded to %s", location)
	}
	logger.Infof("export file %s finalized with %d payloads", final, s.appends)
	return final, nil
}

// Abort closes the working file without finalizing it.
func (s *Sink) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	defer s.releaseLock()
	sealErr := s.sealLocked()
	s.closed = true
	if err := s.w.Flush(); err != nil {
		_ = s.f.Close()
		return err
	}
	if err := s.f.Close(); err != nil {
		return err
	}
	return sealErr
}

func withNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
