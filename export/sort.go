package export

import (
	"bufio"
	"container/heap"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Comparator orders two lines: <0, 0, >0.
type Comparator func(a, b string) int

type SortOrder int

const (
	AscendingOrder SortOrder = iota
	Descending
)

const DefaultChunkLines = 100000

func Ascending(a, b string) int {
	return strings.Compare(a, b)
}

func Reverse(c Comparator) Comparator {
	return func(a, b string) int { return c(b, a) }
}

// ByLength orders by length, then lexically.
func ByLength(a, b string) int {
	if len(a) != len(b) {
		return len(a) - len(b)
	}
	return strings.Compare(a, b)
}

// Numeric orders lines parsed as numbers; unparsable lines sort after numbers.
func Numeric(a, b string) int {
	fa, errA := strconv.ParseFloat(strings.TrimSpace(a), 64)
	fb, errB := strconv.ParseFloat(strings.TrimSpace(b), 64)
	switch {
	case errA != nil && errB != nil:
		return strings.Compare(a, b)
	case errA != nil:
		return 1
	case errB != nil:
		return -1
	case fa < fb:
		return -1
	case fa > fb:
		return 1
	default:
		return 0
	}
}

var (
	comparatorsMu sync.Mutex
	comparators   = map[string]Comparator{
		"ascending":  Ascending,
		"descending": Reverse(Ascending),
		"length":     ByLength,
		"numeric":    Numeric,
	}
)

// RegisterComparator makes a comparator available to EXPORT-FILE-SORT-COMPARATOR.
func RegisterComparator(name string, c Comparator) error {
	comparatorsMu.Lock()
	defer comparatorsMu.Unlock()
	if _, ok := comparators[name]; ok {
		return fmt.Errorf("%s comparator already registered", name)
	}
	comparators[name] = c
	return nil
}

func GetComparator(name string) (Comparator, error) {
	comparatorsMu.Lock()
	defer comparatorsMu.Unlock()
	c, ok := comparators[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%s comparator not registered", name)
	}
	return c, nil
}

// ParseSortSpec reads values like "ascending", "descending|distinct", "distinct".
func ParseSortSpec(spec string) (SortOrder, bool) {
	order, distinct := AscendingOrder, false
	for _, token := range strings.Split(strings.ToLower(spec), "|") {
		switch strings.TrimSpace(token) {
		case "descending", "desc":
			order = Descending
		case "distinct":
			distinct = true
		}
	}
	return order, distinct
}

type SortOptions struct {
	HeaderLines int
	Compare     Comparator
	Distinct    bool
	ChunkLines  int
	TempDir     string
}

// SortFile sorts path in place with an external merge sort. The first HeaderLines
// lines are copied verbatim.
func SortFile(path string, opts SortOptions) error {
	if opts.ChunkLines <= 0 {
		opts.ChunkLines = DefaultChunkLines
	}
	if opts.Compare == nil {
		opts.Compare = Ascending
	}
	if opts.TempDir == "" {
		opts.TempDir = filepath.Dir(path)
	}
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".sorting-*")
	if err != nil {
		return err
	}
	outPath := out.Name()
	defer os.Remove(outPath)
	w := bufio.NewWriter(out)

	r := bufio.NewReader(in)
	for i := 0; i < opts.HeaderLines; i++ {
		line, err := r.ReadString('\n')
		if line != "" {
			if _, werr := w.WriteString(withNewline(line)); werr != nil {
				out.Close()
				return werr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			out.Close()
			return err
		}
	}

	runs, err := splitRuns(r, opts)
	defer func() {
		for _, run := range runs {
			os.Remove(run)
		}
	}()
	if err != nil {
		out.Close()
		return err
	}
	if err := mergeRuns(runs, w, opts); err != nil {
		out.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	in.Close()
	return os.Rename(outPath, path)
}

// splitRuns writes sorted runs of at most ChunkLines lines to temp files.
func splitRuns(r *bufio.Reader, opts SortOptions) ([]string, error) {
	runs := make([]string, 0)
	chunk := make([]string, 0, 1024)
	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		sort.SliceStable(chunk, func(i, j int) bool { return opts.Compare(chunk[i], chunk[j]) < 0 })
		f, err := os.CreateTemp(opts.TempDir, "docshift-run-*")
		if err != nil {
			return err
		}
		runs = append(runs, f.Name())
		w := bufio.NewWriter(f)
		for _, line := range chunk {
			w.WriteString(line)
			w.WriteByte('\n')
		}
		if err := w.Flush(); err != nil {
			f.Close()
			return err
		}
		chunk = chunk[:0]
		return f.Close()
	}
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			chunk = append(chunk, strings.TrimSuffix(line, "\n"))
			if len(chunk) >= opts.ChunkLines {
				if ferr := flush(); ferr != nil {
					return runs, ferr
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return runs, err
		}
	}
	return runs, flush()
}

type runHead struct {
	line string
	idx  int
}

type runHeap struct {
	heads []runHead
	cmp   Comparator
}

func (h *runHeap) Len() int { return len(h.heads) }
func (h *runHeap) Less(i, j int) bool {
	c := h.cmp(h.heads[i].line, h.heads[j].line)
	if c == 0 {
		return h.heads[i].idx < h.heads[j].idx
	}
	return c < 0
}
func (h *runHeap) Swap(i, j int)      { h.heads[i], h.heads[j] = h.heads[j], h.heads[i] }
func (h *runHeap) Push(x interface{}) { h.heads = append(h.heads, x.(runHead)) }
func (h *runHeap) Pop() interface{} {
	old := h.heads
	x := old[len(old)-1]
	h.heads = old[:len(old)-1]
	return x
}

func mergeRuns(runs []string, w *bufio.Writer, opts SortOptions) error {
	readers := make([]*bufio.Scanner, len(runs))
	files := make([]*os.File, len(runs))
	defer func() {
		for _, f := range files {
			if f != nil {
				f.Close()
			}
		}
	}()
	h := &runHeap{cmp: opts.Compare}
	for i, run := range runs {
		f, err := os.Open(run)
		if err != nil {
			return err
		}
		files[i] = f
		sc := bufio.NewScanner(f)
		sc.Buffer(make([]byte, 64*1024), 64*1024*1024)
		readers[i] = sc
		if sc.Scan() {
			heap.Push(h, runHead{line: sc.Text(), idx: i})
		} else if err := sc.Err(); err != nil {
			return err
		}
	}
	var last string
	written := false
	// lines the comparator treats as equal to last, for distinct
	var group map[string]bool
	for h.Len() > 0 {
		head := heap.Pop(h).(runHead)
		if !written || opts.Compare(head.line, last) != 0 {
			group = make(map[string]bool)
		}
		if !opts.Distinct || !group[head.line] {
			if _, err := w.WriteString(head.line); err != nil {
				return err
			}
			if err := w.WriteByte('\n'); err != nil {
				return err
			}
			group[head.line] = true
		}
		last, written = head.line, true
		sc := readers[head.idx]
		if sc.Scan() {
			heap.Push(h, runHead{line: sc.Text(), idx: head.idx})
		} else if err := sc.Err(); err != nil {
			return err
		}
	}
	return nil
}
