package export

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFile(t *testing.T, p string) string {
	t.Helper()
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	return string(b)
}

func TestConcurrentAppendsStayContiguous(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSink(SinkConfig{Dir: dir, Name: "out.txt", HeaderLines: -1})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			items := make([]string, 0, 5)
			for j := 0; j < 5; j++ {
				items = append(items, fmt.Sprintf("task%02d-line%d", i, j))
			}
			assert.NoError(t, s.AppendItems(items))
		}(i)
	}
	wg.Wait()
	final, err := s.Finalize(context.Background())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(readFile(t, final), "\n"), "\n")
	require.Len(t, lines, 100)
	for i := 0; i < len(lines); i += 5 {
		task := lines[i][:6]
		for j := 0; j < 5; j++ {
			assert.Equal(t, fmt.Sprintf("%s-line%d", task, j), lines[i+j])
		}
	}
}

func TestPartExtIsRenamedOnFinalize(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSink(SinkConfig{Dir: dir, Name: "out.txt", PartExt: ".part", TopContent: "header", BottomContent: "footer\n", HeaderLines: -1})
	require.NoError(t, err)
	require.NoError(t, s.AppendItems([]string{"/a"}))
	_, err = os.Stat(filepath.Join(dir, "out.txt.part"))
	require.NoError(t, err)

	final, err := s.Finalize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "out.txt"), final)
	assert.Equal(t, "header\n/a\nfooter\n", readFile(t, final))
	_, err = os.Stat(filepath.Join(dir, "out.txt.part"))
	assert.True(t, os.IsNotExist(err))
	_, err = s.Finalize(context.Background())
	assert.ErrorIs(t, err, ErrSinkClosed)
}

func TestSortKeepsHeaderAndDedupes(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSink(SinkConfig{Dir: dir, Name: "out.csv", TopContent: "uri", Sort: "descending|distinct", HeaderLines: -1, ChunkLines: 2})
	require.NoError(t, err)
	require.NoError(t, s.AppendItems([]string{"zeta"}))
	require.NoError(t, s.SealHeader())
	require.NoError(t, s.AppendItems([]string{"/b", "/a"}))
	require.NoError(t, s.AppendItems([]string{"/c", "/b"}))
	require.NoError(t, s.AppendItems([]string{"/a"}))

	final, err := s.Finalize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "uri\nzeta\n/c\n/b\n/a\n", readFile(t, final))
}

func TestConfiguredHeaderCountWins(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSink(SinkConfig{Dir: dir, Name: "out.txt", TopContent: "h1\nh2", Sort: "ascending", HeaderLines: 1})
	require.NoError(t, err)
	require.NoError(t, s.SealHeader())
	require.NoError(t, s.AppendItems([]string{"b", "a"}))
	final, err := s.Finalize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "h1\na\nb\nh2\n", readFile(t, final))
}

func TestSortFileExternalMerge(t *testing.T) {
	p := filepath.Join(t.TempDir(), "big.txt")
	var b strings.Builder
	for i := 999; i >= 0; i-- {
		fmt.Fprintf(&b, "%d\n", i%500)
	}
	require.NoError(t, os.WriteFile(p, []byte(b.String()), 0o644))

	require.NoError(t, SortFile(p, SortOptions{Compare: Numeric, Distinct: true, ChunkLines: 64}))
	lines := strings.Split(strings.TrimSuffix(readFile(t, p), "\n"), "\n")
	require.Len(t, lines, 500)
	for i, l := range lines {
		assert.Equal(t, fmt.Sprint(i), l)
	}
	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(p), "docshift-run-*"))
	assert.Empty(t, matches)
}

func TestComparatorReplacesSortOrder(t *testing.T) {
	for _, order := range []string{"ascending", "descending"} {
		t.Run(order, func(t *testing.T) {
			dir := t.TempDir()
			cmp, err := GetComparator("descending")
			require.NoError(t, err)
			s, err := NewSink(SinkConfig{Dir: dir, Name: "out.txt", Sort: order, Comparator: cmp, HeaderLines: -1})
			require.NoError(t, err)
			require.NoError(t, s.SealHeader())
			require.NoError(t, s.AppendItems([]string{"b", "c", "a"}))
			final, err := s.Finalize(context.Background())
			require.NoError(t, err)
			assert.Equal(t, "c\nb\na\n", readFile(t, final))
		})
	}
}

func TestComparatorRegistry(t *testing.T) {
	c, err := GetComparator("LENGTH")
	require.NoError(t, err)
	assert.Less(t, c("zz", "aaa"), 0)
	_, err = GetComparator("nope")
	assert.Error(t, err)
	assert.Error(t, RegisterComparator("ascending", Ascending))
	order, distinct := ParseSortSpec("Descending | Distinct")
	assert.Equal(t, Descending, order)
	assert.True(t, distinct)
}

func TestBindRenamesPlaceholder(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSink(SinkConfig{Dir: dir, Placeholder: "docshift-run", PartExt: ".part", TopContent: "top", HeaderLines: -1})
	require.NoError(t, err)
	require.NoError(t, s.Bind("batch-42.txt"))
	require.NoError(t, s.AppendItems([]string{"/a"}))
	final, err := s.Finalize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "batch-42.txt"), final)
	assert.Equal(t, "top\n/a\n", readFile(t, final))
}

func TestTopContentCarriesBatchRef(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSink(SinkConfig{Dir: dir, Placeholder: "docshift-run", TopContent: "ref=" + BatchRefPlaceholder, HeaderLines: -1})
	require.NoError(t, err)
	// pre-batch 输出先于 Bind 写入, 仍排在 TopContent 之后
	require.NoError(t, s.AppendItems([]string{"pre"}))
	require.NoError(t, s.Bind("cohort.txt"))
	require.NoError(t, s.SealHeader())
	require.NoError(t, s.AppendItems([]string{"/a"}))
	final, err := s.Finalize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ref=cohort.txt\npre\n/a\n", readFile(t, final))
}

func TestUnnamedSinkFailsOnFinalize(t *testing.T) {
	s, err := NewSink(SinkConfig{Dir: t.TempDir(), Placeholder: "tmp", HeaderLines: -1})
	require.NoError(t, err)
	_, err = s.Finalize(context.Background())
	assert.Error(t, err)
}

func TestSecondSinkOnSameFileIsRefused(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSink(SinkConfig{Dir: dir, Name: "out.txt", HeaderLines: -1})
	require.NoError(t, err)
	defer s.Abort()
	_, err = NewSink(SinkConfig{Dir: dir, Name: "out.txt", HeaderLines: -1})
	assert.Error(t, err)
}

type recordingUploader struct{ files []string }

func (r *recordingUploader) Upload(_ context.Context, file string) (string, error) {
	r.files = append(r.files, file)
	return "mem://" + filepath.Base(file), nil
}

func TestZipAndUpload(t *testing.T) {
	dir := t.TempDir()
	up := &recordingUploader{}
	s, err := NewSink(SinkConfig{Dir: dir, Name: "out.txt", Zip: true, Uploader: up, HeaderLines: -1})
	require.NoError(t, err)
	require.NoError(t, s.AppendItems([]string{"/a", "/b"}))
	final, err := s.Finalize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "out.txt.zip"), final)
	assert.Equal(t, []string{final}, up.files)
	_, err = os.Stat(filepath.Join(dir, "out.txt"))
	assert.True(t, os.IsNotExist(err))

	zr, err := zip.OpenReader(final)
	require.NoError(t, err)
	defer zr.Close()
	require.Len(t, zr.File, 1)
	assert.Equal(t, "out.txt", zr.File[0].Name)
	rc, err := zr.File[0].Open()
	require.NoError(t, err)
	body, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "/a\n/b\n", string(body))
}

func TestDocWriterPaths(t *testing.T) {
	dir := t.TempDir()
	nested, err := NewDocWriter(dir, true)
	require.NoError(t, err)
	p, err := nested.Write("/docs/2024/a.xml", []string{"<a/>"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "docs", "2024", "a.xml"), p)
	assert.Equal(t, "<a/>\n", readFile(t, p))

	flat, _ := NewDocWriter(dir, false)
	p, err = flat.PathFor("/docs/2024/a.xml")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "docs_2024_a.xml"), p)

	_, err = nested.PathFor("/../../etc/passwd")
	assert.Error(t, err)
	_, err = nested.PathFor("/")
	assert.Error(t, err)
}

func TestErrorFileLines(t *testing.T) {
	dir := t.TempDir()
	ef, err := NewErrorFile(dir, "errs.txt", ";", true)
	require.NoError(t, err)

	require.NoError(t, ef.Write([]string{"/b"}, "XDMP-SYNTAX: bad\ninput"))
	require.NoError(t, ef.Write([]string{"/b"}, "XDMP-SYNTAX: bad\ninput"))
	require.NoError(t, ef.Write([]string{"/c", "/d"}, ""))
	require.NoError(t, ef.Write(nil, "ignored"))
	require.NoError(t, ef.Close())

	assert.Equal(t, "/b;XDMP-SYNTAX: bad input\n/c;/d\n", readFile(t, filepath.Join(dir, "errs.txt")))
}

func TestErrorFileDisabledWhenNameBlank(t *testing.T) {
	ef, err := NewErrorFile(t.TempDir(), "  ", ";", false)
	require.NoError(t, err)
	assert.Nil(t, ef)
	assert.NoError(t, ef.Write([]string{"/a"}, "x"))
	assert.NoError(t, ef.Close())
}

func TestErrorFileNotCreatedWithoutFailures(t *testing.T) {
	dir := t.TempDir()
	ef, err := NewErrorFile(dir, "errs.txt", ";", false)
	require.NoError(t, err)
	require.NoError(t, ef.Close())
	_, err = os.Stat(filepath.Join(dir, "errs.txt"))
	assert.True(t, os.IsNotExist(err))
}
