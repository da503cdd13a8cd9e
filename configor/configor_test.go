package configor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chengcxy/docshift/exception"
	"github.com/chengcxy/docshift/job"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrecedenceTopLayerWins(t *testing.T) {
	file := map[string]string{ThreadCount: "2", BatchSize: "3", CollectionName: "file"}
	defines := map[string]string{ThreadCount: "4", BatchSize: "5"}
	args := map[string]string{ThreadCount: "6"}
	o := NewOptions(args, defines, file, []string{"BATCH_SIZE=9", "COLLECTION-NAME=env"})

	assert.Equal(t, "6", o.Get(ThreadCount))
	assert.Equal(t, "5", o.Get(BatchSize))
	assert.Equal(t, "env", o.Get(CollectionName))
}

func TestBlankValuesBehaveAsAbsent(t *testing.T) {
	o := NewOptions(
		map[string]string{ProcessModule: "   "},
		nil,
		map[string]string{ProcessModule: "  echo.xqy  "},
		[]string{"URIS-MODULE="},
	)
	assert.Equal(t, "echo.xqy", o.Get(ProcessModule))
	_, ok := o.Lookup(UrisModule)
	assert.False(t, ok)
}

func TestEnvironmentIsSnapshotAtConstruction(t *testing.T) {
	t.Setenv("DOCSHIFT-SNAPSHOT", "before")
	o := NewOptions(nil, nil, nil, os.Environ())
	t.Setenv("DOCSHIFT-SNAPSHOT", "after")
	assert.Equal(t, "before", o.Get("DOCSHIFT-SNAPSHOT"))
}

func TestLiveValuesOverrideArgs(t *testing.T) {
	o := NewOptions(map[string]string{ThreadCount: "2"}, nil, nil, nil)
	o.Set(ThreadCount, "8")
	assert.Equal(t, 8, o.GetInt(ThreadCount, 1))
	o.Set(ThreadCount, "")
	assert.Equal(t, 2, o.GetInt(ThreadCount, 1))
}

func TestReadingFileEntriesNeverRemovesThem(t *testing.T) {
	o := NewOptions(nil, nil, map[string]string{UrisModule: "uris.xqy", "UNUSED": "x"}, nil)
	assert.Equal(t, "uris.xqy", o.Get(UrisModule))
	assert.Equal(t, "uris.xqy", o.Get(UrisModule))
	assert.Equal(t, map[string]string{"UNUSED": "x"}, o.Remaining())
}

func TestWithPrefixBindsSuffixes(t *testing.T) {
	o := NewOptions(
		map[string]string{"PROCESS-MODULE.foo": "arg"},
		nil,
		map[string]string{"PROCESS-MODULE.foo": "file", "PROCESS-MODULE.bar": "b", "URIS-MODULE.baz": "z", "PROCESS-MODULE.": "x"},
		nil,
	)
	o.SetRuntime("PROCESS-MODULE.qux", "q")
	assert.Equal(t, map[string]string{"foo": "arg", "bar": "b", "qux": "q"}, o.WithPrefix(ProcessModule))
}

type reverseDecrypter struct{}

func (reverseDecrypter) Decrypt(_, value string) string {
	r := []rune(value)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}

var _ ValueDecrypter = reverseDecrypter{}

func TestDecrypterOnlyTouchesEncryptableKeys(t *testing.T) {
	o := NewOptions(map[string]string{XccPassword: "terces", CollectionName: "terces"}, nil, nil, nil)
	o.SetDecrypter(reverseDecrypter{})
	assert.Equal(t, "secret", o.Get(XccPassword))
	assert.Equal(t, "terces", o.Get(CollectionName))
}

func TestDecrypterOptionNamesThePlugin(t *testing.T) {
	o := NewOptions(nil, map[string]string{Decrypter: "base64"}, nil, nil)
	assert.Equal(t, "base64", o.Get(Decrypter))
	assert.False(t, IsEncryptable(Decrypter))
}

func TestArgsFromPositional(t *testing.T) {
	args := ArgsFromPositional([]string{"xcc://u:p@h:8000", "coll", "process.xqy", "4", "uris.xqy", "/root", "Modules", "false", "transform", "extra"})
	assert.Equal(t, "xcc://u:p@h:8000", args[XccConnectionUri])
	assert.Equal(t, "4", args[ThreadCount])
	assert.Equal(t, "transform", args[ProcessTask])
	assert.Len(t, args, len(PositionalArgs))
}

func TestDecodeAppliesDefaults(t *testing.T) {
	o := NewOptions(map[string]string{ThreadCount: "3", FailOnError: "false"}, nil, nil, nil)
	jo, err := o.Decode()
	require.NoError(t, err)
	assert.Equal(t, 3, jo.ThreadCount)
	assert.Equal(t, 1, jo.BatchSize)
	assert.Equal(t, ";", jo.BatchUriDelim)
	assert.False(t, jo.FailOnError)
	assert.True(t, jo.ExportFileUriToPath)
	assert.Equal(t, 2, jo.QueryRetryLimit)
	assert.Equal(t, 20, jo.QueryRetryInterval)
	assert.Equal(t, 3, jo.XccConnectionRetryLimit)
	assert.Equal(t, 60, jo.XccConnectionRetryInterval)
	assert.Equal(t, -1, jo.ExportFileHeaderLineCount)
	assert.Equal(t, 10, jo.NumTpsForEtc)
	assert.Equal(t, 1000, jo.DiskQueueMaxInMemorySize)
}

func TestDecodeRejectsNonNumericValues(t *testing.T) {
	o := NewOptions(map[string]string{BatchSize: "many"}, nil, nil, nil)
	_, err := o.Decode()
	require.Error(t, err)
	assert.True(t, exception.IsConfig(err))
}

func TestLoadFileFormats(t *testing.T) {
	dir := t.TempDir()

	props := filepath.Join(dir, "job.properties")
	require.NoError(t, os.WriteFile(props, []byte("THREAD-COUNT=4\nPROCESS-MODULE.foo=${bar}\n# comment\n"), 0o644))
	m, err := LoadFile(props)
	require.NoError(t, err)
	assert.Equal(t, "4", m[ThreadCount])
	assert.Equal(t, "${bar}", m["PROCESS-MODULE.foo"])

	yml := filepath.Join(dir, "job.yaml")
	require.NoError(t, os.WriteFile(yml, []byte("THREAD-COUNT: 4\nFAIL-ON-ERROR: false\nPROCESS-MODULE:\n  foo: bar\n"), 0o644))
	m, err = LoadFile(yml)
	require.NoError(t, err)
	assert.Equal(t, "4", m[ThreadCount])
	assert.Equal(t, "false", m[FailOnError])
	assert.Equal(t, "bar", m["PROCESS-MODULE.foo"])

	js := filepath.Join(dir, "job.json")
	require.NoError(t, os.WriteFile(js, []byte(`{"BATCH-SIZE": 2, "URIS-MODULE": "uris.xqy"}`), 0o644))
	m, err = LoadFile(js)
	require.NoError(t, err)
	assert.Equal(t, "2", m[BatchSize])
	assert.Equal(t, "uris.xqy", m[UrisModule])
}

func TestParseModule(t *testing.T) {
	m, err := ParseModule(ProcessModule, "echo.xqy", "/app")
	require.NoError(t, err)
	assert.Equal(t, "/app/echo.xqy", m.URI)
	assert.Equal(t, job.LangXQuery, m.Language)
	assert.Equal(t, ProcessModule, m.Prefix)

	m, err = ParseModule(ProcessModule, "/abs/transform.sjs", "/app")
	require.NoError(t, err)
	assert.Equal(t, "/abs/transform.sjs", m.URI)
	assert.Equal(t, job.LangJavaScript, m.Language)

	m, err = ParseModule(UrisModule, "INLINE-SQL|select id from docs", "/")
	require.NoError(t, err)
	assert.True(t, m.IsInline())
	assert.Equal(t, "select id from docs", m.Inline)
	assert.Equal(t, job.LangSQL, m.Language)

	file := filepath.Join(t.TempDir(), "local.xqy")
	require.NoError(t, os.WriteFile(file, []byte("xdmp:log($URI)"), 0o644))
	m, err = ParseModule(ProcessModule, file+"|ADHOC", "/")
	require.NoError(t, err)
	assert.Equal(t, "xdmp:log($URI)", m.Inline)

	m, err = ParseModule(ProcessModule, "  ", "/")
	require.NoError(t, err)
	assert.Nil(t, m)

	_, err = ParseModule(ProcessModule, "/missing/file.xqy|ADHOC", "/")
	assert.True(t, exception.IsConfig(err))
}

func TestUsageListsEveryOption(t *testing.T) {
	u := Usage()
	for _, o := range Registry {
		assert.True(t, strings.Contains(u, o.Name), o.Name)
	}
}
