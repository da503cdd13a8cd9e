package loader

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/chengcxy/docshift/configor"
	"github.com/chengcxy/docshift/exception"
	"github.com/chengcxy/docshift/plugin"
	"github.com/chengcxy/docshift/source"
	"github.com/chengcxy/docshift/source/sourcetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, l plugin.UrisLoader) []string {
	t.Helper()
	var out []string
	for {
		uri, err := l.Next(context.Background())
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, uri)
	}
}

func TestModuleLoaderProtocol(t *testing.T) {
	fake := sourcetest.New(func(req *source.Request) ([]string, error) {
		return []string{"PROCESS-MODULE.foo=bar", "POST-BATCH-MODULE.n=1", "cohort-7", "3", "/a", " ", "/b", "/c"}, nil
	})
	opts := configor.NewOptions(map[string]string{
		configor.UrisModule:     "get-uris.xqy",
		configor.CollectionName: "docs",
	}, map[string]string{"URIS-MODULE.limit": "5"}, nil, nil)

	l, err := plugin.GetLoader(plugin.LoaderModule)
	require.NoError(t, err)
	require.NoError(t, l.Open(context.Background(), opts, fake))
	assert.EqualValues(t, 3, l.Total())
	assert.Equal(t, "cohort-7", l.BatchRef())
	assert.Equal(t, "bar", opts.Get("PROCESS-MODULE.foo"))
	assert.Equal(t, "1", opts.Get("POST-BATCH-MODULE.n"))
	assert.Equal(t, []string{"/a", "/b", "/c"}, drain(t, l))
	require.NoError(t, l.Close())
	assert.EqualValues(t, 0, fake.OpenSessions())

	reqs := fake.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/get-uris.xqy", reqs[0].ModuleURI)
	assert.Equal(t, "docs", reqs[0].Variables[UrisVar])
	assert.Equal(t, "5", reqs[0].Variables["limit"])
}

func TestModuleLoaderCustomInputLimit(t *testing.T) {
	fake := sourcetest.New(func(req *source.Request) ([]string, error) {
		return []string{"PROCESS-MODULE.a=1", "PROCESS-MODULE.b=2", "1", "/a"}, nil
	})
	opts := configor.NewOptions(map[string]string{configor.UrisModule: "INLINE-XQUERY|1"},
		map[string]string{configor.MaxOptsFromModule: "1"}, nil, nil)
	l := NewModuleLoader()
	require.NoError(t, l.Open(context.Background(), opts, fake))
	defer l.Close()
	assert.Equal(t, "1", opts.Get("PROCESS-MODULE.a"))
	assert.Equal(t, "", opts.Get("PROCESS-MODULE.b"))
	// past the limit the item is read as the batch reference
	assert.Equal(t, "PROCESS-MODULE.b=2", l.BatchRef())
	assert.EqualValues(t, 1, l.Total())
}

func TestModuleLoaderCountOnly(t *testing.T) {
	fake := sourcetest.New(func(req *source.Request) ([]string, error) {
		return []string{"0"}, nil
	})
	opts := configor.NewOptions(map[string]string{configor.UrisModule: "INLINE-JAVASCRIPT|[0]"}, nil, nil, nil)
	l := NewModuleLoader()
	require.NoError(t, l.Open(context.Background(), opts, fake))
	assert.EqualValues(t, 0, l.Total())
	assert.Equal(t, "", l.BatchRef())
	assert.Empty(t, drain(t, l))
	assert.Equal(t, "[0]", fake.Requests()[0].Query)
	l.Close()
}

func TestModuleLoaderErrors(t *testing.T) {
	l := NewModuleLoader()
	err := l.Open(context.Background(), configor.NewOptions(nil, nil, nil, nil), sourcetest.New(sourcetest.Echo))
	assert.True(t, exception.IsConfig(err))

	empty := sourcetest.New(func(req *source.Request) ([]string, error) { return nil, nil })
	err = l.Open(context.Background(), configor.NewOptions(map[string]string{configor.UrisModule: "u.xqy"}, nil, nil, nil), empty)
	assert.True(t, errors.Is(err, exception.ErrLoad))

	failing := sourcetest.New(func(req *source.Request) ([]string, error) {
		return nil, &source.RequestError{Kind: source.KindSyntax, Code: "XDMP-SYNTAX", Message: "bad"}
	})
	err = l.Open(context.Background(), configor.NewOptions(map[string]string{configor.UrisModule: "u.xqy"}, nil, nil, nil), failing)
	assert.True(t, errors.Is(err, exception.ErrLoad))
	assert.EqualValues(t, 0, failing.OpenSessions())
}

func TestFileLoader(t *testing.T) {
	p := filepath.Join(t.TempDir(), "uris.txt")
	require.NoError(t, os.WriteFile(p, []byte("/a\n\n  /b  \n/c\n"), 0o644))
	l, err := plugin.GetLoader(plugin.LoaderFile)
	require.NoError(t, err)
	require.NoError(t, l.Open(context.Background(), configor.NewOptions(map[string]string{configor.UrisFile: p}, nil, nil, nil), nil))
	assert.EqualValues(t, 3, l.Total())
	assert.Equal(t, []string{"/a", "/b", "/c"}, drain(t, l))
	require.NoError(t, l.Close())

	missing := NewFileLoader()
	err = missing.Open(context.Background(), configor.NewOptions(map[string]string{configor.UrisFile: p + ".nope"}, nil, nil, nil), nil)
	assert.True(t, errors.Is(err, exception.ErrLoad))
}

func TestXMLLoader(t *testing.T) {
	p := filepath.Join(t.TempDir(), "docs.xml")
	doc := `<?xml version="1.0"?>
<root>
  <doc id="1"><title>a</title></doc>
  <skip/>
  <doc id="2"><doc id="nested"/></doc>
</root>`
	require.NoError(t, os.WriteFile(p, []byte(doc), 0o644))

	l, err := plugin.GetLoader(plugin.LoaderXML)
	require.NoError(t, err)
	opts := configor.NewOptions(map[string]string{configor.XmlFile: p}, map[string]string{configor.XmlNode: "doc"}, nil, nil)
	require.NoError(t, l.Open(context.Background(), opts, nil))
	assert.EqualValues(t, 2, l.Total())
	assert.Equal(t, []string{`<doc id="1"><title>a</title></doc>`, `<doc id="2"><doc id="nested"/></doc>`}, drain(t, l))
	l.Close()

	all := NewXMLLoader()
	require.NoError(t, all.Open(context.Background(), configor.NewOptions(map[string]string{configor.XmlFile: p}, nil, nil, nil), nil))
	assert.EqualValues(t, 3, all.Total())
	all.Close()
}

func TestPathMatches(t *testing.T) {
	assert.True(t, pathMatches([]string{"a", "b"}, []string{"*", "b"}, true))
	assert.False(t, pathMatches([]string{"a", "b", "c"}, []string{"b", "c"}, true))
	assert.True(t, pathMatches([]string{"a", "b", "c"}, []string{"b", "c"}, false))
	assert.False(t, pathMatches([]string{"c"}, []string{"b", "c"}, false))
}
