package configor

import (
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/chengcxy/docshift/exception"
	"github.com/chengcxy/docshift/job"
)

const (
	inlineXQuery     = "INLINE-XQUERY|"
	inlineJavaScript = "INLINE-JAVASCRIPT|"
	inlineSQL        = "INLINE-SQL|"
	adhocSuffix      = "|ADHOC"
)

// ParseModule turns a *-MODULE option value into a module reference.
//
//	INLINE-XQUERY|<body>, INLINE-JAVASCRIPT|<body>, INLINE-SQL|<body>  inline body
//	<local file>|ADHOC                                                file read now, sent inline
//	<uri>                                                             module uri, relative ones under root
func ParseModule(prefix, value, root string) (*job.Module, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	m := &job.Module{Prefix: prefix}
	upper := strings.ToUpper(value)
	switch {
	case strings.HasPrefix(upper, inlineXQuery):
		m.Inline, m.Language = value[len(inlineXQuery):], job.LangXQuery
	case strings.HasPrefix(upper, inlineJavaScript):
		m.Inline, m.Language = value[len(inlineJavaScript):], job.LangJavaScript
	case strings.HasPrefix(upper, inlineSQL):
		m.Inline, m.Language = value[len(inlineSQL):], job.LangSQL
	case strings.HasSuffix(upper, adhocSuffix):
		file := value[:len(value)-len(adhocSuffix)]
		body, err := os.ReadFile(file)
		if err != nil {
			return nil, exception.WrapConfigError(prefix, err, "cannot read adhoc module %s", file)
		}
		m.Inline, m.Language = string(body), languageOf(file)
	default:
		uri := value
		if !strings.HasPrefix(uri, "/") {
			if root == "" {
				root = "/"
			}
			uri = path.Join(root, uri)
		}
		m.URI, m.Language = uri, languageOf(uri)
	}
	if m.IsInline() && strings.TrimSpace(m.Inline) == "" {
		return nil, exception.NewConfigError(prefix, "inline module body is empty")
	}
	return m, nil
}

func languageOf(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".sjs", ".js":
		return job.LangJavaScript
	case ".sql":
		return job.LangSQL
	default:
		return job.LangXQuery
	}
}
