package loader

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/chengcxy/docshift/configor"
	"github.com/chengcxy/docshift/exception"
	"github.com/chengcxy/docshift/logger"
	"github.com/chengcxy/docshift/plugin"
	"github.com/chengcxy/docshift/source"
)

// UrisVar is bound to COLLECTION-NAME when the uris module is invoked.
const UrisVar = "URIS"

// ModuleLoader runs URIS-MODULE once and streams its result. The result starts with
// up to MAX_OPTS_FROM_MODULE custom inputs <PREFIX>-MODULE.name=value, then an
// optional batch reference, then the uri count, then the uris.
type ModuleLoader struct {
	session  source.Session
	seq      source.ResultSequence
	total    int64
	batchRef string
}

func NewModuleLoader() plugin.UrisLoader {
	return &ModuleLoader{}
}

func (l *ModuleLoader) Open(ctx context.Context, opts *configor.Options, cs source.ContentSource) error {
	m, err := configor.ParseModule(configor.UrisModule, opts.Get(configor.UrisModule), opts.Get(configor.ModuleRoot))
	if err != nil {
		return err
	}
	if m == nil {
		return exception.NewConfigError(configor.UrisModule, "URIS-MODULE is not set")
	}
	vars := opts.WithPrefix(configor.UrisModule)
	vars[UrisVar] = opts.Get(configor.CollectionName)

	session, err := cs.NewSession(ctx)
	if err != nil {
		return exception.NewLoadError(configor.UrisModule, err, "cannot open session")
	}
	seq, err := session.Submit(ctx, source.NewRequest(m, vars))
	if err != nil {
		session.Close()
		return exception.NewLoadError(configor.UrisModule, err, "invoke %s failed", m)
	}
	l.session, l.seq = session, seq
	if err := l.readPreamble(opts); err != nil {
		l.Close()
		return err
	}
	logger.Infof("uris module %s returned %d uris, batch ref %q", m, l.total, l.batchRef)
	return nil
}

func (l *ModuleLoader) readPreamble(opts *configor.Options) error {
	maxOpts := opts.GetInt(configor.MaxOptsFromModule, 10)
	item, ok := l.next()
	for i := 0; ok && i < maxOpts; i++ {
		key, value, custom := customInput(item)
		if !custom {
			break
		}
		opts.SetRuntime(key, value)
		logger.Debugf("custom input from uris module %s=%s", key, value)
		item, ok = l.next()
	}
	if !ok {
		return l.preambleError("empty result, expected a uri count")
	}
	if n, err := strconv.ParseInt(item, 10, 64); err == nil {
		l.total = n
		return nil
	}
	l.batchRef = item
	if item, ok = l.next(); !ok {
		return l.preambleError("missing uri count after batch reference")
	}
	n, err := strconv.ParseInt(item, 10, 64)
	if err != nil {
		return l.preambleError("uri count %q is not an integer", item)
	}
	l.total = n
	return nil
}

func (l *ModuleLoader) preambleError(format string, args ...interface{}) error {
	if err := l.seq.Err(); err != nil {
		return exception.NewLoadError(configor.UrisModule, err, "reading result failed")
	}
	return exception.NewLoadError(configor.UrisModule, nil, format, args...)
}

// next skips blank items.
func (l *ModuleLoader) next() (string, bool) {
	for l.seq.Next() {
		if item := strings.TrimSpace(l.seq.Item()); item != "" {
			return item, true
		}
	}
	return "", false
}

func customInput(item string) (string, string, bool) {
	key, value, found := strings.Cut(item, "=")
	if !found || strings.ContainsAny(key, " \t") {
		return "", "", false
	}
	i := strings.Index(key, "-MODULE.")
	if i <= 0 || i+len("-MODULE.") == len(key) {
		return "", "", false
	}
	return key, value, true
}

func (l *ModuleLoader) Total() int64 { return l.total }

func (l *ModuleLoader) BatchRef() string { return l.batchRef }

func (l *ModuleLoader) Next(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if item, ok := l.next(); ok {
		return item, nil
	}
	if err := l.seq.Err(); err != nil {
		return "", exception.NewLoadError(configor.UrisModule, err, "reading uris failed")
	}
	return "", io.EOF
}

func (l *ModuleLoader) Close() error {
	var err error
	if l.seq != nil {
		err = l.seq.Close()
		l.seq = nil
	}
	if l.session != nil {
		if cerr := l.session.Close(); err == nil {
			err = cerr
		}
		l.session = nil
	}
	return err
}
