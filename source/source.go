package source

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
)

// Request 一次服务端调用, ModuleURI 为空时执行 Query
type Request struct {
	ModuleURI string
	Query     string
	Language  string
	Variables map[string]string
}

// ResultSequence iterates result items the way sql.Rows does.
type ResultSequence interface {
	Next() bool
	Item() string
	Err() error
	Close() error
}

type Session interface {
	Submit(ctx context.Context, req *Request) (ResultSequence, error)
	Close() error
}

// ContentSource hands out independent sessions; safe for concurrent use.
type ContentSource interface {
	NewSession(ctx context.Context) (Session, error)
	Close() error
}

// Opener builds a content source from a parsed connection uri.
// tlsConf is non-nil only for secure schemes.
type Opener func(ctx context.Context, u *url.URL, tlsConf *tls.Config) (ContentSource, error)

type scheme struct {
	secure bool
	open   Opener
}

var (
	lock    sync.Mutex
	schemes = make(map[string]scheme)
)

func Register(name string, secure bool, open Opener) error {
	lock.Lock()
	defer lock.Unlock()
	name = strings.ToLower(name)
	if _, ok := schemes[name]; ok {
		return fmt.Errorf("%s scheme already registered", name)
	}
	schemes[name] = scheme{secure: secure, open: open}
	return nil
}

func Schemes() []string {
	lock.Lock()
	defer lock.Unlock()
	names := make([]string, 0, len(schemes))
	for n := range schemes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// IsSecure reports whether the scheme of rawURI selects a TLS transport.
func IsSecure(rawURI string) (bool, error) {
	_, s, err := lookup(rawURI)
	if err != nil {
		return false, err
	}
	return s.secure, nil
}

func lookup(rawURI string) (*url.URL, scheme, error) {
	u, err := url.Parse(strings.TrimSpace(rawURI))
	if err != nil {
		return nil, scheme{}, fmt.Errorf("invalid connection uri: %w", err)
	}
	lock.Lock()
	s, ok := schemes[strings.ToLower(u.Scheme)]
	lock.Unlock()
	if !ok {
		return nil, scheme{}, fmt.Errorf("unsupported connection scheme %q, registered: %s", u.Scheme, strings.Join(Schemes(), ","))
	}
	return u, s, nil
}

// Open is the connection factory. tlsConf is ignored for plain schemes.
func Open(ctx context.Context, rawURI string, tlsConf *tls.Config) (ContentSource, error) {
	u, s, err := lookup(rawURI)
	if err != nil {
		return nil, err
	}
	if !s.secure {
		tlsConf = nil
	} else if tlsConf == nil {
		return nil, errors.New("secure scheme " + u.Scheme + " requires a tls config")
	}
	return s.open(ctx, u, tlsConf)
}

// Redact hides the password of a connection uri for logging.
func Redact(rawURI string) string {
	u, err := url.Parse(rawURI)
	if err != nil {
		return "<invalid uri>"
	}
	return u.Redacted()
}
