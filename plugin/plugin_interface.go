package plugin

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/chengcxy/docshift/configor"
	"github.com/chengcxy/docshift/export"
	"github.com/chengcxy/docshift/job"
	"github.com/chengcxy/docshift/source"
)

// 注册名
const (
	TaskTransform           = "transform"
	TaskExportBatchToFile   = "export-batch-to-file"
	TaskExportToFile        = "export-to-file"
	TaskPreBatchUpdateFile  = "pre-batch-update-file"
	TaskPostBatchUpdateFile = "post-batch-update-file"

	LoaderModule = "module"
	LoaderFile   = "file"
	LoaderXML    = "xml"

	SSLTrustAnyone = "trust-anyone"
	SSLTwoWay      = "two-way"
)

// UrisLoader 产生待处理的 uri 序列
type UrisLoader interface {
	Open(ctx context.Context, opts *configor.Options, cs source.ContentSource) error
	// Total is known after Open.
	Total() int64
	// BatchRef may be empty.
	BatchRef() string
	// Next returns io.EOF when exhausted.
	Next(ctx context.Context) (string, error)
	Close() error
}

// Task consumes the results of one successful module invocation. Tasks are the
// only writers to the export sinks.
type Task interface {
	Process(ctx context.Context, inv *job.Invocation, results source.ResultSequence) error
}

// Env is what a task factory may bind to.
type Env struct {
	Options *configor.Options
	Sink    *export.Sink
	Docs    *export.DocWriter
}

type Decrypter interface {
	Init(opts *configor.Options) error
	configor.ValueDecrypter
}

type SSLConfig interface {
	Init(opts *configor.Options) error
	TLSConfig() (*tls.Config, error)
}

type TaskFactory func(env *Env) (Task, error)

var (
	Loaders    = make(map[string]func() UrisLoader)
	Tasks      = make(map[string]TaskFactory)
	Decrypters = make(map[string]func() Decrypter)
	SSLConfigs = make(map[string]func() SSLConfig)
)

var lock sync.Mutex

func register[T any](registry map[string]T, kind, name string, factory T) error {
	lock.Lock()
	defer lock.Unlock()
	if _, ok := registry[name]; ok {
		return fmt.Errorf("%s %s already registered", name, kind)
	}
	registry[name] = factory
	return nil
}

func get[T any](registry map[string]T, kind, name string) (T, error) {
	lock.Lock()
	defer lock.Unlock()
	factory, ok := registry[name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%s %s not registered, known: %v", name, kind, keys(registry))
	}
	return factory, nil
}

func keys[T any](registry map[string]T) []string {
	names := make([]string, 0, len(registry))
	for k := range registry {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func RegisterLoader(name string, factory func() UrisLoader) error {
	return register(Loaders, "loader", name, factory)
}

func GetLoader(name string) (UrisLoader, error) {
	factory, err := get(Loaders, "loader", name)
	if err != nil {
		return nil, err
	}
	return factory(), nil
}

func RegisterTask(name string, factory TaskFactory) error {
	return register(Tasks, "task", name, factory)
}

func GetTask(name string, env *Env) (Task, error) {
	factory, err := get(Tasks, "task", name)
	if err != nil {
		return nil, err
	}
	if env == nil {
		return nil, errors.New("task env is nil")
	}
	return factory(env)
}

func RegisterDecrypter(name string, factory func() Decrypter) error {
	return register(Decrypters, "decrypter", name, factory)
}

func GetDecrypter(name string) (Decrypter, error) {
	factory, err := get(Decrypters, "decrypter", name)
	if err != nil {
		return nil, err
	}
	return factory(), nil
}

func RegisterSSLConfig(name string, factory func() SSLConfig) error {
	return register(SSLConfigs, "ssl config", name, factory)
}

func GetSSLConfig(name string) (SSLConfig, error) {
	factory, err := get(SSLConfigs, "ssl config", name)
	if err != nil {
		return nil, err
	}
	return factory(), nil
}
