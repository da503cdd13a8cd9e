package configor

import (
	"sort"
	"strings"
	"sync"

	"github.com/chengcxy/docshift/utils"
)

// ValueDecrypter 解密可加密的配置项, 解密失败时返回原值
type ValueDecrypter interface {
	Decrypt(key, value string) string
}

type layer int

const (
	layerNone layer = iota
	layerLive
	layerArgs
	layerDefines
	layerEnv
	layerRuntime
	layerFile
)

// Options resolves a key through its layers, top wins:
// live (command file), positional args, defines (-D), process environment,
// runtime custom inputs from the uris module, options file.
type Options struct {
	mu        sync.Mutex
	live      map[string]string
	args      map[string]string
	defines   map[string]string
	env       map[string]string
	runtime   map[string]string
	file      map[string]string
	consumed  map[string]bool
	decrypter ValueDecrypter
}

// NewOptions copies every layer. environ is a snapshot in os.Environ format and is
// not consulted again after construction.
func NewOptions(args, defines, file map[string]string, environ []string) *Options {
	o := &Options{
		live:     make(map[string]string),
		args:     trimmed(args),
		defines:  trimmed(defines),
		env:      make(map[string]string),
		runtime:  make(map[string]string),
		file:     trimmed(file),
		consumed: make(map[string]bool),
	}
	for _, kv := range environ {
		if i := strings.IndexByte(kv, '='); i > 0 {
			if v := strings.TrimSpace(kv[i+1:]); v != "" {
				o.env[kv[:i]] = v
			}
		}
	}
	return o
}

// ArgsFromPositional maps positional cli arguments onto their option names.
func ArgsFromPositional(positional []string) map[string]string {
	m := make(map[string]string)
	for i, v := range positional {
		if i >= len(PositionalArgs) {
			break
		}
		m[PositionalArgs[i]] = v
	}
	return m
}

func trimmed(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		if k != "" && v != "" {
			out[k] = v
		}
	}
	return out
}

func (o *Options) SetDecrypter(d ValueDecrypter) {
	o.mu.Lock()
	o.decrypter = d
	o.mu.Unlock()
}

func (o *Options) lookupLocked(key string) (string, layer) {
	if v, ok := o.live[key]; ok {
		return v, layerLive
	}
	if v, ok := o.args[key]; ok {
		return v, layerArgs
	}
	if v, ok := o.defines[key]; ok {
		return v, layerDefines
	}
	if v, ok := o.env[key]; ok {
		return v, layerEnv
	}
	if alt := strings.ReplaceAll(key, "-", "_"); alt != key {
		if v, ok := o.env[alt]; ok {
			return v, layerEnv
		}
	}
	if v, ok := o.runtime[key]; ok {
		return v, layerRuntime
	}
	if v, ok := o.file[key]; ok {
		return v, layerFile
	}
	return "", layerNone
}

// Lookup returns the trimmed value of the highest non-blank layer.
func (o *Options) Lookup(key string) (string, bool) {
	o.mu.Lock()
	v, l := o.lookupLocked(key)
	if l == layerFile {
		o.consumed[key] = true
	}
	d := o.decrypter
	o.mu.Unlock()
	if l == layerNone {
		return "", false
	}
	if d != nil && IsEncryptable(key) {
		v = strings.TrimSpace(d.Decrypt(key, v))
	}
	return v, v != ""
}

func (o *Options) Get(key string) string {
	v, _ := o.Lookup(key)
	return v
}

// GetOrDefault falls back to the registry default.
func (o *Options) GetOrDefault(key string) string {
	if v, ok := o.Lookup(key); ok {
		return v
	}
	return DefaultOf(key)
}

func (o *Options) GetInt(key string, def int) int {
	return utils.ParseInt(o.Get(key), def)
}

func (o *Options) GetBool(key string, def bool) bool {
	return utils.ParseBool(o.Get(key), def)
}

// Set writes a live value, used for the command file controlled subset.
func (o *Options) Set(key, value string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	value = strings.TrimSpace(value)
	if value == "" {
		delete(o.live, key)
		return
	}
	o.live[key] = value
}

// SetRuntime records a custom input produced while the job runs.
func (o *Options) SetRuntime(key, value string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if key == "" || value == "" {
		return
	}
	o.runtime[key] = value
}

// Keys enumerates keys from all layers, sorted.
func (o *Options) Keys() []string {
	o.mu.Lock()
	seen := make(map[string]bool)
	for _, m := range []map[string]string{o.live, o.args, o.defines, o.env, o.runtime, o.file} {
		for k := range m {
			seen[k] = true
		}
	}
	o.mu.Unlock()
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// WithPrefix returns name -> value for every key shaped <prefix>.<name>.
func (o *Options) WithPrefix(prefix string) map[string]string {
	out := make(map[string]string)
	p := prefix + "."
	for _, k := range o.Keys() {
		if !strings.HasPrefix(k, p) || len(k) == len(p) {
			continue
		}
		if v, ok := o.Lookup(k); ok {
			out[k[len(p):]] = v
		}
	}
	return out
}

// Remaining lists options file entries never read.
func (o *Options) Remaining() map[string]string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]string)
	for k, v := range o.file {
		if !o.consumed[k] {
			out[k] = v
		}
	}
	return out
}

// Decrypt runs value through the decrypter when key is encryptable. Used for values
// read outside the layers, e.g. the SSL properties file.
func (o *Options) Decrypt(key, value string) string {
	o.mu.Lock()
	d := o.decrypter
	o.mu.Unlock()
	if d == nil || !IsEncryptable(key) {
		return value
	}
	return strings.TrimSpace(d.Decrypt(key, value))
}
