package configor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chengcxy/docshift/utils"
	"github.com/magiconair/properties"
	"gopkg.in/yaml.v3"
)

// LoadFile reads an options file. .yaml/.yml and .json are flattened with dotted keys,
// anything else is read as a properties file.
func LoadFile(name string) (map[string]string, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(name)
		if err != nil {
			return nil, err
		}
		var m map[string]interface{}
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		return flatten(m), nil
	case ".json":
		m, err := utils.ParseJsonFile(name)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		return flatten(m), nil
	default:
		return LoadProperties(name)
	}
}

// LoadProperties reads key=value lines; ${} expansion stays off so values pass through untouched.
func LoadProperties(name string) (map[string]string, error) {
	l := &properties.Loader{Encoding: properties.UTF8, DisableExpansion: true}
	p, err := l.LoadFile(name)
	if err != nil {
		return nil, err
	}
	return p.Map(), nil
}

func flatten(m map[string]interface{}) map[string]string {
	out := make(map[string]string)
	var walk func(prefix string, v interface{})
	walk = func(prefix string, v interface{}) {
		if nested, ok := v.(map[string]interface{}); ok {
			for k, child := range nested {
				key := k
				if prefix != "" {
					key = prefix + "." + k
				}
				walk(key, child)
			}
			return
		}
		out[prefix] = utils.Stringify(v)
	}
	walk("", m)
	return out
}
