package utils

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ParseJsonFile 读取json文件,返回顶层map
func ParseJsonFile(jsonFile string) (map[string]interface{}, error) {
	file, err := os.Open(jsonFile)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	var f interface{}
	if err = json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	m, ok := f.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%s is not a json object", jsonFile)
	}
	return m, nil
}

// IsBlank 空白字符串视为未设置
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// SplitCsv splits a comma separated list, trims every token and drops empty ones.
func SplitCsv(s string) []string {
	out := make([]string, 0)
	for _, token := range strings.Split(s, ",") {
		token = strings.TrimSpace(token)
		if token != "" {
			out = append(out, token)
		}
	}
	return out
}

// ParseInt returns def when s is blank or not a number.
func ParseInt(s string, def int) int {
	if IsBlank(s) {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}

func ParseBool(s string, def bool) bool {
	if IsBlank(s) {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return b
}

// Stringify 把任意值转成字符串, yaml/json 解析出来的值都走这里
func Stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case []interface{}:
		parts := make([]string, 0, len(val))
		for _, p := range val {
			parts = append(parts, Stringify(p))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(val)
	}
}
