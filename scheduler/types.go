package scheduler

import (
	"regexp"

	"github.com/chengcxy/docshift/configor"
	"github.com/chengcxy/docshift/exception"
	"github.com/chengcxy/docshift/job"
	"github.com/chengcxy/docshift/plugin"
	"github.com/chengcxy/docshift/utils"
)

// 进程退出码, 没有 uri 时用 EXIT-CODE-NO-URIS
const (
	ExitSuccess         = 0
	ExitInitError       = 1
	ExitProcessingError = 2
)

// ExitCodeOf maps an error that ended the job: config errors are init errors,
// everything else is a processing error.
func ExitCodeOf(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case exception.IsConfig(err):
		return ExitInitError
	default:
		return ExitProcessingError
	}
}

// phaseTask 一个阶段的模块和任务
type phaseTask struct {
	phase  job.Phase
	module *job.Module
	task   plugin.Task
}

type uriReplacer struct {
	pattern     *regexp.Regexp
	replacement string
}

// parseReplacers reads URIS-REPLACE-PATTERN as pattern,replacement pairs.
func parseReplacers(value string) ([]uriReplacer, error) {
	tokens := utils.SplitCsv(value)
	if len(tokens)%2 != 0 {
		// 替换为空时最后一个 token 被丢掉
		tokens = append(tokens, "")
	}
	out := make([]uriReplacer, 0, len(tokens)/2)
	for i := 0; i < len(tokens); i += 2 {
		re, err := regexp.Compile(tokens[i])
		if err != nil {
			return nil, exception.WrapConfigError(configor.UrisReplacePattern, err, "invalid pattern %s", tokens[i])
		}
		out = append(out, uriReplacer{pattern: re, replacement: tokens[i+1]})
	}
	return out, nil
}

func rewrite(uri string, replacers []uriReplacer) string {
	for _, r := range replacers {
		uri = r.pattern.ReplaceAllString(uri, r.replacement)
	}
	return uri
}
