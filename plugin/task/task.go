// Package task holds the result handlers registered for PROCESS-TASK,
// PRE-BATCH-TASK, POST-BATCH-TASK and INIT-TASK.
package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/chengcxy/docshift/job"
	"github.com/chengcxy/docshift/plugin"
	"github.com/chengcxy/docshift/source"
)

func init() {
	plugin.RegisterTask(plugin.TaskTransform, func(env *plugin.Env) (plugin.Task, error) {
		return Transform{}, nil
	})
	plugin.RegisterTask(plugin.TaskExportBatchToFile, newSinkWriter(plugin.TaskExportBatchToFile))
	plugin.RegisterTask(plugin.TaskPreBatchUpdateFile, newSinkWriter(plugin.TaskPreBatchUpdateFile))
	plugin.RegisterTask(plugin.TaskPostBatchUpdateFile, newSinkWriter(plugin.TaskPostBatchUpdateFile))
	plugin.RegisterTask(plugin.TaskExportToFile, func(env *plugin.Env) (plugin.Task, error) {
		if env.Docs == nil {
			return nil, errors.New("export-to-file needs EXPORT-FILE-DIR")
		}
		return &ExportToFile{docs: env.Docs}, nil
	})
}

// Transform 只为副作用调用模块, 结果丢弃
type Transform struct{}

func (Transform) Process(ctx context.Context, inv *job.Invocation, results source.ResultSequence) error {
	for results.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return results.Err()
}

// SinkWriter appends every item of an invocation to the aggregated export file
// as one payload.
type SinkWriter struct {
	name string
	env  *plugin.Env
}

func newSinkWriter(name string) plugin.TaskFactory {
	return func(env *plugin.Env) (plugin.Task, error) {
		if env.Sink == nil {
			return nil, fmt.Errorf("%s needs EXPORT-FILE-NAME or a uris batch reference", name)
		}
		return &SinkWriter{name: name, env: env}, nil
	}
}

func (w *SinkWriter) Process(ctx context.Context, inv *job.Invocation, results source.ResultSequence) error {
	items, err := source.Drain(results)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return w.env.Sink.AppendItems(items)
}

// ExportToFile writes the results for a batch to a file named after its first uri.
type ExportToFile struct {
	docs interface {
		Write(uri string, items []string) (string, error)
	}
}

func (e *ExportToFile) Process(ctx context.Context, inv *job.Invocation, results source.ResultSequence) error {
	if inv.Batch.Size() == 0 {
		return errors.New("export-to-file needs a uri")
	}
	items, err := source.Drain(results)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err = e.docs.Write(inv.Batch.Uris[0], items)
	return err
}
