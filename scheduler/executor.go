package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chengcxy/docshift/configor"
	"github.com/chengcxy/docshift/export"
	"github.com/chengcxy/docshift/job"
	"github.com/chengcxy/docshift/logger"
	"github.com/chengcxy/docshift/metrics"
	"github.com/chengcxy/docshift/plugin"
	"github.com/chengcxy/docshift/source"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// UriVar carries the joined batch to the process module.
const UriVar = "URI"

// Executor runs one invocation: session per attempt, request, task, retries.
type Executor struct {
	cs          source.ContentSource
	opts        *configor.Options
	policy      *RetryPolicy
	recorder    *metrics.Recorder
	errFile     *export.ErrorFile
	failOnError bool

	mu       sync.Mutex
	varCache map[string]map[string]string
}

func NewExecutor(cs source.ContentSource, opts *configor.Options, policy *RetryPolicy, recorder *metrics.Recorder, errFile *export.ErrorFile, failOnError bool) *Executor {
	return &Executor{
		cs:          cs,
		opts:        opts,
		policy:      policy,
		recorder:    recorder,
		errFile:     errFile,
		failOnError: failOnError,
		varCache:    make(map[string]map[string]string),
	}
}

// moduleVars 按前缀缓存, 每个任务不用重新扫描 options
func (e *Executor) moduleVars(prefix string) map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	vars, ok := e.varCache[prefix]
	if !ok {
		vars = e.opts.WithPrefix(prefix)
		e.varCache[prefix] = vars
	}
	return vars
}

func (e *Executor) variables(inv *job.Invocation) map[string]string {
	cached := e.moduleVars(inv.Module.Prefix)
	vars := make(map[string]string, len(cached)+2)
	for k, v := range cached {
		vars[k] = v
	}
	if ref := e.opts.Get(configor.UrisBatchRef); ref != "" {
		vars[configor.UrisBatchRef] = ref
	}
	if inv.Phase == job.PhaseProcess {
		vars[UriVar] = inv.JoinedUris()
	}
	return vars
}

// Execute runs inv until it succeeds or the retry policy gives up.
func (e *Executor) Execute(ctx context.Context, wid int, inv *job.Invocation, task plugin.Task) *job.Result {
	start := time.Now()
	res := &job.Result{Batch: inv.Batch, Wid: wid, Status: job.StatusRunning}
	// 连接和查询重试共用一个计数, 上限取当前失败类型的 limit
	retries := 0
	vars := e.variables(inv)
	for {
		inv.Attempt++
		err := e.attempt(ctx, inv, task, vars)
		res.Attempts = inv.Attempt
		if err == nil {
			res.Status = job.StatusSuccess
			break
		}
		class := e.policy.classify(err)
		limit, interval := e.policy.budget(class)
		if class == noRetry || retries >= limit {
			res.Status, res.Err = job.StatusFailed, err
			break
		}
		retries++
		e.recorder.Retry(class.String())
		logger.Warnf("%s %s attempt %d failed, retrying in %s (%s retry %d/%d): %v",
			inv.Phase, inv.Module, inv.Attempt, interval, class, retries, limit, err)
		if err := sleep(ctx, interval); err != nil {
			res.Status, res.Err = job.StatusCancelled, err
			break
		}
	}
	e.recorder.ObserveTask(string(inv.Phase), statusLabel(res.Status), time.Since(start))
	if res.Err != nil {
		e.fail(inv, res)
	}
	return res
}

func statusLabel(status int) string {
	switch status {
	case job.StatusSuccess:
		return "success"
	case job.StatusCancelled:
		return "cancelled"
	default:
		return "failed"
	}
}

// fail 决定失败是否致命, 非致命时写错误文件
func (e *Executor) fail(inv *job.Invocation, res *job.Result) {
	if res.Status == job.StatusCancelled || errors.Is(res.Err, context.Canceled) {
		res.Fatal = true
		return
	}
	if e.failOnError {
		res.Fatal = true
		logger.Errorf("%s %s failed at URI: %s: %v", inv.Phase, inv.Module, inv.JoinedUris(), res.Err)
		return
	}
	logger.Warnf("failOnError is false. Encountered %s at URI: %s", res.Err, inv.JoinedUris())
	if inv.Batch.Size() == 0 {
		return
	}
	if err := e.errFile.Write(inv.Batch.Uris, res.Err.Error()); err != nil {
		logger.Errorf("cannot write error file: %v", err)
	}
}

func (e *Executor) attempt(ctx context.Context, inv *job.Invocation, task plugin.Task, vars map[string]string) (err error) {
	ctx, span := metrics.StartSpan(ctx, string(inv.Phase),
		attribute.String("docshift.module", inv.Module.String()),
		attribute.Int("docshift.uris", inv.Batch.Size()),
		attribute.Int("docshift.attempt", inv.Attempt),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	session, err := e.cs.NewSession(ctx)
	if err != nil {
		if _, ok := source.AsRequestError(err); !ok && ctx.Err() == nil {
			err = source.ConnectError(err)
		}
		return err
	}
	defer session.Close()
	seq, err := session.Submit(ctx, source.NewRequest(inv.Module, vars))
	if err != nil {
		return err
	}
	defer seq.Close()
	return task.Process(ctx, inv, seq)
}
