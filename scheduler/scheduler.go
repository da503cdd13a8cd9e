package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/chengcxy/docshift/configor"
	"github.com/chengcxy/docshift/exception"
	"github.com/chengcxy/docshift/export"
	"github.com/chengcxy/docshift/job"
	"github.com/chengcxy/docshift/logger"
	"github.com/chengcxy/docshift/metrics"
	"github.com/chengcxy/docshift/plugin"
	"github.com/chengcxy/docshift/source"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// Scheduler runs one job: init, pre-batch, discovery, dispatch, post-batch, finalize.
type Scheduler struct {
	StartTime time.Time
	RunID     string

	ctx  context.Context
	opts *configor.Options
	jo   *configor.JobOptions

	cs        source.ContentSource
	loader    plugin.UrisLoader
	sink      *export.Sink
	docs      *export.DocWriter
	errFile   *export.ErrorFile
	executor  *Executor
	pool      *WorkerPool
	progress  *job.Progress
	recorder  *metrics.Recorder
	replacers []uriReplacer

	initPhase *phaseTask
	prePhase  *phaseTask
	postPhase *phaseTask
	process   *phaseTask

	// tick 监控间隔, 默认 COMMAND-FILE-POLL-INTERVAL 秒
	tick time.Duration

	mu             sync.Mutex
	stopped        bool
	fatalErr       error
	cancelDispatch context.CancelFunc

	shutdownTracing func(context.Context) error
	stopMetrics     context.CancelFunc
}

// NewScheduler performs the init phase. Any error returned is an init failure.
func NewScheduler(ctx context.Context, opts *configor.Options) (s *Scheduler, err error) {
	s = &Scheduler{
		StartTime: time.Now(),
		RunID:     uuid.NewString(),
		ctx:       ctx,
		opts:      opts,
		recorder:  metrics.NewRecorder(),
	}
	defer func() {
		if err != nil {
			if cerr := s.Close(); cerr != nil {
				logger.Warnf("cleanup after init failure: %v", cerr)
			}
			s = nil
		}
	}()

	if level := opts.Get(configor.LogLevel); level != "" {
		if err := logger.SetLevel(level); err != nil {
			return s, exception.WrapConfigError(configor.LogLevel, err, "invalid log level")
		}
	}
	if err := s.initDecrypter(); err != nil {
		return s, err
	}
	if s.jo, err = opts.Decode(); err != nil {
		return s, err
	}
	jo := s.jo
	s.tick = time.Duration(jo.CommandFilePollInterval) * time.Second
	if jo.NumTpsForEtc < job.MinTpsWindow {
		logger.Warnf("%s=%d is too small, using %d", configor.NumTpsForEtc, jo.NumTpsForEtc, job.MinTpsWindow)
	}
	s.progress = job.NewProgress(jo.NumTpsForEtc)
	s.pool = NewWorkerPool(jo.ThreadCount)
	s.recorder.SetThreads(jo.ThreadCount)
	if s.replacers, err = parseReplacers(jo.UrisReplacePattern); err != nil {
		return s, err
	}

	if s.shutdownTracing, err = metrics.InitTracing(ctx, jo.TraceEndpoint, s.RunID); err != nil {
		return s, exception.WrapConfigError(configor.TraceEndpoint, err, "cannot init tracing")
	}
	if jo.MetricsAddr != "" {
		mctx, cancel := context.WithCancel(context.Background())
		s.stopMetrics = cancel
		go func() {
			if err := s.recorder.Serve(mctx, jo.MetricsAddr); err != nil {
				logger.Errorf("metrics endpoint %s: %v", jo.MetricsAddr, err)
			}
		}()
	}

	if s.loader, err = selectLoader(opts); err != nil {
		return s, err
	}
	if err := s.initExport(); err != nil {
		return s, err
	}
	if err := s.initPhases(); err != nil {
		return s, err
	}
	if s.errFile, err = export.NewErrorFile(jo.ExportFileDir, jo.ErrorFileName, jo.BatchUriDelim, jo.ErrorFileDistinct); err != nil {
		return s, exception.WrapConfigError(configor.ErrorFileName, err, "cannot prepare error file")
	}
	if s.cs, err = openContentSource(ctx, opts); err != nil {
		return s, err
	}
	s.executor = NewExecutor(s.cs, opts, NewRetryPolicy(jo), s.recorder, s.errFile, jo.FailOnError)

	if rest := opts.Remaining(); len(rest) > 0 {
		logger.Debugf("options file entries not used: %v", rest)
	}
	logger.Infof("run %s initialized: threads %d, batch size %d, process module %s", s.RunID, jo.ThreadCount, jo.BatchSize, s.process.module)
	return s, nil
}

func (s *Scheduler) initDecrypter() error {
	name := s.opts.Get(configor.Decrypter)
	if name == "" {
		return nil
	}
	d, err := plugin.GetDecrypter(name)
	if err != nil {
		return exception.WrapConfigError(configor.Decrypter, err, "unknown decrypter")
	}
	if err := d.Init(s.opts); err != nil {
		return err
	}
	s.opts.SetDecrypter(d)
	logger.Infof("using decrypter %s", name)
	return nil
}

func selectLoader(opts *configor.Options) (plugin.UrisLoader, error) {
	name := opts.Get(configor.UrisLoader)
	if name == "" {
		switch {
		case opts.Get(configor.XmlFile) != "":
			name = plugin.LoaderXML
		case opts.Get(configor.UrisFile) != "":
			name = plugin.LoaderFile
		case opts.Get(configor.UrisModule) != "":
			name = plugin.LoaderModule
		default:
			return nil, exception.NewConfigError(configor.UrisLoader, "one of URIS-MODULE, URIS-FILE, XML-FILE or URIS-LOADER is required")
		}
	}
	l, err := plugin.GetLoader(name)
	if err != nil {
		return nil, exception.WrapConfigError(configor.UrisLoader, err, "unknown uris loader")
	}
	return l, nil
}

var sinkTasks = map[string]bool{
	plugin.TaskExportBatchToFile:   true,
	plugin.TaskPreBatchUpdateFile:  true,
	plugin.TaskPostBatchUpdateFile: true,
}

func (s *Scheduler) initExport() error {
	jo := s.jo
	needSink := jo.ExportFileName != ""
	for _, key := range []string{configor.ProcessTask, configor.PreBatchTask, configor.PostBatchTask, configor.InitTask} {
		needSink = needSink || sinkTasks[s.opts.Get(key)]
	}
	if needSink {
		cfg := export.SinkConfig{
			Dir:           jo.ExportFileDir,
			Name:          jo.ExportFileName,
			PartExt:       jo.ExportFilePartExt,
			TopContent:    jo.ExportFileTopContent,
			BottomContent: jo.ExportFileBottomContent,
			Sort:          jo.ExportFileSort,
			HeaderLines:   jo.ExportFileHeaderLineCount,
			Zip:           jo.ExportFileAsZip,
			Placeholder:   "docshift-" + s.RunID,
		}
		if name := jo.ExportFileSortComparator; name != "" {
			cmp, err := export.GetComparator(name)
			if err != nil {
				return exception.WrapConfigError(configor.ExportFileSortComparator, err, "unknown comparator")
			}
			cfg.Comparator = cmp
		}
		if jo.ExportFileS3Bucket != "" {
			up, err := export.NewS3Uploader(s.ctx, export.S3Config{
				Bucket:   jo.ExportFileS3Bucket,
				Prefix:   jo.ExportFileS3Prefix,
				Region:   jo.ExportFileS3Region,
				Endpoint: jo.ExportFileS3Endpoint,
			})
			if err != nil {
				return exception.WrapConfigError(configor.ExportFileS3Bucket, err, "cannot create s3 uploader")
			}
			cfg.Uploader = up
		}
		sink, err := export.NewSink(cfg)
		if err != nil {
			return exception.WrapConfigError(configor.ExportFileName, err, "cannot create export file")
		}
		s.sink = sink
	}
	if s.opts.Get(configor.ProcessTask) == plugin.TaskExportToFile {
		docs, err := export.NewDocWriter(jo.ExportFileDir, jo.ExportFileUriToPath)
		if err != nil {
			return exception.WrapConfigError(configor.ExportFileDir, err, "cannot prepare export dir")
		}
		s.docs = docs
	}
	return nil
}

func (s *Scheduler) initPhases() (err error) {
	env := &plugin.Env{Options: s.opts, Sink: s.sink, Docs: s.docs}
	batchDefault := plugin.TaskTransform
	if s.sink != nil {
		batchDefault = plugin.TaskPreBatchUpdateFile
	}
	processDefault := plugin.TaskTransform
	if s.jo.ExportFileName != "" {
		processDefault = plugin.TaskExportBatchToFile
	}

	processKey := configor.ProcessModule
	if s.opts.Get(processKey) == "" && s.opts.Get(configor.XqueryModule) != "" {
		logger.Warnf("%s is deprecated, use %s", configor.XqueryModule, configor.ProcessModule)
		processKey = configor.XqueryModule
	}
	if s.process, err = s.buildPhase(env, job.PhaseProcess, processKey, configor.ProcessTask, processDefault); err != nil {
		return err
	}
	if s.process == nil {
		return exception.NewConfigError(configor.ProcessModule, "PROCESS-MODULE is required")
	}
	// XQUERY-MODULE.* 变量也按 PROCESS-MODULE 前缀绑定
	s.process.module.Prefix = configor.ProcessModule

	if s.initPhase, err = s.buildPhase(env, job.PhaseInit, configor.InitModule, configor.InitTask, plugin.TaskTransform); err != nil {
		return err
	}
	if s.prePhase, err = s.buildPhase(env, job.PhasePreBatch, configor.PreBatchModule, configor.PreBatchTask, batchDefault); err != nil {
		return err
	}
	postDefault := plugin.TaskTransform
	if s.sink != nil {
		postDefault = plugin.TaskPostBatchUpdateFile
	}
	s.postPhase, err = s.buildPhase(env, job.PhasePostBatch, configor.PostBatchModule, configor.PostBatchTask, postDefault)
	return err
}

func (s *Scheduler) buildPhase(env *plugin.Env, phase job.Phase, moduleKey, taskKey, defaultTask string) (*phaseTask, error) {
	m, err := configor.ParseModule(moduleKey, s.opts.Get(moduleKey), s.opts.Get(configor.ModuleRoot))
	if err != nil {
		return nil, err
	}
	name := s.opts.Get(taskKey)
	if m == nil {
		if name != "" {
			logger.Warnf("%s=%s ignored, %s is not set", taskKey, name, moduleKey)
		}
		return nil, nil
	}
	if name == "" {
		name = defaultTask
	}
	task, err := plugin.GetTask(name, env)
	if err != nil {
		return nil, exception.WrapConfigError(taskKey, err, "cannot create task %s", name)
	}
	logger.Infof("%s module %s with task %s", phase, m, name)
	return &phaseTask{phase: phase, module: m, task: task}, nil
}

// Run executes the job and returns the process exit code.
func (s *Scheduler) Run() int {
	defer func() {
		if err := s.Close(); err != nil {
			logger.Warnf("close: %v", err)
		}
	}()
	s.progress.Start(0)

	if err := s.runOnce(s.initPhase); err != nil {
		s.abortSink()
		return ExitProcessingError
	}
	if err := s.runOnce(s.prePhase); err != nil {
		s.abortSink()
		return ExitProcessingError
	}

	if err := s.loader.Open(s.ctx, s.opts, s.cs); err != nil {
		logger.Errorf("uris loader: %v", err)
		s.abortSink()
		return ExitCodeOf(err)
	}
	total, ref := s.loader.Total(), s.loader.BatchRef()
	if ref != "" {
		s.opts.SetRuntime(configor.UrisBatchRef, ref)
	}
	if s.sink != nil {
		err := s.sink.Bind(ref)
		if err == nil {
			err = s.sink.SealHeader()
		}
		if err != nil {
			logger.Errorf("export file: %v", err)
			s.abortSink()
			return ExitProcessingError
		}
	}
	s.progress.Start(total)
	logger.Infof("%d uris to process, batch ref %q", total, ref)

	var dispatchErr error
	if total > 0 {
		dispatchErr = s.dispatch()
		if dispatchErr != nil {
			logger.Errorf("dispatch: %v", dispatchErr)
		}
	} else {
		logger.Infof("no uris to process")
	}

	postErr := s.runOnce(s.postPhase)
	finalizeErr := s.finalizeSink()
	s.summary()

	s.mu.Lock()
	fatalErr, stopped := s.fatalErr, s.stopped
	s.mu.Unlock()
	switch {
	case fatalErr != nil:
		return ExitProcessingError
	case dispatchErr != nil:
		return ExitCodeOf(dispatchErr)
	case postErr != nil, finalizeErr != nil:
		return ExitProcessingError
	case stopped && s.progress.Failed() > 0:
		return ExitProcessingError
	case total == 0:
		return s.jo.ExitCodeNoUris
	}
	return ExitSuccess
}

// runOnce executes a single-invocation phase. A failure is returned only when it must end the job.
func (s *Scheduler) runOnce(p *phaseTask) error {
	if p == nil {
		return nil
	}
	logger.Infof("running %s module %s", p.phase, p.module)
	inv := &job.Invocation{Phase: p.phase, Module: p.module, Delim: s.jo.BatchUriDelim}
	res := s.executor.Execute(s.ctx, 0, inv, p.task)
	if res.Err == nil {
		return nil
	}
	if !res.Fatal {
		logger.Warnf("%s failed and was skipped", p.phase)
		return nil
	}
	logger.Errorf("%s failed: %v", p.phase, res.Err)
	return res.Err
}

func (s *Scheduler) newQueue() (UriQueue, error) {
	if !s.jo.DiskQueue {
		return newMemoryQueue(s.jo.DiskQueueMaxInMemorySize), nil
	}
	q, err := newDiskQueue(s.jo.DiskQueueTempDir, "docshift-queue-"+s.RunID+".db", s.jo.DiskQueueMaxInMemorySize)
	if err != nil {
		return nil, fmt.Errorf("cannot create disk queue: %w", err)
	}
	return q, nil
}

// dispatch 生产者/消费者/监控三个协程, 返回时所有已提交任务都已结束
func (s *Scheduler) dispatch() error {
	dctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	s.mu.Lock()
	s.cancelDispatch = cancel
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return nil
	}

	queue, err := s.newQueue()
	if err != nil {
		return err
	}
	defer queue.Close()

	mctx, stopMonitor := context.WithCancel(s.ctx)
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		newMonitor(s, s.jo.CommandFile, s.tick).Run(mctx)
	}()

	g, gctx := errgroup.WithContext(dctx)
	g.Go(func() error { return s.produce(gctx, queue) })
	g.Go(func() error { return s.consume(gctx, queue) })
	err = g.Wait()

	s.pool.Close()
	s.pool.Wait()
	stopMonitor()
	<-monitorDone

	if s.ctx.Err() != nil {
		logger.Warnf("job interrupted")
		s.Stop()
	}
	if err != nil && s.isStopped() && errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Scheduler) produce(ctx context.Context, queue UriQueue) error {
	for {
		uri, err := s.loader.Next(ctx)
		if err == io.EOF {
			queue.CloseInput()
			return nil
		}
		if err != nil {
			queue.CloseInput()
			return err
		}
		if err := queue.Put(ctx, rewrite(uri, s.replacers)); err != nil {
			return err
		}
	}
}

func (s *Scheduler) consume(ctx context.Context, queue UriQueue) error {
	size := s.jo.BatchSize
	batch := make([]string, 0, size)
	index := 0
	submit := func() error {
		if len(batch) == 0 {
			return nil
		}
		b := &job.Batch{Index: index, Uris: batch}
		index++
		batch = make([]string, 0, size)
		return s.pool.Submit(ctx, func(wid int) { s.runBatch(wid, b) })
	}
	for {
		uri, ok, err := queue.Take(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return submit()
		}
		batch = append(batch, uri)
		if len(batch) >= size {
			if err := submit(); err != nil {
				return err
			}
		}
	}
}

func (s *Scheduler) runBatch(wid int, b *job.Batch) {
	inv := &job.Invocation{Phase: job.PhaseProcess, Module: s.process.module, Batch: b, Delim: s.jo.BatchUriDelim}
	res := s.executor.Execute(s.ctx, wid, inv, s.process.task)
	n := b.Size()
	if res.Err == nil {
		s.progress.Complete(n)
		s.recorder.Completed(n)
		logger.Debugf("batch %d wid %d done, %d uris, %d attempts", b.Index, wid, n, res.Attempts)
		return
	}
	s.progress.Fail(n)
	s.recorder.Failed(n)
	if res.Fatal && s.ctx.Err() == nil {
		s.fail(res.Err)
	}
}

func (s *Scheduler) fail(err error) {
	s.mu.Lock()
	if s.fatalErr == nil {
		s.fatalErr = err
	}
	s.mu.Unlock()
	s.Stop()
}

// Stop ends dispatch: queued batches are skipped and in-flight ones finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	cancel := s.cancelDispatch
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Scheduler) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *Scheduler) finalizeSink() error {
	if s.sink == nil {
		return nil
	}
	path, err := s.sink.Finalize(s.ctx)
	if err != nil {
		logger.Errorf("export file: %v", err)
		return err
	}
	logger.Infof("export file written to %s", path)
	return nil
}

func (s *Scheduler) abortSink() {
	if s.sink != nil {
		if err := s.sink.Abort(); err != nil {
			logger.Warnf("abort export file: %v", err)
		}
	}
}

func (s *Scheduler) summary() {
	snap := s.progress.Snapshot()
	line := fmt.Sprintf("total %d completed %d failed %d elapsed %s tps %.2f",
		snap.Total, snap.Completed, snap.Failed, time.Since(s.StartTime).Round(time.Millisecond), snap.AverageTps)
	if s.isStopped() {
		line += " STOPPED"
	}
	logger.Infof("%s", line)
}

// Close releases everything the scheduler owns; errors are collected.
func (s *Scheduler) Close() error {
	var result *multierror.Error
	s.abortSink()
	if s.loader != nil {
		if err := s.loader.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("loader: %w", err))
		}
		s.loader = nil
	}
	if err := s.errFile.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("error file: %w", err))
	}
	if s.cs != nil {
		if err := s.cs.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("content source: %w", err))
		}
		s.cs = nil
	}
	if s.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.shutdownTracing(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("tracing: %w", err))
		}
		cancel()
		s.shutdownTracing = nil
	}
	if s.stopMetrics != nil {
		s.stopMetrics()
		s.stopMetrics = nil
	}
	logger.Sync()
	return result.ErrorOrNil()
}
