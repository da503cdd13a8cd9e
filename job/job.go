package job

import "strings"

// 定义状态常量
const (
	StatusSubmitted = iota + 1 // 1 提交
	StatusRunning              // 2 运行中
	StatusCancelled            // 3 取消
	StatusSuccess              // 4 成功
	StatusFailed               // 5 失败
)

type Phase string

const (
	PhaseInit      Phase = "INIT"
	PhasePreBatch  Phase = "PRE-BATCH"
	PhaseProcess   Phase = "PROCESS"
	PhasePostBatch Phase = "POST-BATCH"
	PhaseUris      Phase = "URIS"
)

const (
	LangXQuery     = "xquery"
	LangJavaScript = "javascript"
	LangSQL        = "sql"
)

// Module 服务端执行的模块, URI 和 Inline 二选一
type Module struct {
	// Prefix is the option key the module was configured under, e.g. PROCESS-MODULE.
	// Options named <Prefix>.<name> are bound as variable <name>.
	Prefix   string
	URI      string
	Inline   string
	Language string
}

func (m *Module) IsInline() bool {
	return m.Inline != ""
}

func (m *Module) String() string {
	if m == nil {
		return ""
	}
	if m.IsInline() {
		return "inline " + m.Language
	}
	return m.URI
}

// Batch is an ordered group of uris consumed by exactly one task.
type Batch struct {
	Index int
	Uris  []string
}

func (b *Batch) Size() int {
	if b == nil {
		return 0
	}
	return len(b.Uris)
}

func (b *Batch) Join(delim string) string {
	if b == nil {
		return ""
	}
	return strings.Join(b.Uris, delim)
}

// Invocation 一次模块调用, 重试时 Attempt 递增
type Invocation struct {
	Phase   Phase
	Module  *Module
	Batch   *Batch
	Delim   string
	Attempt int
}

func (inv *Invocation) JoinedUris() string {
	if inv.Batch == nil {
		return ""
	}
	return inv.Batch.Join(inv.Delim)
}

type Result struct {
	Batch    *Batch
	Wid      int
	Status   int
	Attempts int
	Err      error
	// Fatal marks a failure that must stop the job.
	Fatal bool
}
