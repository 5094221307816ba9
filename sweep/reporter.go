package sweep

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Status 单条执行结果的状态
type Status string

const (
	// StatusSuccess 成功（含远端"已不存在/已是目标状态"的幂等成功）
	StatusSuccess Status = "success"
	// StatusRetriedFailed 重试耗尽后仍失败
	StatusRetriedFailed Status = "retried_failed"
	// StatusFailed 未经重试直接失败（永久错误、凭证失效）
	StatusFailed Status = "failed"
	// StatusSkipped 因取消/中止/选择失效未被执行
	StatusSkipped Status = "skipped"
)

// RunState 批量执行的运行状态
type RunState string

const (
	StateIdle         RunState = "idle"
	StateRunning      RunState = "running"
	StateCompleted    RunState = "completed"
	StateCancelled    RunState = "cancelled"
	StateFatalAborted RunState = "fatal_aborted"
)

// OperationOutcome 单条执行结果，创建后不再修改
type OperationOutcome struct {
	Key      ItemKey   `json:"key"`
	Status   Status    `json:"status"`
	ErrKind  ErrorKind `json:"err_kind,omitempty"`
	Error    string    `json:"error,omitempty"`
	Attempts int       `json:"attempts"`
}

// Reporter 进度与结果的上报接口，由展示层实现。
// 回调在引擎的结果锁内同步调用，实现方不应在回调里做慢操作。
type Reporter interface {
	OnProgress(fetched int, total int)
	OnOutcome(outcome OperationOutcome)
	OnTerminal(state RunState)
}

// NopReporter 什么都不做的 Reporter
type NopReporter struct{}

func (NopReporter) OnProgress(int, int)        {}
func (NopReporter) OnOutcome(OperationOutcome) {}
func (NopReporter) OnTerminal(RunState)        {}

// LogReporter 输出到 logrus 的默认 Reporter。
// 进度日志限速，最快每 2 秒一条，避免刷屏。
type LogReporter struct {
	mu         sync.Mutex
	lastReport time.Time
}

func NewLogReporter() *LogReporter {
	return &LogReporter{}
}

func (r *LogReporter) OnProgress(fetched int, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if time.Since(r.lastReport) < 2*time.Second {
		return
	}
	r.lastReport = time.Now()
	if total >= 0 {
		logrus.Infof("进度: %d/%d", fetched, total)
	} else {
		logrus.Infof("已获取 %d 项", fetched)
	}
}

func (r *LogReporter) OnOutcome(outcome OperationOutcome) {
	entry := logrus.WithFields(logrus.Fields{
		"item":     outcome.Key.String(),
		"attempts": outcome.Attempts,
	})
	switch outcome.Status {
	case StatusSuccess:
		entry.Debug("执行成功")
	case StatusSkipped:
		entry.Debug("已跳过")
	default:
		entry.WithField("err_kind", outcome.ErrKind.String()).
			Warnf("执行失败: %s", outcome.Error)
	}
}

func (r *LogReporter) OnTerminal(state RunState) {
	logrus.Infof("批量任务结束，状态: %s", state)
}
