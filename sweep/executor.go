package sweep

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Mutator 执行单条变更的接口，由平台客户端实现。
// 返回的错误须带分类（见 ClassifiedError）；远端"已不存在/已是
// 目标状态"应映射为 nil，保证重复执行安全。
type Mutator interface {
	Apply(ctx context.Context, m Mutation, item ContentItem) error
}

// Executor 批量变更的执行器。一小组 worker 从选集取条目并发执行，
// 所有 worker 共用一个 Governor，全局节奏由它串行把关。
type Executor struct {
	gov         *Governor
	mut         Mutator
	rep         Reporter
	concurrency int
	retries     int
	delayFloor  time.Duration

	mu       sync.Mutex
	state    RunState
	outcomes []OperationOutcome
}

// ExecutorOption Executor 的可选配置
type ExecutorOption func(*Executor)

// WithConcurrency 设置并发 worker 数（1-4）
func WithConcurrency(n int) ExecutorOption {
	return func(e *Executor) {
		if n < 1 {
			n = 1
		}
		if n > 4 {
			n = 4
		}
		e.concurrency = n
	}
}

// WithItemRetries 设置单条瞬时错误的重试次数
func WithItemRetries(n int) ExecutorOption {
	return func(e *Executor) {
		if n >= 0 {
			e.retries = n
		}
	}
}

// WithDelayFloor 设置每条执行完后的额外间隔下限
func WithDelayFloor(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.delayFloor = d
		}
	}
}

// WithReporter 设置进度上报器
func WithReporter(rep Reporter) ExecutorOption {
	return func(e *Executor) {
		if rep != nil {
			e.rep = rep
		}
	}
}

// NewExecutor 创建批量执行器
func NewExecutor(mut Mutator, gov *Governor, opts ...ExecutorOption) *Executor {
	e := &Executor{
		gov:         gov,
		mut:         mut,
		rep:         NopReporter{},
		concurrency: 2,
		retries:     2,
		state:       StateIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State 返回当前运行状态
func (e *Executor) State() RunState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// RunResult 一轮批量执行的最终结果
type RunResult struct {
	State    RunState           `json:"state"`
	Outcomes []OperationOutcome `json:"outcomes"`
}

// Succeeded 统计成功条数
func (r *RunResult) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == StatusSuccess {
			n++
		}
	}
	return n
}

// Run 对选集执行一次批量变更。
//
// 选集中每个 key 恰好产生一条 OperationOutcome：失效 key 记为
// skipped；单条失败不会中断整批，唯一的例外是凭证失效，它让整个
// 运行立即转入 fatal_aborted，未执行的条目记为 skipped。取消通过
// ctx 下发，在安全点（申请许可之前）生效，已发出的请求会执行完并
// 记录结果。
func (e *Executor) Run(ctx context.Context, sel *SelectionSet, m Mutation) (*RunResult, error) {
	if sel == nil || sel.Len() == 0 {
		return nil, ErrEmptySelection
	}

	e.mu.Lock()
	if e.state == StateRunning {
		e.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	e.state = StateRunning
	e.outcomes = nil
	e.mu.Unlock()

	items, stale := sel.Resolve()
	for _, key := range stale {
		e.record(OperationOutcome{Key: key, Status: StatusSkipped})
	}
	if len(items) == 0 {
		e.finish(StateCompleted)
		return e.result(StateCompleted), nil
	}

	// 引擎内部的运行上下文：父 ctx 取消或凭证失效都会让它结束
	runCtx, abort := context.WithCancel(ctx)
	defer abort()

	var fatal atomic.Bool

	jobs := make(chan ContentItem)
	go func() {
		defer close(jobs)
		for _, it := range items {
			jobs <- it
		}
	}()

	logrus.WithFields(logrus.Fields{
		"mutation":    m,
		"total":       len(items),
		"concurrency": e.concurrency,
	}).Info("开始批量执行")

	var wg sync.WaitGroup
	for i := 0; i < e.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobs {
				if runCtx.Err() != nil {
					e.record(OperationOutcome{Key: item.Key(), Status: StatusSkipped})
					continue
				}

				outcome := e.executeItem(runCtx, m, item)
				if outcome.ErrKind == ErrKindAuthExpired {
					if fatal.CompareAndSwap(false, true) {
						logrus.Error("凭证已失效，终止整批执行")
						abort()
					}
				}
				e.record(outcome)

				if e.delayFloor > 0 && runCtx.Err() == nil {
					timer := time.NewTimer(e.delayFloor)
					select {
					case <-runCtx.Done():
					case <-timer.C:
					}
					timer.Stop()
				}
			}
		}()
	}
	wg.Wait()

	state := StateCompleted
	switch {
	case fatal.Load():
		state = StateFatalAborted
	case ctx.Err() != nil:
		state = StateCancelled
	}
	e.finish(state)
	return e.result(state), nil
}

// executeItem 执行单条变更，含重试。每条的尝试严格串行有序。
func (e *Executor) executeItem(ctx context.Context, m Mutation, item ContentItem) OperationOutcome {
	outcome := OperationOutcome{Key: item.Key()}

	for attempt := 1; attempt <= e.retries+1; attempt++ {
		if err := e.gov.Acquire(ctx); err != nil {
			outcome.Attempts = attempt - 1
			if attempt == 1 {
				// 一次请求都没发出，记为跳过
				outcome.Status = StatusSkipped
			} else {
				// 重试等待中被取消/中止，保留此前失败的错误分类
				outcome.Status = StatusRetriedFailed
			}
			return outcome
		}

		err := e.mut.Apply(ctx, m, item)
		outcome.Attempts = attempt
		if err == nil {
			e.gov.Report(true)
			outcome.Status = StatusSuccess
			return outcome
		}

		kind := Classify(err)
		outcome.ErrKind = kind
		outcome.Error = err.Error()

		switch kind {
		case ErrKindAuthExpired:
			outcome.Status = StatusFailed
			return outcome
		case ErrKindPermanent:
			outcome.Status = StatusFailed
			return outcome
		case ErrKindThrottled:
			e.gov.Report(false)
		}
		// 瞬时/限流错误：还有尝试次数就继续，间隔由 Governor 决定
	}

	outcome.Status = StatusRetriedFailed
	return outcome
}

// record 追加一条结果并同步通知 Reporter，追加与通知在同一把锁下
func (e *Executor) record(outcome OperationOutcome) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.outcomes = append(e.outcomes, outcome)
	e.rep.OnOutcome(outcome)
}

func (e *Executor) finish(state RunState) {
	e.mu.Lock()
	e.state = state
	e.mu.Unlock()
	e.rep.OnTerminal(state)
}

func (e *Executor) result(state RunState) *RunResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]OperationOutcome, len(e.outcomes))
	copy(out, e.outcomes)
	return &RunResult{State: state, Outcomes: out}
}
