package sweep

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMutator 按条目 ID 返回脚本化的错误序列
type fakeMutator struct {
	mu      sync.Mutex
	scripts map[int64][]error // 每个 ID 依次消费的返回值，耗尽后返回 nil
	applied map[int64]int
}

func newFakeMutator() *fakeMutator {
	return &fakeMutator{
		scripts: make(map[int64][]error),
		applied: make(map[int64]int),
	}
}

func (f *fakeMutator) fail(id int64, errs ...error) {
	f.scripts[id] = errs
}

func (f *fakeMutator) Apply(ctx context.Context, m Mutation, item ContentItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.applied[item.ID]
	f.applied[item.ID] = n + 1
	if script := f.scripts[item.ID]; n < len(script) {
		return script[n]
	}
	return nil
}

func (f *fakeMutator) calls(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applied[id]
}

func (f *fakeMutator) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.applied {
		total += n
	}
	return total
}

func selectAll(coll *Collection) *SelectionSet {
	return Select(coll, nil)
}

func outcomeByID(outcomes []OperationOutcome, id int64) (OperationOutcome, bool) {
	for _, o := range outcomes {
		if o.Key.ID == id {
			return o, true
		}
	}
	return OperationOutcome{}, false
}

func TestExecutorAllSucceed(t *testing.T) {
	coll := NewCollection(testItems(KindComment, 1, 2, 3, 4, 5))
	mut := newFakeMutator()
	exec := NewExecutor(mut, fastGovernor(), WithConcurrency(2))

	result, err := exec.Run(context.Background(), selectAll(coll), MutationDelete)
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, result.State)
	// 每个 key 恰好一条结果
	assert.Len(t, result.Outcomes, 5)
	assert.Equal(t, 5, result.Succeeded())
}

func TestExecutorEmptySelection(t *testing.T) {
	coll := NewCollection(nil)
	exec := NewExecutor(newFakeMutator(), fastGovernor())

	_, err := exec.Run(context.Background(), NewSelectionSet(coll), MutationDelete)
	assert.ErrorIs(t, err, ErrEmptySelection)

	_, err = exec.Run(context.Background(), nil, MutationDelete)
	assert.ErrorIs(t, err, ErrEmptySelection)
}

func TestExecutorTransientRetryThenSuccess(t *testing.T) {
	coll := NewCollection(testItems(KindComment, 1))
	mut := newFakeMutator()
	mut.fail(1, NewClassifiedError(ErrKindTransient, errors.New("超时")))

	exec := NewExecutor(mut, fastGovernor(), WithItemRetries(2))
	result, err := exec.Run(context.Background(), selectAll(coll), MutationDelete)
	require.NoError(t, err)

	o, ok := outcomeByID(result.Outcomes, 1)
	require.True(t, ok)
	assert.Equal(t, StatusSuccess, o.Status)
	assert.Equal(t, 2, o.Attempts)
}

func TestExecutorRetriedFailed(t *testing.T) {
	transient := NewClassifiedError(ErrKindTransient, errors.New("一直失败"))
	coll := NewCollection(testItems(KindComment, 1))
	mut := newFakeMutator()
	mut.fail(1, transient, transient, transient)

	exec := NewExecutor(mut, fastGovernor(), WithItemRetries(2))
	result, err := exec.Run(context.Background(), selectAll(coll), MutationDelete)
	require.NoError(t, err)

	o, _ := outcomeByID(result.Outcomes, 1)
	assert.Equal(t, StatusRetriedFailed, o.Status)
	assert.Equal(t, 3, o.Attempts)
	// 单条失败不影响整体完成
	assert.Equal(t, StateCompleted, result.State)
}

func TestExecutorPermanentNoRetry(t *testing.T) {
	coll := NewCollection(testItems(KindComment, 1, 2))
	mut := newFakeMutator()
	mut.fail(1, NewClassifiedError(ErrKindPermanent, errors.New("无权限")))

	exec := NewExecutor(mut, fastGovernor(), WithItemRetries(3))
	result, err := exec.Run(context.Background(), selectAll(coll), MutationDelete)
	require.NoError(t, err)

	o, _ := outcomeByID(result.Outcomes, 1)
	assert.Equal(t, StatusFailed, o.Status)
	// 永久错误不消耗重试
	assert.Equal(t, 1, mut.calls(1))

	o2, _ := outcomeByID(result.Outcomes, 2)
	assert.Equal(t, StatusSuccess, o2.Status)
}

func TestExecutorAuthExpiredAborts(t *testing.T) {
	items := testItems(KindComment, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10)
	coll := NewCollection(items)
	mut := newFakeMutator()
	mut.fail(5, NewClassifiedError(ErrKindAuthExpired, errors.New("凭证失效")))

	// 单 worker 保证顺序，条目 5 之后全部跳过
	exec := NewExecutor(mut, fastGovernor(), WithConcurrency(1))
	result, err := exec.Run(context.Background(), selectAll(coll), MutationDelete)
	require.NoError(t, err)

	assert.Equal(t, StateFatalAborted, result.State)
	assert.Len(t, result.Outcomes, 10, "每个 key 都要有结果")

	o, _ := outcomeByID(result.Outcomes, 5)
	assert.Equal(t, StatusFailed, o.Status)
	assert.Equal(t, ErrKindAuthExpired, o.ErrKind)

	var skipped int
	for _, o := range result.Outcomes {
		if o.Status == StatusSkipped {
			skipped++
		}
	}
	assert.Equal(t, 5, skipped)
	assert.Equal(t, 4, result.Succeeded())
}

func TestExecutorCancel(t *testing.T) {
	coll := NewCollection(testItems(KindComment, 1, 2, 3, 4, 5, 6, 7, 8))
	mut := newFakeMutator()

	gov := NewGovernor(20 * time.Millisecond)
	exec := NewExecutor(mut, gov, WithConcurrency(1))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	result, err := exec.Run(ctx, selectAll(coll), MutationDelete)
	require.NoError(t, err)

	assert.Equal(t, StateCancelled, result.State)
	assert.Len(t, result.Outcomes, 8, "取消后未执行的条目记为 skipped")
	assert.Less(t, result.Succeeded(), 8)

	// 观察到取消信号后不再发出新请求：出站调用数与实际尝试过的条目一致
	attempted := 0
	for _, o := range result.Outcomes {
		if o.Status != StatusSkipped {
			attempted++
		}
	}
	assert.Equal(t, attempted, mut.totalCalls())
}

func TestExecutorCancelDuringRetryWait(t *testing.T) {
	coll := NewCollection(testItems(KindComment, 1))
	mut := newFakeMutator()
	transient := NewClassifiedError(ErrKindTransient, errors.New("请求超时"))
	mut.fail(1, transient, transient, transient)

	gov := NewGovernor(200 * time.Millisecond)
	exec := NewExecutor(mut, gov, WithConcurrency(1), WithItemRetries(2))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	result, err := exec.Run(ctx, selectAll(coll), MutationDelete)
	require.NoError(t, err)

	assert.Equal(t, StateCancelled, result.State)
	require.Len(t, result.Outcomes, 1)
	o := result.Outcomes[0]
	// 已经失败过一次的条目，在重试等待中被取消时不能记成 skipped
	assert.Equal(t, StatusRetriedFailed, o.Status)
	assert.Equal(t, 1, o.Attempts)
	assert.Equal(t, ErrKindTransient, o.ErrKind)
}

func TestExecutorStaleSkipped(t *testing.T) {
	coll := NewCollection(testItems(KindComment, 1))
	sel := NewSelectionSet(coll)
	sel.Add(ItemKey{Kind: KindComment, ID: 1})
	sel.Add(ItemKey{Kind: KindComment, ID: 404})

	exec := NewExecutor(newFakeMutator(), fastGovernor())
	result, err := exec.Run(context.Background(), sel, MutationDelete)
	require.NoError(t, err)

	assert.Len(t, result.Outcomes, 2)
	o, _ := outcomeByID(result.Outcomes, 404)
	assert.Equal(t, StatusSkipped, o.Status)
}

func TestExecutorRejectsConcurrentRun(t *testing.T) {
	coll := NewCollection(testItems(KindComment, 1, 2, 3, 4))
	gov := NewGovernor(30 * time.Millisecond)
	exec := NewExecutor(newFakeMutator(), gov, WithConcurrency(1))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = exec.Run(context.Background(), selectAll(coll), MutationDelete)
	}()

	// 等第一轮进入运行态
	require.Eventually(t, func() bool {
		return exec.State() == StateRunning
	}, time.Second, 5*time.Millisecond)

	_, err := exec.Run(context.Background(), selectAll(coll), MutationDelete)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	<-done
}
