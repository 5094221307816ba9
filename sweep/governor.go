package sweep

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	// 连续被限流多少次后进入长冷却
	cooldownAfterFailures = 3
)

// Governor 全局请求节奏控制器。所有出站请求（拉取和变更）共用一个
// 实例，先 Acquire 再发请求，用 Report 反馈结果。
//
// 固定延迟对持续限流反应不足、对健康的远端又白白拖慢，所以这里用
// 自适应倍率：被限流时间隔翻倍（封顶），成功时折半回落到 1.0，
// 连续多次被限流则进入一段远大于基础间隔的冷却期。
type Governor struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	minInterval time.Duration
	maxBackoff  float64
	cooldown    time.Duration

	backoff       float64
	consecutive   int
	cooldownUntil time.Time
}

// GovernorOption Governor 的可选配置
type GovernorOption func(*Governor)

// WithMaxBackoff 设置退避倍率上限
func WithMaxBackoff(max float64) GovernorOption {
	return func(g *Governor) {
		if max >= 1 {
			g.maxBackoff = max
		}
	}
}

// WithCooldown 设置连续限流后的冷却时长
func WithCooldown(d time.Duration) GovernorOption {
	return func(g *Governor) {
		if d > 0 {
			g.cooldown = d
		}
	}
}

// NewGovernor 创建节奏控制器，minInterval 为两次请求的最小间隔
func NewGovernor(minInterval time.Duration, opts ...GovernorOption) *Governor {
	if minInterval <= 0 {
		minInterval = time.Second
	}
	g := &Governor{
		minInterval: minInterval,
		maxBackoff:  16,
		cooldown:    minInterval * 40,
		backoff:     1,
	}
	for _, opt := range opts {
		opt(g)
	}
	// burst=1：同一时刻最多放行一个请求，许可按申请顺序依次发放
	g.limiter = rate.NewLimiter(rate.Every(minInterval), 1)
	return g
}

// Acquire 阻塞直到距上一个许可至少过去 minInterval*backoff，
// ctx 取消时立即返回。
func (g *Governor) Acquire(ctx context.Context) error {
	g.mu.Lock()
	until := g.cooldownUntil
	g.mu.Unlock()

	// 冷却期内先把冷却等完
	if wait := time.Until(until); wait > 0 {
		logrus.Warnf("触发限流冷却，等待 %v 后继续", wait.Round(time.Second))
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	return g.limiter.Wait(ctx)
}

// Report 反馈一次请求的结果。success=false 仅用于被限流的失败，
// 其他失败类型不影响节奏。
func (g *Governor) Report(success bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if success {
		g.consecutive = 0
		g.backoff = g.backoff / 2
		if g.backoff < 1 {
			g.backoff = 1
		}
	} else {
		g.backoff = g.backoff * 2
		if g.backoff > g.maxBackoff {
			g.backoff = g.maxBackoff
		}
		g.consecutive++
		if g.consecutive >= cooldownAfterFailures {
			g.cooldownUntil = time.Now().Add(g.cooldown)
			g.consecutive = 0
			logrus.Warnf("连续 %d 次被限流，进入 %v 冷却", cooldownAfterFailures, g.cooldown)
		}
	}

	g.limiter.SetLimit(rate.Every(g.interval()))
}

// Interval 当前生效的请求间隔
func (g *Governor) Interval() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.interval()
}

func (g *Governor) interval() time.Duration {
	return time.Duration(float64(g.minInterval) * g.backoff)
}

// Reset 重置退避状态，每轮批量执行开始时调用
func (g *Governor) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.backoff = 1
	g.consecutive = 0
	g.cooldownUntil = time.Time{}
	g.limiter.SetLimit(rate.Every(g.minInterval))
}
