package sweep

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGovernorBackoff(t *testing.T) {
	g := NewGovernor(100*time.Millisecond, WithMaxBackoff(8))

	assert.Equal(t, 100*time.Millisecond, g.Interval())

	// 被限流时间隔翻倍
	g.Report(false)
	assert.Equal(t, 200*time.Millisecond, g.Interval())
	g.Report(false)
	assert.Equal(t, 400*time.Millisecond, g.Interval())

	// 成功时折半回落
	g.Report(true)
	assert.Equal(t, 200*time.Millisecond, g.Interval())
	g.Report(true)
	assert.Equal(t, 100*time.Millisecond, g.Interval())

	// 不会低于基础间隔
	g.Report(true)
	assert.Equal(t, 100*time.Millisecond, g.Interval())
}

func TestGovernorBackoffCeiling(t *testing.T) {
	g := NewGovernor(10*time.Millisecond, WithMaxBackoff(4), WithCooldown(time.Hour))

	// 翻倍封顶在 maxBackoff
	for i := 0; i < 2; i++ {
		g.Report(false)
	}
	assert.Equal(t, 40*time.Millisecond, g.Interval())
	g.Report(true)
	g.Report(false)
	g.Report(false)
	assert.Equal(t, 40*time.Millisecond, g.Interval())
}

func TestGovernorCooldown(t *testing.T) {
	cooldown := 80 * time.Millisecond
	g := NewGovernor(time.Millisecond, WithCooldown(cooldown))

	// 连续三次被限流触发冷却
	g.Report(false)
	g.Report(false)
	g.Report(false)

	start := time.Now()
	require.NoError(t, g.Acquire(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), cooldown/2, "冷却期内 Acquire 应当等待")
}

func TestGovernorCooldownCancel(t *testing.T) {
	g := NewGovernor(time.Millisecond, WithCooldown(time.Hour))
	g.Report(false)
	g.Report(false)
	g.Report(false)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := g.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGovernorReset(t *testing.T) {
	g := NewGovernor(50*time.Millisecond, WithCooldown(time.Hour))
	g.Report(false)
	g.Report(false)
	g.Report(false)

	g.Reset()
	assert.Equal(t, 50*time.Millisecond, g.Interval())

	// 冷却也被清掉，Acquire 不再长等
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	assert.NoError(t, g.Acquire(ctx))
}

func TestGovernorSpacing(t *testing.T) {
	g := NewGovernor(30 * time.Millisecond)
	ctx := context.Background()

	require.NoError(t, g.Acquire(ctx))
	start := time.Now()
	require.NoError(t, g.Acquire(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond,
		"连续两个许可之间应当有最小间隔")
}
