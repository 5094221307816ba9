package sweep

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEndpoint 按脚本逐次返回页或错误
type fakeEndpoint struct {
	kind  SourceKind
	pages [][]ContentItem
	errs  map[int]error // 第 n 次调用（从 0 计）返回的错误
	calls int
}

func (f *fakeEndpoint) Kind() SourceKind { return f.kind }

func (f *fakeEndpoint) FetchPage(ctx context.Context, cursor string) (Page, error) {
	call := f.calls
	f.calls++
	if err, ok := f.errs[call]; ok {
		return Page{}, err
	}

	idx := 0
	if cursor != "" {
		idx, _ = strconv.Atoi(cursor)
	}
	if idx >= len(f.pages) {
		return Page{HasMore: false}, nil
	}
	return Page{
		Items:      f.pages[idx],
		NextCursor: strconv.Itoa(idx + 1),
		HasMore:    idx+1 < len(f.pages),
	}, nil
}

func testItems(kind SourceKind, ids ...int64) []ContentItem {
	items := make([]ContentItem, 0, len(ids))
	for _, id := range ids {
		items = append(items, ContentItem{Kind: kind, ID: id})
	}
	return items
}

func fastGovernor() *Governor {
	return NewGovernor(time.Millisecond, WithCooldown(5*time.Millisecond))
}

func TestPaginatorFetchAll(t *testing.T) {
	ep := &fakeEndpoint{
		kind: KindComment,
		pages: [][]ContentItem{
			testItems(KindComment, 1, 2),
			testItems(KindComment, 3),
			testItems(KindComment, 4, 5),
		},
	}

	p := NewPaginator(ep, fastGovernor())
	items, err := p.FetchAll(context.Background(), nil)
	require.NoError(t, err)

	// 条目保持远端顺序
	var ids []int64
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, ids)
	assert.True(t, p.Done())

	// 耗尽后再取返回 (nil, nil)
	page, err := p.Next(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, page)
}

func TestPaginatorTransientRetry(t *testing.T) {
	ep := &fakeEndpoint{
		kind:  KindDanmu,
		pages: [][]ContentItem{testItems(KindDanmu, 1)},
		errs: map[int]error{
			0: NewClassifiedError(ErrKindTransient, errors.New("网络抖动")),
		},
	}

	p := NewPaginator(ep, fastGovernor(), WithPageRetries(2))
	items, err := p.FetchAll(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestPaginatorRetryExhausted(t *testing.T) {
	transient := NewClassifiedError(ErrKindTransient, errors.New("持续失败"))
	ep := &fakeEndpoint{
		kind:  KindComment,
		pages: [][]ContentItem{testItems(KindComment, 1)},
		errs:  map[int]error{0: transient, 1: transient, 2: transient},
	}

	p := NewPaginator(ep, fastGovernor(), WithPageRetries(2))
	_, err := p.Next(context.Background())
	require.Error(t, err)

	// 游标未前进，下一次调用重试同一页
	assert.Equal(t, "", p.Cursor())
	assert.False(t, p.Done())

	page, err := p.Next(context.Background())
	require.NoError(t, err)
	require.NotNil(t, page)
	assert.Len(t, page.Items, 1)
}

func TestPaginatorAuthExpiredStops(t *testing.T) {
	ep := &fakeEndpoint{
		kind:  KindNotify,
		pages: [][]ContentItem{testItems(KindNotify, 1)},
		errs: map[int]error{
			0: NewClassifiedError(ErrKindAuthExpired, errors.New("凭证失效")),
		},
	}

	p := NewPaginator(ep, fastGovernor(), WithPageRetries(3))
	_, err := p.Next(context.Background())
	require.Error(t, err)
	assert.Equal(t, ErrKindAuthExpired, Classify(err))
	// 凭证失效不消耗重试次数，端点只被调用一次
	assert.Equal(t, 1, ep.calls)
}

func TestPaginatorResumeCursor(t *testing.T) {
	ep := &fakeEndpoint{
		kind: KindComment,
		pages: [][]ContentItem{
			testItems(KindComment, 1),
			testItems(KindComment, 2),
			testItems(KindComment, 3),
		},
	}

	p := NewPaginator(ep, fastGovernor(), WithResumeCursor("1"))
	items, err := p.FetchAll(context.Background(), nil)
	require.NoError(t, err)

	var ids []int64
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	assert.Equal(t, []int64{2, 3}, ids)
}

func TestPaginatorPartialResult(t *testing.T) {
	transient := NewClassifiedError(ErrKindTransient, errors.New("失败"))
	ep := &fakeEndpoint{
		kind: KindComment,
		pages: [][]ContentItem{
			testItems(KindComment, 1),
			testItems(KindComment, 2),
		},
		// 第二页的所有尝试都失败
		errs: map[int]error{1: transient, 2: transient},
	}

	p := NewPaginator(ep, fastGovernor(), WithPageRetries(1))
	items, err := p.FetchAll(context.Background(), nil)
	require.Error(t, err)

	// 第一页的结果保留，游标可用于续传
	assert.Len(t, items, 1)
	assert.Equal(t, "1", p.Cursor())
}
