package sweep

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Endpoint 单个远端集合的分页端点。游标是端点自定义格式的不透明
// 字符串，空串表示从头开始。
type Endpoint interface {
	Kind() SourceKind
	FetchPage(ctx context.Context, cursor string) (Page, error)
}

// Paginator 按页惰性地迭代一个远端集合。每次取页先向 Governor
// 申请许可，页内条目保持远端顺序，不做去重。
type Paginator struct {
	ep      Endpoint
	gov     *Governor
	retries int

	cursor string
	done   bool
}

// PaginatorOption Paginator 的可选配置
type PaginatorOption func(*Paginator)

// WithPageRetries 设置单页瞬时错误的重试次数
func WithPageRetries(n int) PaginatorOption {
	return func(p *Paginator) {
		if n >= 0 {
			p.retries = n
		}
	}
}

// WithResumeCursor 从保存的游标继续拉取
func WithResumeCursor(cursor string) PaginatorOption {
	return func(p *Paginator) {
		p.cursor = cursor
	}
}

// NewPaginator 创建分页迭代器
func NewPaginator(ep Endpoint, gov *Governor, opts ...PaginatorOption) *Paginator {
	p := &Paginator{
		ep:      ep,
		gov:     gov,
		retries: 3,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Cursor 返回当前游标，可持久化后用 WithResumeCursor 续传
func (p *Paginator) Cursor() string {
	return p.cursor
}

// Done 集合是否已拉取完
func (p *Paginator) Done() bool {
	return p.done
}

// Next 拉取下一页。集合耗尽时返回 (nil, nil)。
// 瞬时错误（含限流）在页内重试，重试耗尽后该页以错误返回，
// 游标不前进，再次调用会重试同一页；凭证失效和永久错误直接终止。
func (p *Paginator) Next(ctx context.Context) (*Page, error) {
	if p.done {
		return nil, nil
	}

	var lastErr error
	for attempt := 0; attempt <= p.retries; attempt++ {
		if err := p.gov.Acquire(ctx); err != nil {
			return nil, err
		}

		page, err := p.ep.FetchPage(ctx, p.cursor)
		if err == nil {
			p.gov.Report(true)
			p.cursor = page.NextCursor
			if !page.HasMore {
				p.done = true
			}
			return &page, nil
		}

		switch Classify(err) {
		case ErrKindAuthExpired, ErrKindPermanent:
			return nil, err
		case ErrKindThrottled:
			p.gov.Report(false)
			lastErr = err
		default:
			lastErr = err
		}
		logrus.WithError(err).Warnf("拉取 %s 第 %d 次失败，准备重试", p.ep.Kind(), attempt+1)
	}

	return nil, errors.Wrapf(lastErr, "拉取 %s 重试 %d 次后仍失败", p.ep.Kind(), p.retries)
}

// ProgressFunc 拉取进度回调，total<0 表示总量未知
type ProgressFunc func(fetched int, total int)

// FetchAll 把集合拉取到底，返回收集到的条目。中途出现硬错误时
// 返回已收集的部分和该错误，此时 Cursor() 可用于续传。
func (p *Paginator) FetchAll(ctx context.Context, progress ProgressFunc) ([]ContentItem, error) {
	var items []ContentItem
	for {
		page, err := p.Next(ctx)
		if err != nil {
			return items, err
		}
		if page == nil {
			break
		}
		items = append(items, page.Items...)
		if progress != nil {
			progress(len(items), -1)
		}
	}
	logrus.WithFields(logrus.Fields{
		"kind":  p.ep.Kind(),
		"count": len(items),
	}).Info("集合拉取完成")
	return items, nil
}
