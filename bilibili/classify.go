package bilibili

import (
	"net/http"

	"github.com/zhaokefei/bilibili-sweep/sweep"
)

// Classifier 远端错误码到引擎错误分类的映射表。
// B 站各业务线的错误码并不完全一致，这里只收录确认过的码，
// 其余未知码保守地按瞬时错误处理，交给重试上限兜底。
type Classifier struct {
	codes      map[int]sweep.ErrorKind
	idempotent map[int]bool
}

// DefaultClassifier 默认分类表
func DefaultClassifier() *Classifier {
	return &Classifier{
		codes: map[int]sweep.ErrorKind{
			-101: sweep.ErrKindAuthExpired, // 账号未登录
			-111: sweep.ErrKindAuthExpired, // csrf 校验失败
			-412: sweep.ErrKindThrottled,   // 请求被拦截
			-509: sweep.ErrKindThrottled,   // 请求过于频繁
			-403: sweep.ErrKindPermanent,   // 访问权限不足
			-400: sweep.ErrKindPermanent,   // 请求错误
		},
		idempotent: map[int]bool{
			-404:  true, // 啥都木有：目标已不存在
			12022: true, // 评论已被删除
			65004: true, // 未点赞过/已是目标状态
		},
	}
}

// SetCode 覆盖或新增一个错误码的分类
func (cl *Classifier) SetCode(code int, kind sweep.ErrorKind) {
	cl.codes[code] = kind
}

// SetIdempotent 把一个错误码标记为幂等成功
func (cl *Classifier) SetIdempotent(code int) {
	cl.idempotent[code] = true
}

// ClassifyCode 返回业务错误码的分类，0 为 none，未知码为 transient
func (cl *Classifier) ClassifyCode(code int) sweep.ErrorKind {
	if code == 0 {
		return sweep.ErrKindNone
	}
	if kind, ok := cl.codes[code]; ok {
		return kind
	}
	return sweep.ErrKindTransient
}

// IsIdempotentSuccess 远端报告"目标已不存在/已是目标状态"时返回 true，
// 这类响应按成功处理，保证同一批删除重复执行是安全的。
func (cl *Classifier) IsIdempotentSuccess(code int) bool {
	return cl.idempotent[code]
}

// ClassifyStatus 返回 HTTP 状态码的分类
func (cl *Classifier) ClassifyStatus(status int) sweep.ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return sweep.ErrKindThrottled
	case status == http.StatusUnauthorized:
		return sweep.ErrKindAuthExpired
	case status >= 500:
		return sweep.ErrKindTransient
	case status >= 400:
		return sweep.ErrKindPermanent
	}
	return sweep.ErrKindTransient
}
