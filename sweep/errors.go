package sweep

import "github.com/pkg/errors"

// ErrorKind 错误分类。远端错误码与 HTTP 状态的具体映射由调用方
// （bilibili 包的分类表）给出，引擎只消费分类结果；
// 未知错误一律按瞬时错误处理并受重试上限约束。
type ErrorKind int

const (
	ErrKindNone ErrorKind = iota
	// ErrKindTransient 瞬时错误（超时、5xx），按策略重试
	ErrKindTransient
	// ErrKindThrottled 被限流，重试并驱动 Governor 退避
	ErrKindThrottled
	// ErrKindAuthExpired 凭证失效，整个运行立即终止
	ErrKindAuthExpired
	// ErrKindPermanent 针对单条的永久错误（无权限等），记录后继续
	ErrKindPermanent
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindNone:
		return "none"
	case ErrKindTransient:
		return "transient"
	case ErrKindThrottled:
		return "throttled"
	case ErrKindAuthExpired:
		return "auth_expired"
	case ErrKindPermanent:
		return "permanent"
	}
	return "unknown"
}

// ClassifiedError 带分类的错误，由各端点在返回前包好
type ClassifiedError struct {
	Kind ErrorKind
	Err  error
}

func (e *ClassifiedError) Error() string {
	return e.Err.Error()
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// NewClassifiedError 包装一个已分类的错误
func NewClassifiedError(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Kind: kind, Err: err}
}

// Classify 取出错误的分类，未分类的错误保守地按瞬时处理
func Classify(err error) ErrorKind {
	if err == nil {
		return ErrKindNone
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ErrKindTransient
}

// 配置类错误：在发起任何网络请求之前被拒绝
var (
	ErrEmptySelection   = errors.New("选集为空，没有可执行的条目")
	ErrInvalidPredicate = errors.New("过滤条件无效")
	ErrInvalidSession   = errors.New("会话凭证无效，请先重新登录")
	ErrAlreadyRunning   = errors.New("批量任务正在运行中")
)
