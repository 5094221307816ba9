package bilibili

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/zhaokefei/bilibili-sweep/sweep"
)

const (
	// UA 固定的浏览器 UA，同一 IP 下混用多个 UA 容易被风控识别
	UA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/127.0.0.0 Safari/537.36"

	apiBase     = "https://api.bilibili.com"
	messageBase = "https://message.bilibili.com"
	aicuBase    = "https://api.aicu.cc"
	referer     = "https://www.bilibili.com"
)

// apiResponse B 站 API 的统一响应包
type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Client 平台 API 客户端，持有一个已登录会话的只读引用。
// 客户端本身不做节奏控制，出站节奏由引擎的 Governor 把关。
type Client struct {
	httpClient *http.Client
	session    *Session
	classifier *Classifier
}

// ClientOption Client 的可选配置
type ClientOption func(*Client)

// WithHTTPClient 替换底层 HTTP 客户端（测试用）
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithClassifier 注入自定义的错误码分类表
func WithClassifier(cl *Classifier) ClientOption {
	return func(c *Client) {
		c.classifier = cl
	}
}

// NewClient 创建客户端
func NewClient(session *Session, opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		session:    session,
		classifier: DefaultClassifier(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session 返回客户端绑定的会话
func (c *Client) Session() *Session {
	return c.session
}

// Classifier 返回当前使用的错误分类表
func (c *Client) Classifier() *Classifier {
	return c.classifier
}

func (c *Client) do(ctx context.Context, req *http.Request) (*apiResponse, error) {
	req.Header.Set("User-Agent", UA)
	req.Header.Set("Referer", referer)
	if c.session != nil {
		req.Header.Set("Cookie", c.session.Cookie)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// 网络层失败（超时、连接被重置）按瞬时错误处理
		return nil, sweep.NewClassifiedError(sweep.ErrKindTransient,
			errors.Wrapf(err, "请求失败: %s", req.URL.Path))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		kind := c.classifier.ClassifyStatus(resp.StatusCode)
		return nil, sweep.NewClassifiedError(kind,
			errors.Errorf("HTTP %d: %s", resp.StatusCode, req.URL.Path))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, sweep.NewClassifiedError(sweep.ErrKindTransient,
			errors.Wrap(err, "读取响应失败"))
	}

	var out apiResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, sweep.NewClassifiedError(sweep.ErrKindTransient,
			errors.Wrapf(err, "解析响应失败: %s", req.URL.Path))
	}

	logrus.WithFields(logrus.Fields{
		"path": req.URL.Path,
		"code": out.Code,
	}).Debug("API 响应")
	return &out, nil
}

// getJSON 发送 GET 请求并解析统一响应包
func (c *Client) getJSON(ctx context.Context, rawURL string) (*apiResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "构建请求失败")
	}
	return c.do(ctx, req)
}

// postForm 发送表单 POST 请求
func (c *Client) postForm(ctx context.Context, rawURL string, form url.Values) (*apiResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, "构建请求失败")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(ctx, req)
}

// postJSON 发送 JSON POST 请求
func (c *Client) postJSON(ctx context.Context, rawURL string, payload any) (*apiResponse, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "序列化请求体失败")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL,
		strings.NewReader(string(data)))
	if err != nil {
		return nil, errors.Wrap(err, "构建请求失败")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(ctx, req)
}

// checkCode 把非 0 错误码转成分类错误，0 返回 nil
func (c *Client) checkCode(resp *apiResponse, op string) error {
	if resp.Code == 0 {
		return nil
	}
	kind := c.classifier.ClassifyCode(resp.Code)
	return sweep.NewClassifiedError(kind,
		errors.Errorf("%s失败: %s (code: %d)", op, resp.Message, resp.Code))
}
