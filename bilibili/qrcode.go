package bilibili

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const passportBase = "https://passport.bilibili.com"

// 扫码轮询状态码
const (
	qrCodeSuccess     = 0     // 登录成功
	qrCodeExpired     = 86038 // 二维码已失效
	qrCodeScanned     = 86090 // 已扫码，等待确认
	qrCodeWaitingScan = 86101 // 未扫码
)

// QRLogin 一次扫码登录会话。Generate 产生二维码内容，
// Poll 轮询扫码状态直到成功、失效或超时。
type QRLogin struct {
	httpClient *http.Client
	qrcodeKey  string

	// URL 二维码需要编码的内容，交给前端或终端渲染
	URL string
}

// NewQRLogin 创建扫码登录会话。内部使用独立的带 cookie jar 的
// HTTP 客户端，登录成功后从 jar 收集凭据。
func NewQRLogin() (*QRLogin, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, errors.Wrap(err, "创建 cookie jar 失败")
	}
	return &QRLogin{
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
			Jar:     jar,
		},
	}, nil
}

type qrGenerateData struct {
	URL       string `json:"url"`
	QrcodeKey string `json:"qrcode_key"`
}

type qrPollData struct {
	URL          string `json:"url"`
	RefreshToken string `json:"refresh_token"`
	Code         int    `json:"code"`
	Message      string `json:"message"`
}

// Generate 向登录服务申请一个二维码，返回二维码内容
func (q *QRLogin) Generate(ctx context.Context) (string, error) {
	resp, err := q.get(ctx, passportBase+"/x/passport-login/web/qrcode/generate")
	if err != nil {
		return "", err
	}

	var data qrGenerateData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return "", errors.Wrap(err, "解析二维码响应失败")
	}
	if data.QrcodeKey == "" {
		return "", errors.New("二维码响应缺少 qrcode_key")
	}

	q.qrcodeKey = data.QrcodeKey
	q.URL = data.URL
	return data.URL, nil
}

// PollOnce 查询一次扫码状态。成功返回组装好的 Session；
// 未完成返回 (nil, code, nil)，code 为扫码状态码。
func (q *QRLogin) PollOnce(ctx context.Context) (*Session, int, error) {
	if q.qrcodeKey == "" {
		return nil, 0, errors.New("尚未生成二维码")
	}

	resp, err := q.get(ctx, fmt.Sprintf(
		"%s/x/passport-login/web/qrcode/poll?qrcode_key=%s", passportBase, q.qrcodeKey))
	if err != nil {
		return nil, 0, err
	}

	var data qrPollData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return nil, 0, errors.Wrap(err, "解析扫码状态失败")
	}

	switch data.Code {
	case qrCodeSuccess:
		session, err := q.collectSession(data.URL)
		if err != nil {
			return nil, data.Code, err
		}
		return session, data.Code, nil
	case qrCodeExpired:
		return nil, data.Code, errors.New("二维码已失效，请重新获取")
	case qrCodeScanned, qrCodeWaitingScan:
		return nil, data.Code, nil
	default:
		return nil, data.Code, errors.Errorf("未知的扫码状态: %d %s", data.Code, data.Message)
	}
}

// Poll 以固定间隔轮询直到登录成功或二维码失效
func (q *QRLogin) Poll(ctx context.Context, interval time.Duration) (*Session, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		session, code, err := q.PollOnce(ctx)
		if err != nil {
			return nil, err
		}
		if session != nil {
			return session, nil
		}
		logrus.WithField("code", code).Debug("等待扫码")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// collectSession 登录成功后从跨域跳转 URL 和 cookie jar
// 收集凭据，拼装成客户端可用的 cookie 串。
func (q *QRLogin) collectSession(crossURL string) (*Session, error) {
	pairs := make(map[string]string)

	// 跳转 URL 的 query 携带了全部登录态字段
	if u, err := url.Parse(crossURL); err == nil {
		for key, vals := range u.Query() {
			if len(vals) == 0 || vals[0] == "" {
				continue
			}
			switch key {
			case "DedeUserID", "DedeUserID__ckMd5", "SESSDATA", "bili_jct", "sid":
				pairs[key] = vals[0]
			}
		}
	}

	// jar 中可能有 URL 未携带的补充 cookie
	if mainURL, err := url.Parse("https://www.bilibili.com"); err == nil {
		for _, ck := range q.httpClient.Jar.Cookies(mainURL) {
			if _, ok := pairs[ck.Name]; !ok && ck.Value != "" {
				pairs[ck.Name] = ck.Value
			}
		}
	}

	if pairs["bili_jct"] == "" || pairs["SESSDATA"] == "" {
		return nil, errors.New("登录凭据不完整，缺少 SESSDATA 或 bili_jct")
	}

	parts := make([]string, 0, len(pairs))
	for name, value := range pairs {
		parts = append(parts, name+"="+value)
	}
	return NewSession(strings.Join(parts, "; "))
}

func (q *QRLogin) get(ctx context.Context, rawURL string) (*apiResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "构建请求失败")
	}
	req.Header.Set("User-Agent", UA)
	req.Header.Set("Referer", referer)

	httpResp, err := q.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "请求登录服务失败")
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("登录服务返回 HTTP %d", httpResp.StatusCode)
	}

	var resp apiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, errors.Wrap(err, "解析登录服务响应失败")
	}
	if resp.Code != 0 {
		return nil, errors.Errorf("登录服务返回错误: %d %s", resp.Code, resp.Message)
	}
	return &resp, nil
}
