package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/h2non/filetype"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const loginURL = "https://passport.bilibili.com/login"

// LoginAction 浏览器内的扫码登录流程。打开登录页截取二维码图片，
// 用户扫码确认后从浏览器收集登录 cookie。
type LoginAction struct {
	page *rod.Page
}

func NewLoginAction(page *rod.Page) *LoginAction {
	return &LoginAction{page: page}
}

// CheckLoginStatus 访问主站检查当前 cookie 是否仍处于登录态
func (a *LoginAction) CheckLoginStatus(ctx context.Context) (bool, error) {
	page := a.page.Context(ctx)
	page.MustNavigate("https://www.bilibili.com").MustWaitLoad()
	time.Sleep(1 * time.Second)

	cookieStr, err := a.CurrentCookies(ctx)
	if err != nil {
		return false, err
	}
	return strings.Contains(cookieStr, "SESSDATA=") &&
		strings.Contains(cookieStr, "bili_jct="), nil
}

// CaptureQrcode 打开登录页并截取二维码图片，返回图片数据和 MIME 类型
func (a *LoginAction) CaptureQrcode(ctx context.Context) ([]byte, string, error) {
	page := a.page.Context(ctx)

	logrus.WithField("url", loginURL).Info("打开登录页面")
	page.MustNavigate(loginURL).MustWaitLoad()
	time.Sleep(2 * time.Second)

	// 登录页的二维码区域，选择器变化时降级为整页截图
	qrcodeSelectors := []string{
		".login-scan-box img",
		".qrcode-img img",
		"div.login-scan-wp img",
	}

	var img []byte
	for _, sel := range qrcodeSelectors {
		elem, err := page.Timeout(5 * time.Second).Element(sel)
		if err != nil {
			logrus.Debugf("二维码选择器未命中: %s", sel)
			continue
		}
		data, err := elem.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
		if err != nil {
			logrus.Warnf("截取二维码失败: %v", err)
			continue
		}
		img = data
		break
	}

	if img == nil {
		logrus.Warn("未找到二维码元素，降级为整页截图")
		data, err := page.Screenshot(false, nil)
		if err != nil {
			return nil, "", errors.Wrap(err, "截取登录页失败")
		}
		img = data
	}

	mime := "image/png"
	if kind, err := filetype.Match(img); err == nil && kind.MIME.Value != "" {
		mime = kind.MIME.Value
	}
	return img, mime, nil
}

// WaitForLogin 轮询浏览器 cookie 直到出现登录凭据或超时
func (a *LoginAction) WaitForLogin(ctx context.Context, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(2 * time.Second):
		}

		cookieStr, err := a.CurrentCookies(ctx)
		if err != nil {
			logrus.Warnf("读取浏览器 cookie 失败: %v", err)
			continue
		}
		if strings.Contains(cookieStr, "SESSDATA=") &&
			strings.Contains(cookieStr, "bili_jct=") {
			logrus.Info("检测到登录成功")
			return cookieStr, nil
		}
	}
	return "", errors.New("等待扫码登录超时")
}

// CurrentCookies 收集浏览器当前的 bilibili 域 cookie，拼成请求头格式
func (a *LoginAction) CurrentCookies(ctx context.Context) (string, error) {
	page := a.page.Context(ctx)
	cookies, err := page.Cookies([]string{"https://www.bilibili.com", "https://passport.bilibili.com"})
	if err != nil {
		return "", errors.Wrap(err, "获取浏览器 cookie 失败")
	}

	parts := make([]string, 0, len(cookies))
	seen := make(map[string]bool, len(cookies))
	for _, ck := range cookies {
		if ck.Value == "" || seen[ck.Name] {
			continue
		}
		seen[ck.Name] = true
		parts = append(parts, fmt.Sprintf("%s=%s", ck.Name, ck.Value))
	}
	return strings.Join(parts, "; "), nil
}
