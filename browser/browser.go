package browser

import (
	"runtime"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"
	"github.com/xpzouying/headless_browser"

	"github.com/zhaokefei/bilibili-sweep/cookies"
)

type browserConfig struct {
	binPath    string
	cookiePath string
}

type Option func(*browserConfig)

func WithBinPath(binPath string) Option {
	return func(c *browserConfig) {
		c.binPath = binPath
	}
}

// WithCookiesPath 指定新浏览器实例启动时要使用的 cookies 文件路径。
func WithCookiesPath(path string) Option {
	return func(c *browserConfig) {
		c.cookiePath = path
	}
}

func NewBrowser(headless bool, options ...Option) *headless_browser.Browser {
	cfg := &browserConfig{}
	for _, opt := range options {
		opt(cfg)
	}

	opts := []headless_browser.Option{
		headless_browser.WithHeadless(headless),
	}
	if cfg.binPath != "" {
		opts = append(opts, headless_browser.WithChromeBinPath(cfg.binPath))
	}

	// 加载 cookies
	cookiePath := cfg.cookiePath
	if cookiePath == "" {
		cookiePath = cookies.GetCookiesFilePath()
	}
	cookieLoader := cookies.NewLoadCookie(cookiePath)

	if data, err := cookieLoader.LoadCookies(); err == nil {
		opts = append(opts, headless_browser.WithCookies(string(data)))
		logrus.WithField("cookies_path", cookiePath).Debug("已从文件加载 cookies")
	} else {
		logrus.WithField("cookies_path", cookiePath).Warnf("加载 cookies 失败: %v", err)
	}

	return headless_browser.New(opts...)
}

// ConfigurePage 配置页面，应用针对特定环境的补丁（如 Windows UA 修复）
func ConfigurePage(page *rod.Page) {
	// headless_browser 内部的 stealth 库默认把 UA 伪装成 Mac Chrome，
	// Windows 下会和真实平台不一致，触发风控的设备校验
	if runtime.GOOS == "windows" {

		ua := "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/127.0.0.0 Safari/537.36"

		// 协议层覆盖 UA，页面已关闭时会失败但不影响主流程
		_ = page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent: ua,
			Platform:  "Windows",
		})

		// 注入 JS 覆盖 navigator 属性，防止页面脚本检测到不一致
		_, err := page.EvalOnNewDocument(`
			Object.defineProperty(navigator, 'platform', {
				get: () => 'Win32'
			});
			Object.defineProperty(navigator, 'userAgent', {
				get: () => '` + ua + `'
			});
			Object.defineProperty(navigator, 'vendor', {
				get: () => 'Google Inc.'
			});
		`)
		if err != nil {
			logrus.Warnf("注入 UA 修正脚本失败: %v", err)
		}

		logrus.Info("已修正 Windows 环境下的 User-Agent 设置")
	}
}
