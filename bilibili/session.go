package bilibili

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// Session 一个已认证的身份：cookie 凭证加账号元信息。
// 登录时创建，之后不再修改；引擎在操作期间只持有借用引用，
// 凭证失效时由调用方重新登录换取新的 Session。
type Session struct {
	Cookie   string `json:"cookie"`
	CSRF     string `json:"csrf"`
	UID      int64  `json:"uid"`
	Username string `json:"username"`
}

// NewSession 从 cookie 字符串创建会话，cookie 中必须包含 bili_jct
func NewSession(cookie string) (*Session, error) {
	csrf, err := extractCSRF(cookie)
	if err != nil {
		return nil, err
	}
	return &Session{Cookie: cookie, CSRF: csrf}, nil
}

// extractCSRF 从 cookie 字符串里取出 bili_jct 字段作为 csrf token
func extractCSRF(cookie string) (string, error) {
	const key = "bili_jct="
	start := strings.Index(cookie, key)
	if start == -1 {
		return "", errors.New("cookie 中未找到 bili_jct")
	}
	rest := cookie[start+len(key):]
	if end := strings.Index(rest, ";"); end != -1 {
		rest = rest[:end]
	}
	csrf := strings.TrimSpace(rest)
	if csrf == "" {
		return "", errors.New("bili_jct 为空")
	}
	return csrf, nil
}

// Valid 本地的廉价有效性检查，不发起网络请求。
// 返回 false 时调用方应先重新登录再使用引擎。
func (s *Session) Valid() bool {
	return s != nil && s.Cookie != "" && s.CSRF != ""
}

// Identity 返回账号 UID，未解析过账号信息时为 0
func (s *Session) Identity() int64 {
	if s == nil {
		return 0
	}
	return s.UID
}

// WithIdentity 返回携带账号元信息的新会话，原会话不变
func (s *Session) WithIdentity(uid int64, username string) *Session {
	return &Session{
		Cookie:   s.Cookie,
		CSRF:     s.CSRF,
		UID:      uid,
		Username: username,
	}
}

// AccountInfo 账号基本信息
type AccountInfo struct {
	UID      int64  `json:"mid"`
	Username string `json:"name"`
	FaceURL  string `json:"face"`
}

// Account 拉取当前登录账号的信息，用于登录后补全会话身份
func (c *Client) Account(ctx context.Context) (*AccountInfo, error) {
	resp, err := c.getJSON(ctx, apiBase+"/x/space/myinfo")
	if err != nil {
		return nil, err
	}
	if err := c.checkCode(resp, "获取账号信息"); err != nil {
		return nil, err
	}

	var info AccountInfo
	if err := json.Unmarshal(resp.Data, &info); err != nil {
		return nil, errors.Wrap(err, "解析账号信息失败")
	}
	return &info, nil
}
