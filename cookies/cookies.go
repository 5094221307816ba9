package cookies

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/zhaokefei/bilibili-sweep/configs"
)

// GetCookiesFilePath 返回默认的 cookies 文件路径
func GetCookiesFilePath() string {
	return filepath.Join(configs.GetDataDir(), "cookies.json")
}

// GetAccountCookiesFilePath 返回指定账号的 cookies 文件路径，
// 支持多账号时每个 UID 一份独立的凭证文件。
func GetAccountCookiesFilePath(uid int64) string {
	return filepath.Join(configs.GetDataDir(), fmt.Sprintf("cookies_%d.json", uid))
}

// LoadCookie cookies 文件的读写器
type LoadCookie struct {
	path string
}

func NewLoadCookie(path string) *LoadCookie {
	return &LoadCookie{path: path}
}

func (l *LoadCookie) LoadCookies() ([]byte, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, errors.Wrapf(err, "读取 cookies 文件失败: %s", l.path)
	}
	return data, nil
}

func (l *LoadCookie) SaveCookies(data []byte) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return errors.Wrap(err, "创建 cookies 目录失败")
	}
	// 凭证文件仅本用户可读
	if err := os.WriteFile(l.path, data, 0o600); err != nil {
		return errors.Wrapf(err, "写入 cookies 文件失败: %s", l.path)
	}
	return nil
}

// RemoveCookies 删除 cookies 文件，文件不存在视为成功
func (l *LoadCookie) RemoveCookies() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "删除 cookies 文件失败: %s", l.path)
	}
	return nil
}
