package configs

import (
	"os"
	"path/filepath"
	"sync"
	"time"
)

// 进程级配置，启动时由 main 初始化，之后只读。

var (
	mu       sync.RWMutex
	headless = true
	binPath  string
	dataDir  string
)

// 批量操作的默认节奏参数，参考 B 站风控的实际表现调整。
const (
	// DefaultMinInterval 两次请求之间的最小间隔
	DefaultMinInterval = 1500 * time.Millisecond
	// DefaultMaxBackoff 自适应退避倍率的上限
	DefaultMaxBackoff = 16.0
	// DefaultCooldown 连续三次被限流后的长冷却时间
	DefaultCooldown = 60 * time.Second
	// DefaultConcurrency 批量执行的并发 worker 数
	DefaultConcurrency = 2
	// DefaultPageRetries 单页拉取的瞬时错误重试次数
	DefaultPageRetries = 3
	// DefaultItemRetries 单条变更的瞬时错误重试次数
	DefaultItemRetries = 2
)

// InitHeadless 设置浏览器是否以无头模式启动
func InitHeadless(v bool) {
	mu.Lock()
	defer mu.Unlock()
	headless = v
}

func IsHeadless() bool {
	mu.RLock()
	defer mu.RUnlock()
	return headless
}

// SetBinPath 设置浏览器二进制文件路径
func SetBinPath(p string) {
	mu.Lock()
	defer mu.Unlock()
	binPath = p
}

func GetBinPath() string {
	mu.RLock()
	defer mu.RUnlock()
	return binPath
}

// SetDataDir 设置本地数据目录（cookies、sqlite 缓存）
func SetDataDir(p string) {
	mu.Lock()
	defer mu.Unlock()
	dataDir = p
}

// GetDataDir 返回本地数据目录，未设置时使用 ~/.bilibili-sweep
func GetDataDir() string {
	mu.RLock()
	dir := dataDir
	mu.RUnlock()
	if dir != "" {
		return dir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".bilibili-sweep")
}
