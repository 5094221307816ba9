package bilibili

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var (
	videoRegex = regexp.MustCompile(`bilibili://video/(\d+)`)
	cidRegex   = regexp.MustCompile(`cid=(\d+)`)
)

// parseOID 从通知条目的链接信息中解析评论所在对象的 (oid, type)。
// 不同业务（动态、专栏、视频、番剧）的 uri 形态各不相同。
func parseOID(uri string, businessID int, nativeURI string) (int64, int, error) {
	switch {
	case strings.Contains(uri, "t.bilibili.com"):
		// 动态内评论
		oid, err := trimPrefixInt(uri, "https://t.bilibili.com/")
		if err != nil {
			return 0, 0, err
		}
		tp := businessID
		if tp == 0 {
			tp = 17
		}
		return oid, tp, nil

	case strings.Contains(uri, "https://h.bilibili.com/ywh/"):
		// 带图动态内评论
		oid, err := trimPrefixInt(uri, "https://h.bilibili.com/ywh/")
		if err != nil {
			return 0, 0, err
		}
		return oid, 11, nil

	case strings.Contains(uri, "https://www.bilibili.com/read/cv"):
		// 专栏内评论
		oid, err := trimPrefixInt(uri, "https://www.bilibili.com/read/cv")
		if err != nil {
			return 0, 0, err
		}
		return oid, 12, nil

	case strings.Contains(uri, "https://www.bilibili.com/opus/"):
		// 新版动态（opus）内评论
		oid, err := trimPrefixInt(uri, "https://www.bilibili.com/opus/")
		if err != nil {
			return 0, 0, err
		}
		tp := businessID
		if tp == 0 {
			tp = 17
		}
		return oid, tp, nil

	case strings.Contains(uri, "https://www.bilibili.com/video/"),
		strings.Contains(uri, "https://www.bilibili.com/bangumi/play/"):
		// 视频/番剧内评论，oid 要从 native_uri 里取 av 号
		if m := videoRegex.FindStringSubmatch(nativeURI); m != nil {
			oid, err := strconv.ParseInt(m[1], 10, 64)
			if err != nil {
				return 0, 0, errors.Wrapf(err, "解析视频 oid 失败: %s", nativeURI)
			}
			return oid, 1, nil
		}
	}

	return 0, 0, errors.Errorf("无法识别的 uri: %s", uri)
}

func trimPrefixInt(s, prefix string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimPrefix(s, prefix), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "解析 oid 失败: %s", s)
	}
	return v, nil
}

// extractCID 从 native_uri 中提取弹幕所在视频分 P 的 cid，取不到返回 0
func extractCID(nativeURI string) int64 {
	if m := cidRegex.FindStringSubmatch(nativeURI); m != nil {
		v, err := strconv.ParseInt(m[1], 10, 64)
		if err == nil {
			return v
		}
	}
	return 0
}
