package sweep

import (
	"regexp"
	"strings"
)

// Predicate 条目筛选条件，纯函数、无副作用
type Predicate func(ContentItem) bool

// MatchAll 空条件，所有条目都命中
func MatchAll() Predicate {
	return func(ContentItem) bool { return true }
}

// And 所有条件都命中才命中
func And(preds ...Predicate) Predicate {
	return func(it ContentItem) bool {
		for _, p := range preds {
			if !p(it) {
				return false
			}
		}
		return true
	}
}

// Or 任一条件命中即命中
func Or(preds ...Predicate) Predicate {
	return func(it ContentItem) bool {
		for _, p := range preds {
			if p(it) {
				return true
			}
		}
		return false
	}
}

// Not 取反
func Not(p Predicate) Predicate {
	return func(it ContentItem) bool { return !p(it) }
}

// Keyword 文本包含匹配，不区分大小写，全角字符先归一成半角
func Keyword(keyword string) Predicate {
	kw := strings.ToLower(NormalizeWidth(keyword))
	return func(it ContentItem) bool {
		if kw == "" {
			return true
		}
		return strings.Contains(strings.ToLower(NormalizeWidth(it.Text)), kw)
	}
}

// Regex 文本正则匹配
func Regex(re *regexp.Regexp) Predicate {
	return func(it ContentItem) bool {
		return re.MatchString(it.Text)
	}
}

// Fuzzy 子序列模糊匹配：关键词的每个字符按顺序出现在文本中即命中
func Fuzzy(keyword string) Predicate {
	kw := strings.ToLower(NormalizeWidth(keyword))
	return func(it ContentItem) bool {
		text := strings.ToLower(NormalizeWidth(it.Text))
		last := -1
		for _, ch := range kw {
			found := strings.IndexRune(text[last+1:], ch)
			if found == -1 {
				return false
			}
			last += 1 + found
		}
		return true
	}
}

// UID 精确匹配所属 UID
func UID(uids ...int64) Predicate {
	set := make(map[int64]bool, len(uids))
	for _, u := range uids {
		set[u] = true
	}
	return func(it ContentItem) bool {
		return set[it.UID]
	}
}

// Kind 匹配内容类型
func Kind(kinds ...SourceKind) Predicate {
	set := make(map[SourceKind]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	return func(it ContentItem) bool {
		return set[it.Kind]
	}
}

// TimeRange 按创建时间过滤，from/to 为 Unix 秒，0 表示不限
func TimeRange(from, to int64) Predicate {
	return func(it ContentItem) bool {
		if from > 0 && it.CreatedAt < from {
			return false
		}
		if to > 0 && it.CreatedAt > to {
			return false
		}
		return true
	}
}

// Select 对工作集求值，返回命中的条目组成的选集，保持原有相对顺序。
// pred 为 nil 时等价于 MatchAll。
func Select(coll *Collection, pred Predicate) *SelectionSet {
	if pred == nil {
		pred = MatchAll()
	}
	sel := NewSelectionSet(coll)
	for _, it := range coll.Items() {
		if pred(it) {
			sel.Add(it.Key())
		}
	}
	return sel
}

// NormalizeWidth 把全角 ASCII 字符转成半角，全角空格转普通空格。
// B 站评论里全角英文很常见，不归一会导致关键词搜不到。
func NormalizeWidth(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == 0x3000:
			b.WriteRune(' ')
		case r > 0xFF00 && r < 0xFF5F:
			b.WriteRune(r - 0xFEE0)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
