package sweep

import "fmt"

// SourceKind 远端集合的类型
type SourceKind string

const (
	KindComment SourceKind = "comment"
	KindDanmu   SourceKind = "danmu"
	KindNotify  SourceKind = "notify"
	KindMessage SourceKind = "message"
	KindFollow  SourceKind = "follow"
)

// Mutation 批量变更的类型
type Mutation string

const (
	MutationDelete   Mutation = "delete"
	MutationMarkRead Mutation = "mark_read"
	MutationUnfollow Mutation = "unfollow"
)

// ContentItem 从远端拉取的单条内容。获取后不可变，
// 以 (Kind, ID) 作为唯一标识。
type ContentItem struct {
	Kind      SourceKind `json:"kind"`
	ID        int64      `json:"id"`
	UID       int64      `json:"uid"`       // 所属账号或对方 UID
	Text      string     `json:"text"`      // 展示文本/摘要
	CreatedAt int64      `json:"created_at"`
	ThreadID  int64      `json:"thread_id,omitempty"` // 会话/线程 ID，0 表示无

	// 执行变更时需要的远端上下文
	OID       int64 `json:"oid,omitempty"`        // 评论所在对象 ID
	TypeCode  int   `json:"type_code,omitempty"`  // 评论业务类型或通知 tp
	SystemAPI int   `json:"system_api,omitempty"` // 系统通知 API 类型，-1 表示非系统通知
	AckSeqno  int64 `json:"ack_seqno,omitempty"`  // 私信会话的已读位点
}

// Key 返回条目的唯一标识
func (c ContentItem) Key() ItemKey {
	return ItemKey{Kind: c.Kind, ID: c.ID}
}

// ItemKey (kind, remote id) 二元组
type ItemKey struct {
	Kind SourceKind `json:"kind"`
	ID   int64      `json:"id"`
}

func (k ItemKey) String() string {
	return fmt.Sprintf("%s/%d", k.Kind, k.ID)
}

// Page 分页端点返回的一页数据，由 Paginator 产生和消费，不做持久化
type Page struct {
	Items      []ContentItem
	NextCursor string // 下一页游标，格式由端点自定
	HasMore    bool
}

// Collection 一次拉取得到的工作集，按远端顺序保存
type Collection struct {
	items []ContentItem
	index map[ItemKey]int
}

// NewCollection 从拉取结果构建工作集，重复的 (kind, id) 以后出现的为准
func NewCollection(items []ContentItem) *Collection {
	c := &Collection{
		items: make([]ContentItem, 0, len(items)),
		index: make(map[ItemKey]int, len(items)),
	}
	for _, it := range items {
		key := it.Key()
		if pos, ok := c.index[key]; ok {
			c.items[pos] = it
			continue
		}
		c.index[key] = len(c.items)
		c.items = append(c.items, it)
	}
	return c
}

// Items 返回工作集中的全部条目（远端顺序）
func (c *Collection) Items() []ContentItem {
	return c.items
}

// Get 按 key 查找条目
func (c *Collection) Get(key ItemKey) (ContentItem, bool) {
	pos, ok := c.index[key]
	if !ok {
		return ContentItem{}, false
	}
	return c.items[pos], true
}

func (c *Collection) Len() int {
	return len(c.items)
}

// SelectionSet 用户圈选出来待执行变更的条目集合。
// 由 Filter 产生，也可以手动增删；执行时不在工作集中的 key 会被丢弃。
type SelectionSet struct {
	coll   *Collection
	keys   []ItemKey
	member map[ItemKey]bool
}

// NewSelectionSet 创建基于某个工作集的空选集
func NewSelectionSet(coll *Collection) *SelectionSet {
	return &SelectionSet{
		coll:   coll,
		member: make(map[ItemKey]bool),
	}
}

// Add 追加一个 key，已存在则忽略
func (s *SelectionSet) Add(key ItemKey) {
	if s.member[key] {
		return
	}
	s.member[key] = true
	s.keys = append(s.keys, key)
}

// Toggle 翻转一个 key 的选中状态，返回翻转后的状态
func (s *SelectionSet) Toggle(key ItemKey) bool {
	if s.member[key] {
		delete(s.member, key)
		for i, k := range s.keys {
			if k == key {
				s.keys = append(s.keys[:i], s.keys[i+1:]...)
				break
			}
		}
		return false
	}
	s.Add(key)
	return true
}

// Keys 返回选中的 key（选择顺序）
func (s *SelectionSet) Keys() []ItemKey {
	return s.keys
}

func (s *SelectionSet) Len() int {
	return len(s.keys)
}

// Resolve 把选集解析成条目列表，返回可执行的条目和已失效的 key。
// 失效 key 指不在当前工作集中的选择，它们不会被执行。
func (s *SelectionSet) Resolve() (items []ContentItem, stale []ItemKey) {
	for _, key := range s.keys {
		if it, ok := s.coll.Get(key); ok {
			items = append(items, it)
		} else {
			stale = append(stale, key)
		}
	}
	return items, stale
}
