package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhaokefei/bilibili-sweep/sweep"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sweep.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveAndLoadItems(t *testing.T) {
	s := openTestStore(t)

	items := []sweep.ContentItem{
		{Kind: sweep.KindComment, ID: 1, UID: 10086, Text: "早一点的评论",
			CreatedAt: 100, OID: 7788, TypeCode: 1, SystemAPI: -1},
		{Kind: sweep.KindComment, ID: 2, UID: 10086, Text: "晚一点的评论",
			CreatedAt: 200, OID: 7788, TypeCode: 17, SystemAPI: -1},
		{Kind: sweep.KindMessage, ID: 111, UID: 10086, Text: "一条私信",
			CreatedAt: 150, ThreadID: 111, AckSeqno: 9, SystemAPI: -1},
	}
	require.NoError(t, s.SaveItems(10086, items))

	got, err := s.LoadItems(10086, sweep.KindComment)
	require.NoError(t, err)
	require.Len(t, got, 2, "按 kind 过滤，私信不应出现")
	assert.Equal(t, int64(2), got[0].ID, "应按时间倒序")
	assert.Equal(t, int64(1), got[1].ID)
	assert.Equal(t, 17, got[0].TypeCode)
	assert.Equal(t, -1, got[0].SystemAPI)

	msgs, err := s.LoadItems(10086, sweep.KindMessage)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(111), msgs[0].ThreadID)
	assert.Equal(t, int64(9), msgs[0].AckSeqno)

	// 不同账号互不可见
	other, err := s.LoadItems(20000, sweep.KindComment)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestSaveItemsUpsert(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SaveItems(1, []sweep.ContentItem{
		{Kind: sweep.KindComment, ID: 1, Text: "旧文本", CreatedAt: 100, SystemAPI: -1},
	}))
	require.NoError(t, s.SaveItems(1, []sweep.ContentItem{
		{Kind: sweep.KindComment, ID: 1, Text: "新文本", CreatedAt: 100, SystemAPI: -1},
	}))

	got, err := s.LoadItems(1, sweep.KindComment)
	require.NoError(t, err)
	require.Len(t, got, 1, "重复抓取同一条目不应产生副本")
	assert.Equal(t, "新文本", got[0].Text)
}

func TestDeleteItems(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SaveItems(1, []sweep.ContentItem{
		{Kind: sweep.KindComment, ID: 1, CreatedAt: 100, SystemAPI: -1},
		{Kind: sweep.KindComment, ID: 2, CreatedAt: 200, SystemAPI: -1},
		{Kind: sweep.KindDanmu, ID: 2, CreatedAt: 300, SystemAPI: -1},
	}))

	// 只删 (comment, 2)，同 ID 的弹幕不受影响
	require.NoError(t, s.DeleteItems(1, []sweep.ItemKey{
		{Kind: sweep.KindComment, ID: 2},
	}))

	comments, err := s.LoadItems(1, sweep.KindComment)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, int64(1), comments[0].ID)

	danmu, err := s.LoadItems(1, sweep.KindDanmu)
	require.NoError(t, err)
	assert.Len(t, danmu, 1)

	assert.NoError(t, s.DeleteItems(1, nil), "空 key 列表应直接成功")
}

func TestCursorRoundTrip(t *testing.T) {
	s := openTestStore(t)

	got, err := s.LoadCursor(1, "aicu_comment")
	require.NoError(t, err)
	assert.Empty(t, got, "没存过的游标应返回空串")

	require.NoError(t, s.SaveCursor(1, "aicu_comment", `{"page":3}`))
	require.NoError(t, s.SaveCursor(1, "feed_replied", `{"id":99}`))

	got, err = s.LoadCursor(1, "aicu_comment")
	require.NoError(t, err)
	assert.Equal(t, `{"page":3}`, got)

	// 覆盖写
	require.NoError(t, s.SaveCursor(1, "aicu_comment", `{"page":5}`))
	got, err = s.LoadCursor(1, "aicu_comment")
	require.NoError(t, err)
	assert.Equal(t, `{"page":5}`, got)

	require.NoError(t, s.ClearCursor(1, "aicu_comment"))
	got, err = s.LoadCursor(1, "aicu_comment")
	require.NoError(t, err)
	assert.Empty(t, got)

	// 其它来源的游标不受影响
	got, err = s.LoadCursor(1, "feed_replied")
	require.NoError(t, err)
	assert.Equal(t, `{"id":99}`, got)
}
