package bilibili

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"

	"github.com/zhaokefei/bilibili-sweep/sweep"
)

// aicu.cc 第三方索引，能查到比官方通知流更早的历史评论和弹幕。
// 该站点按页码分页，单页可以给到 500 条。

const aicuPageSize = 500

// aicuCursor aicu 接口的翻页游标
type aicuCursor struct {
	Page int `json:"page"`
}

type aicuCommentEndpoint struct {
	c *Client
}

// AicuCommentEndpoint 历史评论索引
func (c *Client) AicuCommentEndpoint() sweep.Endpoint {
	return &aicuCommentEndpoint{c: c}
}

func (e *aicuCommentEndpoint) Kind() sweep.SourceKind {
	return sweep.KindComment
}

func (e *aicuCommentEndpoint) FetchPage(ctx context.Context, cursor string) (sweep.Page, error) {
	cur, err := decodeCursor[aicuCursor](cursor)
	if err != nil {
		return sweep.Page{}, err
	}
	if cur.Page == 0 {
		cur.Page = 1
	}

	uid := e.c.session.Identity()
	url := fmt.Sprintf("%s/api/v3/search/getreply?uid=%d&pn=%d&ps=%d&mode=0&keyword=",
		aicuBase, uid, cur.Page, aicuPageSize)
	resp, err := e.c.getJSON(ctx, url)
	if err != nil {
		return sweep.Page{}, err
	}
	if err := e.c.checkCode(resp, "拉取历史评论"); err != nil {
		return sweep.Page{}, err
	}

	var data struct {
		Replies []struct {
			RPID    int64  `json:"rpid"`
			Message string `json:"message"`
			Time    int64  `json:"time"`
			Dyn     struct {
				OID  int64 `json:"oid"`
				Type int   `json:"type"`
			} `json:"dyn"`
		} `json:"replies"`
		Cursor struct {
			IsEnd bool `json:"is_end"`
		} `json:"cursor"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return sweep.Page{}, sweep.NewClassifiedError(sweep.ErrKindTransient,
			errors.Wrap(err, "解析历史评论失败"))
	}

	items := make([]sweep.ContentItem, 0, len(data.Replies))
	for _, r := range data.Replies {
		if r.Dyn.OID == 0 {
			// 缺少定位信息的评论无法删除，跳过
			continue
		}
		items = append(items, sweep.ContentItem{
			Kind:      sweep.KindComment,
			ID:        r.RPID,
			UID:       uid,
			Text:      r.Message,
			CreatedAt: r.Time,
			OID:       r.Dyn.OID,
			TypeCode:  r.Dyn.Type,
			SystemAPI: -1,
		})
	}

	page := sweep.Page{Items: items}
	if !data.Cursor.IsEnd && len(data.Replies) > 0 {
		page.HasMore = true
		page.NextCursor = encodeCursor(aicuCursor{Page: cur.Page + 1})
	}
	return page, nil
}

type aicuDanmuEndpoint struct {
	c *Client
}

// AicuDanmuEndpoint 历史弹幕索引
func (c *Client) AicuDanmuEndpoint() sweep.Endpoint {
	return &aicuDanmuEndpoint{c: c}
}

func (e *aicuDanmuEndpoint) Kind() sweep.SourceKind {
	return sweep.KindDanmu
}

func (e *aicuDanmuEndpoint) FetchPage(ctx context.Context, cursor string) (sweep.Page, error) {
	cur, err := decodeCursor[aicuCursor](cursor)
	if err != nil {
		return sweep.Page{}, err
	}
	if cur.Page == 0 {
		cur.Page = 1
	}

	uid := e.c.session.Identity()
	url := fmt.Sprintf("%s/api/v3/search/getvideodm?uid=%d&pn=%d&ps=%d&mode=0&keyword=",
		aicuBase, uid, cur.Page, aicuPageSize)
	resp, err := e.c.getJSON(ctx, url)
	if err != nil {
		return sweep.Page{}, err
	}
	if err := e.c.checkCode(resp, "拉取历史弹幕"); err != nil {
		return sweep.Page{}, err
	}

	var data struct {
		List []struct {
			ID      int64  `json:"id"`
			Content string `json:"content"`
			CTime   int64  `json:"ctime"`
			OID     int64  `json:"oid"` // 视频分 P 的 cid
		} `json:"videodmlist"`
		Cursor struct {
			IsEnd bool `json:"is_end"`
		} `json:"cursor"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return sweep.Page{}, sweep.NewClassifiedError(sweep.ErrKindTransient,
			errors.Wrap(err, "解析历史弹幕失败"))
	}

	items := make([]sweep.ContentItem, 0, len(data.List))
	for _, d := range data.List {
		items = append(items, sweep.ContentItem{
			Kind:      sweep.KindDanmu,
			ID:        d.ID,
			UID:       uid,
			Text:      d.Content,
			CreatedAt: d.CTime,
			OID:       d.OID,
			SystemAPI: -1,
		})
	}

	page := sweep.Page{Items: items}
	if !data.Cursor.IsEnd && len(data.List) > 0 {
		page.HasMore = true
		page.NextCursor = encodeCursor(aicuCursor{Page: cur.Page + 1})
	}
	return page, nil
}
