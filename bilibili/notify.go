package bilibili

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/zhaokefei/bilibili-sweep/sweep"
)

// 通知 tp 值：0 点赞、1 回复、2 @、4 系统通知
const (
	notifyTypeLiked  = 0
	notifyTypeReply  = 1
	notifyTypeAted   = 2
	notifyTypeSystem = 4
)

// feedCursor msgfeed 系列接口的翻页游标
type feedCursor struct {
	ID   int64 `json:"id"`
	Time int64 `json:"time"`
}

func decodeCursor[T any](raw string) (T, error) {
	var cur T
	if raw == "" {
		return cur, nil
	}
	if err := json.Unmarshal([]byte(raw), &cur); err != nil {
		return cur, sweep.NewClassifiedError(sweep.ErrKindPermanent,
			errors.Wrapf(err, "游标格式错误: %s", raw))
	}
	return cur, nil
}

func encodeCursor(cur any) string {
	data, err := json.Marshal(cur)
	if err != nil {
		return ""
	}
	return string(data)
}

// feedItem msgfeed 接口的单条通知
type feedItem struct {
	ID        int64 `json:"id"`
	LikeTime  int64 `json:"like_time"`
	ReplyTime int64 `json:"reply_time"`
	AtTime    int64 `json:"at_time"`
	Item      struct {
		Type               string `json:"type"`
		ItemID             int64  `json:"item_id"`
		TargetID           int64  `json:"target_id"`
		Title              string `json:"title"`
		TargetReplyContent string `json:"target_reply_content"`
		URI                string `json:"uri"`
		NativeURI          string `json:"native_uri"`
		BusinessID         int    `json:"business_id"`
	} `json:"item"`
}

type feedCursorResp struct {
	IsEnd bool  `json:"is_end"`
	ID    int64 `json:"id"`
	Time  int64 `json:"time"`
}

// msgFeedEndpoint 点赞/回复/@ 三类通知流的通用实现。
// 一页里除了通知本体，还会带出可定位到的关联评论和弹幕条目，
// 供评论/弹幕清理复用同一次拉取。
type msgFeedEndpoint struct {
	c       *Client
	feed    string // like | reply | at
	timeKey string // like_time | reply_time | at_time
	tp      int
}

// LikedEndpoint 点赞通知流
func (c *Client) LikedEndpoint() sweep.Endpoint {
	return &msgFeedEndpoint{c: c, feed: "like", timeKey: "like_time", tp: notifyTypeLiked}
}

// RepliedEndpoint 回复通知流
func (c *Client) RepliedEndpoint() sweep.Endpoint {
	return &msgFeedEndpoint{c: c, feed: "reply", timeKey: "reply_time", tp: notifyTypeReply}
}

// AtedEndpoint @ 通知流
func (c *Client) AtedEndpoint() sweep.Endpoint {
	return &msgFeedEndpoint{c: c, feed: "at", timeKey: "at_time", tp: notifyTypeAted}
}

func (e *msgFeedEndpoint) Kind() sweep.SourceKind {
	return sweep.KindNotify
}

func (e *msgFeedEndpoint) FetchPage(ctx context.Context, cursor string) (sweep.Page, error) {
	cur, err := decodeCursor[feedCursor](cursor)
	if err != nil {
		return sweep.Page{}, err
	}

	url := fmt.Sprintf("%s/x/msgfeed/%s?platform=web&build=0&mobi_app=web", apiBase, e.feed)
	if cur.ID != 0 {
		url += fmt.Sprintf("&id=%d&%s=%d", cur.ID, e.timeKey, cur.Time)
	}

	resp, err := e.c.getJSON(ctx, url)
	if err != nil {
		return sweep.Page{}, err
	}
	if err := e.c.checkCode(resp, "拉取"+e.feed+"通知"); err != nil {
		return sweep.Page{}, err
	}

	items, respCur, err := e.parseData(resp.Data)
	if err != nil {
		return sweep.Page{}, err
	}

	page := sweep.Page{Items: items}
	if respCur != nil && !respCur.IsEnd && len(items) > 0 {
		page.HasMore = true
		page.NextCursor = encodeCursor(feedCursor{ID: respCur.ID, Time: respCur.Time})
	}
	return page, nil
}

func (e *msgFeedEndpoint) parseData(data json.RawMessage) ([]sweep.ContentItem, *feedCursorResp, error) {
	// 点赞接口的数据包在 total 里，回复和 @ 直接在 data 下
	var wrap struct {
		Total *struct {
			Items  []feedItem      `json:"items"`
			Cursor *feedCursorResp `json:"cursor"`
		} `json:"total"`
		Items  []feedItem      `json:"items"`
		Cursor *feedCursorResp `json:"cursor"`
	}
	if err := json.Unmarshal(data, &wrap); err != nil {
		return nil, nil, sweep.NewClassifiedError(sweep.ErrKindTransient,
			errors.Wrap(err, "解析通知流失败"))
	}

	raw := wrap.Items
	cur := wrap.Cursor
	if e.feed == "like" && wrap.Total != nil {
		raw = wrap.Total.Items
		cur = wrap.Total.Cursor
	}

	uid := e.c.session.Identity()
	var items []sweep.ContentItem
	for _, it := range raw {
		createdAt := it.LikeTime + it.ReplyTime + it.AtTime // 每类只有一个非零
		items = append(items, sweep.ContentItem{
			Kind:      sweep.KindNotify,
			ID:        it.ID,
			UID:       uid,
			Text:      fmt.Sprintf("%s (%s)", it.Item.Title, e.feed),
			CreatedAt: createdAt,
			TypeCode:  e.tp,
			SystemAPI: -1,
		})

		// 关联的评论/弹幕条目
		switch it.Item.Type {
		case "reply":
			rpid := it.Item.ItemID
			text := it.Item.Title
			if e.feed == "reply" {
				// 回复通知里自己的评论在 target_id/target_reply_content
				rpid = it.Item.TargetID
				if it.Item.TargetReplyContent != "" {
					text = it.Item.TargetReplyContent
				}
			}
			if rpid == 0 {
				continue
			}
			oid, tp, err := parseOID(it.Item.URI, it.Item.BusinessID, it.Item.NativeURI)
			if err != nil {
				logrus.WithError(err).Debugf("无法为通知 %d 关联评论", it.ID)
				continue
			}
			items = append(items, sweep.ContentItem{
				Kind:      sweep.KindComment,
				ID:        rpid,
				UID:       uid,
				Text:      text,
				CreatedAt: createdAt,
				OID:       oid,
				TypeCode:  tp,
				SystemAPI: -1,
			})
		case "danmu":
			if it.Item.ItemID == 0 {
				continue
			}
			items = append(items, sweep.ContentItem{
				Kind:      sweep.KindDanmu,
				ID:        it.Item.ItemID,
				UID:       uid,
				Text:      it.Item.Title,
				CreatedAt: createdAt,
				OID:       extractCID(it.Item.NativeURI),
				SystemAPI: -1,
			})
		}
	}
	return items, cur, nil
}

// systemCursor 系统通知的翻页游标
type systemCursor struct {
	Cursor  int64 `json:"cursor"`
	APIType int   `json:"api_type"`
}

// systemEndpoint 系统通知流。首页和翻页走不同的接口，且返回的
// 数据结构不同；首页为空时会退回备用接口再试一次。
type systemEndpoint struct {
	c *Client
}

// SystemNotifyEndpoint 系统通知流
func (c *Client) SystemNotifyEndpoint() sweep.Endpoint {
	return &systemEndpoint{c: c}
}

func (e *systemEndpoint) Kind() sweep.SourceKind {
	return sweep.KindNotify
}

type systemNotifyItem struct {
	ID      int64  `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Type    int    `json:"type"`
	Cursor  int64  `json:"cursor"`
	TimeAt  string `json:"time_at"`
}

func (e *systemEndpoint) FetchPage(ctx context.Context, cursor string) (sweep.Page, error) {
	cur, err := decodeCursor[systemCursor](cursor)
	if err != nil {
		return sweep.Page{}, err
	}

	var raw []systemNotifyItem
	apiType := cur.APIType
	if cur.Cursor == 0 {
		raw, apiType, err = e.fetchFirstPage(ctx, apiType)
	} else {
		raw, err = e.fetchNextPage(ctx, cur.Cursor)
	}
	if err != nil {
		return sweep.Page{}, err
	}

	uid := e.c.session.Identity()
	items := make([]sweep.ContentItem, 0, len(raw))
	var lastCursor int64
	for _, it := range raw {
		createdAt := parseSystemTime(it.TimeAt)
		items = append(items, sweep.ContentItem{
			Kind:      sweep.KindNotify,
			ID:        it.ID,
			UID:       uid,
			Text:      it.Title + "\n" + it.Content,
			CreatedAt: createdAt,
			TypeCode:  it.Type,
			SystemAPI: apiType,
		})
		lastCursor = it.Cursor
	}

	page := sweep.Page{Items: items}
	if len(items) > 0 && lastCursor != 0 {
		page.HasMore = true
		page.NextCursor = encodeCursor(systemCursor{Cursor: lastCursor, APIType: apiType})
	}
	return page, nil
}

func (e *systemEndpoint) fetchFirstPage(ctx context.Context, apiType int) ([]systemNotifyItem, int, error) {
	urls := []string{
		fmt.Sprintf("%s/x/sys-msg/query_user_notify?csrf=%s&page_size=20&build=0&mobi_app=web",
			messageBase, e.c.session.CSRF),
		fmt.Sprintf("%s/x/sys-msg/query_unified_notify?csrf=%s&page_size=10&build=0&mobi_app=web",
			messageBase, e.c.session.CSRF),
	}

	for ; apiType < len(urls); apiType++ {
		resp, err := e.c.getJSON(ctx, urls[apiType])
		if err != nil {
			return nil, apiType, err
		}
		if err := e.c.checkCode(resp, "拉取系统通知"); err != nil {
			return nil, apiType, err
		}

		var data struct {
			List []systemNotifyItem `json:"system_notify_list"`
		}
		if err := json.Unmarshal(resp.Data, &data); err != nil {
			return nil, apiType, sweep.NewClassifiedError(sweep.ErrKindTransient,
				errors.Wrap(err, "解析系统通知失败"))
		}
		if len(data.List) > 0 {
			return data.List, apiType, nil
		}
		// 主接口为空时尝试备用接口
		logrus.Debug("系统通知主接口为空，尝试备用接口")
	}
	return nil, 0, nil
}

func (e *systemEndpoint) fetchNextPage(ctx context.Context, cursor int64) ([]systemNotifyItem, error) {
	url := fmt.Sprintf("%s/x/sys-msg/query_notify_list?csrf=%s&data_type=1&cursor=%d&build=0&mobi_app=web",
		messageBase, e.c.session.CSRF, cursor)
	resp, err := e.c.getJSON(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := e.c.checkCode(resp, "拉取系统通知"); err != nil {
		return nil, err
	}

	// 翻页接口的数据直接是数组
	var list []systemNotifyItem
	if err := json.Unmarshal(resp.Data, &list); err != nil {
		return nil, sweep.NewClassifiedError(sweep.ErrKindTransient,
			errors.Wrap(err, "解析系统通知失败"))
	}
	return list, nil
}

func parseSystemTime(s string) int64 {
	if s == "" {
		return 0
	}
	t, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.Local)
	if err != nil {
		return 0
	}
	return t.Unix()
}
