package bilibili

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/pkg/errors"

	"github.com/zhaokefei/bilibili-sweep/sweep"
)

// 私信会话：session_svr 系列接口。每个会话对应一个 talker，
// 删除会话即删除与该 talker 的整条私信线程。

// messageCursor 私信会话列表的翻页游标
type messageCursor struct {
	EndTS int64 `json:"end_ts"`
}

type messageEndpoint struct {
	c *Client
}

// MessageEndpoint 私信会话列表
func (c *Client) MessageEndpoint() sweep.Endpoint {
	return &messageEndpoint{c: c}
}

func (e *messageEndpoint) Kind() sweep.SourceKind {
	return sweep.KindMessage
}

type messageSession struct {
	TalkerID    int64 `json:"talker_id"`
	SessionType int   `json:"session_type"`
	AckSeqno    int64 `json:"ack_seqno"`
	MaxSeqno    int64 `json:"max_seqno"`
	SessionTS   int64 `json:"session_ts"` // 微秒时间戳
	UnreadCount int   `json:"unread_count"`
	LastMsg     *struct {
		Content string `json:"content"`
	} `json:"last_msg"`
}

func (e *messageEndpoint) FetchPage(ctx context.Context, cursor string) (sweep.Page, error) {
	cur, err := decodeCursor[messageCursor](cursor)
	if err != nil {
		return sweep.Page{}, err
	}

	u := fmt.Sprintf("%s/session_svr/v1/session_svr/get_sessions?session_type=1&group_fold=1&unfollow_fold=0&sort_rule=2&build=0&mobi_app=web",
		messageBase)
	if cur.EndTS != 0 {
		u += fmt.Sprintf("&end_ts=%d", cur.EndTS)
	}

	resp, err := e.c.getJSON(ctx, u)
	if err != nil {
		return sweep.Page{}, err
	}
	if err := e.c.checkCode(resp, "拉取私信会话"); err != nil {
		return sweep.Page{}, err
	}

	var data struct {
		SessionList []messageSession `json:"session_list"`
		HasMore     int              `json:"has_more"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return sweep.Page{}, sweep.NewClassifiedError(sweep.ErrKindTransient,
			errors.Wrap(err, "解析私信会话失败"))
	}

	uid := e.c.session.Identity()
	items := make([]sweep.ContentItem, 0, len(data.SessionList))
	var minTS int64
	for _, s := range data.SessionList {
		text := ""
		if s.LastMsg != nil {
			text = lastMsgSnippet(s.LastMsg.Content)
		}
		items = append(items, sweep.ContentItem{
			Kind:      sweep.KindMessage,
			ID:        s.TalkerID,
			UID:       uid,
			Text:      text,
			CreatedAt: s.SessionTS / 1_000_000,
			ThreadID:  s.TalkerID,
			AckSeqno:  s.MaxSeqno,
			SystemAPI: -1,
		})
		if minTS == 0 || s.SessionTS < minTS {
			minTS = s.SessionTS
		}
	}

	page := sweep.Page{Items: items}
	if data.HasMore != 0 && len(items) > 0 {
		page.HasMore = true
		page.NextCursor = encodeCursor(messageCursor{EndTS: minTS})
	}
	return page, nil
}

// lastMsgSnippet 私信最后一条消息的 content 是一段 JSON，
// 尽力取出其中的文本字段做摘要
func lastMsgSnippet(content string) string {
	var msg struct {
		Content string `json:"content"`
		Text    string `json:"text"`
	}
	if err := json.Unmarshal([]byte(content), &msg); err == nil {
		if msg.Content != "" {
			return msg.Content
		}
		if msg.Text != "" {
			return msg.Text
		}
	}
	return content
}

// MarkSessionRead 把一个私信会话标记为已读（读到 ackSeqno 为止）
func (c *Client) MarkSessionRead(ctx context.Context, talkerID, ackSeqno int64) error {
	form := url.Values{
		"talker_id":    {strconv.FormatInt(talkerID, 10)},
		"session_type": {"1"},
		"ack_seqno":    {strconv.FormatInt(ackSeqno, 10)},
		"build":        {"0"},
		"mobi_app":     {"web"},
		"csrf_token":   {c.session.CSRF},
		"csrf":         {c.session.CSRF},
	}
	resp, err := c.postForm(ctx,
		messageBase+"/session_svr/v1/session_svr/update_ack", form)
	if err != nil {
		return err
	}
	if c.classifier.IsIdempotentSuccess(resp.Code) {
		return nil
	}
	return c.checkCode(resp, "标记会话已读")
}

// RemoveSession 删除一个私信会话
func (c *Client) RemoveSession(ctx context.Context, talkerID int64) error {
	form := url.Values{
		"talker_id":    {strconv.FormatInt(talkerID, 10)},
		"session_type": {"1"},
		"csrf_token":   {c.session.CSRF},
		"csrf":         {c.session.CSRF},
	}
	resp, err := c.postForm(ctx,
		messageBase+"/session_svr/v1/session_svr/remove_session", form)
	if err != nil {
		return err
	}
	if c.classifier.IsIdempotentSuccess(resp.Code) {
		return nil
	}
	return c.checkCode(resp, "删除私信会话")
}
