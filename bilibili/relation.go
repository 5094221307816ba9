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

const followPageSize = 50

// relationCursor 关注列表按页码分页
type relationCursor struct {
	Page int `json:"page"`
}

type followingEndpoint struct {
	c *Client
}

// FollowingEndpoint 关注列表
func (c *Client) FollowingEndpoint() sweep.Endpoint {
	return &followingEndpoint{c: c}
}

func (e *followingEndpoint) Kind() sweep.SourceKind {
	return sweep.KindFollow
}

func (e *followingEndpoint) FetchPage(ctx context.Context, cursor string) (sweep.Page, error) {
	cur, err := decodeCursor[relationCursor](cursor)
	if err != nil {
		return sweep.Page{}, err
	}
	if cur.Page == 0 {
		cur.Page = 1
	}

	uid := e.c.session.Identity()
	u := fmt.Sprintf("%s/x/relation/followings?vmid=%d&pn=%d&ps=%d&order=desc",
		apiBase, uid, cur.Page, followPageSize)
	resp, err := e.c.getJSON(ctx, u)
	if err != nil {
		return sweep.Page{}, err
	}
	if err := e.c.checkCode(resp, "拉取关注列表"); err != nil {
		return sweep.Page{}, err
	}

	var data struct {
		List []struct {
			MID   int64  `json:"mid"`
			Uname string `json:"uname"`
			Sign  string `json:"sign"`
			MTime int64  `json:"mtime"`
		} `json:"list"`
		Total int `json:"total"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return sweep.Page{}, sweep.NewClassifiedError(sweep.ErrKindTransient,
			errors.Wrap(err, "解析关注列表失败"))
	}

	items := make([]sweep.ContentItem, 0, len(data.List))
	for _, f := range data.List {
		text := f.Uname
		if f.Sign != "" {
			text += " - " + f.Sign
		}
		items = append(items, sweep.ContentItem{
			Kind:      sweep.KindFollow,
			ID:        f.MID,
			UID:       f.MID, // 关注条目的 UID 即对方 UID，便于按 UID 筛选
			Text:      text,
			CreatedAt: f.MTime,
			SystemAPI: -1,
		})
	}

	page := sweep.Page{Items: items}
	if len(data.List) == followPageSize && cur.Page*followPageSize < data.Total {
		page.HasMore = true
		page.NextCursor = encodeCursor(relationCursor{Page: cur.Page + 1})
	}
	return page, nil
}

// Unfollow 取消关注一个 UP 主
func (c *Client) Unfollow(ctx context.Context, mid int64) error {
	form := url.Values{
		"fid":    {strconv.FormatInt(mid, 10)},
		"act":    {"2"}, // 2 = 取关
		"re_src": {"11"},
		"csrf":   {c.session.CSRF},
	}
	resp, err := c.postForm(ctx, apiBase+"/x/relation/modify", form)
	if err != nil {
		return err
	}
	if c.classifier.IsIdempotentSuccess(resp.Code) {
		return nil
	}
	return c.checkCode(resp, "取消关注")
}
