package bilibili

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/pkg/errors"

	"github.com/zhaokefei/bilibili-sweep/sweep"
)

// Apply 实现 sweep.Mutator，按 (变更类型, 内容类型) 分发到对应的
// 远端调用。远端报告"已不存在/已是目标状态"映射为成功。
func (c *Client) Apply(ctx context.Context, m sweep.Mutation, item sweep.ContentItem) error {
	switch {
	case m == sweep.MutationDelete && item.Kind == sweep.KindComment:
		return c.DeleteComment(ctx, item.OID, item.TypeCode, item.ID)
	case m == sweep.MutationDelete && item.Kind == sweep.KindDanmu:
		return c.DeleteDanmu(ctx, item.OID, item.ID)
	case m == sweep.MutationDelete && item.Kind == sweep.KindNotify:
		return c.DeleteNotify(ctx, item)
	case m == sweep.MutationDelete && item.Kind == sweep.KindMessage:
		return c.RemoveSession(ctx, item.ThreadID)
	case m == sweep.MutationMarkRead && item.Kind == sweep.KindMessage:
		return c.MarkSessionRead(ctx, item.ThreadID, item.AckSeqno)
	case m == sweep.MutationUnfollow && item.Kind == sweep.KindFollow:
		return c.Unfollow(ctx, item.ID)
	}
	return sweep.NewClassifiedError(sweep.ErrKindPermanent,
		errors.Errorf("%s 不支持对 %s 执行", item.Kind, m))
}

// DeleteComment 删除自己的一条评论。带图动态（type 11）的删除
// 接口要求 csrf 走 query 参数，其余业务走表单字段。
func (c *Client) DeleteComment(ctx context.Context, oid int64, tp int, rpid int64) error {
	form := url.Values{
		"oid":  {strconv.FormatInt(oid, 10)},
		"type": {strconv.Itoa(tp)},
		"rpid": {strconv.FormatInt(rpid, 10)},
	}
	u := apiBase + "/x/v2/reply/del"
	if tp == 11 {
		u += "?csrf=" + c.session.CSRF
	} else {
		form.Set("csrf", c.session.CSRF)
	}

	resp, err := c.postForm(ctx, u, form)
	if err != nil {
		return err
	}
	if c.classifier.IsIdempotentSuccess(resp.Code) {
		return nil
	}
	return c.checkCode(resp, "删除评论")
}

// DeleteDanmu 删除自己的一条弹幕
func (c *Client) DeleteDanmu(ctx context.Context, cid, dmid int64) error {
	form := url.Values{
		"dmid": {strconv.FormatInt(dmid, 10)},
		"cid":  {strconv.FormatInt(cid, 10)},
		"type": {"1"},
		"csrf": {c.session.CSRF},
	}
	resp, err := c.postForm(ctx, apiBase+"/x/msgfeed/del", form)
	if err != nil {
		return err
	}
	if c.classifier.IsIdempotentSuccess(resp.Code) {
		return nil
	}
	return c.checkCode(resp, "删除弹幕")
}

// DeleteNotify 删除一条通知。系统通知与普通通知走不同接口，
// 系统通知还按 api_type 区分两种请求体
func (c *Client) DeleteNotify(ctx context.Context, item sweep.ContentItem) error {
	if item.SystemAPI >= 0 {
		return c.deleteSystemNotify(ctx, item.ID, item.TypeCode, item.SystemAPI)
	}

	form := url.Values{
		"tp":         {strconv.Itoa(item.TypeCode)},
		"id":         {strconv.FormatInt(item.ID, 10)},
		"build":      {"0"},
		"mobi_app":   {"web"},
		"csrf_token": {c.session.CSRF},
		"csrf":       {c.session.CSRF},
	}
	resp, err := c.postForm(ctx, apiBase+"/x/msgfeed/del", form)
	if err != nil {
		return err
	}
	if c.classifier.IsIdempotentSuccess(resp.Code) {
		return nil
	}
	return c.checkCode(resp, "删除通知")
}

func (c *Client) deleteSystemNotify(ctx context.Context, id int64, tp, apiType int) error {
	payload := map[string]any{
		"csrf":        c.session.CSRF,
		"ids":         []int64{},
		"station_ids": []int64{},
		"type":        tp,
		"build":       8140300,
		"mobi_app":    "android",
	}
	if apiType == 0 {
		payload["ids"] = []int64{id}
	} else {
		payload["station_ids"] = []int64{id}
	}

	u := fmt.Sprintf("%s/x/sys-msg/del_notify_list?build=8140300&mobi_app=android&csrf=%s",
		messageBase, c.session.CSRF)
	resp, err := c.postJSON(ctx, u, payload)
	if err != nil {
		return err
	}
	if c.classifier.IsIdempotentSuccess(resp.Code) {
		return nil
	}
	return c.checkCode(resp, "删除系统通知")
}
