package bilibili

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhaokefei/bilibili-sweep/sweep"
)

// roundTripperFunc 把函数适配为 http.RoundTripper，测试里用来
// 拦截出站请求并返回固定响应
type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(body string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func testClient(t *testing.T, rt roundTripperFunc) *Client {
	t.Helper()
	session, err := NewSession("SESSDATA=abc; bili_jct=csrf-token; DedeUserID=10086")
	require.NoError(t, err)
	return NewClient(session.WithIdentity(10086, "测试用户"),
		WithHTTPClient(&http.Client{Transport: rt}))
}

func TestMessageEndpointFetchPage(t *testing.T) {
	var gotURL string
	client := testClient(t, func(req *http.Request) (*http.Response, error) {
		gotURL = req.URL.String()
		assert.Equal(t, UA, req.Header.Get("User-Agent"))
		assert.Contains(t, req.Header.Get("Cookie"), "SESSDATA=abc")
		return jsonResponse(`{
			"code": 0,
			"message": "0",
			"data": {
				"session_list": [
					{"talker_id": 111, "session_ts": 1700000001000000, "ack_seqno": 5,
					 "max_seqno": 9, "unread_count": 2,
					 "last_msg": {"content": "{\"content\":\"你好\"}"}},
					{"talker_id": 222, "session_ts": 1690000000000000, "ack_seqno": 3,
					 "max_seqno": 3, "unread_count": 0,
					 "last_msg": {"content": "{\"text\":\"在吗\"}"}}
				],
				"has_more": 1
			}
		}`), nil
	})

	ep := client.MessageEndpoint()
	assert.Equal(t, sweep.KindMessage, ep.Kind())

	page, err := ep.FetchPage(context.Background(), "")
	require.NoError(t, err)
	assert.Contains(t, gotURL, "/session_svr/v1/session_svr/get_sessions")
	assert.NotContains(t, gotURL, "end_ts", "首页请求不应带 end_ts")

	require.Len(t, page.Items, 2)
	first := page.Items[0]
	assert.Equal(t, int64(111), first.ID)
	assert.Equal(t, int64(111), first.ThreadID)
	assert.Equal(t, int64(9), first.AckSeqno, "确认位应取 max_seqno")
	assert.Equal(t, int64(10086), first.UID)
	assert.Equal(t, "你好", first.Text)
	assert.Equal(t, int64(1700000001), first.CreatedAt, "微秒时间戳应换算为秒")
	assert.Equal(t, "在吗", page.Items[1].Text)

	require.True(t, page.HasMore)
	require.NotEmpty(t, page.NextCursor)

	// 第二页请求应带上最早一条会话的时间戳做游标
	_, err = ep.FetchPage(context.Background(), page.NextCursor)
	require.NoError(t, err)
	assert.Contains(t, gotURL, "end_ts=1690000000000000")
}

func TestDeleteCommentCSRFPlacement(t *testing.T) {
	cases := []struct {
		name        string
		typeCode    int
		csrfInQuery bool
	}{
		{"普通业务走表单", 1, false},
		{"带图动态走 query", 11, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var gotReq *http.Request
			var gotForm string
			client := testClient(t, func(req *http.Request) (*http.Response, error) {
				gotReq = req
				body, _ := io.ReadAll(req.Body)
				gotForm = string(body)
				return jsonResponse(`{"code": 0, "message": "0", "data": null}`), nil
			})

			err := client.DeleteComment(context.Background(), 7788, tc.typeCode, 99)
			require.NoError(t, err)
			require.NotNil(t, gotReq)
			assert.Equal(t, "/x/v2/reply/del", gotReq.URL.Path)
			assert.Contains(t, gotForm, "oid=7788")
			assert.Contains(t, gotForm, "rpid=99")

			if tc.csrfInQuery {
				assert.Equal(t, "csrf-token", gotReq.URL.Query().Get("csrf"))
				assert.NotContains(t, gotForm, "csrf")
			} else {
				assert.Empty(t, gotReq.URL.RawQuery)
				assert.Contains(t, gotForm, "csrf=csrf-token")
			}
		})
	}
}

func TestDeleteIdempotentSuccess(t *testing.T) {
	// 远端报告"评论已不存在"视为删除成功
	client := testClient(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(`{"code": -404, "message": "啥都木有", "data": null}`), nil
	})
	err := client.DeleteComment(context.Background(), 1, 1, 2)
	assert.NoError(t, err)
}

func TestCheckCodeAuthExpired(t *testing.T) {
	client := testClient(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(`{"code": -101, "message": "账号未登录", "data": null}`), nil
	})
	err := client.DeleteDanmu(context.Background(), 100, 200)
	require.Error(t, err)
	assert.Equal(t, sweep.ErrKindAuthExpired, sweep.Classify(err))
}

func TestHTTPStatusClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		want   sweep.ErrorKind
	}{
		{"429 限流", http.StatusTooManyRequests, sweep.ErrKindThrottled},
		{"401 凭证失效", http.StatusUnauthorized, sweep.ErrKindAuthExpired},
		{"503 瞬时", http.StatusServiceUnavailable, sweep.ErrKindTransient},
		{"404 永久", http.StatusNotFound, sweep.ErrKindPermanent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := testClient(t, func(req *http.Request) (*http.Response, error) {
				return &http.Response{
					StatusCode: tc.status,
					Body:       io.NopCloser(strings.NewReader("")),
				}, nil
			})
			err := client.DeleteDanmu(context.Background(), 1, 2)
			require.Error(t, err)
			assert.Equal(t, tc.want, sweep.Classify(err))
		})
	}
}

func TestApplyUnsupportedCombination(t *testing.T) {
	client := testClient(t, func(req *http.Request) (*http.Response, error) {
		t.Fatal("非法组合不应发起网络请求")
		return nil, nil
	})
	err := client.Apply(context.Background(), sweep.MutationUnfollow,
		sweep.ContentItem{Kind: sweep.KindComment, ID: 1})
	require.Error(t, err)
	assert.Equal(t, sweep.ErrKindPermanent, sweep.Classify(err))
}

func TestLastMsgSnippet(t *testing.T) {
	assert.Equal(t, "你好", lastMsgSnippet(`{"content":"你好"}`))
	assert.Equal(t, "在吗", lastMsgSnippet(`{"text":"在吗"}`))
	assert.Equal(t, "不是 JSON", lastMsgSnippet("不是 JSON"))
}
