package main

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhaokefei/bilibili-sweep/bilibili"
	"github.com/zhaokefei/bilibili-sweep/sweep"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonBody(body string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

// newOfflineService 构造一个没有本地缓存（db 为 nil）的服务，
// 出站请求全部由 rt 给出
func newOfflineService(t *testing.T, rt roundTripperFunc) *BilibiliService {
	t.Helper()
	session, err := bilibili.NewSession("SESSDATA=abc; bili_jct=token; DedeUserID=10086")
	require.NoError(t, err)
	client := bilibili.NewClient(session.WithIdentity(10086, "测试用户"),
		bilibili.WithHTTPClient(&http.Client{Transport: rt}))
	return &BilibiliService{
		client:      client,
		gov:         sweep.NewGovernor(time.Millisecond),
		collections: make(map[sweep.SourceKind]*sweep.Collection),
	}
}

const followingsBody = `{"code":0,"message":"0","data":{"list":[
	{"mid":111,"uname":"甲","mtime":100},
	{"mid":222,"uname":"乙","sign":"签名","mtime":200}],"total":2}}`

func TestFetchItemsWithoutCache(t *testing.T) {
	svc := newOfflineService(t, func(req *http.Request) (*http.Response, error) {
		require.Contains(t, req.URL.Path, "/x/relation/followings")
		return jsonBody(followingsBody), nil
	})

	result, err := svc.FetchItems(context.Background(), sweep.KindFollow, false)
	require.NoError(t, err)
	assert.False(t, result.Partial)
	assert.Equal(t, 2, result.Count, "没有缓存时工作集应来自本次拉取的结果")

	views, total, err := svc.ListItems(context.Background(), sweep.KindFollow, FilterSpec{}, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, views, 2)
}

func TestSweepWithoutCachePrunesCollection(t *testing.T) {
	svc := newOfflineService(t, func(req *http.Request) (*http.Response, error) {
		switch {
		case strings.Contains(req.URL.Path, "/x/relation/followings"):
			return jsonBody(followingsBody), nil
		case strings.Contains(req.URL.Path, "/x/relation/modify"):
			return jsonBody(`{"code":0,"message":"0","data":null}`), nil
		}
		return jsonBody(`{"code":-400,"message":"未预期的请求","data":null}`), nil
	})

	_, err := svc.FetchItems(context.Background(), sweep.KindFollow, false)
	require.NoError(t, err)

	res, err := svc.Sweep(context.Background(), SweepRequest{
		Kind:     sweep.KindFollow,
		Mutation: sweep.MutationUnfollow,
		IDs:      []int64{111},
	})
	require.NoError(t, err)
	assert.Equal(t, string(sweep.StateCompleted), res.State)
	assert.Equal(t, 1, res.Succeeded)

	_, total, err := svc.ListItems(context.Background(), sweep.KindFollow, FilterSpec{}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total, "取关成功的条目应从工作集移除")
}
