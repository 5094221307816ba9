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

func TestFetchAllWithoutStore(t *testing.T) {
	session, err := bilibili.NewSession("SESSDATA=abc; bili_jct=token; DedeUserID=10086")
	require.NoError(t, err)
	client := bilibili.NewClient(session.WithIdentity(10086, "测试用户"),
		bilibili.WithHTTPClient(&http.Client{Transport: roundTripperFunc(
			func(req *http.Request) (*http.Response, error) {
				require.Contains(t, req.URL.Path, "/x/relation/followings")
				return &http.Response{
					StatusCode: http.StatusOK,
					Body: io.NopCloser(strings.NewReader(`{"code":0,"message":"0",
						"data":{"list":[{"mid":111,"uname":"甲","mtime":100},
						{"mid":222,"uname":"乙","mtime":200}],"total":2}}`)),
				}, nil
			})}))

	gov := sweep.NewGovernor(time.Millisecond)
	items := fetchAll(context.Background(), client, nil, gov, sweep.KindFollow, false)

	require.Len(t, items, 2, "没有本地缓存时应返回本次拉取的结果")
	ids := []int64{items[0].ID, items[1].ID}
	assert.ElementsMatch(t, []int64{111, 222}, ids)
}
