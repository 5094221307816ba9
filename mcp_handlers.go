package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zhaokefei/bilibili-sweep/sweep"
)

// MCP 工具处理函数

func errorResult(msg string) *MCPToolResult {
	return &MCPToolResult{
		Content: []MCPContent{{Type: "text", Text: msg}},
		IsError: true,
	}
}

func textResult(msg string) *MCPToolResult {
	return &MCPToolResult{
		Content: []MCPContent{{Type: "text", Text: msg}},
	}
}

// jsonResult 把结果序列化成缩进 JSON 返回
func jsonResult(v any) *MCPToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("序列化结果失败: %v", err))
	}
	return textResult(string(data))
}

// 参数解析辅助，MCP 参数经 JSON 解码后数字都是 float64

func argString(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func argBool(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}

func argInt(args map[string]any, key string) int {
	v, _ := args[key].(float64)
	return int(v)
}

func argInt64(args map[string]any, key string) int64 {
	v, _ := args[key].(float64)
	return int64(v)
}

func argInt64List(args map[string]any, key string) []int64 {
	raw, _ := args[key].([]any)
	var out []int64
	for _, item := range raw {
		if n, ok := item.(float64); ok {
			out = append(out, int64(n))
		}
	}
	return out
}

// argKind 解析并校验内容类型参数
func argKind(args map[string]any) (sweep.SourceKind, bool) {
	kind := sweep.SourceKind(argString(args, "kind"))
	switch kind {
	case sweep.KindComment, sweep.KindDanmu, sweep.KindNotify,
		sweep.KindMessage, sweep.KindFollow:
		return kind, true
	}
	return "", false
}

// argFilter 从参数里取出筛选条件
func argFilter(args map[string]any) FilterSpec {
	return FilterSpec{
		Keyword: argString(args, "keyword"),
		Regex:   argString(args, "regex"),
		Fuzzy:   argString(args, "fuzzy"),
		UIDs:    argInt64List(args, "uids"),
		From:    argInt64(args, "from"),
		To:      argInt64(args, "to"),
	}
}

// handleCheckLoginStatus 处理检查登录状态
func (s *AppServer) handleCheckLoginStatus(ctx context.Context) *MCPToolResult {
	logrus.Info("MCP: 检查登录状态")

	status, err := s.service.CheckLoginStatus(ctx)
	if err != nil {
		return errorResult("检查登录状态失败: " + err.Error())
	}

	if !status.IsLoggedIn {
		return textResult("当前未登录，请先调用 get_login_qrcode 扫码登录")
	}
	return textResult(fmt.Sprintf("已登录: %s (UID: %d)", status.Username, status.UID))
}

// handleGetLoginQrcode 处理获取登录二维码请求。
// 返回二维码图片和有效期，扫码成功后服务会自动保存会话。
func (s *AppServer) handleGetLoginQrcode(ctx context.Context) *MCPToolResult {
	logrus.Info("MCP: 获取登录二维码")

	result, err := s.service.GetLoginQrcode(ctx)
	if err != nil {
		return errorResult("获取登录二维码失败: " + err.Error())
	}

	if result.IsLoggedIn {
		return textResult("你当前已处于登录状态")
	}

	now := time.Now()
	deadline := func() string {
		d, err := time.ParseDuration(result.Timeout)
		if err != nil {
			return now.Format("2006-01-02 15:04:05")
		}
		return now.Add(d).Format("2006-01-02 15:04:05")
	}()

	// 图片里的 MIME 类型已编码在 data URI 前缀中
	mime := "image/png"
	data := result.Img
	if strings.HasPrefix(data, "data:") {
		if idx := strings.Index(data, ";base64,"); idx > 0 {
			mime = data[len("data:"):idx]
			data = data[idx+len(";base64,"):]
		}
	}

	contents := []MCPContent{
		{Type: "text", Text: "请用哔哩哔哩 App 在 " + deadline + " 前扫码登录 👇"},
		{Type: "image", MimeType: mime, Data: data},
	}
	return &MCPToolResult{Content: contents}
}

// handleFetchItems 处理拉取远端集合
func (s *AppServer) handleFetchItems(ctx context.Context, args map[string]any) *MCPToolResult {
	kind, ok := argKind(args)
	if !ok {
		return errorResult("拉取失败: kind 参数无效，可选 comment/danmu/notify/message/follow")
	}
	resume := argBool(args, "resume")

	logrus.Infof("MCP: 拉取内容 - 类型: %s, 续跑: %v", kind, resume)

	result, err := s.service.FetchItems(ctx, kind, resume)
	if err != nil {
		return errorResult("拉取失败: " + err.Error())
	}

	if result.Partial {
		return textResult(fmt.Sprintf(
			"拉取中断，已缓存 %d 条 %s，游标已保存，可用 resume=true 续跑。原因: %s",
			result.Count, kind, result.Error))
	}
	return textResult(fmt.Sprintf("拉取完成，共缓存 %d 条 %s", result.Count, kind))
}

// handleListItems 处理列出缓存条目
func (s *AppServer) handleListItems(ctx context.Context, args map[string]any) *MCPToolResult {
	kind, ok := argKind(args)
	if !ok {
		return errorResult("列出失败: kind 参数无效，可选 comment/danmu/notify/message/follow")
	}

	limit := argInt(args, "limit")
	if limit <= 0 {
		limit = 50
	}

	views, total, err := s.service.ListItems(ctx, kind, argFilter(args), limit)
	if err != nil {
		return errorResult("列出失败: " + err.Error())
	}

	if total == 0 {
		return textResult(fmt.Sprintf("没有命中的 %s 条目，如未拉取请先调用 fetch_items", kind))
	}

	return jsonResult(map[string]any{
		"kind":  kind,
		"total": total,
		"shown": len(views),
		"items": views,
	})
}

// sweepSummary 汇总一次批量执行的结果文本
func sweepSummary(result *SweepResult) *MCPToolResult {
	if result.DryRun {
		return jsonResult(map[string]any{
			"dry_run": true,
			"total":   result.Total,
			"matched": result.Matched,
		})
	}

	text := fmt.Sprintf("批量执行结束（%s）: 共 %d 条，成功 %d，失败 %d，跳过 %d",
		result.State, result.Total, result.Succeeded, result.Failed, result.Skipped)
	if result.State == string(sweep.StateFatalAborted) {
		text += "\n凭证已失效，请重新扫码登录后再继续"
	}
	return textResult(text)
}

// handleSweepItems 处理批量清理
func (s *AppServer) handleSweepItems(ctx context.Context, args map[string]any) *MCPToolResult {
	kind, ok := argKind(args)
	if !ok {
		return errorResult("清理失败: kind 参数无效，可选 comment/danmu/notify/message/follow")
	}
	mutation := sweep.Mutation(argString(args, "mutation"))

	req := SweepRequest{
		Kind:        kind,
		Mutation:    mutation,
		Filter:      argFilter(args),
		IDs:         argInt64List(args, "ids"),
		DryRun:      argBool(args, "dry_run"),
		Concurrency: argInt(args, "concurrency"),
	}

	logrus.Infof("MCP: 批量清理 - 类型: %s, 变更: %s, 预览: %v", kind, mutation, req.DryRun)

	result, err := s.service.Sweep(ctx, req)
	if err != nil {
		return errorResult("清理失败: " + err.Error())
	}
	return sweepSummary(result)
}

// handleMarkRead 处理批量标记私信已读
func (s *AppServer) handleMarkRead(ctx context.Context, args map[string]any) *MCPToolResult {
	logrus.Info("MCP: 批量标记私信已读")

	result, err := s.service.Sweep(ctx, SweepRequest{
		Kind:     sweep.KindMessage,
		Mutation: sweep.MutationMarkRead,
		IDs:      argInt64List(args, "ids"),
	})
	if err != nil {
		return errorResult("标记已读失败: " + err.Error())
	}
	return sweepSummary(result)
}

// handleUnfollow 处理批量取关
func (s *AppServer) handleUnfollow(ctx context.Context, args map[string]any) *MCPToolResult {
	logrus.Info("MCP: 批量取消关注")

	result, err := s.service.Sweep(ctx, SweepRequest{
		Kind:     sweep.KindFollow,
		Mutation: sweep.MutationUnfollow,
		Filter:   FilterSpec{Keyword: argString(args, "keyword")},
		IDs:      argInt64List(args, "uids"),
		DryRun:   argBool(args, "dry_run"),
	})
	if err != nil {
		return errorResult("取消关注失败: " + err.Error())
	}
	return sweepSummary(result)
}
