package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	serverName    = "bilibili-sweep"
	serverVersion = "1.0.0"
)

// AppServer 对外服务入口，同一套工具同时提供两种接入方式：
// HTTP 模式走 gin 暴露 MCP JSON-RPC，STDIO 模式给 MCP 客户端直连。
type AppServer struct {
	service *BilibiliService
}

func NewAppServer(service *BilibiliService) *AppServer {
	return &AppServer{service: service}
}

// MCPContent MCP 工具返回的单块内容
type MCPContent struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"` // base64 编码的二进制内容
}

// MCPToolResult MCP 工具调用结果
type MCPToolResult struct {
	Content []MCPContent `json:"content"`
	IsError bool         `json:"isError,omitempty"`
}

// toolDef 一个 MCP 工具的定义和处理函数
type toolDef struct {
	name        string
	description string
	schema      *jsonschema.Schema
	handler     func(ctx context.Context, args map[string]any) *MCPToolResult
}

func stringProp(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: desc}
}

func numberProp(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "number", Description: desc}
}

func boolProp(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "boolean", Description: desc}
}

func idListProp(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "array",
		Description: desc,
		Items:       &jsonschema.Schema{Type: "number"},
	}
}

// filterProps 各列表/清理工具共用的筛选参数
func filterProps() map[string]*jsonschema.Schema {
	return map[string]*jsonschema.Schema{
		"keyword": stringProp("关键词（不区分大小写，全角半角同一匹配）"),
		"regex":   stringProp("正则表达式"),
		"fuzzy":   stringProp("模糊匹配（按字符子序列）"),
		"uids":    idListProp("按对方 UID 筛选"),
		"from":    numberProp("起始时间（Unix 秒）"),
		"to":      numberProp("结束时间（Unix 秒）"),
	}
}

func objectSchema(props map[string]*jsonschema.Schema, required ...string) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}
}

// toolDefs 全部 MCP 工具
func (s *AppServer) toolDefs() []toolDef {
	kindProp := stringProp("内容类型: comment/danmu/notify/message/follow")

	listProps := filterProps()
	listProps["kind"] = kindProp
	listProps["limit"] = numberProp("最多返回条数，默认 50")

	sweepProps := filterProps()
	sweepProps["kind"] = kindProp
	sweepProps["mutation"] = stringProp("变更类型: delete/mark_read/unfollow")
	sweepProps["ids"] = idListProp("指定条目 ID，给出时忽略筛选条件")
	sweepProps["dry_run"] = boolProp("只预览命中条目，不实际执行")
	sweepProps["concurrency"] = numberProp("并发数（1-4），默认 2")

	return []toolDef{
		{
			name:        "check_login_status",
			description: "检查 B 站账号登录状态",
			schema:      objectSchema(map[string]*jsonschema.Schema{}),
			handler: func(ctx context.Context, _ map[string]any) *MCPToolResult {
				return s.handleCheckLoginStatus(ctx)
			},
		},
		{
			name:        "get_login_qrcode",
			description: "获取扫码登录二维码，扫码成功后自动保存会话",
			schema:      objectSchema(map[string]*jsonschema.Schema{}),
			handler: func(ctx context.Context, _ map[string]any) *MCPToolResult {
				return s.handleGetLoginQrcode(ctx)
			},
		},
		{
			name:        "fetch_items",
			description: "拉取某类内容的远端集合到本地缓存（评论、弹幕、通知、私信、关注）",
			schema: objectSchema(map[string]*jsonschema.Schema{
				"kind":   kindProp,
				"resume": boolProp("从上次中断的游标继续"),
			}, "kind"),
			handler: s.handleFetchItems,
		},
		{
			name:        "list_items",
			description: "列出已缓存的条目，支持关键词/正则/模糊/UID/时间范围筛选",
			schema:      objectSchema(listProps, "kind"),
			handler:     s.handleListItems,
		},
		{
			name:        "sweep_items",
			description: "批量清理命中条目（删除评论/弹幕/通知/私信会话），建议先 dry_run 预览",
			schema:      objectSchema(sweepProps, "kind", "mutation"),
			handler:     s.handleSweepItems,
		},
		{
			name:        "mark_read",
			description: "批量把私信会话标记为已读",
			schema: objectSchema(map[string]*jsonschema.Schema{
				"ids": idListProp("会话 ID，为空时标记全部"),
			}),
			handler: s.handleMarkRead,
		},
		{
			name:        "unfollow",
			description: "批量取消关注",
			schema: objectSchema(map[string]*jsonschema.Schema{
				"uids":    idListProp("要取关的 UID，为空时按筛选条件"),
				"keyword": stringProp("按用户名/签名关键词筛选"),
				"dry_run": boolProp("只预览命中条目，不实际执行"),
			}),
			handler: s.handleUnfollow,
		},
	}
}

// Start 以 HTTP 模式启动，阻塞直到服务退出
func (s *AppServer) Start(addr string) error {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": serverName})
	})
	r.POST("/mcp", s.handleMCPRequest)

	logrus.Infof("HTTP 服务启动: %s", addr)
	return errors.Wrap(r.Run(addr), "HTTP 服务退出")
}

// jsonrpcRequest JSON-RPC 2.0 请求
type jsonrpcRequest struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type jsonrpcResponse struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

// handleMCPRequest HTTP 模式下的 MCP JSON-RPC 入口
func (s *AppServer) handleMCPRequest(c *gin.Context) {
	var req jsonrpcRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, jsonrpcResponse{
			Jsonrpc: "2.0",
			Error:   &jsonrpcError{Code: -32700, Message: "parse error"},
		})
		return
	}

	resp := jsonrpcResponse{Jsonrpc: "2.0", ID: req.ID}

	switch req.Method {
	case "initialize":
		resp.Result = map[string]any{
			"protocolVersion": "2024-11-05",
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo": map[string]any{
				"name":    serverName,
				"version": serverVersion,
			},
		}

	case "notifications/initialized", "initialized":
		c.Status(http.StatusNoContent)
		return

	case "tools/list":
		defs := s.toolDefs()
		tools := make([]map[string]any, 0, len(defs))
		for _, def := range defs {
			tools = append(tools, map[string]any{
				"name":        def.name,
				"description": def.description,
				"inputSchema": def.schema,
			})
		}
		resp.Result = map[string]any{"tools": tools}

	case "tools/call":
		var params struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			resp.Error = &jsonrpcError{Code: -32602, Message: "invalid params"}
			break
		}
		result := s.callTool(c.Request.Context(), params.Name, params.Arguments)
		if result == nil {
			resp.Error = &jsonrpcError{Code: -32601, Message: "unknown tool: " + params.Name}
			break
		}
		resp.Result = result

	default:
		resp.Error = &jsonrpcError{Code: -32601, Message: "method not found: " + req.Method}
	}

	c.JSON(http.StatusOK, resp)
}

// callTool 按名字分发工具调用，未知工具返回 nil
func (s *AppServer) callTool(ctx context.Context, name string, args map[string]any) *MCPToolResult {
	for _, def := range s.toolDefs() {
		if def.name == name {
			logrus.WithField("tool", name).Info("MCP 工具调用")
			return def.handler(ctx, args)
		}
	}
	return nil
}

// StartSTDIO 以 STDIO 模式运行 MCP 服务器，给 MCP 客户端直连
func (s *AppServer) StartSTDIO() error {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: serverVersion,
	}, nil)

	for _, def := range s.toolDefs() {
		def := def
		mcp.AddTool(server, &mcp.Tool{
			Name:        def.name,
			Description: def.description,
			InputSchema: def.schema,
		}, func(ctx context.Context, req *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
			return toSDKResult(def.handler(ctx, args)), nil, nil
		})
	}

	return errors.Wrap(server.Run(context.Background(), &mcp.StdioTransport{}),
		"STDIO 服务退出")
}

// toSDKResult 把内部结果转成 MCP SDK 的类型
func toSDKResult(r *MCPToolResult) *mcp.CallToolResult {
	contents := make([]mcp.Content, 0, len(r.Content))
	for _, c := range r.Content {
		switch c.Type {
		case "image":
			data, err := base64.StdEncoding.DecodeString(c.Data)
			if err != nil {
				contents = append(contents, &mcp.TextContent{Text: "图片解码失败: " + err.Error()})
				continue
			}
			contents = append(contents, &mcp.ImageContent{Data: data, MIMEType: c.MimeType})
		default:
			contents = append(contents, &mcp.TextContent{Text: c.Text})
		}
	}
	return &mcp.CallToolResult{Content: contents, IsError: r.IsError}
}
