package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/zhaokefei/bilibili-sweep/bilibili"
	"github.com/zhaokefei/bilibili-sweep/browser"
	"github.com/zhaokefei/bilibili-sweep/configs"
	"github.com/zhaokefei/bilibili-sweep/cookies"
	"github.com/zhaokefei/bilibili-sweep/store"
	"github.com/zhaokefei/bilibili-sweep/sweep"
)

const (
	qrcodeWaitTimeout = 4 * time.Minute
	snippetWidth      = 60
)

// BilibiliService 业务门面：管理登录态，组合引擎各部件完成
// 拉取、筛选和批量清理。
type BilibiliService struct {
	mu     sync.Mutex
	client *bilibili.Client
	gov    *sweep.Governor
	db     *store.Store

	// 各类型最近一次拉取的工作集
	collections map[sweep.SourceKind]*sweep.Collection
}

// NewBilibiliService 创建服务。本地有 cookie 时直接恢复会话，
// sqlite 缓存打开失败只降级不报错。
func NewBilibiliService() *BilibiliService {
	s := &BilibiliService{
		gov: sweep.NewGovernor(configs.DefaultMinInterval,
			sweep.WithMaxBackoff(configs.DefaultMaxBackoff),
			sweep.WithCooldown(configs.DefaultCooldown)),
		collections: make(map[sweep.SourceKind]*sweep.Collection),
	}

	dataDir := configs.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		logrus.Warnf("创建数据目录失败: %v", err)
	}
	if db, err := store.Open(filepath.Join(dataDir, "sweep.db")); err == nil {
		s.db = db
	} else {
		logrus.Warnf("打开本地缓存失败，续跑功能不可用: %v", err)
	}

	browser.GetGlobalManager().SetConfig(configs.IsHeadless(), configs.GetBinPath())

	if err := s.restoreSession(); err != nil {
		logrus.Infof("未恢复本地会话: %v", err)
	}
	return s
}

// restoreSession 尝试从 cookie 文件恢复登录会话
func (s *BilibiliService) restoreSession() error {
	loader := cookies.NewLoadCookie(cookies.GetCookiesFilePath())
	data, err := loader.LoadCookies()
	if err != nil {
		return err
	}

	session, err := bilibili.NewSession(string(data))
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.client = bilibili.NewClient(session)
	s.mu.Unlock()
	logrus.Info("已从本地 cookie 恢复会话")
	return nil
}

// adoptCookie 用新的 cookie 串建立会话并持久化
func (s *BilibiliService) adoptCookie(ctx context.Context, cookie string) error {
	session, err := bilibili.NewSession(cookie)
	if err != nil {
		return err
	}
	client := bilibili.NewClient(session)

	// 补全账号身份，顺便验证凭据真实有效
	if info, err := client.Account(ctx); err == nil {
		client = bilibili.NewClient(session.WithIdentity(info.UID, info.Username))
		logrus.WithFields(logrus.Fields{
			"uid":      info.UID,
			"username": info.Username,
		}).Info("登录成功")
	} else {
		logrus.Warnf("获取账号信息失败: %v", err)
	}

	loader := cookies.NewLoadCookie(cookies.GetCookiesFilePath())
	if err := loader.SaveCookies([]byte(cookie)); err != nil {
		logrus.Warnf("保存 cookie 失败: %v", err)
	}

	s.mu.Lock()
	s.client = client
	s.mu.Unlock()
	return nil
}

func (s *BilibiliService) currentClient() (*bilibili.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil || !s.client.Session().Valid() {
		return nil, sweep.ErrInvalidSession
	}
	return s.client, nil
}

// LoginStatusResult 登录状态
type LoginStatusResult struct {
	IsLoggedIn bool   `json:"is_logged_in"`
	UID        int64  `json:"uid,omitempty"`
	Username   string `json:"username,omitempty"`
}

// CheckLoginStatus 检查当前会话是否有效（会发起一次远端校验）
func (s *BilibiliService) CheckLoginStatus(ctx context.Context) (*LoginStatusResult, error) {
	client, err := s.currentClient()
	if err != nil {
		return &LoginStatusResult{IsLoggedIn: false}, nil
	}

	info, err := client.Account(ctx)
	if err != nil {
		if sweep.Classify(err) == sweep.ErrKindAuthExpired {
			return &LoginStatusResult{IsLoggedIn: false}, nil
		}
		return nil, errors.Wrap(err, "检查登录状态失败")
	}

	return &LoginStatusResult{
		IsLoggedIn: true,
		UID:        info.UID,
		Username:   info.Username,
	}, nil
}

// QrcodeResult 登录二维码
type QrcodeResult struct {
	IsLoggedIn bool   `json:"is_logged_in"`
	Img        string `json:"img,omitempty"` // data URI 格式的二维码图片
	Timeout    string `json:"timeout,omitempty"`
}

// GetLoginQrcode 打开登录页截取二维码返回给调用方，并在后台等待
// 扫码完成，成功后自动保存会话。
func (s *BilibiliService) GetLoginQrcode(ctx context.Context) (*QrcodeResult, error) {
	if status, err := s.CheckLoginStatus(ctx); err == nil && status.IsLoggedIn {
		return &QrcodeResult{IsLoggedIn: true}, nil
	}

	page, release := browser.GetGlobalManager().NewPageWithRelease()

	action := browser.NewLoginAction(page)
	img, mime, err := action.CaptureQrcode(ctx)
	if err != nil {
		release()
		return nil, errors.Wrap(err, "获取登录二维码失败")
	}

	// 后台等待扫码，页面在等待结束后才释放
	go func() {
		defer release()
		waitCtx, cancel := context.WithTimeout(context.Background(), qrcodeWaitTimeout)
		defer cancel()

		cookie, err := action.WaitForLogin(waitCtx, qrcodeWaitTimeout)
		if err != nil {
			logrus.Warnf("等待扫码登录失败: %v", err)
			return
		}
		if err := s.adoptCookie(waitCtx, cookie); err != nil {
			logrus.Errorf("保存登录会话失败: %v", err)
		}
	}()

	return &QrcodeResult{
		Img:     fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(img)),
		Timeout: qrcodeWaitTimeout.String(),
	}, nil
}

// endpointSource 一个拉取源：端点加上它在游标表里的名字
type endpointSource struct {
	name string
	ep   sweep.Endpoint
}

// endpointsFor 返回某个内容类型需要拉取的全部端点。
// 评论和弹幕除了官方通知流，还借助 aicu 的第三方索引补全历史数据。
func (s *BilibiliService) endpointsFor(client *bilibili.Client, kind sweep.SourceKind) ([]endpointSource, error) {
	switch kind {
	case sweep.KindComment:
		return []endpointSource{
			{"aicu_comment", client.AicuCommentEndpoint()},
			{"feed_replied", client.RepliedEndpoint()},
			{"feed_liked", client.LikedEndpoint()},
			{"feed_ated", client.AtedEndpoint()},
		}, nil
	case sweep.KindDanmu:
		return []endpointSource{
			{"aicu_danmu", client.AicuDanmuEndpoint()},
			{"feed_liked_danmu", client.LikedEndpoint()},
		}, nil
	case sweep.KindNotify:
		return []endpointSource{
			{"feed_liked", client.LikedEndpoint()},
			{"feed_replied", client.RepliedEndpoint()},
			{"feed_ated", client.AtedEndpoint()},
			{"system_notify", client.SystemNotifyEndpoint()},
		}, nil
	case sweep.KindMessage:
		return []endpointSource{{"sessions", client.MessageEndpoint()}}, nil
	case sweep.KindFollow:
		return []endpointSource{{"followings", client.FollowingEndpoint()}}, nil
	}
	return nil, errors.Errorf("未知的内容类型: %s", kind)
}

// FetchResult 一次拉取的结果
type FetchResult struct {
	Kind    string `json:"kind"`
	Count   int    `json:"count"`             // 请求类型的条目数
	Partial bool   `json:"partial,omitempty"` // 是否因错误中断，游标已保存可续跑
	Error   string `json:"error,omitempty"`
}

// FetchItems 拉取某一类型的远端集合并缓存。resume 为 true 时从上次
// 保存的游标继续；拉取中断时游标会落盘，下次续跑。
func (s *BilibiliService) FetchItems(ctx context.Context, kind sweep.SourceKind, resume bool) (*FetchResult, error) {
	client, err := s.currentClient()
	if err != nil {
		return nil, err
	}
	sources, err := s.endpointsFor(client, kind)
	if err != nil {
		return nil, err
	}

	ownerUID := client.Session().Identity()
	result := &FetchResult{Kind: string(kind)}
	reporter := sweep.NewLogReporter()

	// 缓存不可用时工作集直接来自本次拉取的结果
	var fetched []sweep.ContentItem

	for _, src := range sources {
		var opts []sweep.PaginatorOption
		opts = append(opts, sweep.WithPageRetries(configs.DefaultPageRetries))
		if resume && s.db != nil {
			if cursor, err := s.db.LoadCursor(ownerUID, src.name); err == nil && cursor != "" {
				logrus.WithFields(logrus.Fields{
					"source": src.name,
					"cursor": cursor,
				}).Info("从保存的游标续跑")
				opts = append(opts, sweep.WithResumeCursor(cursor))
			}
		}

		p := sweep.NewPaginator(src.ep, s.gov, opts...)
		items, fetchErr := p.FetchAll(ctx, reporter.OnProgress)
		for _, it := range items {
			if it.Kind == kind {
				fetched = append(fetched, it)
			}
		}

		// 部分结果也要落库，中断点由游标记录
		if s.db != nil && len(items) > 0 {
			byKind := make(map[sweep.SourceKind][]sweep.ContentItem)
			for _, it := range items {
				byKind[it.Kind] = append(byKind[it.Kind], it)
			}
			for _, group := range byKind {
				if err := s.db.SaveItems(ownerUID, group); err != nil {
					logrus.Warnf("写入缓存失败: %v", err)
				}
			}
		}

		if fetchErr != nil {
			if s.db != nil {
				if err := s.db.SaveCursor(ownerUID, src.name, p.Cursor()); err != nil {
					logrus.Warnf("保存游标失败: %v", err)
				}
			}
			result.Partial = true
			result.Error = fetchErr.Error()
			if sweep.Classify(fetchErr) == sweep.ErrKindAuthExpired {
				// 凭证失效也不丢已拉到的条目
				if _, rerr := s.rebuildCollection(ownerUID, kind, fetched); rerr != nil {
					logrus.Warnf("重建工作集失败: %v", rerr)
				}
				return result, fetchErr
			}
			logrus.WithError(fetchErr).Warnf("拉取 %s 中断，游标已保存", src.name)
			continue
		}

		if s.db != nil {
			if err := s.db.ClearCursor(ownerUID, src.name); err != nil {
				logrus.Warnf("清除游标失败: %v", err)
			}
		}
	}

	coll, err := s.rebuildCollection(ownerUID, kind, fetched)
	if err != nil {
		return nil, err
	}
	result.Count = coll.Len()
	return result, nil
}

// rebuildCollection 重建某类型的工作集。有缓存时以缓存为准；
// 缓存不可用时退化到 fallback（本次拉取的内存结果），只丢续跑游标
func (s *BilibiliService) rebuildCollection(ownerUID int64, kind sweep.SourceKind, fallback []sweep.ContentItem) (*sweep.Collection, error) {
	items := fallback
	if s.db != nil {
		loaded, err := s.db.LoadItems(ownerUID, kind)
		if err != nil {
			return nil, errors.Wrap(err, "读取缓存失败")
		}
		items = loaded
	}

	coll := sweep.NewCollection(items)
	s.mu.Lock()
	s.collections[kind] = coll
	s.mu.Unlock()
	return coll, nil
}

func (s *BilibiliService) collection(kind sweep.SourceKind) (*sweep.Collection, error) {
	s.mu.Lock()
	coll := s.collections[kind]
	s.mu.Unlock()
	if coll != nil {
		return coll, nil
	}

	client, err := s.currentClient()
	if err != nil {
		return nil, err
	}
	return s.rebuildCollection(client.Session().Identity(), kind, nil)
}

// FilterSpec 筛选条件，各条件之间为 AND 关系，全空匹配全部
type FilterSpec struct {
	Keyword string  `json:"keyword,omitempty"`
	Regex   string  `json:"regex,omitempty"`
	Fuzzy   string  `json:"fuzzy,omitempty"`
	UIDs    []int64 `json:"uids,omitempty"`
	From    int64   `json:"from,omitempty"` // Unix 秒，0 表示不限
	To      int64   `json:"to,omitempty"`
}

// buildPredicate 把筛选条件编译成谓词，非法正则返回 ErrInvalidPredicate
func buildPredicate(spec FilterSpec) (sweep.Predicate, error) {
	var preds []sweep.Predicate
	if spec.Keyword != "" {
		preds = append(preds, sweep.Keyword(spec.Keyword))
	}
	if spec.Regex != "" {
		re, err := regexp.Compile(spec.Regex)
		if err != nil {
			return nil, errors.Wrapf(sweep.ErrInvalidPredicate, "正则编译失败: %v", err)
		}
		preds = append(preds, sweep.Regex(re))
	}
	if spec.Fuzzy != "" {
		preds = append(preds, sweep.Fuzzy(spec.Fuzzy))
	}
	if len(spec.UIDs) > 0 {
		preds = append(preds, sweep.UID(spec.UIDs...))
	}
	if spec.From != 0 || spec.To != 0 {
		preds = append(preds, sweep.TimeRange(spec.From, spec.To))
	}
	if len(preds) == 0 {
		return sweep.MatchAll(), nil
	}
	return sweep.And(preds...), nil
}

// ItemView 面向调用方的条目展示
type ItemView struct {
	Kind      string `json:"kind"`
	ID        int64  `json:"id"`
	UID       int64  `json:"uid,omitempty"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at,omitempty"`
}

func itemView(it sweep.ContentItem) ItemView {
	v := ItemView{
		Kind: string(it.Kind),
		ID:   it.ID,
		UID:  it.UID,
		Text: runewidth.Truncate(it.Text, snippetWidth, "…"),
	}
	if it.CreatedAt > 0 {
		v.CreatedAt = time.Unix(it.CreatedAt, 0).Format("2006-01-02 15:04:05")
	}
	return v
}

// ListItems 列出缓存中某类型的条目，应用可选的筛选条件
func (s *BilibiliService) ListItems(ctx context.Context, kind sweep.SourceKind, spec FilterSpec, limit int) ([]ItemView, int, error) {
	coll, err := s.collection(kind)
	if err != nil {
		return nil, 0, err
	}
	pred, err := buildPredicate(spec)
	if err != nil {
		return nil, 0, err
	}

	sel := sweep.Select(coll, pred)
	items, _ := sel.Resolve()
	total := len(items)
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	views := make([]ItemView, 0, len(items))
	for _, it := range items {
		views = append(views, itemView(it))
	}
	return views, total, nil
}

// SweepRequest 一次批量清理请求
type SweepRequest struct {
	Kind        sweep.SourceKind `json:"kind"`
	Mutation    sweep.Mutation   `json:"mutation"`
	Filter      FilterSpec       `json:"filter"`
	IDs         []int64          `json:"ids,omitempty"` // 指定条目时忽略 Filter
	DryRun      bool             `json:"dry_run,omitempty"`
	Concurrency int              `json:"concurrency,omitempty"`
}

// SweepResult 批量清理的汇总结果
type SweepResult struct {
	State     string                   `json:"state"`
	Total     int                      `json:"total"`
	Succeeded int                      `json:"succeeded"`
	Failed    int                      `json:"failed"`
	Skipped   int                      `json:"skipped"`
	DryRun    bool                     `json:"dry_run,omitempty"`
	Matched   []ItemView               `json:"matched,omitempty"` // dry run 时返回命中条目
	Outcomes  []sweep.OperationOutcome `json:"outcomes,omitempty"`
}

// validMutation 校验变更类型对内容类型是否合法
func validMutation(kind sweep.SourceKind, m sweep.Mutation) bool {
	switch m {
	case sweep.MutationDelete:
		return kind != sweep.KindFollow
	case sweep.MutationMarkRead:
		return kind == sweep.KindMessage
	case sweep.MutationUnfollow:
		return kind == sweep.KindFollow
	}
	return false
}

// Sweep 对缓存中的条目执行一次批量变更。先按条件（或指定 ID）圈选，
// dry run 只返回命中结果，否则交给执行器在限速下逐条执行。
func (s *BilibiliService) Sweep(ctx context.Context, req SweepRequest) (*SweepResult, error) {
	client, err := s.currentClient()
	if err != nil {
		return nil, err
	}
	if !validMutation(req.Kind, req.Mutation) {
		return nil, errors.Errorf("%s 不支持对 %s 执行", req.Kind, req.Mutation)
	}

	coll, err := s.collection(req.Kind)
	if err != nil {
		return nil, err
	}

	var sel *sweep.SelectionSet
	if len(req.IDs) > 0 {
		sel = sweep.NewSelectionSet(coll)
		for _, id := range req.IDs {
			sel.Add(sweep.ItemKey{Kind: req.Kind, ID: id})
		}
	} else {
		pred, err := buildPredicate(req.Filter)
		if err != nil {
			return nil, err
		}
		sel = sweep.Select(coll, pred)
	}

	if req.DryRun {
		items, _ := sel.Resolve()
		views := make([]ItemView, 0, len(items))
		for _, it := range items {
			views = append(views, itemView(it))
		}
		return &SweepResult{
			State:   string(sweep.StateCompleted),
			Total:   len(items),
			DryRun:  true,
			Matched: views,
		}, nil
	}

	concurrency := req.Concurrency
	if concurrency <= 0 {
		concurrency = configs.DefaultConcurrency
	}
	exec := sweep.NewExecutor(client, s.gov,
		sweep.WithConcurrency(concurrency),
		sweep.WithItemRetries(configs.DefaultItemRetries),
		sweep.WithReporter(sweep.NewLogReporter()))

	runResult, err := exec.Run(ctx, sel, req.Mutation)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{
		State:    string(runResult.State),
		Total:    len(runResult.Outcomes),
		Outcomes: runResult.Outcomes,
	}
	var succeededKeys []sweep.ItemKey
	for _, o := range runResult.Outcomes {
		switch o.Status {
		case sweep.StatusSuccess:
			result.Succeeded++
			succeededKeys = append(succeededKeys, o.Key)
		case sweep.StatusSkipped:
			result.Skipped++
		default:
			result.Failed++
		}
	}

	// 已清掉的条目同步从缓存和工作集移除，避免下次继续出现在列表里
	if len(succeededKeys) > 0 && req.Mutation != sweep.MutationMarkRead {
		ownerUID := client.Session().Identity()
		if s.db != nil {
			if err := s.db.DeleteItems(ownerUID, succeededKeys); err != nil {
				logrus.Warnf("清理缓存失败: %v", err)
			}
		}
		remaining := pruneItems(coll.Items(), succeededKeys)
		if _, err := s.rebuildCollection(ownerUID, req.Kind, remaining); err != nil {
			logrus.Warnf("重建工作集失败: %v", err)
		}
	}
	return result, nil
}

// pruneItems 去掉已清理成功的条目
func pruneItems(items []sweep.ContentItem, removed []sweep.ItemKey) []sweep.ContentItem {
	gone := make(map[sweep.ItemKey]struct{}, len(removed))
	for _, k := range removed {
		gone[k] = struct{}{}
	}
	kept := make([]sweep.ContentItem, 0, len(items))
	for _, it := range items {
		if _, ok := gone[it.Key()]; !ok {
			kept = append(kept, it)
		}
	}
	return kept
}

// Close 释放服务持有的资源
func (s *BilibiliService) Close() {
	if s.db != nil {
		s.db.Close()
	}
}
