// 这个 CLI 程序用于直接从命令行运行批量清理任务，
// 复用引擎和平台客户端，而不依赖 MCP 客户端。
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/sirupsen/logrus"

	"github.com/zhaokefei/bilibili-sweep/bilibili"
	"github.com/zhaokefei/bilibili-sweep/configs"
	"github.com/zhaokefei/bilibili-sweep/cookies"
	"github.com/zhaokefei/bilibili-sweep/store"
	"github.com/zhaokefei/bilibili-sweep/sweep"
)

func main() {
	var (
		kindStr     string
		mutationStr string
		keyword     string
		regexStr    string
		fuzzy       string
		uidsStr     string
		before      string
		dryRun      bool
		yes         bool
		resume      bool
		login       bool
		resetCookie bool
		concurrency int
		intervalMS  int
		dataDir     string
	)

	flag.StringVar(&kindStr, "kind", "", "内容类型: comment/danmu/notify/message/follow")
	flag.StringVar(&mutationStr, "mutation", "delete", "变更类型: delete/mark_read/unfollow")
	flag.StringVar(&keyword, "keyword", "", "关键词筛选（不区分大小写）")
	flag.StringVar(&regexStr, "regex", "", "正则表达式筛选")
	flag.StringVar(&fuzzy, "fuzzy", "", "模糊匹配筛选")
	flag.StringVar(&uidsStr, "uids", "", "按 UID 筛选，逗号分隔")
	flag.StringVar(&before, "before", "", "只处理该时间之前的条目，格式 2006-01-02")
	flag.BoolVar(&dryRun, "dry-run", false, "只预览命中条目，不实际执行")
	flag.BoolVar(&yes, "yes", false, "跳过执行前的确认")
	flag.BoolVar(&resume, "resume", false, "从上次中断的游标继续拉取")
	flag.BoolVar(&login, "login", false, "先执行扫码登录")
	flag.BoolVar(&resetCookie, "reset-cookies", false, "启动前清理 cookies 文件并重新登录")
	flag.IntVar(&concurrency, "concurrency", configs.DefaultConcurrency, "并发数（1-4）")
	flag.IntVar(&intervalMS, "interval", int(configs.DefaultMinInterval/time.Millisecond), "请求最小间隔（毫秒）")
	flag.StringVar(&dataDir, "data-dir", "", "本地数据目录，默认 ~/.bilibili-sweep")
	flag.Parse()

	configs.SetDataDir(dataDir)

	kind := sweep.SourceKind(kindStr)
	switch kind {
	case sweep.KindComment, sweep.KindDanmu, sweep.KindNotify,
		sweep.KindMessage, sweep.KindFollow:
	default:
		logrus.Fatalf("无效的 kind: %q，可选 comment/danmu/notify/message/follow", kindStr)
	}
	mutation := sweep.Mutation(mutationStr)

	loader := cookies.NewLoadCookie(cookies.GetCookiesFilePath())
	if resetCookie {
		if err := loader.RemoveCookies(); err != nil {
			logrus.Fatalf("清理 cookies 失败: %v", err)
		}
		logrus.Info("cookies 已清理，将重新登录")
		login = true
	}

	ctx := context.Background()

	session := loadOrLogin(ctx, loader, login)
	client := bilibili.NewClient(session)

	// 验证会话并补全账号身份
	info, err := client.Account(ctx)
	if err != nil {
		logrus.Fatalf("会话无效，请用 -login 重新登录: %v", err)
	}
	client = bilibili.NewClient(session.WithIdentity(info.UID, info.Username))
	logrus.Infof("当前账号: %s (UID: %d)", info.Username, info.UID)

	db := openStore()
	if db != nil {
		defer db.Close()
	}

	gov := sweep.NewGovernor(time.Duration(intervalMS)*time.Millisecond,
		sweep.WithMaxBackoff(configs.DefaultMaxBackoff),
		sweep.WithCooldown(configs.DefaultCooldown))

	items := fetchAll(ctx, client, db, gov, kind, resume)
	coll := sweep.NewCollection(items)
	fmt.Printf("共缓存 %d 条 %s\n", coll.Len(), kind)

	pred := buildPredicate(keyword, regexStr, fuzzy, uidsStr, before)
	sel := sweep.Select(coll, pred)
	matched, _ := sel.Resolve()
	fmt.Printf("命中 %d 条\n", len(matched))
	for i, it := range matched {
		if i >= 20 {
			fmt.Printf("... 以及另外 %d 条\n", len(matched)-20)
			break
		}
		ts := ""
		if it.CreatedAt > 0 {
			ts = time.Unix(it.CreatedAt, 0).Format("2006-01-02")
		}
		fmt.Printf("  [%d] %s %s\n", it.ID, ts, runewidth.Truncate(it.Text, 50, "…"))
	}

	if dryRun || len(matched) == 0 {
		return
	}

	if !yes && !confirm(fmt.Sprintf("确认对 %d 条执行 %s 吗", len(matched), mutation)) {
		fmt.Println("已取消")
		return
	}

	exec := sweep.NewExecutor(client, gov,
		sweep.WithConcurrency(concurrency),
		sweep.WithItemRetries(configs.DefaultItemRetries),
		sweep.WithReporter(sweep.NewLogReporter()))

	result, err := exec.Run(ctx, sel, mutation)
	if err != nil {
		logrus.Fatalf("批量执行失败: %v", err)
	}

	var failed, skipped int
	var succeededKeys []sweep.ItemKey
	for _, o := range result.Outcomes {
		switch o.Status {
		case sweep.StatusSuccess:
			succeededKeys = append(succeededKeys, o.Key)
		case sweep.StatusSkipped:
			skipped++
		default:
			failed++
			fmt.Printf("  失败 %s: %s\n", o.Key, o.Error)
		}
	}
	if db != nil && len(succeededKeys) > 0 && mutation != sweep.MutationMarkRead {
		if err := db.DeleteItems(info.UID, succeededKeys); err != nil {
			logrus.Warnf("清理缓存失败: %v", err)
		}
	}

	fmt.Printf("执行结束（%s）: 成功 %d，失败 %d，跳过 %d\n",
		result.State, len(succeededKeys), failed, skipped)
	if result.State == sweep.StateFatalAborted {
		logrus.Warn("凭证已失效，请用 -login 重新登录后继续")
	}
}

// loadOrLogin 加载本地会话，必要时走扫码登录
func loadOrLogin(ctx context.Context, loader *cookies.LoadCookie, forceLogin bool) *bilibili.Session {
	if !forceLogin {
		if data, err := loader.LoadCookies(); err == nil {
			if session, err := bilibili.NewSession(string(data)); err == nil {
				return session
			}
		}
		logrus.Info("本地没有可用会话，进入扫码登录")
	}

	qr, err := bilibili.NewQRLogin()
	if err != nil {
		logrus.Fatalf("初始化扫码登录失败: %v", err)
	}
	url, err := qr.Generate(ctx)
	if err != nil {
		logrus.Fatalf("获取登录二维码失败: %v", err)
	}

	fmt.Println("请用哔哩哔哩 App 扫描以下链接生成的二维码完成登录:")
	fmt.Println("  " + url)

	pollCtx, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()
	session, err := qr.Poll(pollCtx, 2*time.Second)
	if err != nil {
		logrus.Fatalf("扫码登录失败: %v", err)
	}

	if err := loader.SaveCookies([]byte(session.Cookie)); err != nil {
		logrus.Warnf("保存 cookie 失败: %v", err)
	}
	logrus.Info("登录成功")
	return session
}

func openStore() *store.Store {
	dir := configs.GetDataDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logrus.Warnf("创建数据目录失败: %v", err)
		return nil
	}
	db, err := store.Open(filepath.Join(dir, "sweep.db"))
	if err != nil {
		logrus.Warnf("打开本地缓存失败，续跑功能不可用: %v", err)
		return nil
	}
	return db
}

// endpointsFor 某类型需要拉取的端点，和游标表里用的名字
func endpointsFor(client *bilibili.Client, kind sweep.SourceKind) map[string]sweep.Endpoint {
	switch kind {
	case sweep.KindComment:
		return map[string]sweep.Endpoint{
			"aicu_comment": client.AicuCommentEndpoint(),
			"feed_replied": client.RepliedEndpoint(),
			"feed_liked":   client.LikedEndpoint(),
			"feed_ated":    client.AtedEndpoint(),
		}
	case sweep.KindDanmu:
		return map[string]sweep.Endpoint{
			"aicu_danmu":       client.AicuDanmuEndpoint(),
			"feed_liked_danmu": client.LikedEndpoint(),
		}
	case sweep.KindNotify:
		return map[string]sweep.Endpoint{
			"feed_liked":    client.LikedEndpoint(),
			"feed_replied":  client.RepliedEndpoint(),
			"feed_ated":     client.AtedEndpoint(),
			"system_notify": client.SystemNotifyEndpoint(),
		}
	case sweep.KindMessage:
		return map[string]sweep.Endpoint{"sessions": client.MessageEndpoint()}
	case sweep.KindFollow:
		return map[string]sweep.Endpoint{"followings": client.FollowingEndpoint()}
	}
	return nil
}

// fetchAll 把该类型的所有端点拉到底，结果写入缓存并返回请求类型的条目
func fetchAll(ctx context.Context, client *bilibili.Client, db *store.Store,
	gov *sweep.Governor, kind sweep.SourceKind, resume bool) []sweep.ContentItem {

	ownerUID := client.Session().Identity()
	reporter := sweep.NewLogReporter()

	// 缓存不可用时退化到内存结果，只丢续跑游标
	var fetched []sweep.ContentItem

	for name, ep := range endpointsFor(client, kind) {
		opts := []sweep.PaginatorOption{sweep.WithPageRetries(configs.DefaultPageRetries)}
		if resume && db != nil {
			if cursor, err := db.LoadCursor(ownerUID, name); err == nil && cursor != "" {
				logrus.Infof("端点 %s 从保存的游标续跑", name)
				opts = append(opts, sweep.WithResumeCursor(cursor))
			}
		}

		p := sweep.NewPaginator(ep, gov, opts...)
		items, err := p.FetchAll(ctx, reporter.OnProgress)
		for _, it := range items {
			if it.Kind == kind {
				fetched = append(fetched, it)
			}
		}

		if db != nil {
			byKind := make(map[sweep.SourceKind][]sweep.ContentItem)
			for _, it := range items {
				byKind[it.Kind] = append(byKind[it.Kind], it)
			}
			for _, group := range byKind {
				if saveErr := db.SaveItems(ownerUID, group); saveErr != nil {
					logrus.Warnf("写入缓存失败: %v", saveErr)
				}
			}
		}

		if err != nil {
			if db != nil {
				if saveErr := db.SaveCursor(ownerUID, name, p.Cursor()); saveErr != nil {
					logrus.Warnf("保存游标失败: %v", saveErr)
				}
			}
			if sweep.Classify(err) == sweep.ErrKindAuthExpired {
				logrus.Fatalf("凭证已失效: %v", err)
			}
			logrus.WithError(err).Warnf("拉取 %s 中断，游标已保存，可用 -resume 续跑", name)
			continue
		}
		if db != nil {
			if clearErr := db.ClearCursor(ownerUID, name); clearErr != nil {
				logrus.Warnf("清除游标失败: %v", clearErr)
			}
		}
	}

	if db == nil {
		return fetched
	}
	items, err := db.LoadItems(ownerUID, kind)
	if err != nil {
		logrus.Fatalf("读取缓存失败: %v", err)
	}
	return items
}

// buildPredicate 把命令行筛选参数编译成谓词
func buildPredicate(keyword, regexStr, fuzzy, uidsStr, before string) sweep.Predicate {
	var preds []sweep.Predicate
	if keyword != "" {
		preds = append(preds, sweep.Keyword(keyword))
	}
	if regexStr != "" {
		re, err := regexp.Compile(regexStr)
		if err != nil {
			logrus.Fatalf("正则编译失败: %v", err)
		}
		preds = append(preds, sweep.Regex(re))
	}
	if fuzzy != "" {
		preds = append(preds, sweep.Fuzzy(fuzzy))
	}
	if uidsStr != "" {
		var uids []int64
		for _, part := range strings.Split(uidsStr, ",") {
			uid, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				logrus.Fatalf("无效的 UID: %q", part)
			}
			uids = append(uids, uid)
		}
		preds = append(preds, sweep.UID(uids...))
	}
	if before != "" {
		t, err := time.ParseInLocation("2006-01-02", before, time.Local)
		if err != nil {
			logrus.Fatalf("无效的时间: %q，格式应为 2006-01-02", before)
		}
		preds = append(preds, sweep.TimeRange(0, t.Unix()))
	}
	if len(preds) == 0 {
		return sweep.MatchAll()
	}
	return sweep.And(preds...)
}

func confirm(prompt string) bool {
	fmt.Printf("%s? [y/N] ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
