// Package store 提供本地 sqlite 缓存：已拉取的条目和可续跑的分页游标。
//
// 拉取大账号的历史数据可能要跑很久，缓存让中断后的再次运行
// 从上次的断点继续，而不是从头再来。
package store

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/zhaokefei/bilibili-sweep/sweep"
)

// Store sqlite 持久层
type Store struct {
	db *sql.DB
}

// Open 打开（必要时创建）数据库文件并完成建表
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "打开数据库失败")
	}
	// sqlite 驱动对并发写敏感，单连接加 WAL 足够本工具使用
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "设置 WAL 失败")
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS items (
	owner_uid  INTEGER NOT NULL,
	kind       TEXT    NOT NULL,
	id         INTEGER NOT NULL,
	uid        INTEGER NOT NULL DEFAULT 0,
	text       TEXT    NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL DEFAULT 0,
	thread_id  INTEGER NOT NULL DEFAULT 0,
	oid        INTEGER NOT NULL DEFAULT 0,
	type_code  INTEGER NOT NULL DEFAULT 0,
	system_api INTEGER NOT NULL DEFAULT -1,
	ack_seqno  INTEGER NOT NULL DEFAULT 0,
	synced_at  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (owner_uid, kind, id)
);

CREATE TABLE IF NOT EXISTS cursors (
	owner_uid  INTEGER NOT NULL,
	source     TEXT    NOT NULL,
	cursor     TEXT    NOT NULL DEFAULT '',
	updated_at INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (owner_uid, source)
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return errors.Wrap(err, "初始化表结构失败")
	}
	return nil
}

// Close 关闭底层数据库
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveItems 批量写入条目，已存在的 (kind, id) 覆盖更新
func (s *Store) SaveItems(ownerUID int64, items []sweep.ContentItem) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "开启事务失败")
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
INSERT INTO items (owner_uid, kind, id, uid, text, created_at, thread_id,
	oid, type_code, system_api, ack_seqno, synced_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (owner_uid, kind, id) DO UPDATE SET
	uid = excluded.uid, text = excluded.text, created_at = excluded.created_at,
	thread_id = excluded.thread_id, oid = excluded.oid,
	type_code = excluded.type_code, system_api = excluded.system_api,
	ack_seqno = excluded.ack_seqno, synced_at = excluded.synced_at`)
	if err != nil {
		return errors.Wrap(err, "准备语句失败")
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, it := range items {
		if _, err := stmt.Exec(ownerUID, string(it.Kind), it.ID, it.UID, it.Text,
			it.CreatedAt, it.ThreadID, it.OID, it.TypeCode, it.SystemAPI,
			it.AckSeqno, now); err != nil {
			return errors.Wrap(err, "写入条目失败")
		}
	}
	return errors.Wrap(tx.Commit(), "提交事务失败")
}

// LoadItems 读出某账号下某类型的全部缓存条目，按拉取时间和 ID 排序
func (s *Store) LoadItems(ownerUID int64, kind sweep.SourceKind) ([]sweep.ContentItem, error) {
	rows, err := s.db.Query(`
SELECT kind, id, uid, text, created_at, thread_id, oid, type_code, system_api, ack_seqno
FROM items WHERE owner_uid = ? AND kind = ?
ORDER BY created_at DESC, id DESC`, ownerUID, string(kind))
	if err != nil {
		return nil, errors.Wrap(err, "查询条目失败")
	}
	defer rows.Close()

	var items []sweep.ContentItem
	for rows.Next() {
		var it sweep.ContentItem
		var k string
		if err := rows.Scan(&k, &it.ID, &it.UID, &it.Text, &it.CreatedAt,
			&it.ThreadID, &it.OID, &it.TypeCode, &it.SystemAPI, &it.AckSeqno); err != nil {
			return nil, errors.Wrap(err, "读取条目失败")
		}
		it.Kind = sweep.SourceKind(k)
		items = append(items, it)
	}
	return items, errors.Wrap(rows.Err(), "遍历条目失败")
}

// DeleteItems 删除已处理掉的条目缓存
func (s *Store) DeleteItems(ownerUID int64, keys []sweep.ItemKey) error {
	if len(keys) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "开启事务失败")
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`DELETE FROM items WHERE owner_uid = ? AND kind = ? AND id = ?`)
	if err != nil {
		return errors.Wrap(err, "准备语句失败")
	}
	defer stmt.Close()

	for _, key := range keys {
		if _, err := stmt.Exec(ownerUID, string(key.Kind), key.ID); err != nil {
			return errors.Wrap(err, "删除条目失败")
		}
	}
	return errors.Wrap(tx.Commit(), "提交事务失败")
}

// SaveCursor 记录某个拉取源的续跑游标。source 不限于 SourceKind，
// 同一类型下的不同端点各存各的。
func (s *Store) SaveCursor(ownerUID int64, source, cursor string) error {
	_, err := s.db.Exec(`
INSERT INTO cursors (owner_uid, source, cursor, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (owner_uid, source) DO UPDATE SET
	cursor = excluded.cursor, updated_at = excluded.updated_at`,
		ownerUID, source, cursor, time.Now().Unix())
	return errors.Wrap(err, "保存游标失败")
}

// LoadCursor 读取续跑游标，没有记录时返回空串
func (s *Store) LoadCursor(ownerUID int64, source string) (string, error) {
	var cursor string
	err := s.db.QueryRow(`SELECT cursor FROM cursors WHERE owner_uid = ? AND source = ?`,
		ownerUID, source).Scan(&cursor)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return cursor, errors.Wrap(err, "读取游标失败")
}

// ClearCursor 清掉某个源的游标，下次拉取从头开始
func (s *Store) ClearCursor(ownerUID int64, source string) error {
	_, err := s.db.Exec(`DELETE FROM cursors WHERE owner_uid = ? AND source = ?`,
		ownerUID, source)
	return errors.Wrap(err, "清除游标失败")
}
