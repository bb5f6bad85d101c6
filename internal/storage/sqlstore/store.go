package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"strings"
	"time"

	xerrors "OpenMCP-Goals/internal/errors"
	"OpenMCP-Goals/internal/goal"
)

// Store 基于 database/sql 持久化目标与任务，支持 MySQL 与 PostgreSQL。
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open 建立连接池并按需执行迁移。
func Open(ctx context.Context, cfg Config) (*Store, error) {
	dialect, ok := DialectFor(cfg.Driver)
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "不支持的数据库驱动: "+cfg.Driver)
	}
	db, err := openDatabase(ctx, dialect, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化数据库失败")
	}
	store := newStore(db, dialect)
	if cfg.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "执行数据库迁移失败")
		}
	}
	return store, nil
}

func newStore(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// CountGoals 返回目标总数。
func (s *Store) CountGoals(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM goals`)
}

// CountTasks 返回任务总数。
func (s *Store) CountTasks(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM tasks`)
}

func (s *Store) count(ctx context.Context, query string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "统计记录数失败")
	}
	return n, nil
}

// IDs 返回指定类型的全部 ID。
func (s *Store) IDs(ctx context.Context, kind goal.Kind) ([]string, error) {
	var query string
	switch kind {
	case goal.KindGoal:
		query = `SELECT id FROM goals`
	case goal.KindTask:
		query = `SELECT id FROM tasks`
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的实体类型: "+string(kind))
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询 ID 列表失败")
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析 ID 失败")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历 ID 失败")
	}
	return ids, nil
}

// Ping 执行健康检查。
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "数据库健康检查失败")
	}
	return nil
}

// Close 关闭底层数据库连接。
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func appendWindow(query string, args []any, opts goal.ListOptions) (string, []any) {
	if opts.Limit == 0 && opts.Offset == 0 {
		return query, args
	}
	limit := opts.Limit
	if limit == 0 {
		limit = math.MaxInt32
	}
	return query + " LIMIT ? OFFSET ?", append(args, limit, opts.Offset)
}

func sequence(id string) int64 {
	seq, _ := goal.SequenceOf(id)
	return int64(seq)
}

func millis(ts time.Time) int64 {
	if ts.IsZero() {
		return time.Now().UnixMilli()
	}
	return ts.UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

func marshalStrings(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	bytes, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func unmarshalStrings(raw sql.NullString) ([]string, error) {
	values := []string{}
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return values, nil
	}
	if err := json.Unmarshal([]byte(raw.String), &values); err != nil {
		return nil, err
	}
	return values, nil
}

func marshalMetadata(metadata map[string]any) (sql.NullString, error) {
	if len(metadata) == 0 {
		return sql.NullString{}, nil
	}
	bytes, err := json.Marshal(metadata)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(bytes), Valid: true}, nil
}

func unmarshalMetadata(raw sql.NullString) (map[string]any, error) {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return map[string]any{}, nil
	}
	var metadata map[string]any
	if err := json.Unmarshal([]byte(raw.String), &metadata); err != nil {
		return nil, err
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	return metadata, nil
}

func rawJSON(value json.RawMessage) sql.NullString {
	if len(value) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(value), Valid: true}
}

var _ goal.Store = (*Store)(nil)
