package history

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"MonadSwap-Engine/internal/config"
	xerrors "MonadSwap-Engine/internal/errors"
)

// 支持的 SQL 方言，同时也是迁移目录名。
const (
	DialectMySQL    = "mysql"
	DialectPostgres = "postgres"
)

const recordColumns = `record_id, wallet, token, direction, amount_in, status, stage, router, router_kind, fee_tier,
    tx_hash, approval_tx_hash, block_number, gas_used, gas_limit, gas_fallback, error_code, error_message, duration_ms, created_at`

// SQLLedger 使用 MySQL 或 PostgreSQL 存储流水。
type SQLLedger struct {
	db      *sql.DB
	dialect string
}

// NewSQLLedger 建立连接池并执行 goose 迁移。
func NewSQLLedger(ctx context.Context, dialect string, cfg config.HistoryConfig) (*SQLLedger, error) {
	db, err := openDatabase(ctx, dialect, cfg)
	if err != nil {
		return nil, err
	}
	if err := migrate(ctx, db, dialect); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLLedger{db: db, dialect: dialect}, nil
}

// Save 写入一条流水。
func (s *SQLLedger) Save(ctx context.Context, record Record) error {
	stmt := `INSERT INTO swap_history (` + recordColumns + `)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, s.rebind(stmt),
		record.ID,
		record.Wallet,
		record.Token,
		record.Direction,
		record.AmountIn,
		record.Status,
		record.Stage,
		record.Router,
		record.RouterKind,
		int64(record.FeeTier),
		record.TxHash,
		record.ApprovalTxHash,
		int64(record.BlockNumber),
		int64(record.GasUsed),
		int64(record.GasLimit),
		record.GasFallback,
		record.ErrorCode,
		record.ErrorMessage,
		record.DurationMS,
		record.CreatedAt,
	); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入兑换流水失败")
	}
	return nil
}

// Recent 查询最近的流水。
func (s *SQLLedger) Recent(ctx context.Context, query Query) ([]Record, error) {
	query = query.normalized()

	var (
		stmt string
		args []any
	)
	if query.Wallet != "" {
		stmt = `SELECT ` + recordColumns + ` FROM swap_history WHERE LOWER(wallet) = LOWER(?) ORDER BY created_at DESC, id DESC LIMIT ?`
		args = []any{query.Wallet, query.Limit}
	} else {
		stmt = `SELECT ` + recordColumns + ` FROM swap_history ORDER BY created_at DESC, id DESC LIMIT ?`
		args = []any{query.Limit}
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(stmt), args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询兑换流水失败")
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec                         Record
			feeTier, block, used, limit int64
			errMessage                  sql.NullString
		)
		if err := rows.Scan(
			&rec.ID, &rec.Wallet, &rec.Token, &rec.Direction, &rec.AmountIn, &rec.Status, &rec.Stage,
			&rec.Router, &rec.RouterKind, &feeTier, &rec.TxHash, &rec.ApprovalTxHash, &block, &used, &limit,
			&rec.GasFallback, &rec.ErrorCode, &errMessage, &rec.DurationMS, &rec.CreatedAt,
		); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析兑换流水失败")
		}
		rec.FeeTier = uint32(feeTier)
		rec.BlockNumber = uint64(block)
		rec.GasUsed = uint64(used)
		rec.GasLimit = uint64(limit)
		rec.ErrorMessage = errMessage.String
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历兑换流水失败")
	}
	return records, nil
}

// Close 关闭底层数据库连接。
func (s *SQLLedger) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// rebind 把 ? 占位符转换为 PostgreSQL 的 $n 形式。
func (s *SQLLedger) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
