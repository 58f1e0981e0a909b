package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"MonadSwap-Engine/internal/config"
	xerrors "MonadSwap-Engine/internal/errors"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

func openDatabase(ctx context.Context, dialect string, cfg config.HistoryConfig) (*sql.DB, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "历史库 DSN 不能为空", xerrors.WithMetadata("dialect", dialect))
	}

	var db *sql.DB
	switch dialect {
	case DialectMySQL:
		mcfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "解析 MySQL DSN 失败")
		}
		mcfg.ParseTime = true
		connector, err := mysql.NewConnector(mcfg)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "创建 MySQL 连接器失败")
		}
		db = sql.OpenDB(connector)
	case DialectPostgres:
		pcfg, err := pgx.ParseConfig(dsn)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "解析 PostgreSQL DSN 失败")
		}
		db = stdlib.OpenDB(*pcfg)
	default:
		return nil, xerrors.New(xerrors.CodeInitializationFailure, fmt.Sprintf("unsupported dialect %q", dialect))
	}

	configurePool(db, cfg)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "历史库连接检查失败", xerrors.WithMetadata("dialect", dialect))
	}
	return db, nil
}

// 连接池默认值：最多 20 个连接、10 个空闲连接、单连接存活 30 分钟。
const (
	defaultMaxOpenConns    = 20
	defaultMaxIdleConns    = 10
	defaultConnMaxLifetime = 30 * time.Minute
)

func configurePool(db *sql.DB, cfg config.HistoryConfig) {
	db.SetMaxOpenConns(positiveOr(cfg.MaxOpenConns, defaultMaxOpenConns))
	db.SetMaxIdleConns(positiveOr(cfg.MaxIdleConns, defaultMaxIdleConns))
	db.SetConnMaxLifetime(positiveOr(cfg.ConnMaxLifetime, defaultConnMaxLifetime))
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
}

func positiveOr[T int | time.Duration](v, fallback T) T {
	if v > 0 {
		return v
	}
	return fallback
}
