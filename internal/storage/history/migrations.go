package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	"MonadSwap-Engine/deploy/migrations"
	xerrors "MonadSwap-Engine/internal/errors"
	"MonadSwap-Engine/pkg/logger"

	"github.com/pressly/goose/v3"
)

// goose 的方言与文件系统是包级状态，迁移串行执行。
var gooseMu sync.Mutex

type gooseLogger struct {
	logger *slog.Logger
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.logger.Info(fmt.Sprintf(format, v...))
}

func (l gooseLogger) Fatalf(format string, v ...any) {
	l.logger.Error(fmt.Sprintf(format, v...))
}

func migrate(ctx context.Context, db *sql.DB, dialect string) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations.Files)
	goose.SetLogger(gooseLogger{logger: logger.Named("migrations")})
	if err := goose.SetDialect(dialect); err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "设置迁移方言失败")
	}
	dir, ok := migrations.Dir(dialect)
	if !ok {
		return xerrors.New(xerrors.CodeInitializationFailure, fmt.Sprintf("没有 %s 方言的迁移脚本", dialect))
	}
	if err := goose.UpContext(ctx, db, dir); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "执行数据库迁移失败")
	}
	return nil
}
