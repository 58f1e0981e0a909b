// Package migrations 内嵌 swap_history 表的 goose 迁移脚本，按数据库方言分目录。
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed mysql/*.sql postgres/*.sql
var Files embed.FS

// Dir 返回方言对应的迁移目录，目录不存在时 ok 为 false。
func Dir(dialect string) (dir string, ok bool) {
	if _, err := fs.Stat(Files, dialect); err != nil {
		return "", false
	}
	return dialect, true
}
