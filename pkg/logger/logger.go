// Package logger 提供 swapd 进程级的 slog 日志与审计日志。
package logger

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// Config 描述日志输出。
type Config struct {
	Level       string
	Format      string
	OutputPaths []string
	Rotation    RotationConfig
	Audit       AuditConfig
}

// AuditConfig 控制审计日志。未启用时审计记录写入主日志。
type AuditConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// sensitiveKeys 中的字段值在写出前被替换。
var sensitiveKeys = map[string]struct{}{
	"private_key":  {},
	"secret":       {},
	"password":     {},
	"access_token": {},
}

const redacted = "[REDACTED]"

type sinks struct {
	main    *slog.Logger
	audit   *slog.Logger
	closers []io.Closer
}

var (
	current  atomic.Pointer[sinks]
	initOnce sync.Once
	initErr  error
	closeMu  sync.Mutex
)

// Init 按配置初始化全局日志，只有第一次调用生效。
func Init(cfg Config) error {
	applied := false
	initOnce.Do(func() {
		applied = true
		s, err := build(cfg)
		if err != nil {
			initErr = err
			return
		}
		current.Store(s)
	})
	if initErr != nil {
		return initErr
	}
	if !applied {
		return errors.New("logger already initialised")
	}
	return nil
}

func build(cfg Config) (*sinks, error) {
	s := &sinks{}
	writer, err := s.open(cfg.OutputPaths, cfg.Rotation)
	if err != nil {
		s.close()
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level), AddSource: true, ReplaceAttr: redact}
	if strings.EqualFold(cfg.Format, "text") {
		s.main = slog.New(slog.NewTextHandler(writer, opts))
	} else {
		s.main = slog.New(slog.NewJSONHandler(writer, opts))
	}

	s.audit = s.main
	if cfg.Audit.Enabled {
		audit, err := buildAuditLogger(cfg.Audit)
		if err != nil {
			s.close()
			return nil, err
		}
		s.closers = append(s.closers, audit.closer)
		s.audit = audit.logger
	}
	return s, nil
}

func (s *sinks) open(paths []string, rotation RotationConfig) (io.Writer, error) {
	if len(paths) == 0 {
		return os.Stdout, nil
	}
	writers := make([]io.Writer, 0, len(paths))
	for _, path := range paths {
		w, c, err := openWriter(path, rotation)
		if err != nil {
			return nil, err
		}
		if c != nil {
			s.closers = append(s.closers, c)
		}
		writers = append(writers, w)
	}
	if len(writers) == 1 {
		return writers[0], nil
	}
	return io.MultiWriter(writers...), nil
}

func (s *sinks) close() error {
	var err error
	for _, c := range s.closers {
		err = errors.Join(err, c.Close())
	}
	s.closers = nil
	return err
}

type auditSink struct {
	logger *slog.Logger
	closer io.Closer
}

func buildAuditLogger(cfg AuditConfig) (*auditSink, error) {
	if cfg.Path == "" {
		return nil, errors.New("audit log path cannot be empty when enabled")
	}
	w, err := newRotatingWriter(cfg.Path, RotationConfig{
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAgeDays: cfg.MaxAgeDays,
	})
	if err != nil {
		return nil, err
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo, ReplaceAttr: redact})
	return &auditSink{logger: slog.New(h), closer: w}, nil
}

func openWriter(path string, rotation RotationConfig) (io.Writer, io.Closer, error) {
	switch strings.ToLower(path) {
	case "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	}
	w, err := newRotatingWriter(path, rotation)
	if err != nil {
		return nil, nil, err
	}
	return w, w, nil
}

// redact 隐去私钥等敏感字段，分组内的同名字段同样处理。
func redact(_ []string, a slog.Attr) slog.Attr {
	if _, ok := sensitiveKeys[strings.ToLower(a.Key)]; ok && a.Value.Kind() != slog.KindGroup {
		return slog.String(a.Key, redacted)
	}
	return a
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "warning":
		return slog.LevelWarn
	case "":
		return slog.LevelInfo
	}
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func load() *sinks {
	if s := current.Load(); s != nil {
		return s
	}
	_ = Init(Config{})
	if s := current.Load(); s != nil {
		return s
	}
	fallback := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{ReplaceAttr: redact}))
	return &sinks{main: fallback, audit: fallback}
}

// L 返回主日志。未初始化时以默认配置输出到 stdout。
func L() *slog.Logger { return load().main }

// Audit 返回审计日志，记录兑换、定时任务和鉴权等关键操作。
func Audit() *slog.Logger { return load().audit }

// Named 返回带 component 字段的子日志。
func Named(component string) *slog.Logger {
	return L().With(slog.String("component", component))
}

// Sync 关闭文件输出，之后的日志仍可写入但文件句柄会被 lumberjack 重新打开。
func Sync() error {
	closeMu.Lock()
	defer closeMu.Unlock()
	if s := current.Load(); s != nil {
		return s.close()
	}
	return nil
}
