package history

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	xerrors "MonadSwap-Engine/internal/errors"
)

const memoryRetention = 512

// MemoryLedger 使用本地 JSON Lines 文件保存流水，适合单机开发。
type MemoryLedger struct {
	mu       sync.RWMutex
	dataFile string
	records  []Record
}

// NewMemoryLedger 创建本地流水账本并恢复已有记录。
func NewMemoryLedger(dataDir string) (*MemoryLedger, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建数据目录失败")
	}
	ledger := &MemoryLedger{dataFile: filepath.Join(dataDir, "swap_history.log")}
	if err := ledger.loadFromDisk(); err != nil {
		return nil, err
	}
	return ledger, nil
}

// Save 以追加写的方式记录流水。
func (m *MemoryLedger) Save(_ context.Context, record Record) error {
	encoded, err := json.Marshal(record)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化流水失败")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开流水文件失败")
	}
	defer file.Close()

	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入流水文件失败")
	}

	m.records = append([]Record{record}, m.records...)
	if len(m.records) > memoryRetention {
		m.records = m.records[:memoryRetention]
	}
	return nil
}

// Recent 返回最近的流水，按写入时间倒序。
func (m *MemoryLedger) Recent(_ context.Context, query Query) ([]Record, error) {
	query = query.normalized()

	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]Record, 0, query.Limit)
	for _, rec := range m.records {
		if query.Wallet != "" && !strings.EqualFold(rec.Wallet, query.Wallet) {
			continue
		}
		results = append(results, rec)
		if len(results) == query.Limit {
			break
		}
	}
	return results, nil
}

// Close 不持有任何资源。
func (m *MemoryLedger) Close() error { return nil }

func (m *MemoryLedger) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取流水文件失败")
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var restored []Record
	for scanner.Scan() {
		var record Record
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		restored = append([]Record{record}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析流水文件失败")
	}

	if len(restored) > memoryRetention {
		restored = restored[:memoryRetention]
	}
	m.records = restored
	return nil
}
