package sqlstore

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const memoryRunLimit = 512

// MemoryRunRepository 把运行记录追加写入本地 JSON 日志，并在内存中保留最近的记录。
type MemoryRunRepository struct {
	mu       sync.RWMutex
	dataFile string
	records  []RunRecord
}

// NewMemoryRunRepository 创建仓库并恢复日志中的记录。
func NewMemoryRunRepository(dataDir string) (*MemoryRunRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	repo := &MemoryRunRepository{dataFile: filepath.Join(dataDir, "runs.log")}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Save 以追加写的方式记录运行结果。
func (m *MemoryRunRepository) Save(_ context.Context, record RunRecord) error {
	if err := validateRecord(record); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开运行日志失败: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化运行记录失败: %w", err)
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入运行日志失败: %w", err)
	}

	m.records = append([]RunRecord{record}, m.records...)
	if len(m.records) > memoryRunLimit {
		m.records = m.records[:memoryRunLimit]
	}
	return nil
}

// Get 返回指定记录。
func (m *MemoryRunRepository) Get(_ context.Context, id string) (RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, record := range m.records {
		if record.ID == id {
			return record, nil
		}
	}
	return RunRecord{}, runNotFound(id)
}

// List 返回最近的记录，按时间倒序排列。
func (m *MemoryRunRepository) List(_ context.Context, query RunQuery) ([]RunRecord, error) {
	query.applyDefaults()
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]RunRecord, 0, query.Limit)
	for _, record := range m.records {
		if !query.matches(record) {
			continue
		}
		results = append(results, record)
		if len(results) >= query.Limit {
			break
		}
	}
	return results, nil
}

// Close 对文件仓库无需操作。
func (m *MemoryRunRepository) Close() error { return nil }

func (m *MemoryRunRepository) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取运行日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var restored []RunRecord
	for scanner.Scan() {
		var record RunRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		restored = append([]RunRecord{record}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析运行日志失败: %w", err)
	}
	if len(restored) > memoryRunLimit {
		restored = restored[:memoryRunLimit]
	}
	m.records = restored
	return nil
}

var _ RunRepository = (*MemoryRunRepository)(nil)
