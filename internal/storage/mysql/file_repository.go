package mysql

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"AgentOS-Bridge/internal/storage"
)

// fileCacheLimit 是内存中保留的最近记录条数。
const fileCacheLimit = 512

// FileRecordRepository 将记录以 JSON 行追加到本地文件，方便在没有数据库时迭代开发。
type FileRecordRepository struct {
	mu        sync.RWMutex
	runsFile  string
	matchFile string
	runs      []storage.RunRecord
	matches   []storage.MatchRecord
	runIDs    map[string]struct{}
	matchIDs  map[string]struct{}
}

// NewFileRecordRepository 在 dataDir 下创建 runs.log 与 matches.log。
func NewFileRecordRepository(dataDir string) (*FileRecordRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	repo := &FileRecordRepository{
		runsFile:  filepath.Join(dataDir, "runs.log"),
		matchFile: filepath.Join(dataDir, "matches.log"),
		runIDs:    make(map[string]struct{}),
		matchIDs:  make(map[string]struct{}),
	}
	var err error
	if repo.runs, err = loadLines[storage.RunRecord](repo.runsFile, func(r storage.RunRecord) string { return r.ID }, repo.runIDs); err != nil {
		return nil, err
	}
	if repo.matches, err = loadLines[storage.MatchRecord](repo.matchFile, func(r storage.MatchRecord) string { return r.ID }, repo.matchIDs); err != nil {
		return nil, err
	}
	return repo, nil
}

// AppendRun 以追加写的方式记录运行结果。
func (f *FileRecordRepository) AppendRun(_ context.Context, record storage.RunRecord) error {
	if err := storage.CheckRun(record); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, dup := f.runIDs[record.ID]; dup {
		return storage.Duplicate("run", record.ID)
	}
	if err := appendLine(f.runsFile, record); err != nil {
		return err
	}
	f.runIDs[record.ID] = struct{}{}
	f.runs = prepend(f.runs, record)
	return nil
}

// AppendMatch 以追加写的方式记录对局结果。
func (f *FileRecordRepository) AppendMatch(_ context.Context, record storage.MatchRecord) error {
	if err := storage.CheckMatch(record); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, dup := f.matchIDs[record.ID]; dup {
		return storage.Duplicate("match", record.ID)
	}
	if err := appendLine(f.matchFile, record); err != nil {
		return err
	}
	f.matchIDs[record.ID] = struct{}{}
	f.matches = prepend(f.matches, record)
	return nil
}

// ListRuns 返回最近的运行记录，按写入时间倒序排列。
func (f *FileRecordRepository) ListRuns(_ context.Context, limit int) ([]storage.RunRecord, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return latest(f.runs, limit), nil
}

// ListMatches 返回最近的对局记录，按写入时间倒序排列。
func (f *FileRecordRepository) ListMatches(_ context.Context, limit int) ([]storage.MatchRecord, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return latest(f.matches, limit), nil
}

// Close 实现 storage.RecordRepository。
func (f *FileRecordRepository) Close() error { return nil }

func appendLine(path string, record any) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开记录日志失败: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化记录失败: %w", err)
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入记录日志失败: %w", err)
	}
	return nil
}

func loadLines[T any](path string, id func(T) string, ids map[string]struct{}) ([]T, error) {
	file, err := os.OpenFile(path, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("读取记录日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	var restored []T
	for scanner.Scan() {
		var record T
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		ids[id(record)] = struct{}{}
		restored = append([]T{record}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("解析记录日志失败: %w", err)
	}
	if len(restored) > fileCacheLimit {
		restored = restored[:fileCacheLimit]
	}
	return restored, nil
}

func prepend[T any](items []T, item T) []T {
	items = append([]T{item}, items...)
	if len(items) > fileCacheLimit {
		items = items[:fileCacheLimit]
	}
	return items
}

func latest[T any](items []T, limit int) []T {
	limit = storage.ClampLimit(limit, len(items))
	out := make([]T, min(limit, len(items)))
	copy(out, items)
	return out
}
