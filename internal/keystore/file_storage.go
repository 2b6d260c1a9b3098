package keystore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"keyprobe/internal/shared/logger"
)

// Storage 接口定义了 key 记录持久化的行为。
type Storage interface {
	Load() (map[string]*Record, error)
	Save(records map[string]*Record) error
}

// FileStorage 实现了 Storage 接口，使用 JSON 文件进行持久化。
type FileStorage struct {
	filePath string
	mu       sync.Mutex
}

// NewFileStorage 创建一个新的 FileStorage 实例。filePath 为空时只在内存中工作。
func NewFileStorage(filePath string) *FileStorage {
	return &FileStorage{
		filePath: filePath,
	}
}

// Load 从 JSON 文件加载记录。文件不存在时返回空集合。
func (fs *FileStorage) Load() (map[string]*Record, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	l := logger.WithComponent("KeyStore/Storage")
	if fs.filePath == "" {
		return make(map[string]*Record), nil
	}

	data, err := os.ReadFile(fs.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			l.Info().Str("path", fs.filePath).Msg("Key data file not found, starting with an empty store.")
			return make(map[string]*Record), nil
		}
		return nil, err
	}

	var list []*Record
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", fs.filePath, err)
	}

	records := make(map[string]*Record, len(list))
	for i, r := range list {
		if r == nil || r.Key == "" {
			l.Warn().Int("index", i).Msg("Skipping malformed record in key file.")
			continue
		}
		records[r.Key] = r
	}

	l.Info().Int("count", len(records)).Msg("Successfully loaded keys from file.")
	return records, nil
}

// Save 将记录按添加顺序写入 JSON 文件，先写临时文件再重命名。
func (fs *FileStorage) Save(records map[string]*Record) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	l := logger.WithComponent("KeyStore/Storage")
	if fs.filePath == "" {
		return nil
	}

	list := make([]*Record, 0, len(records))
	for _, r := range records {
		list = append(list, r)
	}
	sortRecords(list)

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(fs.filePath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	tmp := fs.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmp, fs.filePath); err != nil {
		return err
	}

	l.Debug().Int("count", len(list)).Msg("Saved keys to file.")
	return nil
}

func sortRecords(list []*Record) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Seq != list[j].Seq {
			return list[i].Seq < list[j].Seq
		}
		return list[i].Key < list[j].Key
	})
}
