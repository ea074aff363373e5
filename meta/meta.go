package meta

import (
	"errors"
	"sync"
)

var ErrBlobNotFound = errors.New("blob not found in metadata store")

// Store 元数据存储抽象, 保存需要跨重启存活的小块数据
// blob 粒度原子读写, 不要求更细的事务能力
type Store interface {
	// GetBlob 读取指定 key 的数据, 不存在时返回 ErrBlobNotFound
	GetBlob(key string) ([]byte, error)

	// PutBlob 整体写入指定 key 的数据
	PutBlob(key string, value []byte) error

	// Close 关闭存储
	Close() error
}

// MapStore 基于内存的实现, 用于测试, 不持久化
type MapStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMapStore() *MapStore {
	return &MapStore{blobs: make(map[string][]byte)}
}

func (s *MapStore) GetBlob(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.blobs[key]
	if !ok {
		return nil, ErrBlobNotFound
	}
	res := make([]byte, len(value))
	copy(res, value)
	return res, nil
}

func (s *MapStore) PutBlob(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(value))
	copy(buf, value)
	s.blobs[key] = buf
	return nil
}

func (s *MapStore) Close() error {
	return nil
}
