package meta

import (
	"go.etcd.io/bbolt"
)

var metaBucketName = []byte("flashring-meta")

// BoltStore 基于 bbolt 的元数据存储, 单个 bucket 存放所有 blob
// 主要封装了 go.etcd.io/bbolt
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore 打开或创建 bbolt 元数据存储
func NewBoltStore(path string) (*BoltStore, error) {
	opts := bbolt.DefaultOptions
	db, err := bbolt.Open(path, 0644, opts)
	if err != nil {
		return nil, err
	}

	// 创建对应的 bucket
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(metaBucketName)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) GetBlob(key string) ([]byte, error) {
	var value []byte
	if err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(metaBucketName)
		if v := bucket.Get([]byte(key)); v != nil {
			value = make([]byte, len(v))
			copy(value, v)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	if value == nil {
		return nil, ErrBlobNotFound
	}
	return value, nil
}

func (s *BoltStore) PutBlob(key string, value []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(metaBucketName)
		return bucket.Put([]byte(key), value)
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
