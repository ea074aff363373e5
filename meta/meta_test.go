package meta

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapStore(t *testing.T) {
	store := NewMapStore()

	_, err := store.GetBlob("missing")
	assert.Equal(t, ErrBlobNotFound, err)

	require.Nil(t, store.PutBlob("cursor", []byte{1, 2, 3}))
	value, err := store.GetBlob("cursor")
	assert.Nil(t, err)
	assert.Equal(t, []byte{1, 2, 3}, value)

	// 整体覆盖写入
	require.Nil(t, store.PutBlob("cursor", []byte{4, 5}))
	value, err = store.GetBlob("cursor")
	assert.Nil(t, err)
	assert.Equal(t, []byte{4, 5}, value)

	// 返回的是副本, 修改不影响存储内容
	value[0] = 0xFF
	again, err := store.GetBlob("cursor")
	assert.Nil(t, err)
	assert.Equal(t, []byte{4, 5}, again)
}

func TestBoltStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.db")
	store, err := NewBoltStore(path)
	require.Nil(t, err)

	_, err = store.GetBlob("missing")
	assert.Equal(t, ErrBlobNotFound, err)

	require.Nil(t, store.PutBlob("cursor", []byte{1, 2, 3}))
	value, err := store.GetBlob("cursor")
	assert.Nil(t, err)
	assert.Equal(t, []byte{1, 2, 3}, value)
	require.Nil(t, store.Close())

	// 重新打开后数据还在
	store2, err := NewBoltStore(path)
	require.Nil(t, err)
	defer store2.Close()
	value, err = store2.GetBlob("cursor")
	assert.Nil(t, err)
	assert.Equal(t, []byte{1, 2, 3}, value)
}
