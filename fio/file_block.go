package fio

import (
	"os"

	"github.com/gofrs/flock"
)

const lockFileSuffix = ".lock"

// FileBlockDevice 用普通文件模拟的块设备
// 文件在首次打开时创建并填充 ErasedByte, 通过文件锁保证同一区域只有一个写入者
type FileBlockDevice struct {
	fd       *os.File
	size     uint32
	pageSize uint32
	fileLock *flock.Flock
}

// OpenFileBlockDevice 打开或创建一个文件块设备
func OpenFileBlockDevice(path string, size, pageSize uint32) (*FileBlockDevice, error) {
	if pageSize == 0 || size == 0 || size%pageSize != 0 {
		return nil, ErrSizeInvalid
	}

	// 判断区域是否被其他进程使用
	fileLock := flock.New(path + lockFileSuffix)
	hold, err := fileLock.TryLock()
	if err != nil {
		return nil, err
	}
	if !hold {
		return nil, ErrRegionIsUsing
	}

	fd, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, DataFilePerm)
	if err != nil {
		_ = fileLock.Unlock()
		return nil, err
	}

	stat, err := fd.Stat()
	if err != nil {
		_ = fd.Close()
		_ = fileLock.Unlock()
		return nil, err
	}

	switch {
	case stat.Size() == 0:
		// 新建区域, 整体填充为已擦除状态
		page := make([]byte, pageSize)
		for i := range page {
			page[i] = ErasedByte
		}
		for off := uint32(0); off < size; off += pageSize {
			if _, err := fd.WriteAt(page, int64(off)); err != nil {
				_ = fd.Close()
				_ = fileLock.Unlock()
				return nil, err
			}
		}
	case stat.Size() != int64(size):
		_ = fd.Close()
		_ = fileLock.Unlock()
		return nil, ErrRegionSizeMismatch
	}

	return &FileBlockDevice{fd: fd, size: size, pageSize: pageSize, fileLock: fileLock}, nil
}

func (d *FileBlockDevice) ReadRange(offset uint32, buf []byte) error {
	if int64(offset)+int64(len(buf)) > int64(d.size) {
		return ErrOutOfRange
	}
	_, err := d.fd.ReadAt(buf, int64(offset))
	return err
}

func (d *FileBlockDevice) WriteRange(offset uint32, buf []byte) error {
	if int64(offset)+int64(len(buf)) > int64(d.size) {
		return ErrOutOfRange
	}
	_, err := d.fd.WriteAt(buf, int64(offset))
	return err
}

func (d *FileBlockDevice) EraseRange(offset, length uint32) error {
	if length == 0 || offset%d.pageSize != 0 || length%d.pageSize != 0 {
		return ErrEraseUnaligned
	}
	if int64(offset)+int64(length) > int64(d.size) {
		return ErrOutOfRange
	}
	page := make([]byte, d.pageSize)
	for i := range page {
		page[i] = ErasedByte
	}
	for off := offset; off < offset+length; off += d.pageSize {
		if _, err := d.fd.WriteAt(page, int64(off)); err != nil {
			return err
		}
	}
	return nil
}

func (d *FileBlockDevice) Size() uint32 {
	return d.size
}

func (d *FileBlockDevice) Sync() error {
	return d.fd.Sync()
}

func (d *FileBlockDevice) Close() error {
	defer func() {
		_ = d.fileLock.Unlock()
	}()
	if err := d.fd.Sync(); err != nil {
		_ = d.fd.Close()
		return err
	}
	return d.fd.Close()
}
