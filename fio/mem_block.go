package fio

import "sync"

// MemBlockDevice 内存块设备, 主要用于测试
// 按字节维护擦除位: 擦除置位, 写入清除, 写到未擦除的字节会报错,
// 可以据此验证上层永远先擦后写
type MemBlockDevice struct {
	mu       sync.Mutex
	data     []byte
	clean    []bool // 每个字节自上次擦除后是否未被写过
	size     uint32
	pageSize uint32

	reads  uint64
	writes uint64
	erases uint64

	writeErr error // 注入的写入错误
	eraseErr error // 注入的擦除错误
}

// NewMemBlockDevice 初始化内存块设备, 全部区域处于已擦除状态
func NewMemBlockDevice(size, pageSize uint32) (*MemBlockDevice, error) {
	if pageSize == 0 || size == 0 || size%pageSize != 0 {
		return nil, ErrSizeInvalid
	}
	d := &MemBlockDevice{
		data:     make([]byte, size),
		clean:    make([]bool, size),
		size:     size,
		pageSize: pageSize,
	}
	for i := uint32(0); i < size; i++ {
		d.data[i] = ErasedByte
		d.clean[i] = true
	}
	return d, nil
}

func (d *MemBlockDevice) ReadRange(offset uint32, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if int64(offset)+int64(len(buf)) > int64(d.size) {
		return ErrOutOfRange
	}
	copy(buf, d.data[offset:int(offset)+len(buf)])
	d.reads++
	return nil
}

func (d *MemBlockDevice) WriteRange(offset uint32, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.writeErr != nil {
		return d.writeErr
	}
	if int64(offset)+int64(len(buf)) > int64(d.size) {
		return ErrOutOfRange
	}
	for i := range buf {
		if !d.clean[int(offset)+i] {
			return ErrWriteNotErased
		}
	}
	for i := range buf {
		d.data[int(offset)+i] = buf[i]
		d.clean[int(offset)+i] = false
	}
	d.writes++
	return nil
}

func (d *MemBlockDevice) EraseRange(offset, length uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.eraseErr != nil {
		return d.eraseErr
	}
	if length == 0 || offset%d.pageSize != 0 || length%d.pageSize != 0 {
		return ErrEraseUnaligned
	}
	if int64(offset)+int64(length) > int64(d.size) {
		return ErrOutOfRange
	}
	for i := offset; i < offset+length; i++ {
		d.data[i] = ErasedByte
		d.clean[i] = true
	}
	d.erases++
	return nil
}

func (d *MemBlockDevice) Size() uint32 {
	return d.size
}

func (d *MemBlockDevice) Sync() error {
	return nil
}

func (d *MemBlockDevice) Close() error {
	return nil
}

// FailWrites 注入写入错误, 传 nil 恢复正常
func (d *MemBlockDevice) FailWrites(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writeErr = err
}

// FailErases 注入擦除错误, 传 nil 恢复正常
func (d *MemBlockDevice) FailErases(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.eraseErr = err
}

// Counters 返回累计的读/写/擦除操作次数
func (d *MemBlockDevice) Counters() (reads, writes, erases uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads, d.writes, d.erases
}
