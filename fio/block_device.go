package fio

import "errors"

const (
	// DataFilePerm 区域文件权限
	DataFilePerm = 0644

	// ErasedByte 已擦除区域读出的字节值
	ErasedByte = 0xFF
)

var (
	ErrSizeInvalid        = errors.New("region size must be a positive multiple of page size")
	ErrRegionSizeMismatch = errors.New("existing region file size does not match")
	ErrRegionIsUsing      = errors.New("the region file is used by another process")
	ErrEraseUnaligned     = errors.New("erase range must be page aligned and page sized")
	ErrOutOfRange         = errors.New("access beyond region bounds")
	ErrWriteNotErased     = errors.New("write to a range that is not erased")
)

// BlockDevice 抽象块设备接口, 提供一块定长原始存储区域上的读写和擦除原语
// 擦除必须按页对齐, 写入前目标范围必须处于已擦除状态
type BlockDevice interface {
	// ReadRange 从区域内指定偏移读取 len(buf) 字节
	ReadRange(offset uint32, buf []byte) error

	// WriteRange 向区域内指定偏移写入数据
	WriteRange(offset uint32, buf []byte) error

	// EraseRange 擦除一段页对齐的区域, 擦除后读出 ErasedByte
	EraseRange(offset, length uint32) error

	// Size 区域总大小
	Size() uint32

	// Sync 持久化到底层介质
	Sync() error

	// Close 关闭设备并释放资源
	Close() error
}
