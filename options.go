package flashring

import (
	"time"

	"golang.org/x/exp/slog"

	"flashring/fio"
	"flashring/meta"
)

type Options struct {
	// 存储区域所在目录, Device/Meta 为空时在此目录下创建默认的文件设备和元数据存储
	DirPath string

	// 存储区域大小, 必须是 PageSize 的整数倍
	RegionSize uint32

	// 擦除粒度, 写入不要求对齐, 擦除必须按页对齐
	PageSize uint32

	// 预擦除任务的执行周期
	EraseInterval time.Duration

	// 底层块设备, 为空时使用 DirPath 下的文件设备
	Device fio.BlockDevice

	// 元数据存储, 为空时使用 DirPath 下的 bbolt 存储
	Meta meta.Store

	// 结构化日志, 为空时使用 slog.Default()
	Logger *slog.Logger
}

type PipelineOptions struct {
	// 暂存缓冲区大小, 攒够一页数据再写入
	WriteChunkSize uint32

	// 超过此时间没有新数据时, 把暂存的数据刷到存储区域
	FlushTimeout time.Duration

	// 从数据源读取的等待时间, 决定了 Stop/Flush 信号的响应延迟
	DrainTimeout time.Duration

	// 初始化后立即开始搬运数据
	AutoStart bool

	// 结构化日志, 为空时使用 slog.Default()
	Logger *slog.Logger
}

const (
	// DefaultPageSize 默认擦除页大小
	DefaultPageSize = 4096

	// PreErasePages 写指针前方保持预擦除状态的页数
	PreErasePages = 2
)

var DefaultOptions = Options{
	RegionSize:    4 * 1024 * 1024,
	PageSize:      DefaultPageSize,
	EraseInterval: 50 * time.Millisecond,
}

var DefaultPipelineOptions = PipelineOptions{
	WriteChunkSize: 12 * 1024,
	FlushTimeout:   500 * time.Millisecond,
	DrainTimeout:   50 * time.Millisecond,
	AutoStart:      true,
}
