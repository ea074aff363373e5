package flashring

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"golang.org/x/exp/slog"

	"flashring/fio"
	"flashring/meta"
	"flashring/utils"
)

const (
	metaKey        = "flashring.cursor"
	regionFileName = "region.data"
	metaFileName   = "meta.db"
)

// Ring 建立在原始块设备上的持久化环形日志
// 数据追加写入, 写满后自动覆盖最旧的数据, 游标通过元数据存储跨重启存活
// 写入前保证目标页已擦除, 配合后台预擦除任务让热路径尽量避开同步擦除
type Ring struct {
	options    Options
	mu         *sync.RWMutex
	device     fio.BlockDevice
	meta       meta.Store
	cur        *cursor
	size       uint32        // 区域总大小
	totalPages uint32        // 区域包含的页数
	headPos    atomic.Uint32 // head 的副本, 供预擦除任务无锁读取
	logger     *slog.Logger
	closed     bool
	ownDevice  bool // Open 内部创建的设备由 Close 负责释放
	ownMeta    bool // Open 内部创建的元数据存储由 Close 负责释放

	// 预擦除任务状态
	eraseMu    sync.Mutex // 保护 cur.erasedPages, 不跨擦除/写入 IO 持有
	eraserDone chan struct{}
	eraserWg   sync.WaitGroup
}

// Stat 环形存储的统计信息
type Stat struct {
	RegionSize   uint32 // 区域总大小
	UsedBytes    uint32 // 当前存储的字节数
	FreeBytes    uint32 // 覆盖旧数据前还可以写入的字节数
	WrapCount    uint32 // 绕回区域起点的次数
	TotalWritten uint64 // 累计写入的字节数
}

// Open 打开环形存储实例
func Open(options Options) (*Ring, error) {
	// 对用户传入的配置项进行校验
	if err := checkOptions(&options); err != nil {
		return nil, err
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "flashring"))

	r := &Ring{
		options: options,
		mu:      new(sync.RWMutex),
		logger:  logger,
	}

	// 解析底层块设备, 没有注入时使用目录下的文件设备
	if options.Device != nil {
		r.device = options.Device
	} else {
		device, err := fio.OpenFileBlockDevice(
			filepath.Join(options.DirPath, regionFileName), options.RegionSize, options.PageSize)
		if err != nil {
			return nil, err
		}
		r.device = device
		r.ownDevice = true
	}

	r.size = r.device.Size()
	if r.size == 0 || r.size%options.PageSize != 0 {
		r.release()
		return nil, ErrRegionSizeInvalid
	}
	r.totalPages = r.size / options.PageSize

	// 解析元数据存储
	if options.Meta != nil {
		r.meta = options.Meta
	} else {
		store, err := meta.NewBoltStore(filepath.Join(options.DirPath, metaFileName))
		if err != nil {
			r.release()
			return nil, err
		}
		r.meta = store
		r.ownMeta = true
	}

	// 加载游标, 失败或魔数不匹配时按空数据重新初始化
	if err := r.loadCursor(); err != nil {
		r.release()
		return nil, err
	}
	r.headPos.Store(r.cur.head)

	r.logger.Info("ring store opened",
		slog.Uint64("size", uint64(r.size)),
		slog.Uint64("head", uint64(r.cur.head)),
		slog.Uint64("tail", uint64(r.cur.tail)),
		slog.Uint64("wraps", uint64(r.cur.wrapCount)))

	// 启动预擦除任务
	r.startEraser()

	return r, nil
}

// Write 追加写入数据
// 写入按页边界和区域末尾切分成子块, 空间不足时丢弃最旧的数据
// 单次写入量允许超过区域大小, 最终只留下最新的一圈
// 中途失败时已写入的子块保留, 剩余数据由调用方按丢弃处理
func (r *Ring) Write(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRingClosed
	}

	total := uint32(len(data))
	var written uint32

	for written < total {
		// 单次物理写不跨页, 也不跨区域末尾
		offsetInPage := r.cur.head % r.options.PageSize
		bytesToPageEnd := r.options.PageSize - offsetInPage
		toRegionEnd := r.size - r.cur.head
		chunk := utils.Min(total-written, utils.Min(bytesToPageEnd, toRegionEnd))
		newHead := (r.cur.head + chunk) % r.size

		// 空间不足时推进 tail, 丢弃最旧的数据
		if r.usedBytes()+chunk >= r.size {
			r.cur.tail = (r.cur.tail + chunk) % r.size
		}

		// head 数值回退说明越过了区域末尾, 每绕一圈只计一次
		if newHead < r.cur.head {
			r.cur.wrapCount++
			r.logger.Debug("region wrapped", slog.Uint64("wrap_count", uint64(r.cur.wrapCount)))
		}

		// 写入前确保目标页已擦除
		page := r.cur.head / r.options.PageSize
		if err := r.ensurePageErased(page); err != nil {
			return err
		}

		if err := r.device.WriteRange(r.cur.head, data[written:written+chunk]); err != nil {
			r.logger.Error("block device write failed",
				slog.Uint64("offset", uint64(r.cur.head)), slog.Any("error", err))
			return err
		}

		// 写到页尾后这一页不再是已擦除状态
		if offsetInPage+chunk == r.options.PageSize {
			r.clearPageErased(page)
		}

		r.cur.head = newHead
		r.headPos.Store(newHead)
		r.cur.totalWritten += uint64(chunk)
		written += chunk
	}

	return nil
}

// Read 从最旧的数据开始读取, 不移动 tail
// 可用数据不足时返回实际读到的字节数, 不算错误
func (r *Ring) Read(buf []byte) (int, error) {
	return r.ReadAt(0, buf)
}

// ReadAt 从 tail 偏移 offset 处开始读取
func (r *Ring) ReadAt(offset uint32, buf []byte) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return 0, ErrRingClosed
	}

	available := r.usedBytes()
	if offset >= available {
		return 0, nil
	}

	toRead := utils.Min(uint32(len(buf)), available-offset)
	pos := (r.cur.tail + offset) % r.size
	var total uint32

	for total < toRead {
		// 跨区域末尾时拆成两段读
		chunk := utils.Min(toRead-total, r.size-pos)
		if err := r.device.ReadRange(pos, buf[total:total+chunk]); err != nil {
			r.logger.Error("block device read failed",
				slog.Uint64("offset", uint64(pos)), slog.Any("error", err))
			return int(total), err
		}
		pos = (pos + chunk) % r.size
		total += chunk
	}

	return int(total), nil
}

// Consume 丢弃最旧的 n 字节, 返回实际丢弃的字节数
// 只移动 tail, 底层数据在被覆盖前仍然可读
func (r *Ring) Consume(n uint32) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0
	}

	toConsume := utils.Min(n, r.usedBytes())
	r.cur.tail = (r.cur.tail + toConsume) % r.size
	r.logger.Debug("consumed bytes",
		slog.Uint64("count", uint64(toConsume)), slog.Uint64("tail", uint64(r.cur.tail)))
	return toConsume
}

// Erase 擦除整个区域并重置游标, 立即持久化
func (r *Ring) Erase() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRingClosed
	}

	r.logger.Info("erasing all data")
	if err := r.device.EraseRange(0, r.size); err != nil {
		r.logger.Error("full region erase failed", slog.Any("error", err))
		return err
	}

	r.cur.head = 0
	r.cur.tail = 0
	r.cur.totalWritten = 0
	r.cur.wrapCount = 0
	r.headPos.Store(0)

	// 整个区域刚刚擦除完, 预置起始几页让后续写入不走同步擦除
	r.eraseMu.Lock()
	for i := uint32(0); i < PreErasePages; i++ {
		r.cur.erasedPages[i] = i
	}
	r.eraseMu.Unlock()

	return r.saveCursor()
}

// FlushMetadata 持久化游标
// 调用本身开销不大但不免费, 由上层按批次触发而不是每次写入都调
func (r *Ring) FlushMetadata() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRingClosed
	}
	return r.saveCursor()
}

// Stat 返回存储的统计信息快照
func (r *Ring) Stat() *Stat {
	r.mu.RLock()
	defer r.mu.RUnlock()

	used := r.usedBytes()
	return &Stat{
		RegionSize:   r.size,
		UsedBytes:    used,
		FreeBytes:    r.size - used - 1,
		WrapCount:    r.cur.wrapCount,
		TotalWritten: r.cur.totalWritten,
	}
}

// Head 返回当前写入位置
func (r *Ring) Head() uint32 {
	return r.headPos.Load()
}

// BytesToPageEnd 返回当前写入位置距离页尾的字节数
func (r *Ring) BytesToPageEnd() uint32 {
	offsetInPage := r.headPos.Load() % r.options.PageSize
	return r.options.PageSize - offsetInPage
}

// Close 关闭存储: 停止预擦除任务, 持久化游标, 释放持有的资源
func (r *Ring) Close() error {
	r.stopEraser()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	saveErr := r.saveCursor()
	if err := r.releaseLocked(); err != nil && saveErr == nil {
		saveErr = err
	}
	r.logger.Info("ring store closed")
	return saveErr
}

// 加载游标, blob 缺失/损坏/魔数不匹配都当成没有数据, 重新初始化
func (r *Ring) loadCursor() error {
	blob, err := r.meta.GetBlob(metaKey)
	if err != nil && !errors.Is(err, meta.ErrBlobNotFound) {
		return err
	}

	if err == nil {
		if cur, ok := decodeCursor(blob); ok {
			// 游标必须落在当前区域内, 区域缩小后的旧游标按损坏处理
			if cur.head < r.size && cur.tail < r.size {
				r.cur = cur
				return nil
			}
			r.logger.Warn("cursor metadata rejected, out of region range",
				slog.Uint64("head", uint64(cur.head)), slog.Uint64("tail", uint64(cur.tail)))
		} else {
			r.logger.Warn("cursor metadata rejected, magic mismatch")
		}
	}

	// 按空数据初始化: 物理擦除起始几页, 预置擦除缓存
	r.logger.Warn("no valid cursor metadata, initializing fresh")
	r.cur = newCursor()
	for i := uint32(0); i <= PreErasePages; i++ {
		if err := r.device.EraseRange(i*r.options.PageSize, r.options.PageSize); err != nil {
			return err
		}
	}
	for i := uint32(0); i < PreErasePages; i++ {
		r.cur.erasedPages[i] = i
	}
	return r.saveCursor()
}

// 持久化游标, 必须持有 mu
func (r *Ring) saveCursor() error {
	r.eraseMu.Lock()
	blob := encodeCursor(r.cur)
	r.eraseMu.Unlock()

	if err := r.meta.PutBlob(metaKey, blob); err != nil {
		r.logger.Error("failed to save cursor metadata", slog.Any("error", err))
		return err
	}
	return nil
}

// 当前存储的字节数, 必须持有 mu
func (r *Ring) usedBytes() uint32 {
	if r.cur.head >= r.cur.tail {
		return r.cur.head - r.cur.tail
	}
	return r.size - r.cur.tail + r.cur.head
}

func (r *Ring) release() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.releaseLocked()
}

func (r *Ring) releaseLocked() error {
	var firstErr error
	if r.ownMeta && r.meta != nil {
		if err := r.meta.Close(); err != nil {
			firstErr = err
		}
		r.meta = nil
	}
	if r.ownDevice && r.device != nil {
		if err := r.device.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		r.device = nil
	}
	return firstErr
}

func checkOptions(options *Options) error {
	if options.PageSize == 0 {
		options.PageSize = DefaultPageSize
	}
	if options.EraseInterval <= 0 {
		options.EraseInterval = DefaultOptions.EraseInterval
	}
	if options.Device == nil || options.Meta == nil {
		// 需要在磁盘上落地文件, 目录必须存在
		if options.DirPath == "" {
			return ErrDirPathIsEmpty
		}
		if err := os.MkdirAll(options.DirPath, os.ModePerm); err != nil {
			return err
		}
	}
	if options.Device == nil {
		if options.RegionSize == 0 || options.RegionSize%options.PageSize != 0 {
			return ErrRegionSizeInvalid
		}
	}
	return nil
}
